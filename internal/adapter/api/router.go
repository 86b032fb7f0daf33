package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/V4T54L/shadow-ai-watch/internal/adapter/api/handler"
	"github.com/V4T54L/shadow-ai-watch/internal/adapter/api/middleware"
)

// NewAdminRouter wires the admin endpoints of the enrichment worker. Metrics
// are served from gatherer.
func NewAdminRouter(adminHandler *handler.AdminHandler, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Logging(logger))

	r.Get("/health", adminHandler.HealthCheck)
	r.Get("/stats", adminHandler.GetStats)
	r.Get("/summary", adminHandler.GetSummary)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}
