package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/V4T54L/shadow-ai-watch/internal/aggregate"
	"github.com/V4T54L/shadow-ai-watch/internal/domain"
	"github.com/V4T54L/shadow-ai-watch/internal/usecase"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// WorkerStatsProvider exposes the counters of a running enrichment worker.
type WorkerStatsProvider interface {
	Stats() usecase.WorkerStats
}

// AdminHandler serves the orchestrator's health, stats and summary endpoints.
type AdminHandler struct {
	store   domain.EventStore
	worker  WorkerStatsProvider
	db      Pinger
	aggOpts aggregate.Options
	logger  *slog.Logger
}

// NewAdminHandler creates a new AdminHandler. worker and db may be nil.
func NewAdminHandler(store domain.EventStore, worker WorkerStatsProvider, db Pinger, aggOpts aggregate.Options, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		store:   store,
		worker:  worker,
		db:      db,
		aggOpts: aggOpts,
		logger:  logger.With("component", "admin_handler"),
	}
}

// HealthCheck reports ok, or 503 when the database cannot be reached.
// GET /health
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			h.logger.Warn("health check failed", "error", err)
			h.respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	h.respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetStats returns store counters and, when a worker runs, its counters.
// GET /stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.store.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to get store stats", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	payload := struct {
		Store  domain.StoreStats    `json:"store"`
		Worker *usecase.WorkerStats `json:"worker,omitempty"`
	}{Store: st}
	if h.worker != nil {
		ws := h.worker.Stats()
		payload.Worker = &ws
	}
	h.respondWithJSON(w, http.StatusOK, payload)
}

// GetSummary aggregates every stored event.
// GET /summary
func (h *AdminHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	events, err := h.store.ListEvents(r.Context())
	if err != nil {
		h.logger.Error("failed to list events", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.respondWithJSON(w, http.StatusOK, aggregate.Aggregate(events, h.aggOpts))
}

func (h *AdminHandler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to marshal JSON response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal Server Error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
