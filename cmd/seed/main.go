// Command seed loads a previously exported events.json into the store so the
// events become eligible for enrichment.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/V4T54L/shadow-ai-watch/internal/adapter/csvlog"
	"github.com/V4T54L/shadow-ai-watch/internal/adapter/jsonfile"
	"github.com/V4T54L/shadow-ai-watch/internal/adapter/metrics"
	"github.com/V4T54L/shadow-ai-watch/internal/adapter/pii"
	"github.com/V4T54L/shadow-ai-watch/internal/adapter/repository/postgres"
	"github.com/V4T54L/shadow-ai-watch/internal/adapter/repository/spool"
	"github.com/V4T54L/shadow-ai-watch/internal/classifier"
	"github.com/V4T54L/shadow-ai-watch/internal/pkg/config"
	"github.com/V4T54L/shadow-ai-watch/internal/pkg/logger"
	"github.com/V4T54L/shadow-ai-watch/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("seeding failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	events, err := jsonfile.ReadEvents(cfg.SeedFile)
	if err != nil {
		return err
	}
	log.Info("loaded seed events", "file", cfg.SeedFile, "count", len(events))

	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}

	store := postgres.NewEventStore(db, log, cfg.EnrichMaxEventFailures)
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	eventSpool, err := spool.New(cfg.SpoolPath, cfg.SpoolSegmentSize, cfg.SpoolMaxDiskSize, log)
	if err != nil {
		return err
	}
	defer eventSpool.Close()

	ingestUseCase := usecase.NewIngestLogUseCase(
		csvlog.NewParser(cfg.SourceSystem, log),
		classifier.NewPipeline(pii.NewAssessor(log)),
		store, eventSpool, metrics.NewIngestMetrics(prometheus.NewRegistry()), log,
	)

	persisted, spooled, err := ingestUseCase.Seed(ctx, events)
	if err != nil {
		return err
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		return err
	}
	log.Info("seeding complete",
		"persisted", persisted,
		"spooled", spooled,
		"total_events", stats.TotalEvents,
		"unenriched_events", stats.UnenrichedEvents,
	)
	return nil
}
