package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/V4T54L/shadow-ai-watch/internal/adapter/csvlog"
	"github.com/V4T54L/shadow-ai-watch/internal/adapter/jsonfile"
	"github.com/V4T54L/shadow-ai-watch/internal/adapter/metrics"
	"github.com/V4T54L/shadow-ai-watch/internal/adapter/pii"
	"github.com/V4T54L/shadow-ai-watch/internal/adapter/repository/postgres"
	"github.com/V4T54L/shadow-ai-watch/internal/adapter/repository/spool"
	"github.com/V4T54L/shadow-ai-watch/internal/aggregate"
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

	// --- Graceful Shutdown Context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("ingestion failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if len(cfg.InputFiles) == 0 {
		return errors.New("INPUT_FILES must name at least one proxy log")
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewIngestMetrics(reg)
	defer writeTextfile(cfg.MetricsTextfile, reg, log)

	// --- Database Connection ---
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

	// --- Failure Spool ---
	eventSpool, err := spool.New(cfg.SpoolPath, cfg.SpoolSegmentSize, cfg.SpoolMaxDiskSize, log)
	if err != nil {
		return err
	}
	defer eventSpool.Close()

	ingestUseCase := usecase.NewIngestLogUseCase(
		csvlog.NewParser(cfg.SourceSystem, log),
		classifier.NewPipeline(pii.NewAssessor(log)),
		store, eventSpool, m, log,
	)

	if _, err := ingestUseCase.ReplaySpool(ctx); err != nil {
		log.Warn("spooled events could not be replayed yet", "error", err)
	}

	res, err := ingestUseCase.IngestFiles(ctx, cfg.InputFiles)
	if err != nil && res.Events == nil {
		return err
	}

	summary := aggregate.Aggregate(res.Events, aggregate.Options{AllowedProviders: cfg.AllowedProviders})
	if werr := jsonfile.WriteEvents(filepath.Join(cfg.OutputDir, jsonfile.EventsFileName), res.Events); werr != nil {
		return werr
	}
	if werr := jsonfile.WriteSummary(filepath.Join(cfg.OutputDir, jsonfile.SummaryFileName), summary); werr != nil {
		return werr
	}

	log.Info("ingestion complete",
		"events", len(res.Events),
		"persisted", res.Persisted,
		"spooled", res.Spooled,
		"high_risk", summary.RiskCounts.High,
		"pii_events", summary.KPIs.PIIEventsCount,
		"output_dir", cfg.OutputDir,
	)
	return err
}

func writeTextfile(path string, reg *prometheus.Registry, log *slog.Logger) {
	if path == "" {
		return
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		log.Warn("failed to write metrics textfile", "path", path, "error", err)
	}
}
