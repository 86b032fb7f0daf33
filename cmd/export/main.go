// Command export aggregates every stored event, including its enrichment,
// into events.json and summary.json for the reporting layer.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/V4T54L/shadow-ai-watch/internal/adapter/jsonfile"
	"github.com/V4T54L/shadow-ai-watch/internal/adapter/repository/postgres"
	"github.com/V4T54L/shadow-ai-watch/internal/aggregate"
	"github.com/V4T54L/shadow-ai-watch/internal/pkg/config"
	"github.com/V4T54L/shadow-ai-watch/internal/pkg/logger"
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
		log.Error("export failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}

	store := postgres.NewEventStore(db, log, cfg.EnrichMaxEventFailures)
	events, err := store.ListEvents(ctx)
	if err != nil {
		return err
	}
	// Reports read chronologically.
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	summary := aggregate.Aggregate(events, aggregate.Options{AllowedProviders: cfg.AllowedProviders})
	if err := jsonfile.WriteEvents(filepath.Join(cfg.OutputDir, jsonfile.EventsFileName), events); err != nil {
		return err
	}
	if err := jsonfile.WriteSummary(filepath.Join(cfg.OutputDir, jsonfile.SummaryFileName), summary); err != nil {
		return err
	}

	log.Info("export complete",
		"events", len(events),
		"enriched", summary.KPIs.EnrichedEventsCount,
		"output_dir", cfg.OutputDir,
	)
	return nil
}
