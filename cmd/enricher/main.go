package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/shadow-ai-watch/internal/adapter/api"
	"github.com/V4T54L/shadow-ai-watch/internal/adapter/api/handler"
	"github.com/V4T54L/shadow-ai-watch/internal/adapter/metrics"
	"github.com/V4T54L/shadow-ai-watch/internal/adapter/reasoning/openai"
	"github.com/V4T54L/shadow-ai-watch/internal/adapter/repository/postgres"
	redisrepo "github.com/V4T54L/shadow-ai-watch/internal/adapter/repository/redis"
	"github.com/V4T54L/shadow-ai-watch/internal/aggregate"
	"github.com/V4T54L/shadow-ai-watch/internal/domain"
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

	log := logger.New(cfg.LogLevel).With("instance", uuid.NewString())
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("enrichment worker failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	log.Info("starting enrichment worker")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewEnrichMetrics(reg)

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	log.Info("connected to postgres")

	store := postgres.NewEventStore(db, log, cfg.EnrichMaxEventFailures)
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	reasoner, err := openai.NewClient(openai.Config{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
		BaseURL: cfg.OpenAIBaseURL,
		Timeout: cfg.OpenAITimeout,
	}, log)
	if err != nil {
		return err
	}

	// Optional Redis lease so that several workers can share a store.
	var locker domain.Locker
	if cfg.RedisAddr != "" {
		redisClient, err := newRedisClient(cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer redisClient.Close()

		lease := redisrepo.NewLeaseLocker(redisClient, log)
		if err := lease.Ping(ctx); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		log.Info("connected to redis, enrichment leases enabled")
		locker = lease
	}

	worker := usecase.NewEnrichEventsUseCase(store, reasoner, locker, m, usecase.EnrichOptions{
		BatchSize:   cfg.EnrichBatchSize,
		Interval:    cfg.EnrichInterval,
		Pace:        cfg.EnrichPace,
		MaxAttempts: cfg.EnrichMaxAttempts,
		RetryBase:   cfg.EnrichRetryBase,
		LeaseTTL:    cfg.EnrichLeaseTTL,
		RunOnce:     cfg.EnrichRunOnce,
	}, log)

	if cfg.EnrichRunOnce {
		_, err := worker.RunOnce(ctx)
		writeTextfile(cfg.MetricsTextfile, reg, log)
		return err
	}

	// --- Start Admin and Metrics Server ---
	adminHandler := handler.NewAdminHandler(store, worker, db, aggregate.Options{AllowedProviders: cfg.AllowedProviders}, log)
	adminServer := &http.Server{
		Addr:         cfg.AdminAddr,
		Handler:      api.NewAdminRouter(adminHandler, reg, log),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
	go func() {
		log.Info("starting admin & metrics server", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("admin & metrics server failed", "error", err)
		}
	}()

	if err := worker.Run(ctx); err != nil {
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		log.Error("admin server shutdown failed", "error", err)
	}
	writeTextfile(cfg.MetricsTextfile, reg, log)

	log.Info("enrichment worker shut down gracefully")
	return nil
}

// newRedisClient accepts either a redis:// URL or a bare host:port.
func newRedisClient(addr string) (*redis.Client, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: addr}), nil
}

func writeTextfile(path string, reg *prometheus.Registry, log *slog.Logger) {
	if path == "" {
		return
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		log.Warn("failed to write metrics textfile", "path", path, "error", err)
	}
}
