package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/V4T54L/shadow-ai-watch/internal/adapter/metrics"
	"github.com/V4T54L/shadow-ai-watch/internal/domain"
)

const (
	defaultEnrichBatchSize   = 50
	defaultEnrichInterval    = 10 * time.Second
	defaultEnrichMaxAttempts = 3
	defaultEnrichRetryBase   = 1 * time.Second
	defaultLeaseTTL          = 2 * time.Minute
)

// EnrichOptions tune the enrichment loop. Zero values use the defaults.
type EnrichOptions struct {
	BatchSize   int
	Interval    time.Duration
	Pace        time.Duration // minimum gap between events; 0 disables pacing
	MaxAttempts int
	RetryBase   time.Duration
	LeaseTTL    time.Duration
	RunOnce     bool
}

func (o EnrichOptions) withDefaults() EnrichOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = defaultEnrichBatchSize
	}
	if o.Interval <= 0 {
		o.Interval = defaultEnrichInterval
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultEnrichMaxAttempts
	}
	if o.RetryBase <= 0 {
		o.RetryBase = defaultEnrichRetryBase
	}
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = defaultLeaseTTL
	}
	return o
}

// BatchResult counts what happened to the events of one batch.
type BatchResult struct {
	Fetched  int `json:"fetched"`
	Enriched int `json:"enriched"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

// WorkerStats are the cumulative counters of an orchestrator instance.
type WorkerStats struct {
	Batches     int       `json:"batches"`
	Processed   int       `json:"processed"`
	Enriched    int       `json:"enriched"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	LastBatchAt time.Time `json:"last_batch_at"`
}

// EnrichEventsUseCase pulls unenriched events from the store, asks the
// reasoning service for a value judgment and writes the outcome back.
type EnrichEventsUseCase struct {
	store    domain.EventStore
	reasoner domain.Reasoner
	locker   domain.Locker
	metrics  *metrics.EnrichMetrics
	limiter  *rate.Limiter
	opts     EnrichOptions
	logger   *slog.Logger
	tracer   trace.Tracer

	// sleep waits for d or until ctx is done.
	sleep func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	stats WorkerStats
}

// NewEnrichEventsUseCase creates the orchestrator. locker may be nil, in which
// case only one instance may run against a store.
func NewEnrichEventsUseCase(
	store domain.EventStore,
	reasoner domain.Reasoner,
	locker domain.Locker,
	m *metrics.EnrichMetrics,
	opts EnrichOptions,
	logger *slog.Logger,
) *EnrichEventsUseCase {
	opts = opts.withDefaults()

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.Pace > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.Pace), 1)
	}

	return &EnrichEventsUseCase{
		store:    store,
		reasoner: reasoner,
		locker:   locker,
		metrics:  m,
		limiter:  limiter,
		opts:     opts,
		logger:   logger.With("component", "enrich_worker"),
		tracer:   otel.Tracer("github.com/V4T54L/shadow-ai-watch/usecase"),
		sleep:    sleepContext,
	}
}

// Run processes batches until ctx is cancelled, waiting Interval between
// batches. Final statistics are logged on exit.
func (uc *EnrichEventsUseCase) Run(ctx context.Context) error {
	if uc.opts.RunOnce {
		_, err := uc.RunOnce(ctx)
		return err
	}

	uc.logger.Info("enrichment worker started",
		"batch_size", uc.opts.BatchSize,
		"interval", uc.opts.Interval.String(),
		"max_attempts", uc.opts.MaxAttempts,
		"lease", uc.locker != nil,
	)

	for ctx.Err() == nil {
		res, err := uc.safeProcessBatch(ctx)
		if err != nil {
			uc.logger.Error("error processing batch", "error", err)
		} else if res.Fetched > 0 {
			uc.logger.Info("batch complete", "fetched", res.Fetched, "enriched", res.Enriched, "failed", res.Failed, "skipped", res.Skipped)
		}

		if err := uc.sleep(ctx, uc.opts.Interval); err != nil {
			break
		}
	}

	uc.logger.Info("context cancelled, shutting down enrichment worker")
	uc.logFinalStats(context.WithoutCancel(ctx))
	return nil
}

// RunOnce processes exactly one batch, logging store statistics before and after.
func (uc *EnrichEventsUseCase) RunOnce(ctx context.Context) (BatchResult, error) {
	uc.logStoreStats(ctx, "store statistics before batch")
	res, err := uc.safeProcessBatch(ctx)
	if err != nil {
		uc.logger.Error("error processing batch", "error", err)
	}
	uc.logFinalStats(context.WithoutCancel(ctx))
	return res, err
}

// ProcessBatch fetches one batch of unenriched events and attempts each in
// turn. It stops early, without error, once ctx is cancelled.
func (uc *EnrichEventsUseCase) ProcessBatch(ctx context.Context) (BatchResult, error) {
	events, err := uc.store.GetUnenrichedBatch(ctx, uc.opts.BatchSize)
	if err != nil {
		return BatchResult{}, err
	}

	res := BatchResult{Fetched: len(events)}
	uc.metrics.Batches.Inc()
	uc.metrics.LastBatchSize.Set(float64(len(events)))
	if len(events) == 0 {
		uc.record(res)
		return res, nil
	}
	uc.logger.Debug("fetched unenriched batch", "count", len(events))

	for _, event := range events {
		if ctx.Err() != nil {
			break
		}
		if err := uc.limiter.Wait(ctx); err != nil {
			break
		}

		switch uc.processEvent(ctx, event) {
		case eventEnriched:
			res.Enriched++
		case eventFailed:
			res.Failed++
		default:
			res.Skipped++
		}
	}

	uc.record(res)
	return res, nil
}

// safeProcessBatch turns a panic outside the per-event guard into an error
// so the loop keeps running.
func (uc *EnrichEventsUseCase) safeProcessBatch(ctx context.Context) (res BatchResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			uc.logger.Error("panic while processing batch", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("batch panicked: %v", r)
		}
	}()
	return uc.ProcessBatch(ctx)
}

type eventResult int

const (
	eventEnriched eventResult = iota
	eventFailed
	eventSkipped
)

func (uc *EnrichEventsUseCase) processEvent(ctx context.Context, event domain.AIUsageEvent) (result eventResult) {
	log := uc.logger.With("event_id", event.ID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while enriching event", "panic", r, "stack", string(debug.Stack()))
			uc.metrics.Outcomes.WithLabelValues("failed").Inc()
			result = eventFailed
		}
	}()

	if uc.locker != nil {
		token, ok, err := uc.locker.TryLock(ctx, event.ID, uc.opts.LeaseTTL)
		if err != nil {
			log.Warn("failed to acquire enrichment lease, skipping event", "error", err)
			uc.metrics.Outcomes.WithLabelValues("skipped").Inc()
			return eventSkipped
		}
		if !ok {
			log.Debug("event leased by another worker, skipping")
			uc.metrics.Outcomes.WithLabelValues("skipped").Inc()
			return eventSkipped
		}
		defer func() {
			if err := uc.locker.Release(context.WithoutCancel(ctx), event.ID, token); err != nil {
				log.Warn("failed to release enrichment lease", "error", err)
			}
		}()

		// The batch snapshot may predate another worker's success.
		enriched, err := uc.store.IsEnriched(ctx, event.ID)
		if err != nil {
			log.Warn("failed to re-check enrichment state, skipping event", "error", err)
			uc.metrics.Outcomes.WithLabelValues("skipped").Inc()
			return eventSkipped
		}
		if enriched {
			log.Debug("event enriched by another worker, skipping")
			uc.metrics.Outcomes.WithLabelValues("skipped").Inc()
			return eventSkipped
		}
	}

	ctx, span := uc.tracer.Start(ctx, "enrich.event", trace.WithAttributes(
		attribute.String("event.id", event.ID),
		attribute.String("event.provider", string(event.Provider)),
	))
	defer span.End()

	start := time.Now()
	outcome := uc.enrich(ctx, event, log)
	uc.metrics.Duration.Observe(time.Since(start).Seconds())

	// The outcome is persisted even when shutdown has begun.
	if err := uc.store.SaveEnrichment(context.WithoutCancel(ctx), event.ID, outcome); err != nil {
		if errors.Is(err, domain.ErrAlreadyEnriched) {
			log.Info("event enriched by another worker, discarding outcome")
			uc.metrics.Outcomes.WithLabelValues("skipped").Inc()
			return eventSkipped
		}
		log.Error("failed to save enrichment", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "save enrichment failed")
		uc.metrics.Outcomes.WithLabelValues("failed").Inc()
		return eventFailed
	}

	if !outcome.Succeeded() {
		span.SetStatus(codes.Error, outcome.Error)
		uc.metrics.Outcomes.WithLabelValues("failed").Inc()
		return eventFailed
	}
	span.SetStatus(codes.Ok, "")
	uc.metrics.Outcomes.WithLabelValues("enriched").Inc()
	log.Info("event enriched", "value_category", outcome.Result.ValueCategory, "minutes_saved", outcome.Result.EstimatedMinutesSaved)
	return eventEnriched
}

// enrich runs the bounded retry loop for one event and returns the outcome to
// persist. An attempt in flight completes even if ctx is cancelled; a backoff
// wait does not.
func (uc *EnrichEventsUseCase) enrich(ctx context.Context, event domain.AIUsageEvent, log *slog.Logger) domain.EnrichmentOutcome {
	req := BuildEnrichmentRequest(event)

	var last attemptOutcome
	var lastRaw []byte
	for attempt := 0; attempt < uc.opts.MaxAttempts; attempt++ {
		raw, err := uc.reasoner.Reason(context.WithoutCancel(ctx), req)
		last = classifyAttempt(raw, err)
		lastRaw = raw

		if last.kind == outcomeSuccess {
			uc.metrics.Attempts.WithLabelValues("success").Inc()
			return domain.EnrichmentOutcome{Result: last.result, RawResponse: string(raw)}
		}
		uc.metrics.Attempts.WithLabelValues(last.failure.String()).Inc()

		if last.kind == outcomePermanent {
			log.Error("reasoning service rejected request, not retrying", "attempt", attempt+1, "error", last.err)
			break
		}
		if attempt == uc.opts.MaxAttempts-1 {
			log.Error("enrichment attempts exhausted", "attempts", uc.opts.MaxAttempts, "error", last.err)
			break
		}

		wait := Backoff(attempt, last.failure, uc.opts.RetryBase)
		log.Warn("enrichment attempt failed, retrying", "attempt", attempt+1, "kind", last.failure.String(), "backoff", wait.String(), "error", last.err)
		if err := uc.sleep(ctx, wait); err != nil {
			log.Warn("shutdown during backoff, recording failure", "attempt", attempt+1)
			break
		}
	}

	return domain.EnrichmentOutcome{
		Result:      domain.FailedEnrichmentPlaceholder(),
		RawResponse: string(lastRaw),
		Error:       last.err.Error(),
	}
}

// Stats returns a snapshot of the cumulative worker counters.
func (uc *EnrichEventsUseCase) Stats() WorkerStats {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.stats
}

func (uc *EnrichEventsUseCase) record(res BatchResult) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.stats.Batches++
	uc.stats.Processed += res.Enriched + res.Failed
	uc.stats.Enriched += res.Enriched
	uc.stats.Failed += res.Failed
	uc.stats.Skipped += res.Skipped
	uc.stats.LastBatchAt = time.Now().UTC()
}

func (uc *EnrichEventsUseCase) logStoreStats(ctx context.Context, msg string) {
	st, err := uc.store.Stats(ctx)
	if err != nil {
		uc.logger.Warn("failed to read store statistics", "error", err)
		return
	}
	uc.metrics.Backlog.Set(float64(st.UnenrichedEvents))
	uc.logger.Info(msg,
		"total_events", st.TotalEvents,
		"enriched_events", st.EnrichedEvents,
		"unenriched_events", st.UnenrichedEvents,
		"failed_enrichments", st.FailedEnrichments,
		"exhausted_events", st.ExhaustedEvents,
	)
}

func (uc *EnrichEventsUseCase) logFinalStats(ctx context.Context) {
	ws := uc.Stats()
	uc.logger.Info("enrichment worker statistics",
		"batches", ws.Batches,
		"processed", ws.Processed,
		"enriched", ws.Enriched,
		"failed", ws.Failed,
		"skipped", ws.Skipped,
	)
	uc.logStoreStats(ctx, "store statistics")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
