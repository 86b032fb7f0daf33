package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/V4T54L/shadow-ai-watch/internal/adapter/csvlog"
	"github.com/V4T54L/shadow-ai-watch/internal/adapter/metrics"
	"github.com/V4T54L/shadow-ai-watch/internal/classifier"
	"github.com/V4T54L/shadow-ai-watch/internal/domain"
)

// IngestResult describes one ingestion run.
type IngestResult struct {
	Report    csvlog.Report         `json:"report"`
	Events    []domain.AIUsageEvent `json:"-"`
	Persisted int                   `json:"persisted"`
	Spooled   int                   `json:"spooled"`
}

// IngestLogUseCase handles parsing, classifying and persisting proxy logs.
type IngestLogUseCase struct {
	parser   *csvlog.Parser
	pipeline *classifier.Pipeline
	store    domain.EventStore
	spool    domain.SpoolRepository
	metrics  *metrics.IngestMetrics
	logger   *slog.Logger
}

// NewIngestLogUseCase creates a new IngestLogUseCase.
func NewIngestLogUseCase(
	parser *csvlog.Parser,
	pipeline *classifier.Pipeline,
	store domain.EventStore,
	spool domain.SpoolRepository,
	m *metrics.IngestMetrics,
	logger *slog.Logger,
) *IngestLogUseCase {
	return &IngestLogUseCase{
		parser:   parser,
		pipeline: pipeline,
		store:    store,
		spool:    spool,
		metrics:  m,
		logger:   logger.With("component", "ingest"),
	}
}

// IngestFiles parses, classifies and persists the given log files.
func (uc *IngestLogUseCase) IngestFiles(ctx context.Context, paths []string) (IngestResult, error) {
	events, report, err := uc.parser.ParseFiles(paths)
	if err != nil {
		return IngestResult{}, err
	}
	uc.metrics.RowsTotal.WithLabelValues("accepted").Add(float64(report.Accepted))
	uc.metrics.RowsTotal.WithLabelValues("filtered").Add(float64(report.Filtered))
	uc.metrics.RowsTotal.WithLabelValues("skipped").Add(float64(report.Skipped))

	for i := range events {
		uc.classify(&events[i])
	}
	uc.logger.Info("parsed proxy logs", "files", len(paths), "rows", report.Rows, "events", len(events), "filtered", report.Filtered, "skipped", report.Skipped)

	persisted, spooled, err := uc.Persist(ctx, events)
	return IngestResult{Report: report, Events: events, Persisted: persisted, Spooled: spooled}, err
}

// Seed persists previously exported events. Events without a valid risk
// level are classified again; events without an id get a derived one.
func (uc *IngestLogUseCase) Seed(ctx context.Context, events []domain.AIUsageEvent) (int, int, error) {
	for i := range events {
		e := &events[i]
		if strings.TrimSpace(e.URL) == "" {
			return 0, 0, fmt.Errorf("seed event %d has no url", i)
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now().UTC()
		}
		if e.ID == "" {
			e.ID = csvlog.EventID(e.Timestamp.Format(time.RFC3339), e.Email(), e.URL, i+1)
		}
		if !e.RiskLevel.Valid() || len(e.RiskReasons) == 0 {
			uc.classify(e)
		}
	}
	return uc.Persist(ctx, events)
}

func (uc *IngestLogUseCase) classify(event *domain.AIUsageEvent) {
	uc.pipeline.Apply(event)
	uc.metrics.EventsByRisk.WithLabelValues(string(event.RiskLevel)).Inc()
	uc.metrics.EventsByProvider.WithLabelValues(string(event.Provider)).Inc()
	if event.PIIRisk {
		uc.metrics.PIIEvents.Inc()
	}
}

// Persist upserts events in one batch. When the batch fails it falls back to
// per-event upserts and spools every event that still cannot be stored. An
// error is returned only when an event could be neither stored nor spooled.
func (uc *IngestLogUseCase) Persist(ctx context.Context, events []domain.AIUsageEvent) (persisted, spooled int, err error) {
	if len(events) == 0 {
		return 0, 0, nil
	}
	batchErr := uc.store.UpsertEvents(ctx, events)
	if batchErr == nil {
		uc.logger.Info("persisted events", "count", len(events))
		return len(events), 0, nil
	}
	uc.logger.Warn("batch upsert failed, falling back to per-event upserts", "error", batchErr, "count", len(events))

	var lost []error
	for _, event := range events {
		upsertErr := uc.store.UpsertEvent(ctx, event)
		if upsertErr == nil {
			persisted++
			continue
		}
		if spoolErr := uc.spool.Write(ctx, event); spoolErr != nil {
			uc.logger.Error("failed to persist or spool event", "event_id", event.ID, "upsert_error", upsertErr, "spool_error", spoolErr)
			lost = append(lost, fmt.Errorf("event %s: %w", event.ID, errors.Join(upsertErr, spoolErr)))
			continue
		}
		uc.logger.Warn("event spooled after upsert failure", "event_id", event.ID, "error", upsertErr)
		uc.metrics.SpooledEvents.Inc()
		spooled++
	}

	if len(lost) > 0 {
		return persisted, spooled, fmt.Errorf("%d events could not be persisted: %w", len(lost), errors.Join(lost...))
	}
	return persisted, spooled, nil
}

// ReplaySpool upserts spooled events in write order and clears the spool once
// every event is stored. On the first failure the spool is left intact.
func (uc *IngestLogUseCase) ReplaySpool(ctx context.Context) (int, error) {
	replayed := 0
	err := uc.spool.Replay(ctx, func(event domain.AIUsageEvent) error {
		if err := uc.store.UpsertEvent(ctx, event); err != nil {
			return err
		}
		replayed++
		uc.metrics.ReplayedEvents.Inc()
		return nil
	})
	if err != nil {
		return replayed, fmt.Errorf("spool replay stopped after %d events: %w", replayed, err)
	}
	if replayed == 0 {
		return 0, nil
	}

	if err := uc.spool.Truncate(ctx); err != nil {
		return replayed, fmt.Errorf("failed to truncate spool: %w", err)
	}
	uc.logger.Info("replayed spooled events", "count", replayed)
	return replayed, nil
}
