package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/V4T54L/shadow-ai-watch/internal/adapter/metrics"
	"github.com/V4T54L/shadow-ai-watch/internal/domain"
	"github.com/V4T54L/shadow-ai-watch/internal/domain/mocks"
)

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
	err   error
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return s.err
}

func newEnrichUseCase(store domain.EventStore, reasoner domain.Reasoner, locker domain.Locker) (*EnrichEventsUseCase, *sleepRecorder, *metrics.EnrichMetrics) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.NewEnrichMetrics(prometheus.NewRegistry())
	uc := NewEnrichEventsUseCase(store, reasoner, locker, m, EnrichOptions{RetryBase: time.Millisecond}, logger)
	rec := &sleepRecorder{}
	uc.sleep = rec.sleep
	return uc, rec, m
}

func seedStore(t *testing.T, store *mocks.MockEventStore, ids ...string) {
	t.Helper()
	base := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	for i, id := range ids {
		err := store.UpsertEvent(context.Background(), domain.AIUsageEvent{
			ID:          id,
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
			Provider:    domain.ProviderOpenAI,
			Service:     domain.ServiceChat,
			URL:         "https://api.openai.com/v1/chat/completions",
			RiskLevel:   domain.RiskMedium,
			RiskReasons: []string{"external_ai_usage"},
			PIIReasons:  []string{},
			UseCase:     domain.UseCaseAnalysisOrChat,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestEnrichEventsUseCase_ProcessBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("Timeouts Then Success", func(t *testing.T) {
		store := mocks.NewMockEventStore()
		seedStore(t, store, "evt_1")
		reasoner := &mocks.MockReasoner{Responses: []mocks.MockResponse{
			{Err: domain.ErrTimeout},
			{Err: domain.ErrTimeout},
			{Raw: validResponse},
		}}
		uc, rec, m := newEnrichUseCase(store, reasoner, nil)

		res, err := uc.ProcessBatch(ctx)

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if res != (BatchResult{Fetched: 1, Enriched: 1}) {
			t.Errorf("unexpected result %+v", res)
		}
		if reasoner.Calls() != 3 {
			t.Errorf("expected 3 calls, got %d", reasoner.Calls())
		}
		if len(store.Records) != 1 {
			t.Fatalf("expected exactly one enrichment record, got %d", len(store.Records))
		}
		rec1, _ := store.Record("evt_1")
		if rec1.Error != nil || rec1.Attempts != 1 {
			t.Errorf("unexpected record %+v", rec1)
		}
		event, _ := store.Event("evt_1")
		if !event.ValueEnriched || event.ValueCategory == nil || *event.ValueCategory != domain.ValueProductivity {
			t.Errorf("expected event to be enriched, got %+v", event)
		}
		if len(rec.waits) != 2 || rec.waits[0] != time.Millisecond || rec.waits[1] != 2*time.Millisecond {
			t.Errorf("unexpected backoff waits %v", rec.waits)
		}
		if v := testutil.ToFloat64(m.Attempts.WithLabelValues("timeout")); v != 2 {
			t.Errorf("expected 2 timeout attempts counted, got %v", v)
		}
		if v := testutil.ToFloat64(m.Outcomes.WithLabelValues("enriched")); v != 1 {
			t.Errorf("expected 1 enriched outcome counted, got %v", v)
		}
	})

	t.Run("Attempts Exhausted", func(t *testing.T) {
		store := mocks.NewMockEventStore()
		seedStore(t, store, "evt_1")
		reasoner := &mocks.MockReasoner{Responses: []mocks.MockResponse{{Raw: `{"oops":true}`}}}
		uc, rec, _ := newEnrichUseCase(store, reasoner, nil)

		res, err := uc.ProcessBatch(ctx)

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if res.Failed != 1 {
			t.Errorf("expected 1 failed event, got %+v", res)
		}
		if reasoner.Calls() != 3 {
			t.Errorf("expected 3 calls, got %d", reasoner.Calls())
		}
		if len(rec.waits) != 2 {
			t.Errorf("expected no wait after the final attempt, got %v", rec.waits)
		}
		record, ok := store.Record("evt_1")
		if !ok || record.Error == nil {
			t.Fatalf("expected a failure record, got %+v", record)
		}
		if record.Result != domain.FailedEnrichmentPlaceholder() {
			t.Errorf("expected placeholder result, got %+v", record.Result)
		}
		if record.RawResponse == nil || *record.RawResponse != `{"oops":true}` {
			t.Errorf("expected last raw response to be kept, got %v", record.RawResponse)
		}
		if event, _ := store.Event("evt_1"); event.ValueEnriched {
			t.Error("a failed enrichment must not mark the event enriched")
		}
	})

	t.Run("Permanent Failure Stops Retrying", func(t *testing.T) {
		store := mocks.NewMockEventStore()
		seedStore(t, store, "evt_1")
		reasoner := &mocks.MockReasoner{Responses: []mocks.MockResponse{{Err: domain.ErrUnauthorized}}}
		uc, rec, _ := newEnrichUseCase(store, reasoner, nil)

		res, _ := uc.ProcessBatch(ctx)

		if reasoner.Calls() != 1 || len(rec.waits) != 0 {
			t.Errorf("expected a single attempt without backoff, got %d calls and waits %v", reasoner.Calls(), rec.waits)
		}
		if res.Failed != 1 {
			t.Errorf("expected 1 failed event, got %+v", res)
		}
		if record, _ := store.Record("evt_1"); record.Error == nil {
			t.Error("expected the failure to be recorded")
		}
	})

	t.Run("Rate Limit Backs Off Longer", func(t *testing.T) {
		store := mocks.NewMockEventStore()
		seedStore(t, store, "evt_1")
		reasoner := &mocks.MockReasoner{Responses: []mocks.MockResponse{
			{Err: domain.ErrRateLimited},
			{Raw: validResponse},
		}}
		uc, rec, _ := newEnrichUseCase(store, reasoner, nil)

		if _, err := uc.ProcessBatch(ctx); err != nil {
			t.Fatal(err)
		}
		if len(rec.waits) != 1 || rec.waits[0] != 4*time.Millisecond {
			t.Errorf("unexpected backoff waits %v", rec.waits)
		}
	})

	t.Run("Shutdown During Backoff Records Failure", func(t *testing.T) {
		store := mocks.NewMockEventStore()
		seedStore(t, store, "evt_1", "evt_2")
		reasoner := &mocks.MockReasoner{Responses: []mocks.MockResponse{{Err: domain.ErrTimeout}}}
		uc, _, _ := newEnrichUseCase(store, reasoner, nil)

		cctx, cancel := context.WithCancel(ctx)
		uc.sleep = func(ctx context.Context, d time.Duration) error {
			cancel()
			return context.Canceled
		}

		res, err := uc.ProcessBatch(cctx)

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if res.Failed != 1 || res.Enriched != 0 {
			t.Errorf("expected the in-progress event to be recorded as failed, got %+v", res)
		}
		if reasoner.Calls() != 1 {
			t.Errorf("expected no further attempts after shutdown, got %d calls", reasoner.Calls())
		}
		if len(store.Records) != 1 {
			t.Errorf("expected one failure record, got %d", len(store.Records))
		}
	})

	t.Run("Store Read Error", func(t *testing.T) {
		store := mocks.NewMockEventStore()
		store.BatchErr = errors.New("connection refused")
		uc, _, _ := newEnrichUseCase(store, &mocks.MockReasoner{}, nil)

		if _, err := uc.ProcessBatch(ctx); err == nil {
			t.Fatal("expected an error, got nil")
		}
	})

	t.Run("Save Error Is Logged And Counted", func(t *testing.T) {
		store := mocks.NewMockEventStore()
		seedStore(t, store, "evt_1", "evt_2")
		store.SaveErr = errors.New("deadlock detected")
		reasoner := &mocks.MockReasoner{Responses: []mocks.MockResponse{{Raw: validResponse}}}
		uc, _, _ := newEnrichUseCase(store, reasoner, nil)

		res, err := uc.ProcessBatch(ctx)

		if err != nil {
			t.Fatalf("expected the batch to continue, got %v", err)
		}
		if res.Failed != 2 || reasoner.Calls() != 2 {
			t.Errorf("expected both events attempted and failed, got %+v with %d calls", res, reasoner.Calls())
		}
	})
}

func TestEnrichEventsUseCase_Monotonicity(t *testing.T) {
	ctx := context.Background()
	store := mocks.NewMockEventStore()
	seedStore(t, store, "evt_1")
	reasoner := &mocks.MockReasoner{Responses: []mocks.MockResponse{{Raw: validResponse}}}
	uc, _, _ := newEnrichUseCase(store, reasoner, nil)

	if _, err := uc.ProcessBatch(ctx); err != nil {
		t.Fatal(err)
	}

	first, _ := store.Record("evt_1")
	late := []domain.EnrichmentOutcome{
		{Result: domain.FailedEnrichmentPlaceholder(), Error: "late failure"},
		{Result: domain.EnrichmentResult{ValueCategory: domain.ValueRevenue, EstimatedMinutesSaved: 99}},
	}
	for _, outcome := range late {
		if err := store.SaveEnrichment(ctx, "evt_1", outcome); !errors.Is(err, domain.ErrAlreadyEnriched) {
			t.Fatalf("expected ErrAlreadyEnriched, got %v", err)
		}
	}
	event, _ := store.Event("evt_1")
	if !event.ValueEnriched || *event.ValueCategory != domain.ValueProductivity {
		t.Fatal("a later save replaced the first successful enrichment")
	}
	if rec, _ := store.Record("evt_1"); rec.Attempts != first.Attempts || rec.Error != nil {
		t.Errorf("record changed after success: %+v", rec)
	}

	res, err := uc.ProcessBatch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Fetched != 0 || reasoner.Calls() != 1 {
		t.Errorf("enriched event must not be selected again, got %+v with %d calls", res, reasoner.Calls())
	}
	if len(store.Records) != 1 {
		t.Errorf("expected one record, got %d", len(store.Records))
	}
}

func TestEnrichEventsUseCase_FailureCap(t *testing.T) {
	ctx := context.Background()
	store := mocks.NewMockEventStore()
	store.MaxAttempts = 2
	seedStore(t, store, "evt_1")
	reasoner := &mocks.MockReasoner{Responses: []mocks.MockResponse{{Err: domain.ErrBadRequest}}}
	uc, _, _ := newEnrichUseCase(store, reasoner, nil)

	for i := 0; i < 3; i++ {
		if _, err := uc.ProcessBatch(ctx); err != nil {
			t.Fatal(err)
		}
	}

	if reasoner.Calls() != 2 {
		t.Errorf("expected the event to stop being selected after 2 failed batches, got %d calls", reasoner.Calls())
	}
	stats, _ := store.Stats(ctx)
	if stats.ExhaustedEvents != 1 {
		t.Errorf("expected 1 exhausted event, got %+v", stats)
	}
}

func TestEnrichEventsUseCase_Lease(t *testing.T) {
	ctx := context.Background()

	t.Run("Leased Elsewhere Is Skipped", func(t *testing.T) {
		store := mocks.NewMockEventStore()
		seedStore(t, store, "evt_1", "evt_2")
		locker := &mocks.MockLocker{Held: map[string]string{"evt_1": "other-worker"}}
		reasoner := &mocks.MockReasoner{Responses: []mocks.MockResponse{{Raw: validResponse}}}
		uc, _, _ := newEnrichUseCase(store, reasoner, locker)

		res, err := uc.ProcessBatch(ctx)

		if err != nil {
			t.Fatal(err)
		}
		if res != (BatchResult{Fetched: 2, Enriched: 1, Skipped: 1}) {
			t.Errorf("unexpected result %+v", res)
		}
		if _, ok := store.Record("evt_1"); ok {
			t.Error("leased event must not be attempted")
		}
		if len(locker.Released) != 1 || locker.Released[0] != "evt_2" {
			t.Errorf("expected evt_2 lease to be released, got %v", locker.Released)
		}
		if locker.Held["evt_1"] != "other-worker" {
			t.Error("foreign lease must be left alone")
		}
	})

	t.Run("Lock Error Skips Event", func(t *testing.T) {
		store := mocks.NewMockEventStore()
		seedStore(t, store, "evt_1")
		locker := &mocks.MockLocker{LockErr: errors.New("redis down")}
		reasoner := &mocks.MockReasoner{Responses: []mocks.MockResponse{{Raw: validResponse}}}
		uc, _, _ := newEnrichUseCase(store, reasoner, locker)

		res, _ := uc.ProcessBatch(ctx)

		if res.Skipped != 1 || reasoner.Calls() != 0 {
			t.Errorf("expected the event to be skipped, got %+v with %d calls", res, reasoner.Calls())
		}
	})
}

func TestEnrichEventsUseCase_TwoWorkers(t *testing.T) {
	ctx := context.Background()
	store := mocks.NewMockEventStore()
	seedStore(t, store, "evt_1")
	locker := &mocks.MockLocker{}

	reasonerA := &mocks.MockReasoner{Responses: []mocks.MockResponse{{Raw: validResponse}}}
	workerA, _, _ := newEnrichUseCase(store, reasonerA, locker)
	reasonerB := &mocks.MockReasoner{Responses: []mocks.MockResponse{{Raw: validResponse}}}
	workerB, _, _ := newEnrichUseCase(store, reasonerB, locker)

	// B has fetched its batch; A enriches and releases evt_1 before B locks it.
	var resA BatchResult
	ranA := false
	locker.BeforeLock = func(key string) {
		if ranA {
			return
		}
		ranA = true
		var err error
		if resA, err = workerA.ProcessBatch(ctx); err != nil {
			t.Errorf("worker A: %v", err)
		}
	}

	resB, err := workerB.ProcessBatch(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if resA.Enriched != 1 || reasonerA.Calls() != 1 {
		t.Errorf("worker A: %+v with %d calls", resA, reasonerA.Calls())
	}
	if resB != (BatchResult{Fetched: 1, Skipped: 1}) || reasonerB.Calls() != 0 {
		t.Errorf("worker B must skip the enriched event, got %+v with %d calls", resB, reasonerB.Calls())
	}
	if rec, _ := store.Record("evt_1"); rec.Attempts != 1 {
		t.Errorf("expected a single save, got %d", rec.Attempts)
	}
}

type panicReasoner struct {
	panicFor string
	next     domain.Reasoner
}

func (p *panicReasoner) Reason(ctx context.Context, req domain.EnrichmentRequest) ([]byte, error) {
	if req.EventID == p.panicFor {
		panic("unexpected nil in client")
	}
	return p.next.Reason(ctx, req)
}

type panicBatchStore struct {
	*mocks.MockEventStore
}

func (panicBatchStore) GetUnenrichedBatch(ctx context.Context, limit int) ([]domain.AIUsageEvent, error) {
	panic("driver bug")
}

func TestEnrichEventsUseCase_Panics(t *testing.T) {
	t.Run("Event Panic Fails Only That Event", func(t *testing.T) {
		store := mocks.NewMockEventStore()
		seedStore(t, store, "evt_1", "evt_2")
		locker := &mocks.MockLocker{}
		reasoner := &panicReasoner{
			panicFor: "evt_1",
			next:     &mocks.MockReasoner{Responses: []mocks.MockResponse{{Raw: validResponse}}},
		}
		uc, _, m := newEnrichUseCase(store, reasoner, locker)

		res, err := uc.ProcessBatch(context.Background())

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if res != (BatchResult{Fetched: 2, Enriched: 1, Failed: 1}) {
			t.Errorf("unexpected result %+v", res)
		}
		if event, _ := store.Event("evt_2"); !event.ValueEnriched {
			t.Error("event after the panic was not enriched")
		}
		if len(locker.Held) != 0 {
			t.Errorf("leases leaked after panic: %v", locker.Held)
		}
		if v := testutil.ToFloat64(m.Outcomes.WithLabelValues("failed")); v != 1 {
			t.Errorf("expected 1 failed outcome, got %v", v)
		}
	})

	t.Run("Batch Panic Keeps Loop Running", func(t *testing.T) {
		store := panicBatchStore{mocks.NewMockEventStore()}
		uc, _, _ := newEnrichUseCase(store, &mocks.MockReasoner{}, nil)

		ctx, cancel := context.WithCancel(context.Background())
		rounds := 0
		uc.sleep = func(ctx context.Context, d time.Duration) error {
			rounds++
			if rounds == 2 {
				cancel()
				return context.Canceled
			}
			return nil
		}

		if err := uc.Run(ctx); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if rounds != 2 {
			t.Errorf("expected the loop to survive two panicking batches, got %d rounds", rounds)
		}

		if _, err := uc.RunOnce(context.Background()); err == nil {
			t.Error("expected RunOnce to report the panic as an error")
		}
	})
}

func TestEnrichEventsUseCase_Run(t *testing.T) {
	t.Run("Stops On Cancel", func(t *testing.T) {
		store := mocks.NewMockEventStore()
		seedStore(t, store, "evt_1")
		reasoner := &mocks.MockReasoner{Responses: []mocks.MockResponse{{Raw: validResponse}}}
		uc, _, _ := newEnrichUseCase(store, reasoner, nil)

		ctx, cancel := context.WithCancel(context.Background())
		var intervals []time.Duration
		uc.sleep = func(ctx context.Context, d time.Duration) error {
			intervals = append(intervals, d)
			if len(intervals) == 2 {
				cancel()
				return context.Canceled
			}
			return nil
		}

		if err := uc.Run(ctx); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		stats := uc.Stats()
		if stats.Batches != 2 || stats.Enriched != 1 {
			t.Errorf("unexpected stats %+v", stats)
		}
		for _, d := range intervals {
			if d != defaultEnrichInterval {
				t.Errorf("expected interval waits of %v, got %v", defaultEnrichInterval, d)
			}
		}
	})

	t.Run("Run Once", func(t *testing.T) {
		store := mocks.NewMockEventStore()
		seedStore(t, store, "evt_1", "evt_2")
		reasoner := &mocks.MockReasoner{Responses: []mocks.MockResponse{{Raw: validResponse}}}
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		m := metrics.NewEnrichMetrics(prometheus.NewRegistry())
		uc := NewEnrichEventsUseCase(store, reasoner, nil, m, EnrichOptions{RunOnce: true, BatchSize: 1}, logger)

		if err := uc.Run(context.Background()); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if reasoner.Calls() != 1 {
			t.Errorf("expected one batch of one event, got %d calls", reasoner.Calls())
		}
		if v := testutil.ToFloat64(m.Backlog); v != 1 {
			t.Errorf("expected backlog gauge of 1, got %v", v)
		}
	})
}
