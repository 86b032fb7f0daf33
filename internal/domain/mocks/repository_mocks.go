package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/V4T54L/shadow-ai-watch/internal/domain"
)

// MockEventStore is an in-memory implementation of domain.EventStore for
// testing. It follows the same upsert and enrichment rules as the SQL store.
type MockEventStore struct {
	mu          sync.Mutex
	Events      map[string]domain.AIUsageEvent
	Records     map[string]domain.EnrichmentRecord
	UpsertCalls int
	SaveCalls   int
	MaxAttempts int

	UpsertErr       error
	UpsertEventsErr error
	FailIDs         map[string]error // per-event UpsertEvent failures
	BatchErr        error
	SaveErr         error
	IsEnrichedErr   error
	ListErr         error
	StatsErr        error
}

func NewMockEventStore() *MockEventStore {
	return &MockEventStore{
		Events:  make(map[string]domain.AIUsageEvent),
		Records: make(map[string]domain.EnrichmentRecord),
	}
}

func (m *MockEventStore) UpsertEvent(ctx context.Context, event domain.AIUsageEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsertCalls++
	if m.UpsertErr != nil {
		return m.UpsertErr
	}
	if err := m.FailIDs[event.ID]; err != nil {
		return err
	}
	if existing, ok := m.Events[event.ID]; ok {
		event.ValueCategory = existing.ValueCategory
		event.EstimatedMinutesSaved = existing.EstimatedMinutesSaved
		event.BusinessOutcome = existing.BusinessOutcome
		event.PolicyAlignment = existing.PolicyAlignment
		event.ValueSummary = existing.ValueSummary
		event.ValueEnriched = existing.ValueEnriched
	} else {
		event.ValueCategory = nil
		event.EstimatedMinutesSaved = nil
		event.BusinessOutcome = nil
		event.PolicyAlignment = nil
		event.ValueSummary = nil
		event.ValueEnriched = false
	}
	m.Events[event.ID] = event
	return nil
}

func (m *MockEventStore) UpsertEvents(ctx context.Context, events []domain.AIUsageEvent) error {
	m.mu.Lock()
	err := m.UpsertErr
	if err == nil {
		err = m.UpsertEventsErr
	}
	m.mu.Unlock()
	if err != nil {
		return err
	}
	for _, event := range events {
		if err := m.UpsertEvent(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockEventStore) GetUnenrichedBatch(ctx context.Context, limit int) ([]domain.AIUsageEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BatchErr != nil {
		return nil, m.BatchErr
	}
	var batch []domain.AIUsageEvent
	for id, event := range m.Events {
		if event.ValueEnriched {
			continue
		}
		if m.MaxAttempts > 0 && m.Records[id].Attempts >= m.MaxAttempts {
			continue
		}
		batch = append(batch, event)
	}
	sort.Slice(batch, func(i, j int) bool {
		return batch[i].Timestamp.After(batch[j].Timestamp)
	})
	if limit >= 0 && len(batch) > limit {
		batch = batch[:limit]
	}
	return batch, nil
}

func (m *MockEventStore) SaveEnrichment(ctx context.Context, eventID string, outcome domain.EnrichmentOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls++
	if m.SaveErr != nil {
		return m.SaveErr
	}
	event, ok := m.Events[eventID]
	if !ok {
		return domain.ErrEventNotFound
	}
	if event.ValueEnriched && !outcome.Override {
		return domain.ErrAlreadyEnriched
	}

	now := time.Now().UTC()
	rec, exists := m.Records[eventID]
	if !exists {
		rec = domain.EnrichmentRecord{EventID: eventID, CreatedAt: now}
	}
	rec.Result = outcome.Result
	rec.Attempts++
	rec.UpdatedAt = now
	rec.RawResponse = nil
	if outcome.RawResponse != "" {
		raw := outcome.RawResponse
		rec.RawResponse = &raw
	}
	rec.Error = nil
	if !outcome.Succeeded() {
		msg := outcome.Error
		rec.Error = &msg
	}
	m.Records[eventID] = rec

	if outcome.Succeeded() {
		event.ApplyEnrichment(outcome.Result)
		m.Events[eventID] = event
	}
	return nil
}

func (m *MockEventStore) IsEnriched(ctx context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.IsEnrichedErr != nil {
		return false, m.IsEnrichedErr
	}
	event, ok := m.Events[eventID]
	if !ok {
		return false, domain.ErrEventNotFound
	}
	return event.ValueEnriched, nil
}

func (m *MockEventStore) ListEvents(ctx context.Context) ([]domain.AIUsageEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	events := make([]domain.AIUsageEvent, 0, len(m.Events))
	for _, event := range m.Events {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	return events, nil
}

func (m *MockEventStore) Stats(ctx context.Context) (domain.StoreStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StatsErr != nil {
		return domain.StoreStats{}, m.StatsErr
	}
	var stats domain.StoreStats
	stats.TotalEvents = len(m.Events)
	for id, event := range m.Events {
		if event.ValueEnriched {
			stats.EnrichedEvents++
		} else if m.MaxAttempts > 0 && m.Records[id].Attempts >= m.MaxAttempts {
			stats.ExhaustedEvents++
		}
	}
	stats.UnenrichedEvents = stats.TotalEvents - stats.EnrichedEvents
	stats.TotalEnrichments = len(m.Records)
	for _, rec := range m.Records {
		if rec.Error != nil {
			stats.FailedEnrichments++
		}
	}
	return stats, nil
}

// Record returns the enrichment record for id, if any.
func (m *MockEventStore) Record(id string) (domain.EnrichmentRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.Records[id]
	return rec, ok
}

// Event returns the stored event for id, if any.
func (m *MockEventStore) Event(id string) (domain.AIUsageEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	event, ok := m.Events[id]
	return event, ok
}

// MockReasoner replays scripted responses. Each call consumes the next entry;
// the last entry repeats once the script is exhausted.
type MockReasoner struct {
	mu        sync.Mutex
	Responses []MockResponse
	Requests  []domain.EnrichmentRequest
}

type MockResponse struct {
	Raw string
	Err error
}

func (m *MockReasoner) Reason(ctx context.Context, req domain.EnrichmentRequest) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if len(m.Responses) == 0 {
		return nil, domain.ErrTimeout
	}
	idx := len(m.Requests) - 1
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	resp := m.Responses[idx]
	if resp.Err != nil {
		return []byte(resp.Raw), resp.Err
	}
	return []byte(resp.Raw), nil
}

// Calls returns how many requests were made.
func (m *MockReasoner) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// MockSpool is an in-memory domain.SpoolRepository.
type MockSpool struct {
	mu       sync.Mutex
	Spooled  []domain.AIUsageEvent
	WriteErr error
}

func (m *MockSpool) Write(ctx context.Context, event domain.AIUsageEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.Spooled = append(m.Spooled, event)
	return nil
}

func (m *MockSpool) Replay(ctx context.Context, handler func(event domain.AIUsageEvent) error) error {
	m.mu.Lock()
	events := append([]domain.AIUsageEvent(nil), m.Spooled...)
	m.mu.Unlock()
	for _, event := range events {
		if err := handler(event); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockSpool) Truncate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Spooled = nil
	return nil
}

// MockLocker is an in-memory domain.Locker. BeforeLock, when set, runs before
// each acquisition without holding the locker's mutex.
type MockLocker struct {
	mu         sync.Mutex
	Held       map[string]string
	Released   []string
	LockErr    error
	BeforeLock func(key string)
	tokens     int
}

func (m *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if m.BeforeLock != nil {
		m.BeforeLock(key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LockErr != nil {
		return "", false, m.LockErr
	}
	if m.Held == nil {
		m.Held = make(map[string]string)
	}
	if _, taken := m.Held[key]; taken {
		return "", false, nil
	}
	m.tokens++
	token := fmt.Sprintf("token-%s-%d", key, m.tokens)
	m.Held[key] = token
	return token, true, nil
}

func (m *MockLocker) Release(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Held[key] == token {
		delete(m.Held, key)
	}
	m.Released = append(m.Released, key)
	return nil
}
