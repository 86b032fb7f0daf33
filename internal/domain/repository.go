package domain

import (
	"context"
	"time"
)

// EventStore is the durable, idempotent home of events and their enrichment
// records. It is the only shared mutable resource; UpsertEvent and
// SaveEnrichment are the sole mutation points.
type EventStore interface {
	// UpsertEvent inserts the event or, on id conflict, overwrites every field
	// except the enrichment projection and the enriched flag.
	UpsertEvent(ctx context.Context, event AIUsageEvent) error

	// UpsertEvents applies UpsertEvent semantics to a batch in one transaction.
	// When the same id appears twice, the later event wins.
	UpsertEvents(ctx context.Context, events []AIUsageEvent) error

	// GetUnenrichedBatch returns up to limit events that are not yet enriched,
	// most recent first.
	GetUnenrichedBatch(ctx context.Context, limit int) ([]AIUsageEvent, error)

	// SaveEnrichment upserts the enrichment record for eventID. A successful
	// outcome also marks the event enriched and copies the projection in the
	// same transaction. An already enriched event is left untouched and
	// ErrAlreadyEnriched is returned, unless outcome.Override is set.
	SaveEnrichment(ctx context.Context, eventID string, outcome EnrichmentOutcome) error

	// IsEnriched reports whether eventID has a successful enrichment.
	IsEnriched(ctx context.Context, eventID string) (bool, error)

	// ListEvents returns every event with its enrichment projection, most recent first.
	ListEvents(ctx context.Context) ([]AIUsageEvent, error)

	// Stats returns operational counters.
	Stats(ctx context.Context) (StoreStats, error)
}

// StoreStats are the operational counters of an EventStore.
type StoreStats struct {
	TotalEvents       int `json:"total_events"`
	EnrichedEvents    int `json:"enriched_events"`
	UnenrichedEvents  int `json:"unenriched_events"`
	TotalEnrichments  int `json:"total_enrichments"`
	FailedEnrichments int `json:"failed_enrichments"`
	ExhaustedEvents   int `json:"exhausted_events"`
}

// Reasoner submits a sanitized enrichment request to the external reasoning
// service and returns its raw structured answer. Errors wrap ErrRateLimited,
// ErrTimeout, ErrUnauthorized or ErrBadRequest where the cause is known.
type Reasoner interface {
	Reason(ctx context.Context, req EnrichmentRequest) ([]byte, error)
}

// Locker hands out short-lived leases so that concurrent orchestrators do not
// attempt the same event.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// SpoolRepository is an on-disk write-ahead spool for events that could not
// be persisted.
type SpoolRepository interface {
	// Write appends an event to the spool.
	Write(ctx context.Context, event AIUsageEvent) error

	// Replay reads spooled events in write order and hands each to handler.
	Replay(ctx context.Context, handler func(event AIUsageEvent) error) error

	// Truncate removes all replayed segments.
	Truncate(ctx context.Context) error
}
