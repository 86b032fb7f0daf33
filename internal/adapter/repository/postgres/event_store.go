package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"

	"github.com/V4T54L/shadow-ai-watch/internal/domain"
)

// eventColumns are the ingest-owned columns of the events table, in insert order.
var eventColumns = []string{
	"id", "timestamp", "user_email", "department", "source_ip", "provider", "service", "url",
	"bytes_sent", "bytes_received", "risk_level", "risk_reasons", "source_system", "notes",
	"pii_risk", "pii_reasons", "use_case",
}

// selectColumns adds the enrichment projection to eventColumns.
var selectColumns = append(append([]string{}, eventColumns...),
	"value_category", "estimated_minutes_saved", "business_outcome", "policy_alignment",
	"value_summary", "value_enriched")

const importTableName = "events_import"

// EventStore implements domain.EventStore for PostgreSQL.
type EventStore struct {
	db               *sql.DB
	logger           *slog.Logger
	maxEventFailures int
}

// NewEventStore creates a new PostgreSQL event store. Events whose enrichment
// record has reached maxEventFailures attempts are no longer handed out by
// GetUnenrichedBatch; zero disables the cap.
func NewEventStore(db *sql.DB, logger *slog.Logger, maxEventFailures int) *EventStore {
	return &EventStore{
		db:               db,
		logger:           logger.With("component", "event_store"),
		maxEventFailures: maxEventFailures,
	}
}

// conflictUpdate overwrites every ingest-owned column; the enrichment
// projection and value_enriched are never touched here.
func conflictUpdate() string {
	sets := make([]string, 0, len(eventColumns))
	for _, col := range eventColumns[1:] {
		sets = append(sets, col+" = EXCLUDED."+col)
	}
	sets = append(sets, "updated_at = NOW()")
	return "ON CONFLICT (id) DO UPDATE SET " + strings.Join(sets, ", ")
}

func placeholders(n int) string {
	p := make([]string, n)
	for i := range p {
		p[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(p, ", ")
}

var (
	upsertEventQuery = "INSERT INTO events (" + strings.Join(eventColumns, ", ") + ") VALUES (" +
		placeholders(len(eventColumns)) + ") " + conflictUpdate()

	mergeImportQuery = "INSERT INTO events (" + strings.Join(eventColumns, ", ") + ") SELECT " +
		strings.Join(eventColumns, ", ") + " FROM " + importTableName + " " + conflictUpdate()

	unenrichedBatchQuery = "SELECT e." + strings.Join(selectColumns, ", e.") + `
		FROM events e
		LEFT JOIN value_enrichment v ON v.event_id = e.id
		WHERE NOT e.value_enriched AND ($2 <= 0 OR COALESCE(v.attempts, 0) < $2)
		ORDER BY e.timestamp DESC
		LIMIT $1`

	listEventsQuery = "SELECT " + strings.Join(selectColumns, ", ") + " FROM events ORDER BY timestamp DESC"
)

const (
	lockEventQuery = `SELECT value_enriched FROM events WHERE id = $1 FOR UPDATE`

	isEnrichedQuery = `SELECT value_enriched FROM events WHERE id = $1`

	upsertEnrichmentQuery = `
		INSERT INTO value_enrichment (event_id, value_category, estimated_minutes_saved, business_outcome,
			department, risk_level, policy_alignment, summary, raw_response, enrichment_error, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)
		ON CONFLICT (event_id) DO UPDATE SET
			value_category = EXCLUDED.value_category,
			estimated_minutes_saved = EXCLUDED.estimated_minutes_saved,
			business_outcome = EXCLUDED.business_outcome,
			department = EXCLUDED.department,
			risk_level = EXCLUDED.risk_level,
			policy_alignment = EXCLUDED.policy_alignment,
			summary = EXCLUDED.summary,
			raw_response = EXCLUDED.raw_response,
			enrichment_error = EXCLUDED.enrichment_error,
			attempts = value_enrichment.attempts + 1,
			updated_at = NOW()`

	projectEnrichmentQuery = `
		UPDATE events SET
			value_category = $2,
			estimated_minutes_saved = $3,
			business_outcome = $4,
			policy_alignment = $5,
			value_summary = $6,
			value_enriched = TRUE,
			updated_at = NOW()
		WHERE id = $1`

	statsQuery = `
		SELECT
			(SELECT COUNT(*) FROM events),
			(SELECT COUNT(*) FROM events WHERE value_enriched),
			(SELECT COUNT(*) FROM value_enrichment),
			(SELECT COUNT(*) FROM value_enrichment WHERE enrichment_error IS NOT NULL),
			(SELECT COUNT(*) FROM events e JOIN value_enrichment v ON v.event_id = e.id
				WHERE NOT e.value_enriched AND $1 > 0 AND v.attempts >= $1)`
)

func eventArgs(e domain.AIUsageEvent) []any {
	sourceSystem := e.SourceSystem
	if sourceSystem == "" {
		sourceSystem = domain.DefaultSourceSystem
	}
	useCase := e.UseCase
	if useCase == "" {
		useCase = domain.UseCaseUnknown
	}
	return []any{
		e.ID, e.Timestamp.UTC(), e.UserEmail, e.Department, e.SourceIP,
		string(e.Provider), string(e.Service), e.URL,
		e.BytesSent, e.BytesReceived,
		string(e.RiskLevel), pq.StringArray(nonNil(e.RiskReasons)), sourceSystem, e.Notes,
		e.PIIRisk, pq.StringArray(nonNil(e.PIIReasons)), string(useCase),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func validateEvent(e domain.AIUsageEvent) error {
	if e.ID == "" || e.Provider == "" || e.Service == "" || e.URL == "" {
		return fmt.Errorf("event %q is missing id, provider, service or url", e.ID)
	}
	if !e.RiskLevel.Valid() {
		return fmt.Errorf("event %q has invalid risk level %q", e.ID, e.RiskLevel)
	}
	return nil
}

// UpsertEvent inserts the event or overwrites its ingest-owned columns.
func (s *EventStore) UpsertEvent(ctx context.Context, event domain.AIUsageEvent) error {
	if err := validateEvent(event); err != nil {
		return err
	}

	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer txn.Rollback() // Rollback is a no-op if Commit() is called

	if _, err := txn.ExecContext(ctx, upsertEventQuery, eventArgs(event)...); err != nil {
		return fmt.Errorf("upsert event %s: %w", event.ID, err)
	}
	return txn.Commit()
}

// UpsertEvents stages the batch with the COPY protocol and merges it into the
// events table with the same conflict rule as UpsertEvent.
func (s *EventStore) UpsertEvents(ctx context.Context, events []domain.AIUsageEvent) error {
	if len(events) == 0 {
		return nil
	}

	// A single INSERT ... ON CONFLICT cannot touch the same row twice.
	latest := make(map[string]int, len(events))
	for i, event := range events {
		if err := validateEvent(event); err != nil {
			return err
		}
		latest[event.ID] = i
	}

	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer txn.Rollback()

	_, err = txn.ExecContext(ctx, `CREATE TEMP TABLE `+importTableName+` (LIKE events INCLUDING DEFAULTS) ON COMMIT DROP`)
	if err != nil {
		return fmt.Errorf("create import table: %w", err)
	}

	stmt, err := txn.PrepareContext(ctx, pq.CopyIn(importTableName, eventColumns...))
	if err != nil {
		return fmt.Errorf("prepare copy: %w", err)
	}
	for i, event := range events {
		if latest[event.ID] != i {
			continue
		}
		if _, err := stmt.ExecContext(ctx, eventArgs(event)...); err != nil {
			_ = stmt.Close()
			return fmt.Errorf("copy event %s: %w", event.ID, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return fmt.Errorf("flush copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return err
	}

	if _, err := txn.ExecContext(ctx, mergeImportQuery); err != nil {
		return fmt.Errorf("merge imported events: %w", err)
	}
	return txn.Commit()
}

// GetUnenrichedBatch returns up to limit unenriched events, most recent first.
func (s *EventStore) GetUnenrichedBatch(ctx context.Context, limit int) ([]domain.AIUsageEvent, error) {
	rows, err := s.db.QueryContext(ctx, unenrichedBatchQuery, limit, s.maxEventFailures)
	if err != nil {
		return nil, fmt.Errorf("query unenriched events: %w", err)
	}
	return scanEvents(rows)
}

// ListEvents returns every event with its enrichment projection.
func (s *EventStore) ListEvents(ctx context.Context) ([]domain.AIUsageEvent, error) {
	rows, err := s.db.QueryContext(ctx, listEventsQuery)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return scanEvents(rows)
}

// SaveEnrichment upserts the enrichment record and, for a successful outcome,
// copies the projection onto the event and sets value_enriched. An event that
// is already enriched is not written unless outcome.Override is set, so a
// second worker cannot replace the first successful result.
func (s *EventStore) SaveEnrichment(ctx context.Context, eventID string, outcome domain.EnrichmentOutcome) error {
	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer txn.Rollback()

	var enriched bool
	if err := txn.QueryRowContext(ctx, lockEventQuery, eventID).Scan(&enriched); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("save enrichment for %s: %w", eventID, domain.ErrEventNotFound)
		}
		return fmt.Errorf("lock event %s: %w", eventID, err)
	}

	if enriched && !outcome.Override {
		return fmt.Errorf("save enrichment for %s: %w", eventID, domain.ErrAlreadyEnriched)
	}

	res := outcome.Result
	_, err = txn.ExecContext(ctx, upsertEnrichmentQuery,
		eventID, string(res.ValueCategory), res.EstimatedMinutesSaved, res.BusinessOutcome,
		res.Department, res.RiskLevel, string(res.PolicyAlignment), res.Summary,
		nullString(outcome.RawResponse), nullString(outcome.Error))
	if err != nil {
		return fmt.Errorf("upsert enrichment for %s: %w", eventID, err)
	}

	if outcome.Succeeded() {
		_, err = txn.ExecContext(ctx, projectEnrichmentQuery,
			eventID, string(res.ValueCategory), res.EstimatedMinutesSaved, res.BusinessOutcome,
			string(res.PolicyAlignment), res.Summary)
		if err != nil {
			return fmt.Errorf("project enrichment onto %s: %w", eventID, err)
		}
	} else if enriched {
		s.logger.Warn("recorded failed override for an enriched event", "event_id", eventID)
	}

	return txn.Commit()
}

// IsEnriched reports whether the event has a successful enrichment.
func (s *EventStore) IsEnriched(ctx context.Context, eventID string) (bool, error) {
	var enriched bool
	if err := s.db.QueryRowContext(ctx, isEnrichedQuery, eventID).Scan(&enriched); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("check enrichment of %s: %w", eventID, domain.ErrEventNotFound)
		}
		return false, fmt.Errorf("check enrichment of %s: %w", eventID, err)
	}
	return enriched, nil
}

// Stats returns operational counters.
func (s *EventStore) Stats(ctx context.Context) (domain.StoreStats, error) {
	var st domain.StoreStats
	err := s.db.QueryRowContext(ctx, statsQuery, s.maxEventFailures).Scan(
		&st.TotalEvents, &st.EnrichedEvents, &st.TotalEnrichments, &st.FailedEnrichments, &st.ExhaustedEvents)
	if err != nil {
		return domain.StoreStats{}, fmt.Errorf("query stats: %w", err)
	}
	st.UnenrichedEvents = st.TotalEvents - st.EnrichedEvents
	return st, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func scanEvents(rows *sql.Rows) ([]domain.AIUsageEvent, error) {
	defer rows.Close()

	events := []domain.AIUsageEvent{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// scanEvent is the single conversion point from a row to a typed event.
func scanEvent(rows *sql.Rows) (domain.AIUsageEvent, error) {
	var (
		e                                     domain.AIUsageEvent
		userEmail, department, sourceIP       sql.NullString
		notes, valueCategory, businessOutcome sql.NullString
		policyAlignment, valueSummary         sql.NullString
		bytesSent, bytesReceived              sql.NullInt64
		minutesSaved                          sql.NullInt64
		riskReasons, piiReasons               pq.StringArray
	)
	err := rows.Scan(
		&e.ID, &e.Timestamp, &userEmail, &department, &sourceIP, &e.Provider, &e.Service, &e.URL,
		&bytesSent, &bytesReceived, &e.RiskLevel, &riskReasons, &e.SourceSystem, &notes,
		&e.PIIRisk, &piiReasons, &e.UseCase,
		&valueCategory, &minutesSaved, &businessOutcome, &policyAlignment, &valueSummary, &e.ValueEnriched,
	)
	if err != nil {
		return domain.AIUsageEvent{}, fmt.Errorf("scan event: %w", err)
	}

	e.Timestamp = e.Timestamp.UTC()
	e.UserEmail = stringPtr(userEmail)
	e.Department = stringPtr(department)
	e.SourceIP = stringPtr(sourceIP)
	e.Notes = stringPtr(notes)
	e.BytesSent = int64Ptr(bytesSent)
	e.BytesReceived = int64Ptr(bytesReceived)
	e.RiskReasons = nonNil(riskReasons)
	e.PIIReasons = nonNil(piiReasons)
	e.BusinessOutcome = stringPtr(businessOutcome)
	e.ValueSummary = stringPtr(valueSummary)
	if valueCategory.Valid {
		vc := domain.ValueCategory(valueCategory.String)
		e.ValueCategory = &vc
	}
	if policyAlignment.Valid {
		pa := domain.PolicyAlignment(policyAlignment.String)
		e.PolicyAlignment = &pa
	}
	if minutesSaved.Valid {
		m := int(minutesSaved.Int64)
		e.EstimatedMinutesSaved = &m
	}
	return e, nil
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	n := ni.Int64
	return &n
}
