package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/V4T54L/shadow-ai-watch/internal/domain"
)

func setupMockStore(t *testing.T, maxFailures int) (*EventStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewEventStore(db, logger, maxFailures), mock
}

func sampleEvent(id string) domain.AIUsageEvent {
	email := "alice@corp.example"
	dept := "Legal"
	sent := int64(5000)
	return domain.AIUsageEvent{
		ID:           id,
		Timestamp:    time.Date(2025, 11, 24, 14, 3, 12, 0, time.UTC),
		UserEmail:    &email,
		Department:   &dept,
		Provider:     domain.ProviderOpenAI,
		Service:      domain.ServiceChat,
		URL:          "https://api.openai.com/v1/chat/completions",
		BytesSent:    &sent,
		RiskLevel:    domain.RiskHigh,
		RiskReasons:  []string{"high_sensitivity_department", "large_data_transfer"},
		SourceSystem: domain.DefaultSourceSystem,
		PIIRisk:      true,
		PIIReasons:   []string{"high_sensitivity_large_payload"},
		UseCase:      domain.UseCaseAnalysisOrChat,
	}
}

func eventRow(id string, enriched bool) []driver.Value {
	row := []driver.Value{
		id, time.Date(2025, 11, 24, 14, 3, 12, 0, time.UTC), "alice@corp.example", "Legal", nil,
		"openai", "chat", "https://api.openai.com/v1/chat/completions",
		int64(5000), nil, "high", "{high_sensitivity_department,large_data_transfer}", "network_logs_v1", nil,
		true, "{high_sensitivity_large_payload}", "analysis_or_chat",
	}
	if enriched {
		return append(row, "Productivity", int64(15), "Drafted contract summary", "Compliant", "Saved review time", true)
	}
	return append(row, nil, nil, nil, nil, nil, false)
}

func TestUpsertQueryPreservesEnrichment(t *testing.T) {
	clause := upsertEventQuery[strings.Index(upsertEventQuery, "ON CONFLICT"):]
	for _, col := range []string{"value_enriched", "value_category", "estimated_minutes_saved", "business_outcome", "policy_alignment", "value_summary"} {
		if strings.Contains(clause, col) {
			t.Errorf("conflict clause overwrites %s: %s", col, clause)
		}
	}
	if !strings.Contains(clause, "risk_level = EXCLUDED.risk_level") {
		t.Errorf("conflict clause does not refresh classification: %s", clause)
	}
}

func TestEventStore_UpsertEvent(t *testing.T) {
	store, mock := setupMockStore(t, 0)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO events (id, timestamp")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.UpsertEvent(context.Background(), sampleEvent("evt_1")); err != nil {
		t.Fatalf("UpsertEvent() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestEventStore_UpsertEventRollsBackOnError(t *testing.T) {
	store, mock := setupMockStore(t, 0)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO events")).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	if err := store.UpsertEvent(context.Background(), sampleEvent("evt_1")); err == nil {
		t.Fatal("UpsertEvent() expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestEventStore_UpsertEventRejectsUnclassified(t *testing.T) {
	store, mock := setupMockStore(t, 0)

	event := sampleEvent("evt_1")
	event.RiskLevel = ""
	if err := store.UpsertEvent(context.Background(), event); err == nil {
		t.Fatal("UpsertEvent() accepted an event without a risk level")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected database calls: %v", err)
	}
}

func TestEventStore_UpsertEvents(t *testing.T) {
	store, mock := setupMockStore(t, 0)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TEMP TABLE events_import")).WillReturnResult(sqlmock.NewResult(0, 0))
	prep := mock.ExpectPrepare(regexp.QuoteMeta(`COPY "events_import"`))
	prep.ExpectExec().WithArgs(
		"evt_1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
		"openai", "chat", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
		"low", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
		sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
	).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO events (id, timestamp")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	first := sampleEvent("evt_1")
	second := sampleEvent("evt_1")
	second.RiskLevel = domain.RiskLow
	if err := store.UpsertEvents(context.Background(), []domain.AIUsageEvent{first, second}); err != nil {
		t.Fatalf("UpsertEvents() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestEventStore_GetUnenrichedBatch(t *testing.T) {
	store, mock := setupMockStore(t, 5)

	rows := sqlmock.NewRows(selectColumns).AddRow(eventRow("evt_2", false)...).AddRow(eventRow("evt_1", false)...)
	mock.ExpectQuery(regexp.QuoteMeta("LEFT JOIN value_enrichment v ON v.event_id = e.id")).
		WithArgs(50, 5).
		WillReturnRows(rows)

	events, err := store.GetUnenrichedBatch(context.Background(), 50)
	if err != nil {
		t.Fatalf("GetUnenrichedBatch() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	got := events[0]
	if got.ID != "evt_2" || got.Provider != domain.ProviderOpenAI || got.RiskLevel != domain.RiskHigh {
		t.Errorf("unexpected event: %+v", got)
	}
	if !reflect.DeepEqual(got.RiskReasons, []string{"high_sensitivity_department", "large_data_transfer"}) {
		t.Errorf("risk_reasons = %v", got.RiskReasons)
	}
	if got.SourceIP != nil || got.BytesReceived != nil {
		t.Error("NULL columns should scan to nil")
	}
	if got.BytesSent == nil || *got.BytesSent != 5000 {
		t.Errorf("bytes_sent = %v", got.BytesSent)
	}
	if got.ValueEnriched || got.ValueCategory != nil {
		t.Error("unenriched event has a projection")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestEventStore_ListEvents(t *testing.T) {
	store, mock := setupMockStore(t, 0)

	mock.ExpectQuery(regexp.QuoteMeta("FROM events ORDER BY timestamp DESC")).
		WillReturnRows(sqlmock.NewRows(selectColumns).AddRow(eventRow("evt_1", true)...))

	events, err := store.ListEvents(context.Background())
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	got := events[0]
	if !got.ValueEnriched || got.ValueCategory == nil || *got.ValueCategory != domain.ValueProductivity {
		t.Errorf("projection not scanned: %+v", got)
	}
	if got.EstimatedMinutesSaved == nil || *got.EstimatedMinutesSaved != 15 {
		t.Errorf("estimated_minutes_saved = %v", got.EstimatedMinutesSaved)
	}
	if got.PolicyAlignment == nil || *got.PolicyAlignment != domain.PolicyCompliant {
		t.Errorf("policy_alignment = %v", got.PolicyAlignment)
	}
}

func TestEventStore_SaveEnrichment(t *testing.T) {
	success := domain.EnrichmentOutcome{
		Result: domain.EnrichmentResult{
			ValueCategory:         domain.ValueProductivity,
			EstimatedMinutesSaved: 15,
			BusinessOutcome:       "Drafted contract summary",
			Department:            "Legal",
			RiskLevel:             "High",
			PolicyAlignment:       domain.PolicyCompliant,
			Summary:               "Saved review time",
		},
		RawResponse: `{"value_category":"Productivity"}`,
	}
	failure := domain.EnrichmentOutcome{
		Result:      domain.FailedEnrichmentPlaceholder(),
		RawResponse: "not json",
		Error:       "malformed reasoning response",
	}

	overridden := success
	overridden.Override = true
	failedOverride := failure
	failedOverride.Override = true

	tests := []struct {
		name        string
		outcome     domain.EnrichmentOutcome
		enriched    bool
		wantProject bool
	}{
		{name: "Success projects onto event", outcome: success, wantProject: true},
		{name: "Failure leaves flag untouched", outcome: failure, wantProject: false},
		{name: "Override replaces enrichment", outcome: overridden, enriched: true, wantProject: true},
		{name: "Failed override never clears flag", outcome: failedOverride, enriched: true, wantProject: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := setupMockStore(t, 0)

			mock.ExpectBegin()
			mock.ExpectQuery(regexp.QuoteMeta("SELECT value_enriched FROM events WHERE id = $1 FOR UPDATE")).
				WithArgs("evt_1").
				WillReturnRows(sqlmock.NewRows([]string{"value_enriched"}).AddRow(tt.enriched))
			mock.ExpectExec(regexp.QuoteMeta("INSERT INTO value_enrichment")).
				WithArgs("evt_1", string(tt.outcome.Result.ValueCategory), tt.outcome.Result.EstimatedMinutesSaved,
					sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
					sqlmock.AnyArg(), sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(1, 1))
			if tt.wantProject {
				mock.ExpectExec(regexp.QuoteMeta("UPDATE events SET")).
					WithArgs("evt_1", "Productivity", 15, "Drafted contract summary", "Compliant", "Saved review time").
					WillReturnResult(sqlmock.NewResult(0, 1))
			}
			mock.ExpectCommit()

			if err := store.SaveEnrichment(context.Background(), "evt_1", tt.outcome); err != nil {
				t.Fatalf("SaveEnrichment() error = %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestEventStore_SaveEnrichmentAlreadyEnriched(t *testing.T) {
	outcomes := map[string]domain.EnrichmentOutcome{
		"Second Success": {
			Result:      domain.EnrichmentResult{ValueCategory: domain.ValueQuality, Summary: "late duplicate"},
			RawResponse: `{"value_category":"Quality"}`,
		},
		"Late Failure": {Result: domain.FailedEnrichmentPlaceholder(), Error: "timeout"},
	}

	for name, outcome := range outcomes {
		t.Run(name, func(t *testing.T) {
			store, mock := setupMockStore(t, 0)

			mock.ExpectBegin()
			mock.ExpectQuery(regexp.QuoteMeta("SELECT value_enriched FROM events WHERE id = $1 FOR UPDATE")).
				WithArgs("evt_1").
				WillReturnRows(sqlmock.NewRows([]string{"value_enriched"}).AddRow(true))
			mock.ExpectRollback()

			err := store.SaveEnrichment(context.Background(), "evt_1", outcome)
			if !errors.Is(err, domain.ErrAlreadyEnriched) {
				t.Fatalf("SaveEnrichment() error = %v, want ErrAlreadyEnriched", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("enriched event was written: %v", err)
			}
		})
	}
}

func TestEventStore_IsEnriched(t *testing.T) {
	store, mock := setupMockStore(t, 0)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value_enriched FROM events WHERE id = $1")).
		WithArgs("evt_1").
		WillReturnRows(sqlmock.NewRows([]string{"value_enriched"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT value_enriched FROM events WHERE id = $1")).
		WithArgs("evt_missing").
		WillReturnRows(sqlmock.NewRows([]string{"value_enriched"}))

	enriched, err := store.IsEnriched(context.Background(), "evt_1")
	if err != nil || !enriched {
		t.Errorf("IsEnriched(evt_1) = %v, %v; want true, nil", enriched, err)
	}
	if _, err := store.IsEnriched(context.Background(), "evt_missing"); !errors.Is(err, domain.ErrEventNotFound) {
		t.Errorf("IsEnriched(evt_missing) error = %v, want ErrEventNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestEventStore_SaveEnrichmentUnknownEvent(t *testing.T) {
	store, mock := setupMockStore(t, 0)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT value_enriched FROM events")).
		WithArgs("evt_missing").
		WillReturnRows(sqlmock.NewRows([]string{"value_enriched"}))
	mock.ExpectRollback()

	err := store.SaveEnrichment(context.Background(), "evt_missing", domain.EnrichmentOutcome{})
	if !errors.Is(err, domain.ErrEventNotFound) {
		t.Fatalf("SaveEnrichment() error = %v, want ErrEventNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestEventStore_Stats(t *testing.T) {
	store, mock := setupMockStore(t, 5)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM value_enrichment WHERE enrichment_error IS NOT NULL")).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"total", "enriched", "records", "failed", "exhausted"}).AddRow(10, 4, 6, 2, 1))

	stats, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	want := domain.StoreStats{TotalEvents: 10, EnrichedEvents: 4, UnenrichedEvents: 6, TotalEnrichments: 6, FailedEnrichments: 2, ExhaustedEvents: 1}
	if stats != want {
		t.Errorf("Stats() = %+v, want %+v", stats, want)
	}
}

func TestEventStore_Migrate(t *testing.T) {
	store, mock := setupMockStore(t, 0)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_versions")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM schema_versions")).WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM schema_versions")).WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("ALTER TABLE value_enrichment ADD COLUMN IF NOT EXISTS attempts")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_versions")).WithArgs(2).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
