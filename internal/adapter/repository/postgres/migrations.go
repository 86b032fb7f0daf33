package postgres

import (
	"context"
	"fmt"
)

// migrations are applied in order; each version is recorded in schema_versions.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS events (
	id                      TEXT PRIMARY KEY,
	timestamp               TIMESTAMPTZ NOT NULL,
	user_email              TEXT,
	department              TEXT,
	source_ip               TEXT,
	provider                TEXT NOT NULL,
	service                 TEXT NOT NULL,
	url                     TEXT NOT NULL,
	bytes_sent              BIGINT,
	bytes_received          BIGINT,
	risk_level              TEXT NOT NULL CHECK (risk_level IN ('low', 'medium', 'high')),
	risk_reasons            TEXT[] NOT NULL DEFAULT '{}',
	source_system           TEXT NOT NULL DEFAULT 'network_logs_v1',
	notes                   TEXT,
	pii_risk                BOOLEAN NOT NULL DEFAULT FALSE,
	pii_reasons             TEXT[] NOT NULL DEFAULT '{}',
	use_case                TEXT NOT NULL DEFAULT 'unknown',
	value_category          TEXT,
	estimated_minutes_saved INTEGER,
	business_outcome        TEXT,
	policy_alignment        TEXT,
	value_summary           TEXT,
	value_enriched          BOOLEAN NOT NULL DEFAULT FALSE,
	created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS value_enrichment (
	id                      BIGSERIAL PRIMARY KEY,
	event_id                TEXT NOT NULL UNIQUE REFERENCES events(id) ON DELETE CASCADE,
	value_category          TEXT NOT NULL,
	estimated_minutes_saved INTEGER NOT NULL CHECK (estimated_minutes_saved >= 0),
	business_outcome        TEXT NOT NULL,
	department              TEXT NOT NULL,
	risk_level              TEXT NOT NULL,
	policy_alignment        TEXT NOT NULL,
	summary                 TEXT NOT NULL,
	raw_response            TEXT,
	enrichment_error        TEXT,
	created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events (timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_events_unenriched ON events (timestamp DESC) WHERE NOT value_enriched;`,
	},
	{
		version: 2,
		sql: `
ALTER TABLE value_enrichment ADD COLUMN IF NOT EXISTS attempts INTEGER NOT NULL DEFAULT 0;
CREATE INDEX IF NOT EXISTS idx_value_enrichment_attempts ON value_enrichment (attempts);`,
	},
}

// Migrate applies any unapplied migrations, each in its own transaction.
func (s *EventStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_versions (
	version    INTEGER PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_versions WHERE version = $1`, m.version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}

		txn, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if _, err := txn.ExecContext(ctx, m.sql); err != nil {
			_ = txn.Rollback()
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := txn.ExecContext(ctx, `INSERT INTO schema_versions (version) VALUES ($1)`, m.version); err != nil {
			_ = txn.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := txn.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
		s.logger.Info("applied schema migration", "version", m.version)
	}
	return nil
}
