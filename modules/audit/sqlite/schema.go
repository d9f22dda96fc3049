package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS audit_records (
		call_id           TEXT NOT NULL,
		tool_id           TEXT NOT NULL,
		context_id        TEXT NOT NULL,
		model_id          TEXT NOT NULL DEFAULT '',
		session_id        TEXT NOT NULL DEFAULT '',
		resolved_strategy TEXT NOT NULL DEFAULT '',
		resolution_source TEXT NOT NULL DEFAULT '',
		gate_result       TEXT NOT NULL DEFAULT '',
		channel           TEXT NOT NULL DEFAULT '',
		verdict           TEXT NOT NULL,
		reason            TEXT NOT NULL DEFAULT '',
		arguments         TEXT NOT NULL DEFAULT '',
		opened_at         TEXT NOT NULL,
		resolved_at       TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_audit_opened ON audit_records(opened_at)`,

	`CREATE INDEX IF NOT EXISTS idx_audit_call ON audit_records(call_id)`,

	`CREATE TABLE IF NOT EXISTS anomalies (
		call_id TEXT NOT NULL,
		channel TEXT NOT NULL DEFAULT '',
		kind    TEXT NOT NULL,
		detail  TEXT NOT NULL DEFAULT '',
		at      TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_anomalies_at ON anomalies(at)`,
}

// migrate creates or updates the database schema to the latest version.
func migrate(db *sql.DB) error {
	ctx := context.TODO()

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("audit sqlite: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("audit sqlite: read schema version: %w", err)
	}

	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("audit sqlite: migrate: %w\nstatement: %s", err, stmt)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("audit sqlite: record schema version: %w", err)
	}

	return nil
}
