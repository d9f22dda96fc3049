package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/flemzord/warden/internal/audit"
)

// Store persists audit records and anomalies in SQLite. It implements
// audit.Sink and audit.AnomalySink, plus the retention pruning the nightly
// sweep calls.
type Store struct {
	db *sql.DB
}

// Name implements audit.Sink.
func (s *Store) Name() string { return "sqlite" }

// Write implements audit.Sink.
func (s *Store) Write(ctx context.Context, rec audit.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_records (
			call_id, tool_id, context_id, model_id, session_id,
			resolved_strategy, resolution_source, gate_result, channel,
			verdict, reason, arguments, opened_at, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CallID, rec.ToolID, rec.ContextID, rec.ModelID, rec.SessionID,
		rec.ResolvedStrategy, rec.ResolutionSource, rec.GateResult, rec.Channel,
		rec.Verdict, rec.Reason, rec.Arguments,
		rec.OpenedAt.UTC().Format(time.RFC3339Nano),
		rec.ResolvedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("audit sqlite: insert record: %w", err)
	}
	return nil
}

// WriteAnomaly implements audit.AnomalySink.
func (s *Store) WriteAnomaly(ctx context.Context, a audit.Anomaly) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO anomalies (call_id, channel, kind, detail, at)
		VALUES (?, ?, ?, ?, ?)`,
		a.CallID, a.Channel, a.Kind, a.Detail,
		a.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("audit sqlite: insert anomaly: %w", err)
	}
	return nil
}

// PruneBefore deletes records and anomalies older than cutoff and reports
// how many records went.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ts := cutoff.UTC().Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(ctx, "DELETE FROM audit_records WHERE opened_at < ?", ts)
	if err != nil {
		return 0, fmt.Errorf("audit sqlite: prune records: %w", err)
	}
	pruned, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("audit sqlite: prune count: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM anomalies WHERE at < ?", ts); err != nil {
		return pruned, fmt.Errorf("audit sqlite: prune anomalies: %w", err)
	}
	return pruned, nil
}

// Recent returns the n most recent records, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]audit.Record, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT call_id, tool_id, context_id, model_id, session_id,
		       resolved_strategy, resolution_source, gate_result, channel,
		       verdict, reason, arguments, opened_at, resolved_at
		FROM audit_records
		ORDER BY opened_at DESC
		LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("audit sqlite: recent: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []audit.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit sqlite: recent rows: %w", err)
	}
	return recs, nil
}

// ByCall returns every record written for a call id, oldest first. Normally
// at most one; the call id index exists for incident review.
func (s *Store) ByCall(ctx context.Context, callID string) ([]audit.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT call_id, tool_id, context_id, model_id, session_id,
		       resolved_strategy, resolution_source, gate_result, channel,
		       verdict, reason, arguments, opened_at, resolved_at
		FROM audit_records
		WHERE call_id = ?
		ORDER BY opened_at ASC`, callID)
	if err != nil {
		return nil, fmt.Errorf("audit sqlite: by call: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []audit.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit sqlite: by call rows: %w", err)
	}
	return recs, nil
}

func scanRecord(rows *sql.Rows) (audit.Record, error) {
	var rec audit.Record
	var opened, resolved string
	if err := rows.Scan(
		&rec.CallID, &rec.ToolID, &rec.ContextID, &rec.ModelID, &rec.SessionID,
		&rec.ResolvedStrategy, &rec.ResolutionSource, &rec.GateResult, &rec.Channel,
		&rec.Verdict, &rec.Reason, &rec.Arguments, &opened, &resolved,
	); err != nil {
		return audit.Record{}, fmt.Errorf("audit sqlite: scan record: %w", err)
	}

	var err error
	if rec.OpenedAt, err = time.Parse(time.RFC3339Nano, opened); err != nil {
		return audit.Record{}, fmt.Errorf("audit sqlite: parse opened_at: %w", err)
	}
	if rec.ResolvedAt, err = time.Parse(time.RFC3339Nano, resolved); err != nil {
		return audit.Record{}, fmt.Errorf("audit sqlite: parse resolved_at: %w", err)
	}
	return rec, nil
}
