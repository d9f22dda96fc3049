package cron

import (
	"context"
	"log/slog"
	"time"
)

// RetentionStore is the subset of the audit store the retention job needs.
// Defined here to avoid a dependency on a concrete sink module.
type RetentionStore interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditRetentionJob deletes audit records older than Retention.
type AuditRetentionJob struct {
	Store        RetentionStore
	Retention    time.Duration
	Logger       *slog.Logger
	ScheduleExpr string           // empty = default "0 3 * * *"
	Now          func() time.Time // nil = time.Now
}

// Compile-time interface check.
var _ Job = (*AuditRetentionJob)(nil)

// Name implements Job.
func (j *AuditRetentionJob) Name() string { return "audit_retention" }

// Schedule implements Job.
func (j *AuditRetentionJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "0 3 * * *"
}

// Run prunes records that fell out of the retention window. A zero or
// negative retention keeps everything.
func (j *AuditRetentionJob) Run(ctx context.Context) error {
	if j.Retention <= 0 {
		return nil
	}
	now := j.Now
	if now == nil {
		now = time.Now
	}

	cutoff := now().Add(-j.Retention)
	pruned, err := j.Store.PruneBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if pruned > 0 {
		j.Logger.Info("cron: pruned audit records",
			"count", pruned,
			"cutoff", cutoff.Format(time.RFC3339))
	}
	return nil
}
