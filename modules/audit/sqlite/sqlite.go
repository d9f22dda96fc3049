// Package sqlite implements a persistent SQLite-backed audit sink. Every
// terminal mediation record and protocol anomaly lands in one database file
// using modernc.org/sqlite (pure Go, no CGO) with WAL mode, and a nightly
// cron sweep enforces the retention window.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/flemzord/warden/internal/audit"
	"github.com/flemzord/warden/internal/core"
	"github.com/flemzord/warden/internal/cron"
	"gopkg.in/yaml.v3"

	_ "modernc.org/sqlite" // SQLite driver registration
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ audit.Sink        = (*Store)(nil)
	_ audit.AnomalySink = (*Store)(nil)
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Module wires the SQLite store into the audit dispatcher and the retention
// sweep into the cron scheduler.
type Module struct {
	config Config
	db     *sql.DB
	store  *Store
	logger *slog.Logger
	appCtx *core.AppContext
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "audit.sqlite",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("audit sqlite: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger
	m.appCtx = ctx

	if m.config.Path == "" {
		m.config.Path = filepath.Join(ctx.DataDir, defaultDBFile)
	}

	if dir := filepath.Dir(m.config.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("audit sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := open(m.config.Path, m.config.walEnabled(), m.config.BusyTimeout)
	if err != nil {
		return err
	}

	m.db = db
	m.store = &Store{db: db}

	svc, ok := ctx.Service("audit.dispatcher")
	if !ok {
		_ = db.Close()
		return fmt.Errorf("audit sqlite: audit.dispatcher service not available")
	}
	dispatcher, ok := svc.(*audit.Dispatcher)
	if !ok {
		_ = db.Close()
		return fmt.Errorf("audit sqlite: audit.dispatcher has unexpected type %T", svc)
	}
	dispatcher.AddSink(m.store)

	m.logger.Info("sqlite audit sink provisioned",
		"path", m.config.Path,
		"wal", m.config.walEnabled(),
		"retention", m.config.Retention.Std(),
	)

	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if err := m.config.validate(); err != nil {
		return err
	}
	if err := m.db.PingContext(context.TODO()); err != nil {
		return fmt.Errorf("audit sqlite: ping failed: %w", err)
	}
	return nil
}

// Start registers the retention sweep with the cron scheduler. The scheduler
// module starts after this one, so registration here lands before the first
// tick.
func (m *Module) Start() error {
	if m.config.Retention <= 0 {
		return nil
	}

	svc, ok := m.appCtx.Service("cron.scheduler")
	if !ok {
		m.logger.Warn("audit retention configured but cron scheduler absent; records will not be pruned")
		return nil
	}
	scheduler, ok := svc.(*cron.Scheduler)
	if !ok {
		return fmt.Errorf("audit sqlite: cron.scheduler has unexpected type %T", svc)
	}

	return scheduler.RegisterJob(&cron.AuditRetentionJob{
		Store:        m.store,
		Retention:    m.config.Retention.Std(),
		Logger:       m.logger,
		ScheduleExpr: m.config.RetentionSchedule,
	})
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	m.logger.Info("sqlite audit sink stopping")
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

// Store returns the underlying store, mainly for tests.
func (m *Module) Store() *Store {
	return m.store
}

// open opens the database with the pool size and PRAGMAs the store expects.
func open(path string, wal bool, busyTimeout int) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit sqlite: open %s: %w", path, err)
	}

	// SQLite handles one writer at a time; limit pool to 1 connection
	// so PRAGMAs apply consistently.
	db.SetMaxOpenConns(1)

	if wal {
		if _, err := db.ExecContext(context.TODO(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("audit sqlite: enable WAL: %w", err)
		}
	}

	if _, err := db.ExecContext(context.TODO(), fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit sqlite: set busy_timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
