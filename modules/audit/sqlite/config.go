package sqlite

import (
	"fmt"

	"github.com/flemzord/warden/internal/config"
)

const (
	defaultBusyTimeout = 5000
	defaultDBFile      = "audit.db"
)

// Config holds the SQLite audit sink configuration.
type Config struct {
	// Path is the database file path. Defaults to {DataDir}/audit.db.
	Path string `yaml:"path"`

	// WAL enables WAL journal mode for concurrent reads. Defaults to true.
	WAL *bool `yaml:"wal"`

	// BusyTimeout is the milliseconds to wait on a busy lock. Defaults to 5000.
	BusyTimeout int `yaml:"busy_timeout"`

	// Retention is how long records are kept before the nightly sweep
	// removes them. Zero keeps everything.
	Retention config.Duration `yaml:"retention"`

	// RetentionSchedule overrides the sweep's cron expression.
	RetentionSchedule string `yaml:"retention_schedule"`
}

func (c *Config) defaults() {
	if c.WAL == nil {
		t := true
		c.WAL = &t
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = defaultBusyTimeout
	}
}

func (c *Config) walEnabled() bool {
	return c.WAL == nil || *c.WAL
}

func (c *Config) validate() error {
	if c.BusyTimeout < 0 {
		return fmt.Errorf("audit sqlite: busy_timeout must be non-negative, got %d", c.BusyTimeout)
	}
	if c.Retention < 0 {
		return fmt.Errorf("audit sqlite: retention must be non-negative, got %s", c.Retention)
	}
	return nil
}
