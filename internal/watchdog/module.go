package watchdog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/warden/internal/approval"
	"github.com/flemzord/warden/internal/config"
	"github.com/flemzord/warden/internal/core"
	"github.com/flemzord/warden/internal/mediation"
)

func init() {
	core.RegisterModule(&Module{})
}

// Interface guards.
var (
	_ core.Module       = (*Module)(nil)
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// moduleConfig is the YAML shape of the watchdog section.
type moduleConfig struct {
	Interval    config.Duration `yaml:"interval"`
	RemindAfter config.Duration `yaml:"remind_after"`
	QuietHours  string          `yaml:"quiet_hours"`
	Timezone    string          `yaml:"timezone"`
}

// Module runs the posture watchdog over the broker and mediator published
// by the rest of the app.
type Module struct {
	raw   moduleConfig
	quiet *QuietHours
	tz    *time.Location

	appCtx   *core.AppContext
	watchdog *Watchdog
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "watchdog",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	return node.Decode(&m.raw)
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.appCtx = ctx

	if m.raw.QuietHours != "" {
		q, err := ParseQuietHours(m.raw.QuietHours)
		if err != nil {
			return err
		}
		m.quiet = &q
	}
	if m.raw.Timezone != "" {
		tz, err := time.LoadLocation(m.raw.Timezone)
		if err != nil {
			return fmt.Errorf("watchdog: invalid timezone %q: %w", m.raw.Timezone, err)
		}
		m.tz = tz
	}
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if m.raw.Interval.Std() < 0 || m.raw.RemindAfter.Std() < 0 {
		return errors.New("watchdog: intervals must not be negative")
	}
	return nil
}

// Start implements core.Starter. The broker, mediator, and notifier are
// published before module Start runs, so the lookups here never race.
func (m *Module) Start() error {
	broker, ok := m.appCtx.Service("approval.broker")
	if !ok {
		return errors.New("watchdog: approval.broker service not available")
	}
	mediator, ok := m.appCtx.Service("mediation.mediator")
	if !ok {
		return errors.New("watchdog: mediation.mediator service not available")
	}
	events, ok := m.appCtx.Service("mediation.events")
	if !ok {
		return errors.New("watchdog: mediation.events service not available")
	}

	w, err := New(Config{
		Interval:    m.raw.Interval.Std(),
		RemindAfter: m.raw.RemindAfter.Std(),
		QuietHours:  m.quiet,
		Timezone:    m.tz,
		GateConfigured: func() bool {
			_, ok := m.appCtx.Service("gate.scanner")
			return ok
		},
		Logger: m.appCtx.Logger,
	}, broker.(*approval.Broker), mediator.(*mediation.Mediator), events.(*mediation.Notifier))
	if err != nil {
		return err
	}
	m.watchdog = w
	return w.Start(context.Background())
}

// Stop implements core.Stopper.
func (m *Module) Stop(ctx context.Context) error {
	if m.watchdog == nil {
		return nil
	}
	return m.watchdog.Stop(ctx)
}
