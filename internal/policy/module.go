package policy

import (
	"errors"
	"log/slog"

	"github.com/flemzord/warden/internal/core"
	"gopkg.in/yaml.v3"
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
)

// Module is the policy module. It seeds the store from YAML and publishes
// it as the "policy.store" service for the mediator and the admin surface.
type Module struct {
	cfg    Config
	store  *Store
	logger *slog.Logger
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "policy",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	var raw rawConfig
	if err := node.Decode(&raw); err != nil {
		return err
	}
	m.cfg = raw.build()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.logger = ctx.Logger

	store, err := NewStore(m.cfg, ctx.Logger)
	if err != nil {
		return err
	}
	m.store = store
	ctx.RegisterService("policy.store", store)

	if !m.cfg.Enabled {
		m.logger.Warn("mediation is disabled; every tool call will be allowed and audited as a bypass")
	}
	if m.cfg.ContentSafetyEndpoint == "" {
		m.logger.Warn("no content safety endpoint configured; pre-checks are skipped and the filter strategy denies")
	}
	if m.cfg.PhoneNumber == "" && m.usesStrategy(StrategyPITL) {
		m.logger.Warn("policy resolves pitl but no phone number is configured; those calls will be denied as misconfigured")
	}

	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if m.store == nil {
		return errors.New("policy: store not initialized (Provision not called)")
	}
	return nil
}

// Store returns the provisioned policy store.
func (m *Module) Store() *Store { return m.store }

// usesStrategy reports whether any layer of the document mentions the
// strategy.
func (m *Module) usesStrategy(s Strategy) bool {
	if m.cfg.DefaultStrategy == s {
		return true
	}
	for _, strat := range m.cfg.ContextDefaults {
		if strat == s {
			return true
		}
	}
	for _, tools := range m.cfg.ToolPolicies {
		for _, strat := range tools {
			if strat == s {
				return true
			}
		}
	}
	for _, contexts := range m.cfg.ModelPolicies {
		for _, tools := range contexts {
			for _, strat := range tools {
				if strat == s {
					return true
				}
			}
		}
	}
	return false
}
