package policy

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/flemzord/warden/internal/config"
)

// Default deadlines for the three approval channels.
const (
	DefaultHITLTimeout = 300 * time.Second
	DefaultPITLTimeout = 300 * time.Second
	DefaultAITLTimeout = 30 * time.Second
)

// Config is the mediation policy document. It is seeded from YAML at
// startup and mutated at runtime through the store; resolution always reads
// an immutable snapshot of it.
type Config struct {
	// Enabled is the master switch. When false, every call resolves to
	// allow and is audited as a bypass, never as a genuine allow.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// DefaultStrategy is the global fallback when no layer matches.
	DefaultStrategy Strategy `yaml:"default_strategy" json:"default_strategy"`

	// ContextDefaults maps a context id to its default strategy.
	ContextDefaults map[Context]Strategy `yaml:"context_defaults" json:"context_defaults"`

	// ToolPolicies maps context -> tool -> strategy.
	ToolPolicies map[Context]map[string]Strategy `yaml:"tool_policies" json:"tool_policies"`

	// ModelPolicies maps model -> context -> tool -> strategy. Entries only
	// match while the model is listed in ModelColumns; otherwise they are
	// dormant data.
	ModelPolicies map[string]map[Context]map[string]Strategy `yaml:"model_policies" json:"model_policies"`

	// ModelColumns lists models with an active override column.
	ModelColumns []string `yaml:"model_columns" json:"model_columns"`

	// ModelTiers is the trust classification table consumed by ApplyPreset.
	ModelTiers map[string]Tier `yaml:"model_tiers" json:"model_tiers"`

	// AITLModel is the model the AI reviewer uses for approval decisions.
	AITLModel string `yaml:"aitl_model" json:"aitl_model"`

	// AITLSpotlighting marks untrusted argument text before it is shown to
	// the AI reviewer.
	AITLSpotlighting bool `yaml:"aitl_spotlighting" json:"aitl_spotlighting"`

	// Channel deadlines.
	AITLTimeout config.Duration `yaml:"aitl_timeout" json:"aitl_timeout"`
	HITLTimeout config.Duration `yaml:"hitl_timeout" json:"hitl_timeout"`
	PITLTimeout config.Duration `yaml:"pitl_timeout" json:"pitl_timeout"`

	// PhoneNumber is the number the phone channel dials. Required for any
	// call that resolves to pitl; its absence denies those calls with a
	// distinct misconfigured reason.
	PhoneNumber string `yaml:"phone_number" json:"phone_number"`

	// ContentSafetyEndpoint is the external scanning service. When empty the
	// pre-check stage is disabled (a degraded posture, surfaced loudly) and
	// the filter strategy denies.
	ContentSafetyEndpoint string `yaml:"content_safety_endpoint" json:"content_safety_endpoint"`
}

// rawConfig mirrors Config for decoding, with a pointer Enabled so an
// omitted field defaults to true instead of silently disabling mediation.
type rawConfig struct {
	Enabled               *bool                                      `yaml:"enabled" json:"enabled"`
	DefaultStrategy       Strategy                                   `yaml:"default_strategy" json:"default_strategy"`
	ContextDefaults       map[Context]Strategy                       `yaml:"context_defaults" json:"context_defaults"`
	ToolPolicies          map[Context]map[string]Strategy            `yaml:"tool_policies" json:"tool_policies"`
	ModelPolicies         map[string]map[Context]map[string]Strategy `yaml:"model_policies" json:"model_policies"`
	ModelColumns          []string                                   `yaml:"model_columns" json:"model_columns"`
	ModelTiers            map[string]Tier                            `yaml:"model_tiers" json:"model_tiers"`
	AITLModel             string                                     `yaml:"aitl_model" json:"aitl_model"`
	AITLSpotlighting      *bool                                      `yaml:"aitl_spotlighting" json:"aitl_spotlighting"`
	AITLTimeout           config.Duration                            `yaml:"aitl_timeout" json:"aitl_timeout"`
	HITLTimeout           config.Duration                            `yaml:"hitl_timeout" json:"hitl_timeout"`
	PITLTimeout           config.Duration                            `yaml:"pitl_timeout" json:"pitl_timeout"`
	PhoneNumber           string                                     `yaml:"phone_number" json:"phone_number"`
	ContentSafetyEndpoint string                                     `yaml:"content_safety_endpoint" json:"content_safety_endpoint"`
}

// build converts a decoded rawConfig into a Config with defaults applied.
func (r rawConfig) build() Config {
	cfg := Config{
		Enabled:               true,
		DefaultStrategy:       r.DefaultStrategy,
		ContextDefaults:       r.ContextDefaults,
		ToolPolicies:          r.ToolPolicies,
		ModelPolicies:         r.ModelPolicies,
		ModelColumns:          r.ModelColumns,
		ModelTiers:            r.ModelTiers,
		AITLModel:             r.AITLModel,
		AITLSpotlighting:      true,
		AITLTimeout:           r.AITLTimeout,
		HITLTimeout:           r.HITLTimeout,
		PITLTimeout:           r.PITLTimeout,
		PhoneNumber:           r.PhoneNumber,
		ContentSafetyEndpoint: r.ContentSafetyEndpoint,
	}
	if r.Enabled != nil {
		cfg.Enabled = *r.Enabled
	}
	if r.AITLSpotlighting != nil {
		cfg.AITLSpotlighting = *r.AITLSpotlighting
	}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills zero-value fields with their defaults and normalizes
// the model column list.
func (c *Config) applyDefaults() {
	if c.DefaultStrategy == "" {
		c.DefaultStrategy = StrategyHITL
	}
	if c.AITLTimeout <= 0 {
		c.AITLTimeout = config.Duration(DefaultAITLTimeout)
	}
	if c.HITLTimeout <= 0 {
		c.HITLTimeout = config.Duration(DefaultHITLTimeout)
	}
	if c.PITLTimeout <= 0 {
		c.PITLTimeout = config.Duration(DefaultPITLTimeout)
	}
	slices.Sort(c.ModelColumns)
	c.ModelColumns = slices.Compact(c.ModelColumns)
}

// validate checks the document against the closed value sets. Dormant model
// policies (entries for models outside ModelColumns) are legal data and not
// flagged here.
func (c *Config) validate() error {
	var errs []error

	if !c.DefaultStrategy.Valid() {
		errs = append(errs, fmt.Errorf("%w: default_strategy %q", ErrInvalidStrategy, c.DefaultStrategy))
	}

	for ctx, strat := range c.ContextDefaults {
		if !ctx.Valid() {
			errs = append(errs, fmt.Errorf("%w: context_defaults key %q", ErrUnknownContext, ctx))
		}
		if !strat.Valid() {
			errs = append(errs, fmt.Errorf("%w: context_defaults[%s] = %q", ErrInvalidStrategy, ctx, strat))
		}
	}

	for ctx, tools := range c.ToolPolicies {
		if !ctx.Valid() {
			errs = append(errs, fmt.Errorf("%w: tool_policies key %q", ErrUnknownContext, ctx))
		}
		for tool, strat := range tools {
			if !strat.Valid() {
				errs = append(errs, fmt.Errorf("%w: tool_policies[%s][%s] = %q", ErrInvalidStrategy, ctx, tool, strat))
			}
		}
	}

	for model, contexts := range c.ModelPolicies {
		for ctx, tools := range contexts {
			if !ctx.Valid() {
				errs = append(errs, fmt.Errorf("%w: model_policies[%s] key %q", ErrUnknownContext, model, ctx))
			}
			for tool, strat := range tools {
				if !strat.Valid() {
					errs = append(errs, fmt.Errorf("%w: model_policies[%s][%s][%s] = %q", ErrInvalidStrategy, model, ctx, tool, strat))
				}
			}
		}
	}

	for model, tier := range c.ModelTiers {
		if !tier.Valid() {
			errs = append(errs, fmt.Errorf("%w: model_tiers[%s] = %q", ErrInvalidTier, model, tier))
		}
	}

	return errors.Join(errs...)
}

// clone returns a deep copy of the document.
func (c *Config) clone() Config {
	out := *c

	if c.ContextDefaults != nil {
		out.ContextDefaults = make(map[Context]Strategy, len(c.ContextDefaults))
		for k, v := range c.ContextDefaults {
			out.ContextDefaults[k] = v
		}
	}

	if c.ToolPolicies != nil {
		out.ToolPolicies = make(map[Context]map[string]Strategy, len(c.ToolPolicies))
		for ctx, tools := range c.ToolPolicies {
			inner := make(map[string]Strategy, len(tools))
			for t, s := range tools {
				inner[t] = s
			}
			out.ToolPolicies[ctx] = inner
		}
	}

	if c.ModelPolicies != nil {
		out.ModelPolicies = make(map[string]map[Context]map[string]Strategy, len(c.ModelPolicies))
		for model, contexts := range c.ModelPolicies {
			mc := make(map[Context]map[string]Strategy, len(contexts))
			for ctx, tools := range contexts {
				inner := make(map[string]Strategy, len(tools))
				for t, s := range tools {
					inner[t] = s
				}
				mc[ctx] = inner
			}
			out.ModelPolicies[model] = mc
		}
	}

	out.ModelColumns = slices.Clone(c.ModelColumns)

	if c.ModelTiers != nil {
		out.ModelTiers = make(map[string]Tier, len(c.ModelTiers))
		for k, v := range c.ModelTiers {
			out.ModelTiers[k] = v
		}
	}

	return out
}

// TierFor returns the classification for a model, defaulting to standard
// for models absent from the table.
func (c *Config) TierFor(model string) Tier {
	if t, ok := c.ModelTiers[model]; ok {
		return t
	}
	return TierStandard
}

// ModelTracked reports whether the model has an active override column.
func (c *Config) ModelTracked(model string) bool {
	return slices.Contains(c.ModelColumns, model)
}
