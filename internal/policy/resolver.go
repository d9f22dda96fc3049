package policy

// Source identifies the configuration layer a resolution came from.
type Source string

const (
	// SourceBypass marks a forced allow produced while mediation is
	// disabled. Distinct from a genuine allow on every surface.
	SourceBypass Source = "bypass"

	// SourceModel is a model-scoped override (highest precedence).
	SourceModel Source = "model"

	// SourceTool is a per-tool override within a context.
	SourceTool Source = "tool"

	// SourceContext is a context default.
	SourceContext Source = "context"

	// SourceDefault is the global fallback.
	SourceDefault Source = "default"
)

// Resolution is the outcome of resolving a tool call against the policy.
type Resolution struct {
	Strategy Strategy
	Source   Source
}

// Bypassed reports whether this resolution came from the disabled master
// switch rather than the precedence chain.
func (r Resolution) Bypassed() bool { return r.Source == SourceBypass }

// Resolve returns the strategy for a (tool, context, model) triple. It is
// total and deterministic: absent layers fall through, ending at the global
// default. Precedence, highest first:
//
//  1. model_policies[model][context][tool], only while model is tracked
//  2. tool_policies[context][tool]
//  3. context_defaults[context]
//  4. default_strategy
//
// While the master switch is off the chain is not consulted at all and the
// result is a forced allow tagged SourceBypass.
func (s *Snapshot) Resolve(tool string, ctx Context, model string) Resolution {
	cfg := &s.cfg

	if !cfg.Enabled {
		return Resolution{Strategy: StrategyAllow, Source: SourceBypass}
	}

	if model != "" && cfg.ModelTracked(model) {
		if strat, ok := cfg.ModelPolicies[model][ctx][tool]; ok {
			return Resolution{Strategy: strat, Source: SourceModel}
		}
	}

	if strat, ok := cfg.ToolPolicies[ctx][tool]; ok {
		return Resolution{Strategy: strat, Source: SourceTool}
	}

	if strat, ok := cfg.ContextDefaults[ctx]; ok {
		return Resolution{Strategy: strat, Source: SourceContext}
	}

	return Resolution{Strategy: cfg.DefaultStrategy, Source: SourceDefault}
}
