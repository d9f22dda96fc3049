// Package policy holds the layered mediation policy: the document that
// decides, per tool call, whether the call runs, is blocked, or needs an
// approval step. It provides the store (copy-on-write snapshots), the pure
// resolver, and the tier-adjusted preset writer.
package policy

import "fmt"

// Strategy is the action class assigned to a mediated tool call.
type Strategy string

const (
	// StrategyAllow lets the call execute immediately.
	StrategyAllow Strategy = "allow"

	// StrategyDeny blocks the call immediately.
	StrategyDeny Strategy = "deny"

	// StrategyHITL requires a human approval over the chat channel.
	StrategyHITL Strategy = "hitl"

	// StrategyPITL requires an approval over a phone conversation.
	StrategyPITL Strategy = "pitl"

	// StrategyAITL requires an approval from an independent AI reviewer.
	StrategyAITL Strategy = "aitl"

	// StrategyFilter runs the content-safety scan as the sole check:
	// clean executes, anything else is blocked.
	StrategyFilter Strategy = "filter"
)

// Strategies lists all valid strategies.
var Strategies = []Strategy{
	StrategyAllow,
	StrategyDeny,
	StrategyHITL,
	StrategyPITL,
	StrategyAITL,
	StrategyFilter,
}

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyAllow, StrategyDeny, StrategyHITL, StrategyPITL, StrategyAITL, StrategyFilter:
		return true
	}
	return false
}

// ParseStrategy converts a string into a Strategy, rejecting unknown values.
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStrategy, s)
	}
	return st, nil
}

// Tier is the trust classification of a model. It is consumed only when a
// preset is applied: the preset table is shifted once along the severity
// axis, and the resulting concrete entries are written tier-agnostic.
type Tier string

const (
	// TierStrong shifts preset entries one step toward allow.
	TierStrong Tier = "strong"

	// TierStandard applies preset entries unshifted.
	TierStandard Tier = "standard"

	// TierCautious shifts preset entries one step toward deny.
	TierCautious Tier = "cautious"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierStrong, TierStandard, TierCautious:
		return true
	}
	return false
}

// RiskLevel classifies a tool for preset lookups.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Valid reports whether r is a known risk level.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Context identifies the execution environment a tool call originates from.
type Context string

// Known execution contexts. Interactive calls have a human present;
// the rest are autonomous surfaces.
const (
	ContextInteractive     Context = "interactive"
	ContextBackground      Context = "background"
	ContextScheduler       Context = "scheduler"
	ContextBotProcessor    Context = "bot-processor"
	ContextProactiveLoop   Context = "proactive-loop"
	ContextMemoryFormation Context = "memory-formation"
	ContextAITLReviewer    Context = "aitl-reviewer"
	ContextRealtimeVoice   Context = "realtime-voice"
)

// KnownContexts lists every context id accepted in policy documents.
var KnownContexts = []Context{
	ContextInteractive,
	ContextBackground,
	ContextScheduler,
	ContextBotProcessor,
	ContextProactiveLoop,
	ContextMemoryFormation,
	ContextAITLReviewer,
	ContextRealtimeVoice,
}

// Valid reports whether c is a known context id.
func (c Context) Valid() bool {
	for _, k := range KnownContexts {
		if c == k {
			return true
		}
	}
	return false
}
