package policy

import "fmt"

// severityRank orders the severity-axis strategies for tier shifting.
// hitl and pitl are lateral channel choices and have no rank: a preset
// entry holding one is never moved, though a shift may land on aitl when
// stepping over them.
var severityRank = map[Strategy]int{
	StrategyAllow:  0,
	StrategyFilter: 1,
	StrategyAITL:   2,
	StrategyDeny:   3,
}

var severityByRank = []Strategy{StrategyAllow, StrategyFilter, StrategyAITL, StrategyDeny}

// shiftable reports whether tier shifting moves this strategy. Laterals
// (hitl, pitl) and aitl hold their position; aitl can still be a shift
// destination for its neighbors.
func shiftable(s Strategy) bool {
	switch s {
	case StrategyAllow, StrategyFilter, StrategyDeny:
		return true
	}
	return false
}

// Shift moves a strategy one step along the severity axis for the given
// tier: toward allow for strong, unchanged for standard, toward deny for
// cautious. Steps saturate at both ends.
func Shift(s Strategy, tier Tier) Strategy {
	if tier == TierStandard || !shiftable(s) {
		return s
	}

	rank := severityRank[s]
	switch tier {
	case TierStrong:
		if rank > 0 {
			rank--
		}
	case TierCautious:
		if rank < len(severityByRank)-1 {
			rank++
		}
	}
	return severityByRank[rank]
}

// Preset is a named (context, risk) -> strategy table. Contexts without an
// explicit row use the Default row; autonomous surfaces typically get the
// harsher one.
type Preset struct {
	Name    string
	Rows    map[Context]map[RiskLevel]Strategy
	Default map[RiskLevel]Strategy
}

// Lookup returns the table entry for (ctx, risk).
func (p Preset) Lookup(ctx Context, risk RiskLevel) (Strategy, error) {
	if !risk.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRisk, risk)
	}
	if row, ok := p.Rows[ctx]; ok {
		return row[risk], nil
	}
	return p.Default[risk], nil
}

// Built-in preset tables. The interactive row assumes a human is present to
// answer approvals; every other context routes high-risk work to the AI
// reviewer or blocks it outright.
var presets = map[string]Preset{
	"permissive": {
		Name: "permissive",
		Rows: map[Context]map[RiskLevel]Strategy{
			ContextInteractive: {
				RiskLow:      StrategyAllow,
				RiskMedium:   StrategyAllow,
				RiskHigh:     StrategyFilter,
				RiskCritical: StrategyHITL,
			},
		},
		Default: map[RiskLevel]Strategy{
			RiskLow:      StrategyAllow,
			RiskMedium:   StrategyAllow,
			RiskHigh:     StrategyAITL,
			RiskCritical: StrategyDeny,
		},
	},
	"balanced": {
		Name: "balanced",
		Rows: map[Context]map[RiskLevel]Strategy{
			ContextInteractive: {
				RiskLow:      StrategyAllow,
				RiskMedium:   StrategyFilter,
				RiskHigh:     StrategyHITL,
				RiskCritical: StrategyDeny,
			},
		},
		Default: map[RiskLevel]Strategy{
			RiskLow:      StrategyAllow,
			RiskMedium:   StrategyAITL,
			RiskHigh:     StrategyDeny,
			RiskCritical: StrategyDeny,
		},
	},
	"strict": {
		Name: "strict",
		Rows: map[Context]map[RiskLevel]Strategy{
			ContextInteractive: {
				RiskLow:      StrategyFilter,
				RiskMedium:   StrategyHITL,
				RiskHigh:     StrategyAITL,
				RiskCritical: StrategyDeny,
			},
		},
		Default: map[RiskLevel]Strategy{
			RiskLow:      StrategyAITL,
			RiskMedium:   StrategyDeny,
			RiskHigh:     StrategyDeny,
			RiskCritical: StrategyDeny,
		},
	},
}

// GetPreset returns a built-in preset table by name.
func GetPreset(name string) (Preset, error) {
	p, ok := presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return p, nil
}

// PresetNames lists the built-in presets.
func PresetNames() []string {
	return []string{"balanced", "permissive", "strict"}
}

// PresetApplication describes one apply-preset operation: each named tool
// gets the preset entry for (Context, risk), shifted once for the tier,
// written as a concrete override. An empty Tier is classified from the
// model_tiers table. Model selects the model column to write into; empty
// writes context-level tool policies.
type PresetApplication struct {
	Preset  string               `json:"preset"`
	Tier    Tier                 `json:"tier"`
	Context Context              `json:"context"`
	Model   string               `json:"model,omitempty"`
	Tools   map[string]RiskLevel `json:"tools"`
}
