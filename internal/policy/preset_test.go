package policy

import "testing"

func TestShift(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   Strategy
		tier Tier
		want Strategy
	}{
		{"standard is identity for allow", StrategyAllow, TierStandard, StrategyAllow},
		{"standard is identity for deny", StrategyDeny, TierStandard, StrategyDeny},
		{"standard is identity for hitl", StrategyHITL, TierStandard, StrategyHITL},

		{"strong saturates at allow", StrategyAllow, TierStrong, StrategyAllow},
		{"strong moves filter to allow", StrategyFilter, TierStrong, StrategyAllow},
		{"strong moves deny to aitl", StrategyDeny, TierStrong, StrategyAITL},

		{"cautious moves allow to filter", StrategyAllow, TierCautious, StrategyFilter},
		{"cautious moves filter to aitl", StrategyFilter, TierCautious, StrategyAITL},
		{"cautious saturates at deny", StrategyDeny, TierCautious, StrategyDeny},

		{"hitl is lateral and never moves up", StrategyHITL, TierCautious, StrategyHITL},
		{"hitl is lateral and never moves down", StrategyHITL, TierStrong, StrategyHITL},
		{"pitl is lateral and never moves up", StrategyPITL, TierCautious, StrategyPITL},
		{"pitl is lateral and never moves down", StrategyPITL, TierStrong, StrategyPITL},

		{"aitl holds position under cautious", StrategyAITL, TierCautious, StrategyAITL},
		{"aitl holds position under strong", StrategyAITL, TierStrong, StrategyAITL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Shift(tt.in, tt.tier); got != tt.want {
				t.Errorf("Shift(%q, %q) = %q, want %q", tt.in, tt.tier, got, tt.want)
			}
		})
	}
}

func TestPreset_Lookup(t *testing.T) {
	t.Parallel()

	balanced, err := GetPreset("balanced")
	if err != nil {
		t.Fatalf("GetPreset: %v", err)
	}

	got, err := balanced.Lookup(ContextBackground, RiskHigh)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got != StrategyDeny {
		t.Errorf("balanced(background, high) = %q, want deny", got)
	}

	got, err = balanced.Lookup(ContextInteractive, RiskHigh)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got != StrategyHITL {
		t.Errorf("balanced(interactive, high) = %q, want hitl", got)
	}
}

func TestPreset_LookupInvalidRisk(t *testing.T) {
	t.Parallel()

	balanced, _ := GetPreset("balanced")
	if _, err := balanced.Lookup(ContextInteractive, RiskLevel("extreme")); err == nil {
		t.Fatal("expected error for unknown risk level")
	}
}

func TestGetPreset_Unknown(t *testing.T) {
	t.Parallel()
	if _, err := GetPreset("yolo"); err == nil {
		t.Fatal("expected error for unknown preset")
	}
}

func TestPresets_CompleteTables(t *testing.T) {
	t.Parallel()

	// Every built-in preset must produce a valid strategy for every
	// (context, risk) pair.
	for _, name := range PresetNames() {
		p, err := GetPreset(name)
		if err != nil {
			t.Fatalf("GetPreset(%s): %v", name, err)
		}
		for _, ctx := range KnownContexts {
			for _, risk := range []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical} {
				strat, err := p.Lookup(ctx, risk)
				if err != nil {
					t.Errorf("%s(%s, %s): %v", name, ctx, risk, err)
					continue
				}
				if !strat.Valid() {
					t.Errorf("%s(%s, %s) = %q, not a valid strategy", name, ctx, risk, strat)
				}
			}
		}
	}
}

func TestCautiousShiftSaturatesAtDeny(t *testing.T) {
	t.Parallel()

	// A cautious tier applied to an entry already at the ceiling stays
	// there.
	balanced, _ := GetPreset("balanced")
	strat, err := balanced.Lookup(ContextBackground, RiskHigh)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if strat != StrategyDeny {
		t.Fatalf("precondition: balanced(background, high) = %q, want deny", strat)
	}
	if got := Shift(strat, TierCautious); got != StrategyDeny {
		t.Errorf("Shift(deny, cautious) = %q, want deny", got)
	}
}
