package gate

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type scriptedScanner struct {
	name   string
	report Report
	err    error
	calls  int
}

func (s *scriptedScanner) Name() string { return s.name }

func (s *scriptedScanner) Scan(context.Context, string, json.RawMessage) (Report, error) {
	s.calls++
	return s.report, s.err
}

func TestGateCheck(t *testing.T) {
	t.Parallel()

	args := json.RawMessage(`{"command":"ls"}`)

	tests := []struct {
		name       string
		scanner    *scriptedScanner
		wantResult Result
		wantBlocks bool
	}{
		{
			name:       "clean scan",
			scanner:    &scriptedScanner{name: "shield"},
			wantResult: ResultClean,
		},
		{
			name: "flagged scan is an attack",
			scanner: &scriptedScanner{
				name:   "shield",
				report: Report{Flagged: true, Findings: []Finding{{Detector: "injection", Detail: "imperative override"}}},
			},
			wantResult: ResultAttack,
			wantBlocks: true,
		},
		{
			name:       "scanner failure is unavailable, not clean",
			scanner:    &scriptedScanner{name: "shield", err: errors.New("connection refused")},
			wantResult: ResultUnavailable,
			wantBlocks: true,
		},
		{
			name:       "unconfigured scanner is skipped",
			scanner:    &scriptedScanner{name: "shield", err: ErrUnconfigured},
			wantResult: ResultSkipped,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			g := New(tt.scanner, nil)
			got := g.Check(context.Background(), "bash", args)

			if got.Result != tt.wantResult {
				t.Errorf("result = %q, want %q", got.Result, tt.wantResult)
			}
			if got.Blocks() != tt.wantBlocks {
				t.Errorf("blocks = %v, want %v", got.Blocks(), tt.wantBlocks)
			}
			if got.Scanner != "shield" {
				t.Errorf("scanner = %q, want shield", got.Scanner)
			}
			if tt.scanner.calls != 1 {
				t.Errorf("scanner called %d times, want 1", tt.scanner.calls)
			}
		})
	}
}

func TestGateCheck_NilScanner(t *testing.T) {
	t.Parallel()

	g := New(nil, nil)
	got := g.Check(context.Background(), "bash", nil)

	if got.Result != ResultSkipped {
		t.Errorf("result = %q, want skipped", got.Result)
	}
	if got.Blocks() {
		t.Error("a skipped check must not block the pre-check path")
	}
}

func TestGateCheck_UnavailableCarriesError(t *testing.T) {
	t.Parallel()

	boom := errors.New("scan service down")
	g := New(&scriptedScanner{name: "shield", err: boom}, nil)

	got := g.Check(context.Background(), "bash", nil)
	if !errors.Is(got.Err, boom) {
		t.Errorf("err = %v, want wrapped scan failure", got.Err)
	}
}

func TestGateCheck_AttackKeepsFindings(t *testing.T) {
	t.Parallel()

	g := New(&scriptedScanner{
		name: "shield",
		report: Report{Flagged: true, Findings: []Finding{
			{Detector: "injection", Detail: "ignore previous instructions"},
			{Detector: "exfil", Detail: "credential pattern"},
		}},
	}, nil)

	got := g.Check(context.Background(), "send_mail", nil)
	if len(got.Findings) != 2 {
		t.Fatalf("got %d findings, want 2", len(got.Findings))
	}
	if got.Findings[0].Detector != "injection" {
		t.Errorf("first detector = %q", got.Findings[0].Detector)
	}
}
