// Package gate runs content safety checks on tool call arguments before a
// mediation proceeds. It wraps an external scanning service behind the
// Scanner interface and classifies every check into a closed result set;
// inconclusive checks are never reported as clean.
package gate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
)

// Result classifies one gate check.
type Result string

const (
	// ResultClean means the scanner saw nothing suspicious.
	ResultClean Result = "clean"

	// ResultAttack means the scanner flagged the arguments.
	ResultAttack Result = "attack"

	// ResultUnavailable means a configured scanner failed to answer. The
	// mediation treats this like an attack: fail closed, never open.
	ResultUnavailable Result = "unavailable"

	// ResultSkipped means no scanner endpoint is configured, so the check
	// could not run at all. This is a degraded posture, distinct from a
	// scanner failure.
	ResultSkipped Result = "skipped"
)

// ErrUnconfigured is returned by a Scanner that currently has no endpoint
// to call. The gate reports such checks as skipped rather than failed.
var ErrUnconfigured = errors.New("gate: scanner endpoint not configured")

// Finding is one suspicious pattern a scanner flagged.
type Finding struct {
	// Detector names the rule or model that produced the finding.
	Detector string `json:"detector"`

	// Detail is a short human-readable description of the match.
	Detail string `json:"detail"`
}

// Report is a scanner's judgment on one payload.
type Report struct {
	Flagged  bool
	Findings []Finding
}

// Scanner checks tool call arguments for injected instructions.
// Implementations wrap an external scanning service or a local rule set.
type Scanner interface {
	// Name identifies the scanner in logs and audit records.
	Name() string

	// Scan inspects the arguments of one tool call. A non-nil error means
	// the scan did not complete; ErrUnconfigured means it could not start.
	Scan(ctx context.Context, tool string, args json.RawMessage) (Report, error)
}

// Outcome is the classified result of one gate check.
type Outcome struct {
	Result   Result
	Scanner  string
	Findings []Finding

	// Err holds the scanner failure when Result is unavailable.
	Err error
}

// Blocks reports whether the outcome terminates the call when the gate ran
// as a mandatory pre-check. Skipped checks do not block here; the filter
// strategy applies its own stricter rule and denies anything not clean.
func (o Outcome) Blocks() bool {
	return o.Result == ResultAttack || o.Result == ResultUnavailable
}

// Gate classifies scanner answers for the mediation pipeline. A Gate with a
// nil scanner is valid and reports every check as skipped.
type Gate struct {
	scanner Scanner
	logger  *slog.Logger
}

// New creates a gate around the given scanner, which may be nil.
func New(scanner Scanner, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{scanner: scanner, logger: logger}
}

// Check scans one call's arguments and classifies the answer. Scanner
// failures come back as unavailable with the error attached; they are never
// folded into clean.
func (g *Gate) Check(ctx context.Context, tool string, args json.RawMessage) Outcome {
	if g.scanner == nil {
		return Outcome{Result: ResultSkipped}
	}

	name := g.scanner.Name()
	report, err := g.scanner.Scan(ctx, tool, args)
	switch {
	case errors.Is(err, ErrUnconfigured):
		g.logger.Debug("content safety check skipped",
			"scanner", name,
			"tool", tool)
		return Outcome{Result: ResultSkipped, Scanner: name}
	case err != nil:
		g.logger.Warn("content safety check failed",
			"scanner", name,
			"tool", tool,
			"error", err)
		return Outcome{Result: ResultUnavailable, Scanner: name, Err: err}
	case report.Flagged:
		g.logger.Warn("content safety check flagged arguments",
			"scanner", name,
			"tool", tool,
			"findings", len(report.Findings))
		return Outcome{Result: ResultAttack, Scanner: name, Findings: report.Findings}
	default:
		return Outcome{Result: ResultClean, Scanner: name}
	}
}
