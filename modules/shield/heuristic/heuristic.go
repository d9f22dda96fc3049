// Package heuristic implements a local content safety scanner. It matches
// tool call arguments against a built-in set of prompt injection patterns,
// optionally extended from configuration. No network, no external service;
// a deployment that cannot reach a scanning endpoint still gets a gate that
// catches the obvious attacks.
package heuristic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/flemzord/warden/internal/core"
	"github.com/flemzord/warden/internal/gate"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ gate.Scanner      = (*Scanner)(nil)
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
)

// injectionPatterns are the built-in detectors. Matching is heuristic and
// errs toward flagging; the approval channels exist for the borderline
// cases.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?|directions?)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|prior|above|your)\s+(instructions?|prompts?|rules?|context)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|my)\s+`),
	regexp.MustCompile(`(?i)new\s+instructions?:\s*`),
	regexp.MustCompile(`(?i)system\s*:\s*you\s+are`),
	regexp.MustCompile(`(?i)\bdo\s+anything\s+now\b`),
	regexp.MustCompile(`(?i)\bjailbreak\b`),
	regexp.MustCompile(`(?i)pretend\s+you\s+(are|have)\s+no\s+(restrictions?|rules?|guidelines?)`),
	regexp.MustCompile(`(?i)act\s+as\s+if\s+you\s+have\s+no\s+(restrictions?|rules?|filters?)`),
	regexp.MustCompile(`(?i)override\s+(your|the|all)\s+`),
	regexp.MustCompile(`(?i)bypass\s+(your|the|all)\s+`),
	regexp.MustCompile(`(?i)reveal\s+(your|the)\s+(system\s+)?(prompt|instructions?)`),
}

// Config holds the heuristic scanner configuration.
type Config struct {
	// Patterns adds deployment-specific regular expressions to the
	// built-in set.
	Patterns []string `yaml:"patterns"`
}

// Module is the shield.heuristic module.
type Module struct {
	config  Config
	logger  *slog.Logger
	scanner *Scanner
}

// Scanner matches argument text against the compiled pattern set.
type Scanner struct {
	patterns []*regexp.Regexp
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "shield.heuristic",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("heuristic: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.logger = ctx.Logger

	scanner, err := newScanner(m.config.Patterns)
	if err != nil {
		return err
	}
	m.scanner = scanner

	ctx.RegisterService("gate.scanner", gate.Scanner(m.scanner))
	m.logger.Info("heuristic scanner provisioned",
		"patterns", len(m.scanner.patterns),
	)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if m.scanner == nil {
		return fmt.Errorf("heuristic: scanner not initialized (Provision not called)")
	}
	return nil
}

// newScanner compiles the built-in patterns plus any extras.
func newScanner(extra []string) (*Scanner, error) {
	patterns := make([]*regexp.Regexp, 0, len(injectionPatterns)+len(extra))
	patterns = append(patterns, injectionPatterns...)
	for _, p := range extra {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("heuristic: invalid pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}
	return &Scanner{patterns: patterns}, nil
}

// Name implements gate.Scanner.
func (s *Scanner) Name() string { return "shield.heuristic" }

// Scan implements gate.Scanner. It never fails: a local regex pass has no
// unavailable state.
func (s *Scanner) Scan(_ context.Context, _ string, args json.RawMessage) (gate.Report, error) {
	if len(args) == 0 {
		return gate.Report{}, nil
	}

	text := string(args)
	var findings []gate.Finding
	for _, re := range s.patterns {
		if match := re.FindString(text); match != "" {
			findings = append(findings, gate.Finding{
				Detector: "pattern:" + re.String(),
				Detail:   match,
			})
		}
	}
	if len(findings) == 0 {
		return gate.Report{}, nil
	}
	return gate.Report{Flagged: true, Findings: findings}, nil
}
