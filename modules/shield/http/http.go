// Package http implements the content safety gate against an external
// scanning service. The endpoint comes from the live policy snapshot at
// scan time, so operators can point the gate somewhere else, or unset it,
// without a restart.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	nethttp "net/http"
	"time"

	"github.com/flemzord/warden/internal/config"
	"github.com/flemzord/warden/internal/core"
	"github.com/flemzord/warden/internal/gate"
	"github.com/flemzord/warden/internal/policy"
	"gopkg.in/yaml.v3"
)

const defaultScanTimeout = 10 * time.Second

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

// Config holds the HTTP scanner configuration.
type Config struct {
	// AuthToken is sent as a bearer token to the scanning service.
	AuthToken string `yaml:"auth_token"`

	// Timeout bounds one scan request. Defaults to 10s. A scan that runs
	// out of time reports unavailable, which fails the call closed.
	Timeout config.Duration `yaml:"timeout"`
}

func (c *Config) defaults() {
	if c.Timeout == 0 {
		c.Timeout = config.Duration(defaultScanTimeout)
	}
}

// Module is the shield.http module.
type Module struct {
	config  Config
	logger  *slog.Logger
	scanner *Scanner
}

// Scanner posts tool call arguments to the configured scanning service.
type Scanner struct {
	policies  *policy.Store
	client    *nethttp.Client
	authToken string
}

// scanRequest is the payload sent to the scanning service.
type scanRequest struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// scanResponse is the service's judgment.
type scanResponse struct {
	Verdict  string         `json:"verdict"`
	Findings []gate.Finding `json:"findings,omitempty"`
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "shield.http",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("shield: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	svc, ok := ctx.Service("policy.store")
	if !ok {
		return errors.New("shield: policy.store service not available")
	}
	store, ok := svc.(*policy.Store)
	if !ok {
		return fmt.Errorf("shield: policy.store has unexpected type %T", svc)
	}

	m.scanner = &Scanner{
		policies:  store,
		client:    &nethttp.Client{Timeout: m.config.Timeout.Std()},
		authToken: m.config.AuthToken,
	}
	ctx.RegisterService("gate.scanner", gate.Scanner(m.scanner))
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if m.config.Timeout < 0 {
		return errors.New("shield: timeout must be non-negative")
	}
	return nil
}

// Name implements gate.Scanner.
func (s *Scanner) Name() string { return "shield.http" }

// Scan implements gate.Scanner. With no endpoint in the current policy it
// returns ErrUnconfigured; any other failure surfaces as an error so the
// gate classifies the check as unavailable.
func (s *Scanner) Scan(ctx context.Context, tool string, args json.RawMessage) (gate.Report, error) {
	endpoint := s.policies.Snapshot().ContentSafetyEndpoint()
	if endpoint == "" {
		return gate.Report{}, gate.ErrUnconfigured
	}

	body, err := json.Marshal(scanRequest{Tool: tool, Arguments: args})
	if err != nil {
		return gate.Report{}, fmt.Errorf("shield: marshal scan request: %w", err)
	}

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return gate.Report{}, fmt.Errorf("shield: build scan request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return gate.Report{}, fmt.Errorf("shield: scan request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gate.Report{}, fmt.Errorf("shield: scanner returned status %d", resp.StatusCode)
	}

	var sr scanResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return gate.Report{}, fmt.Errorf("shield: decode scan response: %w", err)
	}

	switch sr.Verdict {
	case "clean":
		return gate.Report{}, nil
	case "attack":
		return gate.Report{Flagged: true, Findings: sr.Findings}, nil
	default:
		// An answer outside the closed set is not a clean bill.
		return gate.Report{}, fmt.Errorf("shield: unknown verdict %q", sr.Verdict)
	}
}
