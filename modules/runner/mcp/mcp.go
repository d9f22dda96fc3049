// Package mcp implements tool execution against an MCP server over stdio.
// Approved calls are forwarded as MCP tool calls to a single server
// subprocess; the server's text output comes back to the caller that
// submitted the mediation.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	sdkmcp "github.com/mark3labs/mcp-go/mcp"

	"github.com/flemzord/warden/internal/config"
	"github.com/flemzord/warden/internal/core"
	"github.com/flemzord/warden/internal/runner"
	"gopkg.in/yaml.v3"
)

const defaultCallTimeout = 60 * time.Second

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ runner.Executor   = (*Executor)(nil)
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// toolCaller is the slice of the MCP client the executor uses, extracted so
// tests can stub the server.
type toolCaller interface {
	CallTool(ctx context.Context, request sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error)
}

// Config holds the MCP runner configuration.
type Config struct {
	// Command launches the MCP server subprocess.
	Command string `yaml:"command"`

	// Args are passed to the command.
	Args []string `yaml:"args"`

	// Env is extra environment for the subprocess, KEY=VALUE entries.
	Env []string `yaml:"env"`

	// CallTimeout bounds one tool call. Defaults to 60s.
	CallTimeout config.Duration `yaml:"call_timeout"`
}

func (c *Config) defaults() {
	if c.CallTimeout == 0 {
		c.CallTimeout = config.Duration(defaultCallTimeout)
	}
}

// Module is the runner.mcp module.
type Module struct {
	config   Config
	logger   *slog.Logger
	executor *Executor
	client   *mcpclient.Client
}

// Executor forwards approved calls to the MCP server.
type Executor struct {
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	caller toolCaller
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "runner.mcp",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("mcp: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner. The executor is registered now so
// the mediator can be wired to it; the server subprocess starts in Start.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger
	m.executor = &Executor{
		timeout: m.config.CallTimeout.Std(),
		logger:  ctx.Logger,
	}
	ctx.RegisterService("runner.executor", runner.Executor(m.executor))
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if m.config.Command == "" {
		return errors.New("mcp: command is required")
	}
	if m.config.CallTimeout < 0 {
		return errors.New("mcp: call_timeout must be non-negative")
	}
	return nil
}

// Start implements core.Starter. It launches the server subprocess and runs
// the MCP initialize handshake.
func (m *Module) Start() error {
	c, err := mcpclient.NewStdioMCPClient(m.config.Command, m.config.Env, m.config.Args...)
	if err != nil {
		return fmt.Errorf("mcp: start server %q: %w", m.config.Command, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	initReq := sdkmcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = sdkmcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = sdkmcp.Implementation{
		Name:    "warden",
		Version: "1.0.0",
	}

	res, err := c.Initialize(ctx, initReq)
	if err != nil {
		_ = c.Close()
		return fmt.Errorf("mcp: initialize handshake: %w", err)
	}

	m.client = c
	m.executor.setCaller(c)

	m.logger.Info("mcp server connected",
		"command", m.config.Command,
		"server", res.ServerInfo.Name,
		"version", res.ServerInfo.Version,
	)
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	m.logger.Info("mcp runner stopping")
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

func (e *Executor) setCaller(c toolCaller) {
	e.mu.Lock()
	e.caller = c
	e.mu.Unlock()
}

// Name implements runner.Executor.
func (e *Executor) Name() string { return "mcp" }

// Execute implements runner.Executor.
func (e *Executor) Execute(ctx context.Context, req runner.ExecRequest) (runner.Output, error) {
	e.mu.RLock()
	caller := e.caller
	e.mu.RUnlock()
	if caller == nil {
		return runner.Output{}, errors.New("mcp: server not connected")
	}

	args, err := decodeArguments(req.Arguments)
	if err != nil {
		return runner.Output{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	callReq := sdkmcp.CallToolRequest{}
	callReq.Params.Name = req.ToolID
	callReq.Params.Arguments = args

	res, err := caller.CallTool(ctx, callReq)
	if err != nil {
		return runner.Output{}, fmt.Errorf("mcp: call %s: %w", req.ToolID, err)
	}

	return runner.Output{
		Content: flattenContent(res),
		IsError: res.IsError,
	}, nil
}

// decodeArguments converts the call's raw JSON arguments into the map the
// MCP protocol expects. Missing arguments are an empty map, not an error.
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("mcp: arguments must be a JSON object: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// flattenContent joins the result's text blocks. Non-text content is noted
// by type rather than dropped silently.
func flattenContent(res *sdkmcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(sdkmcp.TextContent); ok {
			parts = append(parts, tc.Text)
			continue
		}
		parts = append(parts, fmt.Sprintf("[%T content omitted]", c))
	}
	return strings.Join(parts, "\n")
}
