// Package phone implements the phone approval surface. Each ask becomes one
// POST to an external voice bridge, which dials the configured number, reads
// the prompt, and collects a keypress. The bridge reports the decision back
// through the gateway's webhook dispatcher under the "phone" source, signed
// with the callback secret.
package phone

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/flemzord/warden/internal/approval"
	"github.com/flemzord/warden/internal/config"
	"github.com/flemzord/warden/internal/core"
	"github.com/flemzord/warden/internal/gateway"
	"gopkg.in/yaml.v3"
)

const defaultRequestTimeout = 15 * time.Second

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ approval.Requester     = (*Module)(nil)
	_ gateway.WebhookHandler = (*Module)(nil)
	_ core.Configurable      = (*Module)(nil)
	_ core.Provisioner       = (*Module)(nil)
	_ core.Validator         = (*Module)(nil)
	_ core.Starter           = (*Module)(nil)
)

// Config holds the phone approver configuration.
type Config struct {
	// BridgeURL is the voice bridge's call initiation endpoint.
	BridgeURL string `yaml:"bridge_url"`

	// AuthToken is sent as a bearer token on outbound bridge requests.
	AuthToken string `yaml:"auth_token"`

	// CallbackSecret signs the bridge's resolution callbacks. Empty
	// disables signature validation on the callback route.
	CallbackSecret string `yaml:"callback_secret"`

	// Timeout bounds the call initiation request. Defaults to 15s.
	Timeout config.Duration `yaml:"timeout"`
}

func (c *Config) defaults() {
	if c.Timeout == 0 {
		c.Timeout = config.Duration(defaultRequestTimeout)
	}
}

// bridgeRequest is the payload sent to the voice bridge.
type bridgeRequest struct {
	CallID      string    `json:"call_id"`
	Tool        string    `json:"tool"`
	PhoneNumber string    `json:"phone_number"`
	Prompt      string    `json:"prompt"`
	Deadline    time.Time `json:"deadline"`
}

// bridgeCallback is the decision the bridge reports back.
type bridgeCallback struct {
	CallID    string `json:"call_id"`
	Approved  bool   `json:"approved"`
	Reason    string `json:"reason,omitempty"`
	Responder string `json:"responder,omitempty"`
}

// Module is the approver.phone module.
type Module struct {
	config Config
	logger *slog.Logger
	broker *approval.Broker
	client *http.Client
	appCtx *core.AppContext
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "approver.phone",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("phone: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner. The module registers as the phone
// requester; the webhook source is claimed in Start once the gateway has
// provisioned its dispatcher.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.appCtx = ctx
	m.logger = ctx.Logger
	m.client = &http.Client{Timeout: m.config.Timeout.Std()}

	svc, ok := ctx.Service("approval.broker")
	if !ok {
		return errors.New("phone: approval.broker service not available")
	}
	broker, ok := svc.(*approval.Broker)
	if !ok {
		return fmt.Errorf("phone: approval.broker has unexpected type %T", svc)
	}
	m.broker = broker
	broker.RegisterRequester(m)
	return nil
}

// Start implements core.Starter. It claims the "phone" webhook source for
// bridge callbacks.
func (m *Module) Start() error {
	svc, ok := m.appCtx.Service("gateway.webhook_dispatcher")
	if !ok {
		return errors.New("phone: gateway.webhook_dispatcher service not available (is the gateway module loaded?)")
	}
	dispatcher, ok := svc.(*gateway.WebhookDispatcher)
	if !ok {
		return fmt.Errorf("phone: gateway.webhook_dispatcher has unexpected type %T", svc)
	}
	dispatcher.Register("phone", m, m.config.CallbackSecret)

	if m.config.CallbackSecret == "" {
		m.logger.Warn("phone callback signature validation disabled; set callback_secret")
	}
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if m.config.BridgeURL == "" {
		return errors.New("phone: bridge_url is required")
	}
	u, err := url.Parse(m.config.BridgeURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("phone: invalid bridge_url %q", m.config.BridgeURL)
	}
	if m.config.Timeout < 0 {
		return errors.New("phone: timeout must be non-negative")
	}
	return nil
}

// Channel implements approval.Requester.
func (m *Module) Channel() approval.Channel { return approval.ChannelPhone }

// Request implements approval.Requester. It asks the bridge to place the
// call; an error here tears down the transaction, so only delivery failures
// count, not the callee's answer.
func (m *Module) Request(ctx context.Context, req approval.Request) error {
	if req.PhoneNumber == "" {
		return errors.New("phone: request carries no phone number")
	}

	body, err := json.Marshal(bridgeRequest{
		CallID:      req.CallID,
		Tool:        req.Tool,
		PhoneNumber: req.PhoneNumber,
		Prompt:      formatPrompt(req),
		Deadline:    req.Deadline,
	})
	if err != nil {
		return fmt.Errorf("phone: marshal bridge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.BridgeURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("phone: build bridge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if m.config.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+m.config.AuthToken)
	}

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("phone: bridge unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("phone: bridge rejected call request: status %d", resp.StatusCode)
	}

	m.logger.Info("phone approval call placed",
		"call_id", req.CallID,
		"tool", req.Tool,
	)
	return nil
}

// HandleWebhook implements gateway.WebhookHandler for the bridge's
// resolution callback. The dispatcher has already verified the signature.
func (m *Module) HandleWebhook(_ context.Context, _ string, body []byte, _ http.Header) error {
	var cb bridgeCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return fmt.Errorf("phone: invalid callback payload: %w", err)
	}
	if cb.CallID == "" {
		return errors.New("phone: callback missing call_id")
	}

	responder := "phone"
	if cb.Responder != "" {
		responder = "phone:" + cb.Responder
	}

	err := m.broker.Resolve(cb.CallID, approval.Resolution{
		Approved:    cb.Approved,
		Reason:      cb.Reason,
		ResponderID: responder,
	})
	switch {
	case errors.Is(err, approval.ErrUnknownTransaction),
		errors.Is(err, approval.ErrAlreadyResolved):
		// Late or duplicate callbacks are recorded as anomalies by the
		// broker; acknowledge so the bridge stops retrying.
		m.logger.Warn("phone callback for non-pending call",
			"call_id", cb.CallID,
			"error", err,
		)
		return nil
	case err != nil:
		return err
	}

	m.logger.Info("phone approval resolved",
		"call_id", cb.CallID,
		"approved", cb.Approved,
	)
	return nil
}

// formatPrompt builds the text the bridge reads to the callee.
func formatPrompt(req approval.Request) string {
	prompt := fmt.Sprintf("An autonomous agent requests permission to run the tool %s.", req.Tool)
	if req.ContextID != "" {
		prompt += fmt.Sprintf(" The call originates from the %s context.", req.ContextID)
	}
	prompt += " Press 1 to approve, or 2 to deny."
	return prompt
}
