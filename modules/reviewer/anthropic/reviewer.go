// Package anthropic implements the AI reviewer approval surface over the
// Anthropic Messages API. Each ai_review transaction becomes one completion
// request; the model's verdict resolves the transaction through the broker.
// Anything the reviewer cannot answer strictly is left unresolved, and the
// transaction deadline denies the call.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/flemzord/warden/internal/approval"
	"github.com/flemzord/warden/internal/core"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ approval.Requester = (*Module)(nil)
	_ core.Configurable  = (*Module)(nil)
	_ core.Provisioner   = (*Module)(nil)
	_ core.Validator     = (*Module)(nil)
	_ core.Stopper       = (*Module)(nil)
)

// messenger is the slice of the SDK message service the reviewer uses,
// extracted so tests can stub the model.
type messenger interface {
	New(ctx context.Context, params sdkanthropic.MessageNewParams, opts ...option.RequestOption) (*sdkanthropic.Message, error)
}

// Module is the reviewer.anthropic module.
type Module struct {
	config   Config
	logger   *slog.Logger
	broker   *approval.Broker
	messages messenger

	wg sync.WaitGroup
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "reviewer.anthropic",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("reviewer: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	// Resolve API key: config takes precedence over environment variable.
	apiKey := m.config.APIKey
	if apiKey == "" {
		if envKey, ok := os.LookupEnv("ANTHROPIC_API_KEY"); ok {
			apiKey = envKey
		}
	}

	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if m.config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(m.config.BaseURL))
	}
	// One shot per review; the deadline denies on failure, retries would
	// only eat into it.
	opts = append(opts, option.WithMaxRetries(0))

	client := sdkanthropic.NewClient(opts...)
	m.messages = &client.Messages

	svc, ok := ctx.Service("approval.broker")
	if !ok {
		return errors.New("reviewer: approval.broker service not available")
	}
	broker, ok := svc.(*approval.Broker)
	if !ok {
		return fmt.Errorf("reviewer: approval.broker has unexpected type %T", svc)
	}
	m.broker = broker
	broker.RegisterRequester(m)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if m.config.Model == "" {
		return errors.New("reviewer: model must not be empty")
	}
	if m.messages == nil {
		return errors.New("reviewer: client not initialized (Provision not called)")
	}
	return nil
}

// Stop implements core.Stopper. It waits for in-flight reviews; their
// transactions are already closed by cancellation or deadline.
func (m *Module) Stop(_ context.Context) error {
	m.wg.Wait()
	return nil
}

// Channel implements approval.Requester.
func (m *Module) Channel() approval.Channel { return approval.ChannelAIReview }

// Request implements approval.Requester. The review runs in its own
// goroutine; delivery itself never fails.
func (m *Module) Request(_ context.Context, req approval.Request) error {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.review(req)
	}()
	return nil
}

// review asks the model for a verdict and resolves the transaction. Any
// failure, from transport to an answer outside the closed verdict set,
// resolves nothing: the deadline denies.
func (m *Module) review(req approval.Request) {
	model := req.ReviewModel
	if model == "" {
		model = m.config.Model
	}

	timeout := m.config.Timeout.Std()
	if !req.Deadline.IsZero() {
		if until := time.Until(req.Deadline); until < timeout {
			timeout = until
		}
	}
	if timeout <= 0 {
		m.logger.Warn("review skipped, deadline already passed", "call_id", req.CallID)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	msg, err := m.messages.New(ctx, sdkanthropic.MessageNewParams{
		Model:     sdkanthropic.Model(model),
		MaxTokens: int64(m.config.MaxTokens),
		System:    []sdkanthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []sdkanthropic.MessageParam{
			sdkanthropic.NewUserMessage(sdkanthropic.NewTextBlock(reviewPrompt(req))),
		},
	})
	if err != nil {
		m.logger.Warn("review request failed",
			"call_id", req.CallID,
			"model", model,
			"error", err,
		)
		return
	}

	verdict, err := parseVerdict(responseText(msg))
	if err != nil {
		m.logger.Warn("review answer outside verdict format",
			"call_id", req.CallID,
			"model", model,
			"error", err,
		)
		return
	}

	err = m.broker.Resolve(req.CallID, approval.Resolution{
		Approved:    verdict.Approved,
		Reason:      verdict.Reason,
		ResponderID: "ai:" + model,
	})
	if err != nil && !errors.Is(err, approval.ErrAlreadyResolved) && !errors.Is(err, approval.ErrUnknownTransaction) {
		m.logger.Error("review resolution failed", "call_id", req.CallID, "error", err)
		return
	}

	m.logger.Info("review resolved",
		"call_id", req.CallID,
		"model", model,
		"approved", verdict.Approved,
	)
}

// responseText concatenates the text blocks of a message.
func responseText(msg *sdkanthropic.Message) string {
	var content string
	for _, block := range msg.Content {
		if v, ok := block.AsAny().(sdkanthropic.TextBlock); ok {
			if content != "" {
				content += "\n"
			}
			content += v.Text
		}
	}
	return content
}
