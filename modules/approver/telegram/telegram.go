// Package telegram implements the chat approval surface over the Telegram
// Bot API. Each approval transaction becomes one message with inline
// approve/deny buttons; button presses resolve the transaction through the
// broker, which enforces the one-resolution rule regardless of how many
// people tap.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/flemzord/warden/internal/approval"
	"github.com/flemzord/warden/internal/core"
	"github.com/flemzord/warden/internal/mediation"
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
	_ core.Starter       = (*Module)(nil)
	_ core.Stopper       = (*Module)(nil)
)

// botAPI is the slice of tgbotapi.BotAPI the module uses, extracted so
// tests can drive the update loop without a network.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Module is the approver.telegram module.
type Module struct {
	config Config
	logger *slog.Logger
	appCtx *core.AppContext

	bot    botAPI
	real   *tgbotapi.BotAPI
	broker *approval.Broker

	// messages maps call id to the posted message so resolutions can edit
	// the keyboard away.
	mu       sync.Mutex
	messages map[string]int

	unsubscribe func()
	wg          sync.WaitGroup
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "approver.telegram",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("telegram: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner. The module registers itself as the
// chat requester here; the bot connection is established in Start, before
// the gateway begins accepting mediations.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.appCtx = ctx
	m.logger = ctx.Logger
	m.messages = make(map[string]int)

	svc, ok := ctx.Service("approval.broker")
	if !ok {
		return errors.New("telegram: approval.broker service not available")
	}
	broker, ok := svc.(*approval.Broker)
	if !ok {
		return fmt.Errorf("telegram: approval.broker has unexpected type %T", svc)
	}
	m.broker = broker
	broker.RegisterRequester(m)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if m.config.Token == "" {
		return errors.New("telegram: token is required")
	}
	if m.config.ChatID == 0 {
		return errors.New("telegram: chat_id is required")
	}
	return nil
}

// Start implements core.Starter. It authenticates the bot and begins
// consuming updates.
func (m *Module) Start() error {
	bot, err := tgbotapi.NewBotAPI(m.config.Token)
	if err != nil {
		return fmt.Errorf("telegram: bot init failed (check token): %w", err)
	}
	m.real = bot
	m.bot = bot

	m.logger.Info("telegram approver authenticated",
		"username", bot.Self.UserName,
		"chat_id", m.config.ChatID,
	)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = m.config.PollTimeout
	updates := bot.GetUpdatesChan(u)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for update := range updates {
			if update.CallbackQuery == nil {
				continue
			}
			m.handleCallback(update.CallbackQuery)
		}
	}()

	m.startReminders()
	return nil
}

// startReminders subscribes to mediation events and nudges the chat when
// the watchdog flags a transaction as stale.
func (m *Module) startReminders() {
	svc, ok := m.appCtx.Service("mediation.events")
	if !ok {
		return
	}
	notifier, ok := svc.(*mediation.Notifier)
	if !ok {
		return
	}

	ch, cancel := notifier.Subscribe(16)
	m.unsubscribe = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for ev := range ch {
			if ev.Type != mediation.EventApprovalReminder || ev.Channel != string(approval.ChannelChat) {
				continue
			}
			msg := tgbotapi.NewMessage(m.config.ChatID, formatReminder(ev))
			if _, err := m.bot.Send(msg); err != nil {
				m.logger.Warn("telegram reminder failed", "call_id", ev.CallID, "error", err)
			}
		}
	}()
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	m.logger.Info("telegram approver stopping")
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	if m.real != nil {
		m.real.StopReceivingUpdates()
	}
	m.wg.Wait()
	return nil
}

// Channel implements approval.Requester.
func (m *Module) Channel() approval.Channel { return approval.ChannelChat }

// Request implements approval.Requester. It posts the ask with an inline
// approve/deny keyboard and returns; the resolution arrives later through
// the update loop.
func (m *Module) Request(_ context.Context, req approval.Request) error {
	msg := tgbotapi.NewMessage(m.config.ChatID, formatRequest(req))
	msg.ReplyMarkup = approvalKeyboard(req.CallID)

	sent, err := m.bot.Send(msg)
	if err != nil {
		return fmt.Errorf("telegram: send approval request: %w", err)
	}

	m.mu.Lock()
	m.messages[req.CallID] = sent.MessageID
	m.mu.Unlock()

	m.logger.Debug("telegram approval posted",
		"call_id", req.CallID,
		"tool", req.Tool,
		"message_id", sent.MessageID,
	)
	return nil
}

// handleCallback processes one button press.
func (m *Module) handleCallback(cb *tgbotapi.CallbackQuery) {
	callID, approved, ok := parseCallback(cb.Data)
	if !ok {
		m.answer(cb.ID, "unrecognized action")
		return
	}

	responder := responderName(cb.From)
	if !m.allowed(cb.From) {
		m.logger.Warn("telegram resolution from unauthorized user",
			"call_id", callID,
			"responder", responder,
		)
		m.answer(cb.ID, "you are not authorized to resolve approvals")
		return
	}

	err := m.broker.Resolve(callID, approval.Resolution{
		Approved:    approved,
		ResponderID: responder,
	})
	switch {
	case errors.Is(err, approval.ErrAlreadyResolved):
		m.answer(cb.ID, "already resolved")
		return
	case errors.Is(err, approval.ErrUnknownTransaction):
		m.answer(cb.ID, "this approval is no longer pending")
		return
	case err != nil:
		m.logger.Error("telegram resolution failed", "call_id", callID, "error", err)
		m.answer(cb.ID, "resolution failed")
		return
	}

	if approved {
		m.answer(cb.ID, "approved")
	} else {
		m.answer(cb.ID, "denied")
	}
	m.retireKeyboard(callID, approved, responder)
}

// retireKeyboard rewrites the original message so the buttons disappear and
// the outcome is visible in the chat history.
func (m *Module) retireKeyboard(callID string, approved bool, responder string) {
	m.mu.Lock()
	messageID, ok := m.messages[callID]
	delete(m.messages, callID)
	m.mu.Unlock()
	if !ok {
		return
	}

	edit := tgbotapi.NewEditMessageText(m.config.ChatID, messageID, formatResolved(callID, approved, responder))
	if _, err := m.bot.Send(edit); err != nil {
		m.logger.Debug("telegram message edit failed", "call_id", callID, "error", err)
	}
}

func (m *Module) answer(callbackID, text string) {
	cb := tgbotapi.NewCallback(callbackID, text)
	if _, err := m.bot.Request(cb); err != nil {
		m.logger.Debug("telegram callback answer failed", "error", err)
	}
}

// allowed reports whether the user may resolve approvals. An empty allow
// list admits everyone in the configured chat.
func (m *Module) allowed(u *tgbotapi.User) bool {
	if len(m.config.AllowUsers) == 0 {
		return true
	}
	id := fmt.Sprintf("%d", u.ID)
	for _, entry := range m.config.AllowUsers {
		if entry == u.UserName || entry == id {
			return true
		}
	}
	return false
}

// responderName prefers the username, falling back to the numeric id.
func responderName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return "telegram:" + u.UserName
	}
	return fmt.Sprintf("telegram:%d", u.ID)
}
