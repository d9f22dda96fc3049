package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/flemzord/warden/internal/approval"
)

// fakeBot records sent chattables instead of talking to Telegram.
type fakeBot struct {
	mu      sync.Mutex
	sent    []tgbotapi.Chattable
	answers []tgbotapi.CallbackConfig
	nextID  int
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok := c.(tgbotapi.CallbackConfig); ok {
		f.answers = append(f.answers, cb)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeBot) lastAnswer() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.answers) == 0 {
		return ""
	}
	return f.answers[len(f.answers)-1].Text
}

func testModule(t *testing.T, cfg Config) (*Module, *fakeBot, *approval.Broker) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	broker := approval.NewBroker(approval.BrokerConfig{Logger: logger})
	bot := &fakeBot{}

	m := &Module{
		config:   cfg,
		logger:   logger,
		bot:      bot,
		broker:   broker,
		messages: make(map[string]int),
	}
	broker.RegisterRequester(m)
	return m, bot, broker
}

func callback(data, username string) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:   "cb-1",
		Data: data,
		From: &tgbotapi.User{ID: 42, UserName: username},
	}
}

func TestParseCallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		data         string
		wantCall     string
		wantApproved bool
		wantOK       bool
	}{
		{"approve:call-1", "call-1", true, true},
		{"deny:call-1", "call-1", false, true},
		{"approve:", "", false, false},
		{"nuke:call-1", "", false, false},
		{"garbage", "", false, false},
		{"", "", false, false},
	}
	for _, tt := range tests {
		callID, approved, ok := parseCallback(tt.data)
		if callID != tt.wantCall || approved != tt.wantApproved || ok != tt.wantOK {
			t.Errorf("parseCallback(%q) = (%q, %v, %v), want (%q, %v, %v)",
				tt.data, callID, approved, ok, tt.wantCall, tt.wantApproved, tt.wantOK)
		}
	}
}

func TestFormatRequest(t *testing.T) {
	t.Parallel()

	text := formatRequest(approval.Request{
		CallID:    "call-1",
		Tool:      "shell.exec",
		ContextID: "interactive",
		Arguments: json.RawMessage(`{"cmd":"rm -rf /tmp/x"}`),
		Deadline:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})

	for _, want := range []string{"shell.exec", "call-1", "interactive", `"rm -rf /tmp/x"`, "2026-03-01T12:00:00Z"} {
		if !strings.Contains(text, want) {
			t.Errorf("formatRequest output missing %q:\n%s", want, text)
		}
	}
}

func TestFormatRequest_TruncatesArguments(t *testing.T) {
	t.Parallel()

	huge := strings.Repeat("a", 2*maxArgumentChars)
	text := formatRequest(approval.Request{
		CallID:    "call-1",
		Tool:      "t",
		Arguments: json.RawMessage(`"` + huge + `"`),
	})
	if strings.Contains(text, huge) {
		t.Error("arguments were not truncated")
	}
	if !strings.Contains(text, "…") {
		t.Error("truncation marker missing")
	}
}

func TestRequest_PostsKeyboard(t *testing.T) {
	t.Parallel()

	m, bot, _ := testModule(t, Config{ChatID: 100})

	err := m.Request(context.Background(), approval.Request{
		CallID:  "call-1",
		Tool:    "deploy",
		Channel: approval.ChannelChat,
	})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	if len(bot.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(bot.sent))
	}
	msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("sent %T, want MessageConfig", bot.sent[0])
	}
	if msg.ChatID != 100 {
		t.Errorf("chat_id = %d, want 100", msg.ChatID)
	}
	kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok || len(kb.InlineKeyboard) != 1 || len(kb.InlineKeyboard[0]) != 2 {
		t.Fatalf("keyboard = %+v, want one row of two buttons", msg.ReplyMarkup)
	}
	if *kb.InlineKeyboard[0][0].CallbackData != "approve:call-1" {
		t.Errorf("approve data = %q", *kb.InlineKeyboard[0][0].CallbackData)
	}
}

func TestHandleCallback_ResolvesTransaction(t *testing.T) {
	t.Parallel()

	m, bot, broker := testModule(t, Config{ChatID: 100})

	tx, err := broker.Open(context.Background(), approval.Request{
		CallID:   "call-1",
		Tool:     "deploy",
		Channel:  approval.ChannelChat,
		Deadline: time.Now().Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	m.handleCallback(callback("approve:call-1", "alice"))

	out := broker.Await(context.Background(), tx)
	if out.Status != approval.StatusApproved {
		t.Errorf("status = %q, want approved", out.Status)
	}
	if out.ResponderID != "telegram:alice" {
		t.Errorf("responder = %q, want telegram:alice", out.ResponderID)
	}

	// The keyboard message was rewritten with the outcome.
	last := bot.sent[len(bot.sent)-1]
	edit, ok := last.(tgbotapi.EditMessageTextConfig)
	if !ok {
		t.Fatalf("last send = %T, want EditMessageTextConfig", last)
	}
	if !strings.Contains(edit.Text, "approved") {
		t.Errorf("edit text = %q", edit.Text)
	}
}

func TestHandleCallback_DeniedByAllowList(t *testing.T) {
	t.Parallel()

	m, bot, broker := testModule(t, Config{ChatID: 100, AllowUsers: []string{"alice"}})

	tx, err := broker.Open(context.Background(), approval.Request{
		CallID:   "call-1",
		Tool:     "deploy",
		Channel:  approval.ChannelChat,
		Deadline: time.Now().Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	m.handleCallback(callback("deny:call-1", "mallory"))

	if got := bot.lastAnswer(); !strings.Contains(got, "not authorized") {
		t.Errorf("callback answer = %q, want authorization refusal", got)
	}
	if len(broker.Pending()) != 1 {
		t.Error("transaction should still be pending")
	}

	// The allowed user can still resolve, by numeric id too.
	m.handleCallback(&tgbotapi.CallbackQuery{
		ID:   "cb-2",
		Data: "deny:call-1",
		From: &tgbotapi.User{ID: 7, UserName: "alice"},
	})
	out := broker.Await(context.Background(), tx)
	if out.Status != approval.StatusDenied {
		t.Errorf("status = %q, want denied", out.Status)
	}
}

func TestHandleCallback_DuplicateResolution(t *testing.T) {
	t.Parallel()

	m, bot, broker := testModule(t, Config{ChatID: 100})

	_, err := broker.Open(context.Background(), approval.Request{
		CallID:   "call-1",
		Tool:     "deploy",
		Channel:  approval.ChannelChat,
		Deadline: time.Now().Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	m.handleCallback(callback("approve:call-1", "alice"))
	m.handleCallback(callback("deny:call-1", "bob"))

	if got := bot.lastAnswer(); !strings.Contains(got, "already resolved") {
		t.Errorf("callback answer = %q, want already resolved", got)
	}
}

func TestHandleCallback_UnknownCall(t *testing.T) {
	t.Parallel()

	m, bot, _ := testModule(t, Config{ChatID: 100})

	m.handleCallback(callback("approve:ghost", "alice"))

	if got := bot.lastAnswer(); !strings.Contains(got, "no longer pending") {
		t.Errorf("callback answer = %q, want unknown-call notice", got)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	m := &Module{config: Config{}}
	if err := m.Validate(); err == nil {
		t.Error("empty config should fail validation")
	}

	m.config = Config{Token: "t", ChatID: 1}
	if err := m.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}
