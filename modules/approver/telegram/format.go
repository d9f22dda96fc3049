package telegram

import (
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/flemzord/warden/internal/approval"
	"github.com/flemzord/warden/internal/mediation"
)

// maxArgumentChars bounds the argument excerpt shown in chat. The full
// payload lives in the audit trail.
const maxArgumentChars = 600

const (
	actionApprove = "approve"
	actionDeny    = "deny"
)

// approvalKeyboard builds the approve/deny inline keyboard for a call.
func approvalKeyboard(callID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Approve", actionApprove+":"+callID),
			tgbotapi.NewInlineKeyboardButtonData("❌ Deny", actionDeny+":"+callID),
		),
	)
}

// parseCallback splits button callback data into its call id and action.
func parseCallback(data string) (callID string, approved bool, ok bool) {
	action, callID, found := strings.Cut(data, ":")
	if !found || callID == "" {
		return "", false, false
	}
	switch action {
	case actionApprove:
		return callID, true, true
	case actionDeny:
		return callID, false, true
	}
	return "", false, false
}

// formatRequest renders one approval ask as a chat message.
func formatRequest(req approval.Request) string {
	var b strings.Builder
	b.WriteString("🛂 Tool call needs approval\n\n")
	fmt.Fprintf(&b, "Tool: %s\n", req.Tool)
	if req.ContextID != "" {
		fmt.Fprintf(&b, "Context: %s\n", req.ContextID)
	}
	if req.SessionID != "" {
		fmt.Fprintf(&b, "Session: %s\n", req.SessionID)
	}
	fmt.Fprintf(&b, "Call: %s\n", req.CallID)

	if len(req.Arguments) > 0 {
		args := string(req.Arguments)
		if len(args) > maxArgumentChars {
			args = args[:maxArgumentChars] + "…"
		}
		fmt.Fprintf(&b, "\nArguments:\n%s\n", args)
	}

	if !req.Deadline.IsZero() {
		fmt.Fprintf(&b, "\nExpires %s", req.Deadline.UTC().Format(time.RFC3339))
	}
	return b.String()
}

// formatResolved renders the replacement text once a call is decided.
func formatResolved(callID string, approved bool, responder string) string {
	outcome := "denied"
	if approved {
		outcome = "approved"
	}
	return fmt.Sprintf("Call %s %s by %s", callID, outcome, responder)
}

// formatReminder renders a watchdog nudge.
func formatReminder(ev mediation.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⏰ Still waiting on approval for %s (call %s)", ev.Tool, ev.CallID)
	if !ev.Deadline.IsZero() {
		fmt.Fprintf(&b, ", expires %s", ev.Deadline.UTC().Format(time.RFC3339))
	}
	return b.String()
}
