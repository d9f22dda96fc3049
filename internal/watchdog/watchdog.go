// Package watchdog runs a periodic posture check over the mediation flow:
// it surfaces a degraded content safety gate, reports in-flight counts, and
// reminds approval channels about transactions nearing their deadlines.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/flemzord/warden/internal/approval"
	"github.com/flemzord/warden/internal/mediation"
)

// Sentinel errors for watchdog operations.
var (
	ErrAlreadyStarted = errors.New("watchdog: already started")
	ErrNotStarted     = errors.New("watchdog: not started")
	ErrInvalidQuiet   = errors.New("watchdog: invalid quiet hours format")
)

// QuietHours defines a blackout window during which no reminders are sent.
// Format: "HH:MM-HH:MM" (24-hour). Supports midnight wrap (e.g., "23:00-07:00").
type QuietHours struct {
	Start time.Duration // offset from midnight
	End   time.Duration
}

// ParseQuietHours parses a "HH:MM-HH:MM" string into QuietHours.
func ParseQuietHours(s string) (QuietHours, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return QuietHours{}, fmt.Errorf("%w: expected HH:MM-HH:MM, got %q", ErrInvalidQuiet, s)
	}

	start, err := parseTimeOffset(strings.TrimSpace(parts[0]))
	if err != nil {
		return QuietHours{}, fmt.Errorf("%w: start: %w", ErrInvalidQuiet, err)
	}

	end, err := parseTimeOffset(strings.TrimSpace(parts[1]))
	if err != nil {
		return QuietHours{}, fmt.Errorf("%w: end: %w", ErrInvalidQuiet, err)
	}

	return QuietHours{Start: start, End: end}, nil
}

// parseTimeOffset parses "HH:MM" into a Duration from midnight.
func parseTimeOffset(s string) (time.Duration, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}

	var h, m int
	if _, err := fmt.Sscanf(parts[0], "%d", &h); err != nil {
		return 0, fmt.Errorf("invalid hour: %q", parts[0])
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &m); err != nil {
		return 0, fmt.Errorf("invalid minute: %q", parts[1])
	}

	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("out of range: %02d:%02d", h, m)
	}

	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

// IsQuiet reports whether t falls within the quiet window.
// The caller is responsible for converting t to the desired timezone.
func (q QuietHours) IsQuiet(t time.Time) bool {
	offset := time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second

	if q.Start <= q.End {
		// Normal range: e.g., 02:00-06:00
		return offset >= q.Start && offset < q.End
	}
	// Midnight wrap: e.g., 23:00-07:00
	return offset >= q.Start || offset < q.End
}

// ApprovalSource enumerates open approval transactions (breaks the broker
// dependency).
type ApprovalSource interface {
	Pending() []approval.PendingTransaction
}

// CallSource enumerates in-flight mediations (breaks the mediator
// dependency).
type CallSource interface {
	Active() []mediation.CallSnapshot
}

// Config holds watchdog configuration.
type Config struct {
	Interval    time.Duration  // default 1m
	RemindAfter time.Duration  // nudge approvals pending at least this long; default 2m
	QuietHours  *QuietHours    // nil = no quiet hours
	Timezone    *time.Location // nil = UTC

	// GateConfigured reports whether a content safety scanner backs the
	// gate. nil means configured; false makes every tick warn about the
	// degraded posture.
	GateConfigured func() bool

	Logger *slog.Logger
	Now    func() time.Time // injectable for testing
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.RemindAfter <= 0 {
		c.RemindAfter = 2 * time.Minute
	}
	if c.Timezone == nil {
		c.Timezone = time.UTC
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Watchdog runs a dedicated goroutine that periodically inspects the
// mediation flow.
type Watchdog struct {
	cfg       Config
	approvals ApprovalSource
	calls     CallSource
	events    *mediation.Notifier

	mu       sync.Mutex
	cancel   context.CancelFunc
	reminded map[string]struct{}
}

// New creates a Watchdog with the given configuration.
func New(cfg Config, approvals ApprovalSource, calls CallSource, events *mediation.Notifier) (*Watchdog, error) {
	if approvals == nil {
		return nil, errors.New("watchdog: nil ApprovalSource")
	}
	if calls == nil {
		return nil, errors.New("watchdog: nil CallSource")
	}
	if events == nil {
		return nil, errors.New("watchdog: nil notifier")
	}

	return &Watchdog{
		cfg:       cfg.withDefaults(),
		approvals: approvals,
		calls:     calls,
		events:    events,
		reminded:  make(map[string]struct{}),
	}, nil
}

// Start begins the ticker loop. Returns ErrAlreadyStarted if called twice.
func (w *Watchdog) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return ErrAlreadyStarted
	}

	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)
	return nil
}

// Stop gracefully stops the loop. Returns ErrNotStarted if not running.
func (w *Watchdog) Stop(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel == nil {
		return ErrNotStarted
	}

	w.cancel()
	w.cancel = nil
	return nil
}

// run is the main ticker loop.
func (w *Watchdog) run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick inspects posture and nudges overdue approvals.
func (w *Watchdog) tick(ctx context.Context) {
	now := w.cfg.Now().In(w.cfg.Timezone)

	if w.cfg.GateConfigured != nil && !w.cfg.GateConfigured() {
		w.cfg.Logger.Warn("content safety scanner not configured; pre-checks are skipped and filter policies deny")
	}

	pending := w.approvals.Pending()
	w.cfg.Logger.Debug("mediation posture",
		"in_flight", len(w.calls.Active()),
		"pending_approvals", len(pending))

	quiet := w.cfg.QuietHours != nil && w.cfg.QuietHours.IsQuiet(now)

	open := make(map[string]struct{}, len(pending))
	for _, tx := range pending {
		if ctx.Err() != nil {
			return
		}
		open[tx.CallID] = struct{}{}

		if quiet || now.Sub(tx.OpenedAt) < w.cfg.RemindAfter {
			continue
		}

		w.mu.Lock()
		_, done := w.reminded[tx.CallID]
		if !done {
			w.reminded[tx.CallID] = struct{}{}
		}
		w.mu.Unlock()
		if done {
			continue
		}

		w.events.Publish(mediation.Event{
			Type:     mediation.EventApprovalReminder,
			CallID:   tx.CallID,
			Tool:     tx.Tool,
			Channel:  string(tx.Channel),
			Deadline: tx.Deadline,
			At:       now,
		})
		w.cfg.Logger.Info("approval pending reminder",
			"call_id", tx.CallID,
			"tool", tx.Tool,
			"channel", string(tx.Channel),
			"remaining", tx.Deadline.Sub(now).Round(time.Second))
	}

	// Forget transactions that reached a terminal state so the map does
	// not grow without bound.
	w.mu.Lock()
	for id := range w.reminded {
		if _, still := open[id]; !still {
			delete(w.reminded, id)
		}
	}
	w.mu.Unlock()
}
