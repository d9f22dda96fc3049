package mediation

import (
	"log/slog"
	"sync"
	"time"
)

// EventType labels lifecycle events published to observers.
type EventType string

const (
	// EventApprovalRequested fires when a transaction opens on a channel.
	EventApprovalRequested EventType = "approval_requested"

	// EventApprovalResolved fires when a transaction reaches a terminal
	// status, including timeout and cancellation.
	EventApprovalResolved EventType = "approval_resolved"

	// EventApprovalReminder fires when a transaction has been pending long
	// enough for the watchdog to nudge its channel again.
	EventApprovalReminder EventType = "approval_reminder"

	// EventToolStarted and EventToolDone bracket execution. They carry no
	// control semantics; the state machine never waits on observers.
	EventToolStarted EventType = "tool_started"
	EventToolDone    EventType = "tool_done"

	// EventVerdict fires once per call with the terminal decision.
	EventVerdict EventType = "verdict"
)

// Event is one observer notification.
type Event struct {
	Type      EventType `json:"type"`
	CallID    string    `json:"call_id"`
	Tool      string    `json:"tool,omitempty"`
	Channel   string    `json:"channel,omitempty"`
	Verdict   string    `json:"verdict,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Deadline  time.Time `json:"deadline,omitempty"`
	At        time.Time `json:"at"`
	SessionID string    `json:"session_id,omitempty"`
}

// Notifier fans lifecycle events out to subscribers. Delivery is best
// effort: a subscriber that stops draining loses events rather than
// stalling the mediation that published them.
type Notifier struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewNotifier creates an empty notifier.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		logger: logger,
		subs:   make(map[int]chan Event),
	}
}

// Subscribe registers an observer. The returned cancel func releases the
// subscription and closes the channel.
func (n *Notifier) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	n.mu.Lock()
	id := n.next
	n.next++
	n.subs[id] = ch
	n.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking.
func (n *Notifier) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	for id, ch := range n.subs {
		select {
		case ch <- ev:
		default:
			n.logger.Debug("event dropped for slow subscriber",
				"subscriber", id,
				"type", ev.Type,
				"call_id", ev.CallID)
		}
	}
}
