package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/flemzord/warden/internal/audit"
)

// maxClosedRecords bounds the tombstone table used to classify late and
// duplicate resolutions. Oldest entries are evicted first.
const maxClosedRecords = 4096

// Transaction is the handle for one open approval. The exported fields are
// immutable after Open; the outcome is only readable through Await.
type Transaction struct {
	CallID    string
	Tool      string
	Channel   Channel
	ContextID string
	OpenedAt  time.Time
	Deadline  time.Time

	done    chan struct{}
	outcome Outcome
}

type closedRecord struct {
	status  Status
	channel Channel
	at      time.Time
}

// BrokerConfig configures the broker.
type BrokerConfig struct {
	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// OnAnomaly, if non-nil, receives every rejected resolution attempt.
	OnAnomaly func(audit.Anomaly)

	// Now overrides time.Now for testing.
	Now func() time.Time
}

// Broker owns approval transaction state: at most one open transaction per
// call id, a deadline per transaction, and exactly one accepted resolution.
// Everything after the first terminal transition is rejected and reported
// as an anomaly.
type Broker struct {
	logger    *slog.Logger
	onAnomaly func(audit.Anomaly)
	now       func() time.Time

	mu          sync.Mutex
	open        map[string]*Transaction
	closed      map[string]closedRecord
	closedOrder []string
	requesters  map[Channel][]Requester
}

// NewBroker creates a broker with no registered requesters.
func NewBroker(cfg BrokerConfig) *Broker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Broker{
		logger:     logger,
		onAnomaly:  cfg.OnAnomaly,
		now:        now,
		open:       make(map[string]*Transaction),
		closed:     make(map[string]closedRecord),
		requesters: make(map[Channel][]Requester),
	}
}

// RegisterRequester adds a channel adapter. Multiple adapters may serve the
// same channel; each receives every ask for it.
func (b *Broker) RegisterRequester(r Requester) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requesters[r.Channel()] = append(b.requesters[r.Channel()], r)
}

// HasChannel reports whether at least one adapter serves the channel.
func (b *Broker) HasChannel(ch Channel) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requesters[ch]) > 0
}

// Open registers a transaction for the call and delivers the ask to every
// adapter on the channel. It fails if the call already has an open
// transaction, if no adapter serves the channel, or if no adapter accepted
// the delivery.
func (b *Broker) Open(ctx context.Context, req Request) (*Transaction, error) {
	if !req.Channel.Valid() {
		return nil, fmt.Errorf("approval: invalid channel %q", req.Channel)
	}

	b.mu.Lock()
	requesters := b.requesters[req.Channel]
	if len(requesters) == 0 {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNoRequester, req.Channel)
	}
	if _, exists := b.open[req.CallID]; exists {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTransaction, req.CallID)
	}
	tx := &Transaction{
		CallID:    req.CallID,
		Tool:      req.Tool,
		Channel:   req.Channel,
		ContextID: req.ContextID,
		OpenedAt:  b.now(),
		Deadline:  req.Deadline,
		done:      make(chan struct{}),
	}
	b.open[req.CallID] = tx
	b.mu.Unlock()

	var delivered int
	var errs []error
	for _, r := range requesters {
		if err := r.Request(ctx, req); err != nil {
			errs = append(errs, err)
			continue
		}
		delivered++
	}
	if delivered == 0 {
		b.mu.Lock()
		if cur, ok := b.open[req.CallID]; ok && cur == tx {
			delete(b.open, req.CallID)
		}
		b.mu.Unlock()
		return nil, fmt.Errorf("approval: deliver request for %s: %w", req.CallID, errors.Join(errs...))
	}

	b.logger.Info("approval transaction opened",
		"call_id", req.CallID,
		"channel", req.Channel,
		"tool", req.Tool,
		"deadline", req.Deadline)
	return tx, nil
}

// Await blocks until the transaction resolves, its deadline passes, or ctx
// is cancelled, whichever happens first. Exactly one of those ends the
// transaction; the others are rejected afterwards.
func (b *Broker) Await(ctx context.Context, tx *Transaction) Outcome {
	timer := time.NewTimer(tx.Deadline.Sub(b.now()))
	defer timer.Stop()

	select {
	case <-tx.done:
		return tx.outcome
	case <-timer.C:
		if b.closeAs(tx, Outcome{Status: StatusTimedOut}) {
			b.logger.Info("approval transaction timed out",
				"call_id", tx.CallID,
				"channel", tx.Channel)
			return Outcome{Status: StatusTimedOut}
		}
		// A resolution won the race; use it.
		<-tx.done
		return tx.outcome
	case <-ctx.Done():
		if b.closeAs(tx, Outcome{Status: StatusCancelled}) {
			b.logger.Info("approval transaction cancelled",
				"call_id", tx.CallID,
				"channel", tx.Channel)
			return Outcome{Status: StatusCancelled}
		}
		<-tx.done
		return tx.outcome
	}
}

// Resolve records a responder's decision for an open transaction. A
// resolution for a terminal or unknown transaction is rejected and reported
// as an anomaly, and never alters the transaction it names.
func (b *Broker) Resolve(callID string, res Resolution) error {
	b.mu.Lock()
	tx, ok := b.open[callID]
	if !ok {
		rec, wasClosed := b.closed[callID]
		b.mu.Unlock()
		if wasClosed {
			kind := audit.AnomalyDuplicateResolution
			if rec.status == StatusTimedOut || rec.status == StatusCancelled {
				kind = audit.AnomalyLateResolution
			}
			b.anomaly(audit.Anomaly{
				CallID:  callID,
				Channel: string(rec.channel),
				Kind:    kind,
				Detail:  fmt.Sprintf("resolution after terminal status %s", rec.status),
			})
			return fmt.Errorf("%w: %s", ErrAlreadyResolved, callID)
		}
		b.anomaly(audit.Anomaly{
			CallID: callID,
			Kind:   audit.AnomalyUnknownCall,
			Detail: "resolution for a call with no transaction",
		})
		return fmt.Errorf("%w: %s", ErrUnknownTransaction, callID)
	}

	status := StatusDenied
	if res.Approved {
		status = StatusApproved
	}
	b.closeLocked(tx, Outcome{
		Status:      status,
		Reason:      res.Reason,
		ResponderID: res.ResponderID,
	})
	b.mu.Unlock()

	b.logger.Info("approval transaction resolved",
		"call_id", callID,
		"channel", tx.Channel,
		"approved", res.Approved,
		"responder", res.ResponderID)
	return nil
}

// PendingTransaction is a read-only view of one open transaction.
type PendingTransaction struct {
	CallID    string    `json:"call_id"`
	Tool      string    `json:"tool"`
	Channel   Channel   `json:"channel"`
	ContextID string    `json:"context_id,omitempty"`
	OpenedAt  time.Time `json:"opened_at"`
	Deadline  time.Time `json:"deadline"`
}

// Pending lists the open transactions, oldest first.
func (b *Broker) Pending() []PendingTransaction {
	b.mu.Lock()
	out := make([]PendingTransaction, 0, len(b.open))
	for _, tx := range b.open {
		out = append(out, PendingTransaction{
			CallID:    tx.CallID,
			Tool:      tx.Tool,
			Channel:   tx.Channel,
			ContextID: tx.ContextID,
			OpenedAt:  tx.OpenedAt,
			Deadline:  tx.Deadline,
		})
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// closeAs moves the transaction to a terminal state if it is still open.
// It reports false when something else already closed it.
func (b *Broker) closeAs(tx *Transaction, out Outcome) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.open[tx.CallID]; !ok || cur != tx {
		return false
	}
	b.closeLocked(tx, out)
	return true
}

// closeLocked finalizes a transaction. Caller holds b.mu; the outcome is
// published before done closes so Await readers always observe it.
func (b *Broker) closeLocked(tx *Transaction, out Outcome) {
	delete(b.open, tx.CallID)
	tx.outcome = out
	close(tx.done)

	b.closed[tx.CallID] = closedRecord{status: out.Status, channel: tx.Channel, at: b.now()}
	b.closedOrder = append(b.closedOrder, tx.CallID)
	if len(b.closedOrder) > maxClosedRecords {
		evict := b.closedOrder[0]
		b.closedOrder = b.closedOrder[1:]
		delete(b.closed, evict)
	}
}

func (b *Broker) anomaly(a audit.Anomaly) {
	if a.At.IsZero() {
		a.At = b.now()
	}
	b.logger.Warn("rejected approval resolution",
		"kind", a.Kind,
		"call_id", a.CallID,
		"channel", a.Channel)
	if b.onAnomaly != nil {
		b.onAnomaly(a)
	}
}
