// Package approval implements the transaction protocol between the
// mediation pipeline and the approval surfaces: chat, phone, and the AI
// reviewer. The broker owns transaction state, deadlines, and the
// exactly-one-resolution guarantee; channel adapters only deliver requests
// and call back with a decision.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Channel identifies an approval surface.
type Channel string

const (
	ChannelChat     Channel = "chat"
	ChannelPhone    Channel = "phone"
	ChannelAIReview Channel = "ai_review"
)

// Valid reports whether the channel is one of the known surfaces.
func (c Channel) Valid() bool {
	switch c {
	case ChannelChat, ChannelPhone, ChannelAIReview:
		return true
	}
	return false
}

// Status is the terminal state of an approval transaction.
type Status string

const (
	StatusApproved  Status = "approved"
	StatusDenied    Status = "denied"
	StatusTimedOut  Status = "timed_out"
	StatusCancelled Status = "cancelled"
)

// Resolution is a responder's decision for one transaction. Anything that
// is not an explicit approval is a denial; there is no partial value.
type Resolution struct {
	Approved    bool   `json:"approved"`
	Reason      string `json:"reason,omitempty"`
	ResponderID string `json:"responder_id,omitempty"`
}

// Outcome is what Await returns: how the transaction ended and, for
// responder-driven endings, who said what.
type Outcome struct {
	Status      Status
	Reason      string
	ResponderID string
}

// Request is the ask delivered to a channel adapter when a transaction
// opens.
type Request struct {
	CallID    string          `json:"call_id"`
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Channel   Channel         `json:"channel"`
	ContextID string          `json:"context_id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Deadline  time.Time       `json:"deadline"`

	// ReviewModel is the model the AI reviewer should use. Only set for
	// ai_review transactions.
	ReviewModel string `json:"review_model,omitempty"`

	// PhoneNumber is the number to call for the approval. Only set for
	// phone transactions.
	PhoneNumber string `json:"phone_number,omitempty"`
}

// Requester delivers approval requests for one channel. Implementations
// must return promptly; long-running work (polling a chat, dialing a phone,
// running a review) belongs in their own goroutines, which report back via
// Broker.Resolve.
type Requester interface {
	// Channel returns the surface this requester serves.
	Channel() Channel

	// Request delivers one approval ask. An error means the ask could not
	// be delivered at all and the transaction is torn down.
	Request(ctx context.Context, req Request) error
}

// Broker errors.
var (
	// ErrDuplicateTransaction is returned by Open when the call already has
	// an open transaction.
	ErrDuplicateTransaction = errors.New("approval: transaction already open for call")

	// ErrNoRequester is returned by Open when no adapter serves the
	// requested channel.
	ErrNoRequester = errors.New("approval: no requester registered for channel")

	// ErrUnknownTransaction is returned by Resolve for a call id that never
	// had a transaction.
	ErrUnknownTransaction = errors.New("approval: unknown transaction")

	// ErrAlreadyResolved is returned by Resolve when the transaction is
	// already terminal, whether resolved, timed out, or cancelled.
	ErrAlreadyResolved = errors.New("approval: transaction already terminal")
)
