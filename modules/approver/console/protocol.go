package console

import (
	"encoding/json"
	"time"
)

// MessageType labels console protocol messages.
type MessageType string

// Messages the server sends.
const (
	// MsgApprovalRequest carries one approval.Request needing a decision.
	MsgApprovalRequest MessageType = "approval_request"

	// MsgPending carries the full pending list, sent once on connect.
	MsgPending MessageType = "pending"

	// MsgEvent carries one mediation lifecycle event for observers.
	MsgEvent MessageType = "event"

	// MsgAck confirms a resolve was accepted.
	MsgAck MessageType = "ack"

	// MsgError reports a rejected or malformed client message.
	MsgError MessageType = "error"
)

// Messages the client sends.
const (
	// MsgResolve resolves one pending approval.
	MsgResolve MessageType = "resolve"
)

// Envelope frames every message in both directions.
type Envelope struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ResolvePayload is the client's decision for one call.
type ResolvePayload struct {
	CallID   string `json:"call_id"`
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// ErrorPayload explains a rejected message.
type ErrorPayload struct {
	Message string `json:"message"`
}

// AckPayload confirms which call a resolve landed on.
type AckPayload struct {
	CallID string `json:"call_id"`
}
