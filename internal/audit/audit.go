// Package audit defines the append-only record written for every terminal
// mediation and the sink contract that storage backends implement. The
// dispatcher fans each record out to all registered sinks after redacting
// and bounding the argument payload.
package audit

import (
	"context"
	"time"
)

// Record is one append-only audit entry, written exactly once per tool call
// when its mediation reaches a terminal state.
type Record struct {
	CallID    string `json:"call_id"`
	ToolID    string `json:"tool_id"`
	ContextID string `json:"context_id"`
	ModelID   string `json:"model_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// ResolvedStrategy is the mitigation strategy the policy produced.
	ResolvedStrategy string `json:"resolved_strategy"`

	// ResolutionSource names the policy layer that matched (model, tool,
	// context, default) or "bypass" when mediation is disabled.
	ResolutionSource string `json:"resolution_source"`

	// GateResult is the content safety check classification, empty when the
	// gate never ran for this call.
	GateResult string `json:"gate_result,omitempty"`

	// Channel is the approval surface used (chat, phone, ai_review), empty
	// when the call terminated without opening a transaction.
	Channel string `json:"channel,omitempty"`

	Verdict string `json:"verdict"`
	Reason  string `json:"reason,omitempty"`

	// Arguments is the call's argument payload, redacted and truncated by
	// the dispatcher before any sink sees it.
	Arguments string `json:"arguments,omitempty"`

	OpenedAt   time.Time `json:"opened_at"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Elapsed returns the wall time the mediation spent in flight.
func (r Record) Elapsed() time.Duration {
	return r.ResolvedAt.Sub(r.OpenedAt)
}

// Anomaly kinds for protocol violations around approval transactions.
const (
	AnomalyLateResolution      = "late_resolution"
	AnomalyDuplicateResolution = "duplicate_resolution"
	AnomalyUnknownCall         = "unknown_call"
)

// Anomaly records a protocol violation: a resolution that arrived after its
// transaction was already terminal, a duplicate resolution, or a resolution
// for a call id nobody knows. Anomalies never alter the mediation they
// reference.
type Anomaly struct {
	CallID  string    `json:"call_id"`
	Channel string    `json:"channel,omitempty"`
	Kind    string    `json:"kind"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// Sink stores audit records. Implementations must be safe for concurrent
// use; the dispatcher calls them from many mediation goroutines.
type Sink interface {
	// Name identifies the sink in logs.
	Name() string

	// Write appends one record.
	Write(ctx context.Context, rec Record) error
}

// AnomalySink is optionally implemented by sinks that also store protocol
// anomalies. Sinks without it still receive every Record; anomalies are
// then only logged.
type AnomalySink interface {
	WriteAnomaly(ctx context.Context, a Anomaly) error
}
