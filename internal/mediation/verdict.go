package mediation

import (
	"time"

	"github.com/flemzord/warden/internal/approval"
	"github.com/flemzord/warden/internal/gate"
	"github.com/flemzord/warden/internal/policy"
	"github.com/flemzord/warden/internal/runner"
)

// State is the position of a call inside the mediation lifecycle.
type State string

const (
	StateCreated         State = "created"
	StateGateCheck       State = "gate_check"
	StatePendingApproval State = "pending_approval"
	StatePendingReview   State = "pending_review"
	StateExecuting       State = "executing"
	StateCompleted       State = "completed"
	StateDenied          State = "denied"
)

// Verdict is the terminal outcome of a mediation.
type Verdict string

const (
	// VerdictApproved means the call may proceed. Final verdict when no
	// executor is wired; otherwise the call moves on to execution.
	VerdictApproved Verdict = "approved"

	// VerdictCompleted means the call was approved and executed.
	VerdictCompleted Verdict = "completed"

	// VerdictDenied means the call must not run.
	VerdictDenied Verdict = "denied"
)

// Reason qualifies a denied verdict.
type Reason string

const (
	// ReasonPolicy marks a deny resolved directly from the policy.
	ReasonPolicy Reason = "policy"

	// ReasonGate marks a denial by the content safety gate: a flagged
	// payload, a failed scanner, or a filter check that could not run.
	ReasonGate Reason = "gate"

	// ReasonRejected marks an explicit denial by a responder.
	ReasonRejected Reason = "rejected"

	// ReasonTimeout marks a transaction deadline that elapsed unresolved.
	ReasonTimeout Reason = "timeout"

	// ReasonRateLimited marks a call refused because the tool exhausted its
	// mediation budget for the current window.
	ReasonRateLimited Reason = "ratelimit"

	// ReasonMisconfigured marks a call that could not proceed because its
	// channel is unusable, such as pitl without a phone number.
	ReasonMisconfigured Reason = "misconfigured"

	// ReasonCancelled marks a mediation torn down from outside.
	ReasonCancelled Reason = "cancelled"
)

// Decision is the terminal result returned to the submitter and written to
// the audit trail.
type Decision struct {
	CallID string `json:"call_id"`

	Verdict Verdict `json:"verdict"`
	Reason  Reason  `json:"reason,omitempty"`

	Strategy policy.Strategy `json:"resolved_strategy"`
	Source   policy.Source   `json:"resolution_source"`

	GateResult gate.Result      `json:"gate_result,omitempty"`
	Channel    approval.Channel `json:"channel,omitempty"`

	// Responder identifies who resolved the approval, when one ran.
	Responder string `json:"responder,omitempty"`

	// Output is the execution result, present only for completed verdicts.
	Output *runner.Output `json:"output,omitempty"`

	OpenedAt   time.Time `json:"opened_at"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Allowed reports whether the call may run (or already ran).
func (d Decision) Allowed() bool {
	return d.Verdict == VerdictApproved || d.Verdict == VerdictCompleted
}

// CallSnapshot is a read-only view of one in-flight mediation.
type CallSnapshot struct {
	CallID    string          `json:"call_id"`
	ToolID    string          `json:"tool_id"`
	ContextID policy.Context  `json:"context_id"`
	ModelID   string          `json:"model_id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	State     State           `json:"state"`
	Strategy  policy.Strategy `json:"resolved_strategy,omitempty"`

	// Channel and Deadline are set once the call is waiting on an approval.
	Channel  approval.Channel `json:"channel,omitempty"`
	Deadline time.Time        `json:"deadline,omitempty"`

	StartedAt time.Time `json:"started_at"`
}
