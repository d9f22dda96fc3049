// Package mediation owns the per-call lifecycle: it resolves a strategy for
// every tool call, runs the content safety gate, drives the call through
// the allow, deny, filter, and approval branches with bounded deadlines,
// and reports exactly one terminal verdict per call to the audit trail.
package mediation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flemzord/warden/internal/policy"
)

// ToolCallRequest describes one tool invocation entering mediation. It is
// immutable once submitted.
type ToolCallRequest struct {
	// CallID uniquely identifies the call. Assigned when empty.
	CallID string `json:"call_id"`

	ToolID    string         `json:"tool_id"`
	ContextID policy.Context `json:"context_id"`
	ModelID   string         `json:"model_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`

	// Arguments is the raw argument payload as the agent produced it.
	Arguments json.RawMessage `json:"arguments,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// normalize fills generated fields and rejects requests missing the
// identity the policy needs.
func (r *ToolCallRequest) normalize(now func() time.Time) error {
	if r.ToolID == "" {
		return ErrMissingTool
	}
	if r.ContextID == "" {
		return ErrMissingContext
	}
	if r.CallID == "" {
		r.CallID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now()
	}
	return nil
}

func (r *ToolCallRequest) String() string {
	return fmt.Sprintf("%s (%s, context %s)", r.ToolID, r.CallID, r.ContextID)
}
