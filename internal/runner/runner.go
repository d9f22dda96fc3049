// Package runner defines the execution contract for approved tool calls.
// The mediator is execution-agnostic: without an executor it only returns
// verdicts, with one wired it runs approved calls and carries the output
// back to the caller.
package runner

import (
	"context"
	"encoding/json"
)

// ExecRequest describes one approved call handed to an executor.
type ExecRequest struct {
	CallID    string          `json:"call_id"`
	ToolID    string          `json:"tool_id"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
}

// Output is the result of a tool execution.
type Output struct {
	// Content is the output text from the tool.
	Content string `json:"content"`

	// IsError indicates whether the output represents an error condition.
	IsError bool `json:"is_error"`
}

// Executor runs approved tool calls against a backend. Implementations
// must honor ctx cancellation; an interrupted execution returns an error.
type Executor interface {
	// Name identifies the executor in logs.
	Name() string

	// Execute runs one tool call.
	Execute(ctx context.Context, req ExecRequest) (Output, error)
}
