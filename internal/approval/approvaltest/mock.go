// Package approvaltest provides test helpers and mocks for the approval
// package.
package approvaltest

import (
	"context"
	"sync"

	"github.com/flemzord/warden/internal/approval"
)

// MockRequester is a configurable mock implementation of approval.Requester.
// It captures every delivered request.
type MockRequester struct {
	ChannelFunc func() approval.Channel
	RequestFunc func(ctx context.Context, req approval.Request) error

	mu       sync.Mutex
	requests []approval.Request
}

// Channel implements approval.Requester.
func (m *MockRequester) Channel() approval.Channel {
	if m.ChannelFunc != nil {
		return m.ChannelFunc()
	}
	return approval.ChannelChat
}

// Request implements approval.Requester.
func (m *MockRequester) Request(ctx context.Context, req approval.Request) error {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.RequestFunc != nil {
		return m.RequestFunc(ctx, req)
	}
	return nil
}

// Requests returns a copy of the captured requests.
func (m *MockRequester) Requests() []approval.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]approval.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Interface guard.
var _ approval.Requester = (*MockRequester)(nil)
