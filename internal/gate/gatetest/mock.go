// Package gatetest provides test helpers and mocks for the gate package.
package gatetest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/flemzord/warden/internal/gate"
)

// MockScanner is a configurable mock implementation of gate.Scanner. The
// zero value reports every payload clean.
type MockScanner struct {
	NameFunc func() string
	ScanFunc func(ctx context.Context, tool string, args json.RawMessage) (gate.Report, error)

	mu        sync.Mutex
	ScanCalls int
}

// Name implements gate.Scanner.
func (m *MockScanner) Name() string {
	if m.NameFunc != nil {
		return m.NameFunc()
	}
	return "mock-scanner"
}

// Scan implements gate.Scanner.
func (m *MockScanner) Scan(ctx context.Context, tool string, args json.RawMessage) (gate.Report, error) {
	m.mu.Lock()
	m.ScanCalls++
	m.mu.Unlock()

	if m.ScanFunc != nil {
		return m.ScanFunc(ctx, tool, args)
	}
	return gate.Report{}, nil
}

// Interface guard.
var _ gate.Scanner = (*MockScanner)(nil)
