// Package audittest provides test helpers and mocks for the audit package.
package audittest

import (
	"context"
	"sync"

	"github.com/flemzord/warden/internal/audit"
)

// MockSink is a configurable in-memory audit sink. It captures every record
// and anomaly it receives in addition to calling the configured funcs.
type MockSink struct {
	NameFunc         func() string
	WriteFunc        func(ctx context.Context, rec audit.Record) error
	WriteAnomalyFunc func(ctx context.Context, a audit.Anomaly) error

	mu        sync.Mutex
	records   []audit.Record
	anomalies []audit.Anomaly
}

// Name implements audit.Sink.
func (m *MockSink) Name() string {
	if m.NameFunc != nil {
		return m.NameFunc()
	}
	return "mock-sink"
}

// Write implements audit.Sink.
func (m *MockSink) Write(ctx context.Context, rec audit.Record) error {
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()

	if m.WriteFunc != nil {
		return m.WriteFunc(ctx, rec)
	}
	return nil
}

// WriteAnomaly implements audit.AnomalySink.
func (m *MockSink) WriteAnomaly(ctx context.Context, a audit.Anomaly) error {
	m.mu.Lock()
	m.anomalies = append(m.anomalies, a)
	m.mu.Unlock()

	if m.WriteAnomalyFunc != nil {
		return m.WriteAnomalyFunc(ctx, a)
	}
	return nil
}

// Records returns a copy of the captured records.
func (m *MockSink) Records() []audit.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]audit.Record, len(m.records))
	copy(out, m.records)
	return out
}

// Anomalies returns a copy of the captured anomalies.
func (m *MockSink) Anomalies() []audit.Anomaly {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]audit.Anomaly, len(m.anomalies))
	copy(out, m.anomalies)
	return out
}

// Interface guards.
var (
	_ audit.Sink        = (*MockSink)(nil)
	_ audit.AnomalySink = (*MockSink)(nil)
)
