package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/flemzord/warden/internal/security"
)

// maxArgumentBytes bounds the argument payload stored per record. Larger
// payloads are cut at a rune boundary.
const maxArgumentBytes = 4096

// DispatcherConfig configures the dispatcher.
type DispatcherConfig struct {
	// Redactor, if non-nil, is applied to Arguments, Reason, and anomaly
	// details before any sink sees them.
	Redactor *security.Redactor

	// OnRecord, if non-nil, is called for every dispatched record after
	// sanitizing. Used for metrics and tests.
	OnRecord func(Record)

	// OnAnomaly, if non-nil, is called for every dispatched anomaly.
	OnAnomaly func(Anomaly)

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Now overrides time.Now for testing.
	Now func() time.Time
}

// Dispatcher fans audit records out to every registered sink. A sink
// failure is logged and does not stop delivery to the remaining sinks, and
// never propagates back into the mediation that produced the record.
type Dispatcher struct {
	mu        sync.RWMutex
	sinks     []Sink
	redactor  *security.Redactor
	onRecord  func(Record)
	onAnomaly func(Anomaly)
	logger    *slog.Logger
	now       func() time.Time

	records   atomic.Uint64
	anomalies atomic.Uint64
}

// NewDispatcher creates a dispatcher with no sinks. Sinks register
// themselves during module provisioning.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		redactor:  cfg.Redactor,
		onRecord:  cfg.OnRecord,
		onAnomaly: cfg.OnAnomaly,
		logger:    logger,
		now:       now,
	}
}

// AddSink registers a sink. Safe to call while writes are in flight.
func (d *Dispatcher) AddSink(s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, s)
}

// Sinks returns the registered sink names.
func (d *Dispatcher) Sinks() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	return names
}

// Write sanitizes the record and delivers it to every sink. The caller's
// record is not mutated.
func (d *Dispatcher) Write(ctx context.Context, rec Record) {
	if rec.ResolvedAt.IsZero() {
		rec.ResolvedAt = d.now()
	}
	if d.redactor != nil {
		rec.Arguments = d.redactor.Redact(rec.Arguments)
		rec.Reason = d.redactor.Redact(rec.Reason)
	}
	rec.Arguments = truncate(rec.Arguments, maxArgumentBytes)
	d.records.Add(1)

	d.mu.RLock()
	sinks := d.sinks
	onRecord := d.onRecord
	d.mu.RUnlock()

	if onRecord != nil {
		onRecord(rec)
	}
	for _, s := range sinks {
		if err := s.Write(ctx, rec); err != nil {
			d.logger.Error("audit write failed",
				"sink", s.Name(),
				"call_id", rec.CallID,
				"error", err)
		}
	}
}

// WriteAnomaly logs a protocol violation and delivers it to every sink
// that stores anomalies.
func (d *Dispatcher) WriteAnomaly(ctx context.Context, a Anomaly) {
	if a.At.IsZero() {
		a.At = d.now()
	}
	if d.redactor != nil {
		a.Detail = d.redactor.Redact(a.Detail)
	}
	d.anomalies.Add(1)

	d.logger.Warn("approval protocol anomaly",
		"kind", a.Kind,
		"call_id", a.CallID,
		"channel", a.Channel,
		"detail", a.Detail)

	d.mu.RLock()
	sinks := d.sinks
	onAnomaly := d.onAnomaly
	d.mu.RUnlock()

	if onAnomaly != nil {
		onAnomaly(a)
	}
	for _, s := range sinks {
		as, ok := s.(AnomalySink)
		if !ok {
			continue
		}
		if err := as.WriteAnomaly(ctx, a); err != nil {
			d.logger.Error("anomaly write failed",
				"sink", s.Name(),
				"call_id", a.CallID,
				"error", err)
		}
	}
}

// Counts returns the totals dispatched since startup. Used by the status
// surface; Prometheus owns the real time series.
func (d *Dispatcher) Counts() (records, anomalies uint64) {
	return d.records.Load(), d.anomalies.Load()
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
