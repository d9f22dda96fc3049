// Package metrics exposes Prometheus instrumentation for the mediation
// flow. The mediator and audit dispatcher stay metrics-free; the
// application wires their hooks to the Observe methods here.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/flemzord/warden/internal/audit"
	"github.com/flemzord/warden/internal/mediation"
)

// Metrics holds every collector the mediation flow feeds.
type Metrics struct {
	factory promauto.Factory

	// Mediation outcomes
	MediationsTotal   *prometheus.CounterVec
	MediationDuration *prometheus.HistogramVec

	// Approval transactions
	ApprovalsTotal *prometheus.CounterVec

	// Content safety gate
	GateChecksTotal *prometheus.CounterVec

	// Audit trail
	AuditRecordsTotal prometheus.Counter
	AnomaliesTotal    *prometheus.CounterVec
}

// New creates and registers the collectors with reg. A nil reg falls back
// to the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		factory: factory,

		MediationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_mediations_total",
				Help: "Terminal mediation decisions",
			},
			[]string{"verdict", "reason"},
		),

		MediationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "warden_mediation_duration_seconds",
				Help: "Wall time from request to terminal decision",
				// Allow and deny resolve in microseconds; approval branches
				// can run to the 300s deadline.
				Buckets: []float64{0.001, 0.01, 0.1, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"strategy"},
		),

		ApprovalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_approvals_total",
				Help: "Approval transactions by channel and terminal status",
			},
			[]string{"channel", "status"}, // status: approved, denied, timed_out, cancelled
		),

		GateChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_gate_checks_total",
				Help: "Content safety gate classifications",
			},
			[]string{"result"}, // result: clean, attack, unavailable, skipped
		),

		AuditRecordsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_audit_records_total",
				Help: "Audit records dispatched to sinks",
			},
		),

		AnomaliesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_anomalies_total",
				Help: "Protocol anomalies on the approval surface",
			},
			[]string{"kind"}, // kind: late_resolution, duplicate_resolution, unknown_call
		),
	}
}

// ObserveDecision records one terminal mediation decision.
func (m *Metrics) ObserveDecision(dec mediation.Decision) {
	m.MediationsTotal.WithLabelValues(string(dec.Verdict), string(dec.Reason)).Inc()
	m.MediationDuration.WithLabelValues(string(dec.Strategy)).Observe(dec.ResolvedAt.Sub(dec.OpenedAt).Seconds())

	if dec.GateResult != "" {
		m.GateChecksTotal.WithLabelValues(string(dec.GateResult)).Inc()
	}
	if dec.Channel != "" {
		m.ApprovalsTotal.WithLabelValues(string(dec.Channel), approvalStatus(dec)).Inc()
	}
}

// ObserveRecord counts one dispatched audit record.
func (m *Metrics) ObserveRecord(audit.Record) {
	m.AuditRecordsTotal.Inc()
}

// ObserveAnomaly counts one approval-surface anomaly.
func (m *Metrics) ObserveAnomaly(a audit.Anomaly) {
	m.AnomaliesTotal.WithLabelValues(a.Kind).Inc()
}

// TrackInFlight registers a gauge sampling the live mediation count.
func (m *Metrics) TrackInFlight(fn func() float64) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "warden_calls_in_flight",
		Help: "Mediations currently between request and terminal decision",
	}, fn)
}

// TrackPolicy registers gauges sampling the policy document version and the
// master switch posture (1 enabled, 0 bypassing).
func (m *Metrics) TrackPolicy(version, enabled func() float64) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "warden_policy_version",
		Help: "Version of the active policy document",
	}, version)
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "warden_policy_enabled",
		Help: "Whether mediation is enabled (1) or bypassing every call (0)",
	}, enabled)
}

// approvalStatus maps a terminal decision on an approval channel back to
// the transaction status vocabulary.
func approvalStatus(dec mediation.Decision) string {
	switch dec.Reason {
	case mediation.ReasonRejected:
		return "denied"
	case mediation.ReasonTimeout:
		return "timed_out"
	case mediation.ReasonCancelled:
		return "cancelled"
	default:
		return "approved"
	}
}
