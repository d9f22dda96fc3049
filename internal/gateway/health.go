package gateway

import (
	"net/http"
	"time"
)

// handleHealthz is the liveness probe. It reports nothing about posture;
// /admin/status does that behind auth.
func (g *Gateway) handleHealthz() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// StatusResponse is the JSON response for GET /admin/status.
type StatusResponse struct {
	UptimeSeconds    int64  `json:"uptime_seconds"`
	Enabled          bool   `json:"enabled"`
	PolicyVersion    uint64 `json:"policy_version"`
	GateConfigured   bool   `json:"gate_configured"`
	InFlight         int    `json:"in_flight"`
	PendingApprovals int    `json:"pending_approvals"`
	AuditRecords     uint64 `json:"audit_records"`
	Anomalies        uint64 `json:"anomalies"`
	AuditSinks       []string `json:"audit_sinks,omitempty"`
}

// handleStatus returns the mediation posture summary.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		snap := g.policies.Snapshot()

		resp := StatusResponse{
			UptimeSeconds:    int64(time.Since(g.startedAt) / time.Second),
			Enabled:          snap.Enabled(),
			PolicyVersion:    snap.Version(),
			InFlight:         len(g.mediator.Active()),
			PendingApprovals: len(g.broker.Pending()),
		}

		_, resp.GateConfigured = g.appCtx.Service("gate.scanner")

		if g.auditDisp != nil {
			resp.AuditRecords, resp.Anomalies = g.auditDisp.Counts()
			resp.AuditSinks = g.auditDisp.Sinks()
		}

		writeJSON(w, http.StatusOK, resp)
	}
}
