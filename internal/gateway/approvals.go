package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/warden/internal/approval"
)

// handleListApprovals returns the open approval transactions, oldest first.
func (g *Gateway) handleListApprovals() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		pending := g.broker.Pending()
		if pending == nil {
			pending = []approval.PendingTransaction{}
		}
		writeJSON(w, http.StatusOK, pending)
	}
}

// resolveBody is the request body for POST /v1/approvals/{call_id}.
type resolveBody struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// handleResolveApproval is the generic HTTP responder. It feeds the same
// broker path as the channel modules, so duplicate and late resolutions get
// the same anomaly treatment regardless of surface.
func (g *Gateway) handleResolveApproval() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		callID := chi.URLParam(r, "call_id")
		if callID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing call id"})
			return
		}

		var body resolveBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		responder := responderID(r)
		if g.limiter != nil {
			if err := g.limiter.AllowResolution(responder); err != nil {
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many resolutions"})
				return
			}
		}

		err := g.broker.Resolve(callID, approval.Resolution{
			Approved:    body.Approved,
			Reason:      body.Reason,
			ResponderID: responder,
		})
		if err != nil {
			switch {
			case errors.Is(err, approval.ErrUnknownTransaction):
				writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			case errors.Is(err, approval.ErrAlreadyResolved):
				writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			default:
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			}
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"call_id": callID, "approved": body.Approved})
	}
}
