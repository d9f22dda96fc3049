package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/warden/internal/mediation"
)

// handleMediate runs one tool call through the full mediation synchronously.
// The request context is the mediation context: a client that disconnects
// while waiting tears the call down as cancelled.
func (g *Gateway) handleMediate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req mediation.ToolCallRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		dec, err := g.mediator.Mediate(r.Context(), req)
		if err != nil {
			switch {
			case errors.Is(err, mediation.ErrMissingTool), errors.Is(err, mediation.ErrMissingContext):
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			case errors.Is(err, mediation.ErrDuplicateCall):
				writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			case errors.Is(err, mediation.ErrShuttingDown):
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			default:
				g.logger.Error("mediate failed", "error", err)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			}
			return
		}

		writeJSON(w, http.StatusOK, dec)
	}
}

// handleListCalls returns the in-flight mediation snapshots, oldest first.
func (g *Gateway) handleListCalls() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		calls := g.mediator.Active()
		if calls == nil {
			calls = []mediation.CallSnapshot{}
		}
		writeJSON(w, http.StatusOK, calls)
	}
}

// handleCancelCall tears down one in-flight mediation. The owning goroutine
// still produces the terminal denied/cancelled decision and audit record.
func (g *Gateway) handleCancelCall() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		callID := chi.URLParam(r, "call_id")
		if callID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing call id"})
			return
		}

		if err := g.mediator.Cancel(callID); err != nil {
			if errors.Is(err, mediation.ErrUnknownCall) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
	}
}

// writeJSON encodes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
