package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flemzord/warden/internal/config"
	"github.com/flemzord/warden/internal/policy"
)

// policyStatus maps a store error onto an HTTP status: closed-set violations
// are the caller's fault, everything else is ours.
func policyStatus(err error) int {
	switch {
	case errors.Is(err, policy.ErrInvalidStrategy),
		errors.Is(err, policy.ErrUnknownContext),
		errors.Is(err, policy.ErrInvalidTier),
		errors.Is(err, policy.ErrUnknownPreset),
		errors.Is(err, policy.ErrModelNotTracked):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// policyDocument wraps the config with its version for the admin UI.
type policyDocument struct {
	Version uint64        `json:"version"`
	Policy  policy.Config `json:"policy"`
}

// handleGetPolicy returns the full policy document.
func (g *Gateway) handleGetPolicy() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		snap := g.policies.Snapshot()
		writeJSON(w, http.StatusOK, policyDocument{
			Version: snap.Version(),
			Policy:  snap.Config(),
		})
	}
}

// handleReplacePolicy swaps in a whole new document, validated atomically.
func (g *Gateway) handleReplacePolicy() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cfg policy.Config
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid policy document"})
			return
		}

		if err := g.policies.Replace(cfg); err != nil {
			writeJSON(w, policyStatus(err), map[string]string{"error": err.Error()})
			return
		}

		g.logger.Info("policy replaced via admin api")
		writeJSON(w, http.StatusOK, map[string]uint64{"version": g.policies.Snapshot().Version()})
	}
}

// policyPatch carries the scalar fields PATCH may change. Pointers
// distinguish "absent" from zero values.
type policyPatch struct {
	Enabled               *bool            `json:"enabled"`
	DefaultStrategy       *policy.Strategy `json:"default_strategy"`
	AITLModel             *string          `json:"aitl_model"`
	AITLSpotlighting      *bool            `json:"aitl_spotlighting"`
	AITLTimeout           *config.Duration `json:"aitl_timeout"`
	HITLTimeout           *config.Duration `json:"hitl_timeout"`
	PITLTimeout           *config.Duration `json:"pitl_timeout"`
	PhoneNumber           *string          `json:"phone_number"`
	ContentSafetyEndpoint *string          `json:"content_safety_endpoint"`
}

// handlePatchPolicy applies a partial update of scalar fields.
func (g *Gateway) handlePatchPolicy() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch policyPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid patch body"})
			return
		}

		err := g.policies.Update(func(cfg *policy.Config) error {
			if patch.Enabled != nil {
				cfg.Enabled = *patch.Enabled
			}
			if patch.DefaultStrategy != nil {
				cfg.DefaultStrategy = *patch.DefaultStrategy
			}
			if patch.AITLModel != nil {
				cfg.AITLModel = *patch.AITLModel
			}
			if patch.AITLSpotlighting != nil {
				cfg.AITLSpotlighting = *patch.AITLSpotlighting
			}
			if patch.AITLTimeout != nil {
				cfg.AITLTimeout = *patch.AITLTimeout
			}
			if patch.HITLTimeout != nil {
				cfg.HITLTimeout = *patch.HITLTimeout
			}
			if patch.PITLTimeout != nil {
				cfg.PITLTimeout = *patch.PITLTimeout
			}
			if patch.PhoneNumber != nil {
				cfg.PhoneNumber = *patch.PhoneNumber
			}
			if patch.ContentSafetyEndpoint != nil {
				cfg.ContentSafetyEndpoint = *patch.ContentSafetyEndpoint
			}
			return nil
		})
		if err != nil {
			writeJSON(w, policyStatus(err), map[string]string{"error": err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, map[string]uint64{"version": g.policies.Snapshot().Version()})
	}
}

// toolPolicyBody is the request body for PUT /admin/policy/tools/....
type toolPolicyBody struct {
	Strategy policy.Strategy `json:"strategy"`
}

// handleSetToolPolicy writes one context-level tool override.
func (g *Gateway) handleSetToolPolicy() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := policy.Context(chi.URLParam(r, "context"))
		tool := chi.URLParam(r, "tool")

		var body toolPolicyBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		if err := g.policies.SetToolPolicy(ctx, tool, body.Strategy); err != nil {
			writeJSON(w, policyStatus(err), map[string]string{"error": err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"context":  ctx,
			"tool":     tool,
			"strategy": body.Strategy,
		})
	}
}

// handleRemoveToolPolicy deletes one context-level tool override.
func (g *Gateway) handleRemoveToolPolicy() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := policy.Context(chi.URLParam(r, "context"))
		tool := chi.URLParam(r, "tool")

		if err := g.policies.RemoveToolPolicy(ctx, tool); err != nil {
			writeJSON(w, policyStatus(err), map[string]string{"error": err.Error()})
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// handleTrackModel activates an override column for a model.
func (g *Gateway) handleTrackModel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		model := chi.URLParam(r, "model")

		if err := g.policies.TrackModel(model); err != nil {
			writeJSON(w, policyStatus(err), map[string]string{"error": err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"model": model, "status": "tracked"})
	}
}

// handleUntrackModel deactivates a model's column. Its entries stay dormant.
func (g *Gateway) handleUntrackModel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		model := chi.URLParam(r, "model")

		if err := g.policies.UntrackModel(model); err != nil {
			writeJSON(w, policyStatus(err), map[string]string{"error": err.Error()})
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// handleApplyPreset expands a preset application into concrete overrides.
func (g *Gateway) handleApplyPreset() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var app policy.PresetApplication
		if err := json.NewDecoder(r.Body).Decode(&app); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid preset application"})
			return
		}

		if err := g.policies.ApplyPreset(app); err != nil {
			writeJSON(w, policyStatus(err), map[string]string{"error": err.Error()})
			return
		}

		writeJSON(w, http.StatusOK, map[string]uint64{"version": g.policies.Snapshot().Version()})
	}
}
