package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	// Public, no auth required.
	r.Get("/healthz", g.handleHealthz())
	r.Get("/metrics", g.metricsHandler())

	// Webhooks carry their own HMAC auth per source.
	r.Post("/webhooks/{source}", g.dispatcher.ServeHTTP)
	r.Post("/v1/phone/resolution", g.dispatcher.Handler("phone"))

	// Operator console websocket; token auth handled by the console module.
	if g.console != nil {
		r.Handle("/ws", g.console)
	}

	// Mediation and approval APIs require auth. Not mounted if no auth
	// configured; a mediation proxy without credentials is a foot-gun.
	if g.config.Auth.IsConfigured() {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(g.config.Auth))
			r.Route("/v1", func(r chi.Router) {
				r.Post("/mediate", g.handleMediate())
				r.Get("/calls", g.handleListCalls())
				r.Post("/calls/{call_id}/cancel", g.handleCancelCall())
				r.Get("/approvals", g.handleListApprovals())
				r.Post("/approvals/{call_id}", g.handleResolveApproval())
			})
		})

		r.Group(func(r chi.Router) {
			if g.config.AdminCORS.Enabled {
				r.Use(cors.Handler(cors.Options{
					AllowedOrigins: g.config.AdminCORS.AllowedOrigins,
					AllowedMethods: []string{"GET", "PUT", "PATCH", "POST", "DELETE", "OPTIONS"},
					AllowedHeaders: []string{"Authorization", "Content-Type"},
					MaxAge:         300,
				}))
			}
			r.Use(authMiddleware(g.config.Auth))
			r.Route("/admin", func(r chi.Router) {
				r.Get("/status", g.handleStatus())
				r.Route("/policy", func(r chi.Router) {
					r.Get("/", g.handleGetPolicy())
					r.Put("/", g.handleReplacePolicy())
					r.Patch("/", g.handlePatchPolicy())
					r.Put("/tools/{context}/{tool}", g.handleSetToolPolicy())
					r.Delete("/tools/{context}/{tool}", g.handleRemoveToolPolicy())
					r.Put("/models/{model}", g.handleTrackModel())
					r.Delete("/models/{model}", g.handleUntrackModel())
					r.Post("/preset", g.handleApplyPreset())
				})
			})
		})
	}

	return r
}

// metricsHandler serves the Prometheus registry when the app published one,
// falling back to the default gatherer.
func (g *Gateway) metricsHandler() http.HandlerFunc {
	if g.registry != nil {
		return promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{}).ServeHTTP
	}
	return promhttp.Handler().ServeHTTP
}
