// Package gateway exposes warden over HTTP: the mediation API, the approval
// surface, the admin policy API, and the observability endpoints. It binds
// to loopback by default and follows the module system pattern.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/flemzord/warden/internal/approval"
	"github.com/flemzord/warden/internal/audit"
	"github.com/flemzord/warden/internal/core"
	"github.com/flemzord/warden/internal/mediation"
	"github.com/flemzord/warden/internal/policy"
	"github.com/flemzord/warden/internal/security"
)

func init() {
	core.RegisterModule(&Gateway{})
}

// Interface guards.
var (
	_ core.Module       = (*Gateway)(nil)
	_ core.Configurable = (*Gateway)(nil)
	_ core.Provisioner  = (*Gateway)(nil)
	_ core.Validator    = (*Gateway)(nil)
	_ core.Starter      = (*Gateway)(nil)
	_ core.Stopper      = (*Gateway)(nil)
)

// Gateway is the HTTP gateway module. It is a leaf module; nothing imports
// it.
type Gateway struct {
	config     Config
	appCtx     *core.AppContext
	logger     *slog.Logger
	server     *http.Server
	dispatcher *WebhookDispatcher
	notifier   *VerdictNotifier
	startedAt  time.Time

	// Resolved lazily at Start() via service registry.
	mediator  *mediation.Mediator
	broker    *approval.Broker
	policies  *policy.Store
	auditDisp *audit.Dispatcher
	limiter   *security.RateLimiter
	registry  *prometheus.Registry
	console   http.Handler
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.http",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return err
	}
	g.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.appCtx = ctx
	g.logger = ctx.Logger
	g.dispatcher = NewWebhookDispatcher(g.logger)

	// Other modules register their inbound handlers against the dispatcher;
	// secrets come from the gateway config so they live in one place.
	ctx.RegisterService("gateway.webhook_dispatcher", g.dispatcher)
	for source := range g.config.Webhooks {
		g.logger.Info("webhook source configured", "source", source)
	}

	if !g.config.Auth.IsConfigured() {
		g.logger.Warn("gateway auth not configured; mediation and admin APIs are disabled")
	}

	return nil
}

// WebhookSecret returns the configured HMAC secret for an inbound source.
func (g *Gateway) WebhookSecret(source string) string {
	return g.config.Webhooks[source].Secret
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", g.config.Bind); err != nil {
		return errors.New("gateway: invalid bind address: " + g.config.Bind)
	}
	for name, target := range g.config.Notify {
		if target.URL == "" {
			return errors.New("gateway: notify target without url: " + name)
		}
	}
	return nil
}

// Start implements core.Starter. It resolves dependencies from the service
// registry (lazy binding) and starts the HTTP server.
func (g *Gateway) Start() error {
	if svc, ok := g.appCtx.Service("mediation.mediator"); ok {
		g.mediator, _ = svc.(*mediation.Mediator)
	}
	if g.mediator == nil {
		return errors.New("gateway: mediation.mediator service not available")
	}
	if svc, ok := g.appCtx.Service("approval.broker"); ok {
		g.broker, _ = svc.(*approval.Broker)
	}
	if g.broker == nil {
		return errors.New("gateway: approval.broker service not available")
	}
	if svc, ok := g.appCtx.Service("policy.store"); ok {
		g.policies, _ = svc.(*policy.Store)
	}
	if g.policies == nil {
		return errors.New("gateway: policy.store service not available")
	}

	// Optional collaborators; their endpoints degrade gracefully.
	if svc, ok := g.appCtx.Service("audit.dispatcher"); ok {
		g.auditDisp, _ = svc.(*audit.Dispatcher)
	}
	if svc, ok := g.appCtx.Service("security.ratelimiter"); ok {
		g.limiter, _ = svc.(*security.RateLimiter)
	}
	if svc, ok := g.appCtx.Service("metrics.registry"); ok {
		g.registry, _ = svc.(*prometheus.Registry)
	}
	if svc, ok := g.appCtx.Service("console.handler"); ok {
		g.console, _ = svc.(http.Handler)
	}

	if len(g.config.Notify) > 0 {
		g.notifier = NewVerdictNotifier(g.config.Notify, g.mediator.Events(), g.logger)
		g.notifier.Start()
	}

	g.startedAt = time.Now()

	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      g.buildRouter(),
		ReadTimeout:  g.config.ReadTimeout.Std(),
		WriteTimeout: g.config.WriteTimeout.Std(),
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway listening", "addr", g.config.Bind)
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.notifier != nil {
		g.notifier.Stop()
	}
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout.Std())
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}
