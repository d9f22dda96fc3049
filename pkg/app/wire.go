package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/flemzord/warden/internal/approval"
	"github.com/flemzord/warden/internal/audit"
	"github.com/flemzord/warden/internal/core"
	"github.com/flemzord/warden/internal/gate"
	"github.com/flemzord/warden/internal/mediation"
	"github.com/flemzord/warden/internal/metrics"
	"github.com/flemzord/warden/internal/policy"
	"github.com/flemzord/warden/internal/runner"
	"github.com/flemzord/warden/internal/security"
)

// wireMediator assembles the mediator from the services the loaded modules
// provisioned, publishes it for the gateway and the watchdog, and appends it
// to the app lifecycle. Must be called after LoadModules and before Start.
func wireMediator(
	app *core.App,
	appCtx *core.AppContext,
	meters *metrics.Metrics,
	broker *approval.Broker,
	dispatcher *audit.Dispatcher,
	limiter *security.RateLimiter,
	logger *slog.Logger,
) error {
	svc, ok := appCtx.Service("policy.store")
	if !ok {
		return errors.New("app: the policy module is required")
	}
	store, ok := svc.(*policy.Store)
	if !ok {
		return fmt.Errorf("app: policy.store has unexpected type %T", svc)
	}

	// Scanner and executor are optional; the mediator degrades to skipped
	// gate checks and verdict-only decisions without them.
	var scanner gate.Scanner
	if svc, ok := appCtx.Service("gate.scanner"); ok {
		scanner, _ = svc.(gate.Scanner)
	}
	if scanner == nil {
		logger.Warn("no content safety scanner loaded; gate checks are skipped and the filter strategy denies")
	}

	var executor runner.Executor
	if svc, ok := appCtx.Service("runner.executor"); ok {
		executor, _ = svc.(runner.Executor)
	}
	if executor == nil {
		logger.Info("no executor loaded; approved calls return verdicts without execution")
	}

	mediator, err := mediation.NewMediator(mediation.MediatorConfig{
		Policies:   store,
		Gate:       gate.New(scanner, logger),
		Broker:     broker,
		Audit:      dispatcher,
		Executor:   executor,
		Limiter:    limiter,
		OnDecision: meters.ObserveDecision,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	appCtx.RegisterService("mediation.mediator", mediator)
	appCtx.RegisterService("mediation.events", mediator.Events())

	meters.TrackInFlight(func() float64 {
		return float64(len(mediator.Active()))
	})
	meters.TrackPolicy(
		func() float64 { return float64(store.Snapshot().Version()) },
		func() float64 {
			if store.Snapshot().Enabled() {
				return 1
			}
			return 0
		},
	)

	app.AppendModule(mediation.NewModule(mediator))
	return nil
}
