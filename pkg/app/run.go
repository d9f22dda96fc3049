// Package app is the composition root: it loads configuration, builds the
// mediation core, loads the configured modules, and runs the process until
// a shutdown signal arrives.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/flemzord/warden/internal/approval"
	"github.com/flemzord/warden/internal/audit"
	"github.com/flemzord/warden/internal/config"
	"github.com/flemzord/warden/internal/core"
	"github.com/flemzord/warden/internal/metrics"
	"github.com/flemzord/warden/internal/security"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// DataDir overrides the default persistent data directory.
	DataDir string

	// LogLevel sets the minimum log level. Defaults to slog.LevelInfo.
	LogLevel slog.Level
}

// Run loads configuration, starts all modules, and blocks until a shutdown
// signal is received.
func Run(params RunParams) error {
	cfgPath := params.ConfigPath
	if cfgPath == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return err
		}
		cfgPath = resolved
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	// The redacting handler wraps the text handler so secrets never reach
	// the log stream, whichever module emits them.
	redactor := security.NewRedactor()
	innerHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: params.LogLevel,
	})
	logger := slog.New(security.NewRedactingHandler(innerHandler, redactor))

	logger.Info("warden starting",
		"version", params.Version,
		"commit", params.Commit,
		"config", cfgPath,
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	meters := metrics.New(registry)

	dispatcher := audit.NewDispatcher(audit.DispatcherConfig{
		Redactor:  redactor,
		OnRecord:  meters.ObserveRecord,
		OnAnomaly: meters.ObserveAnomaly,
		Logger:    logger,
	})

	// Rejected resolution attempts land in the audit trail alongside the
	// records of the calls they targeted.
	broker := approval.NewBroker(approval.BrokerConfig{
		Logger: logger,
		OnAnomaly: func(a audit.Anomaly) {
			dispatcher.WriteAnomaly(context.Background(), a)
		},
	})

	var rlCfg security.RateLimitConfig
	if cfg.Security != nil {
		rl := cfg.Security.RateLimits
		rlCfg = security.RateLimitConfig{
			MediationsPerMin:  rl.MediationsPerMin,
			PerTool:           rl.PerTool,
			ResolutionsPerMin: rl.ResolutionsPerMin,
		}
	}
	limiter := security.NewRateLimiter(rlCfg)

	dataDir := params.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	appCtx := core.NewAppContext(logger, dataDir)
	appCtx = appCtx.WithModuleConfigs(cfg.Modules)

	// Core services modules discover during Provision.
	appCtx.RegisterService("audit.dispatcher", dispatcher)
	appCtx.RegisterService("approval.broker", broker)
	appCtx.RegisterService("security.redactor", redactor)
	appCtx.RegisterService("security.ratelimiter", limiter)
	appCtx.RegisterService("metrics.registry", registry)
	appCtx.RegisterService("config.path", cfgPath)

	application := core.NewApp(appCtx)
	ids := config.Resolve(cfg)
	if err := application.LoadModules(ids); err != nil {
		return err
	}

	// Assemble the mediator from the services modules provisioned; runs
	// between LoadModules and Start.
	if err := wireMediator(application, appCtx, meters, broker, dispatcher, limiter, logger); err != nil {
		return err
	}

	if err := application.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	sig := <-sigCh
	logger.Info("shutdown signal received", "signal", sig.String())
	application.Stop()
	logger.Info("shutdown complete")
	return nil
}

// ResolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/warden/warden.yaml → ~/.config/warden/warden.yaml → ./warden.yaml
func ResolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "warden", "warden.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "warden", "warden.yaml"))
	}

	candidates = append(candidates, "warden.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

// DefaultDataDir returns the default persistent data directory.
// Uses $XDG_DATA_HOME/warden if set, otherwise ~/.local/share/warden per the XDG spec.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok {
		return filepath.Join(dir, "warden")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "warden")
}
