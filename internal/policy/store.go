package policy

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Snapshot is an immutable view of the policy document. Resolution and any
// other read path hold one snapshot for their whole operation, so an edit
// applied mid-flight is either fully visible or not at all.
type Snapshot struct {
	cfg     Config
	version uint64
	taken   time.Time
}

// Version returns the monotonically increasing document version.
func (s *Snapshot) Version() uint64 { return s.version }

// Config returns a deep copy of the document, safe for callers to serialize
// or modify.
func (s *Snapshot) Config() Config { return s.cfg.clone() }

// Enabled reports the master switch state.
func (s *Snapshot) Enabled() bool { return s.cfg.Enabled }

// AITLModel returns the reviewer model id.
func (s *Snapshot) AITLModel() string { return s.cfg.AITLModel }

// AITLSpotlighting reports whether reviewer payload text is spotlighted.
func (s *Snapshot) AITLSpotlighting() bool { return s.cfg.AITLSpotlighting }

// PhoneNumber returns the configured phone channel number.
func (s *Snapshot) PhoneNumber() string { return s.cfg.PhoneNumber }

// ContentSafetyEndpoint returns the external scanning service URL.
func (s *Snapshot) ContentSafetyEndpoint() string { return s.cfg.ContentSafetyEndpoint }

// HITLTimeout returns the chat approval deadline.
func (s *Snapshot) HITLTimeout() time.Duration { return s.cfg.HITLTimeout.Std() }

// PITLTimeout returns the phone approval deadline.
func (s *Snapshot) PITLTimeout() time.Duration { return s.cfg.PITLTimeout.Std() }

// AITLTimeout returns the AI review deadline.
func (s *Snapshot) AITLTimeout() time.Duration { return s.cfg.AITLTimeout.Std() }

// Store holds the policy document behind copy-on-write snapshots: a single
// writer mutates a deep copy and swaps it in, readers grab the current
// pointer and never block on writers.
type Store struct {
	mu     sync.RWMutex
	snap   *Snapshot
	logger *slog.Logger
}

// NewStore creates a store seeded with the given document. The document is
// validated; an invalid seed is refused.
func NewStore(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Store{
		snap: &Snapshot{
			cfg:     cfg.clone(),
			version: 1,
			taken:   time.Now(),
		},
		logger: logger,
	}, nil
}

// Snapshot returns the current immutable policy view.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Replace swaps in a whole new document after validation.
func (s *Store) Replace(cfg Config) error {
	return s.Update(func(cur *Config) error {
		cfg.applyDefaults()
		*cur = cfg
		return nil
	})
}

// Update applies fn to a deep copy of the document under the writer lock,
// validates the result, and publishes it as a new snapshot. A failed fn or
// validation leaves the current snapshot untouched.
func (s *Store) Update(fn func(cfg *Config) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snap.cfg.clone()
	if err := fn(&next); err != nil {
		return err
	}
	next.applyDefaults()
	if err := next.validate(); err != nil {
		return err
	}

	version := s.snap.version + 1
	s.snap = &Snapshot{
		cfg:     next,
		version: version,
		taken:   time.Now(),
	}
	s.logger.Info("policy updated", "version", version)
	return nil
}

// SetToolPolicy writes one context-level tool override.
func (s *Store) SetToolPolicy(ctx Context, tool string, strat Strategy) error {
	if !ctx.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownContext, ctx)
	}
	if !strat.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStrategy, strat)
	}
	return s.Update(func(cfg *Config) error {
		if cfg.ToolPolicies == nil {
			cfg.ToolPolicies = make(map[Context]map[string]Strategy)
		}
		if cfg.ToolPolicies[ctx] == nil {
			cfg.ToolPolicies[ctx] = make(map[string]Strategy)
		}
		cfg.ToolPolicies[ctx][tool] = strat
		return nil
	})
}

// RemoveToolPolicy deletes one context-level tool override.
func (s *Store) RemoveToolPolicy(ctx Context, tool string) error {
	return s.Update(func(cfg *Config) error {
		if cfg.ToolPolicies[ctx] == nil {
			return nil
		}
		delete(cfg.ToolPolicies[ctx], tool)
		if len(cfg.ToolPolicies[ctx]) == 0 {
			delete(cfg.ToolPolicies, ctx)
		}
		return nil
	})
}

// TrackModel activates an override column for a model. Existing dormant
// policies for that model become live.
func (s *Store) TrackModel(model string) error {
	if model == "" {
		return fmt.Errorf("policy: model id must not be empty")
	}
	return s.Update(func(cfg *Config) error {
		if cfg.ModelTracked(model) {
			return nil
		}
		cfg.ModelColumns = append(cfg.ModelColumns, model)
		return nil
	})
}

// UntrackModel deactivates a model's override column. Its model policies
// remain in storage as dormant data.
func (s *Store) UntrackModel(model string) error {
	return s.Update(func(cfg *Config) error {
		cols := cfg.ModelColumns[:0]
		for _, m := range cfg.ModelColumns {
			if m != model {
				cols = append(cols, m)
			}
		}
		cfg.ModelColumns = cols
		return nil
	})
}

// ApplyPreset expands a preset application into concrete overrides. The
// preset entry for each tool is looked up, shifted once for the tier, and
// written into the tool or model layer. An omitted tier is taken from the
// model_tiers classification table (standard for untabled models). Writing
// into a model layer requires the model to be tracked.
func (s *Store) ApplyPreset(app PresetApplication) error {
	preset, err := GetPreset(app.Preset)
	if err != nil {
		return err
	}
	if app.Tier != "" && !app.Tier.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTier, app.Tier)
	}
	if !app.Context.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownContext, app.Context)
	}
	if len(app.Tools) == 0 {
		return fmt.Errorf("policy: preset application lists no tools")
	}

	looked := make(map[string]Strategy, len(app.Tools))
	for tool, risk := range app.Tools {
		strat, err := preset.Lookup(app.Context, risk)
		if err != nil {
			return fmt.Errorf("tool %s: %w", tool, err)
		}
		looked[tool] = strat
	}

	return s.Update(func(cfg *Config) error {
		// The tier default reads the table under the writer lock.
		tier := app.Tier
		if tier == "" {
			tier = cfg.TierFor(app.Model)
		}
		entries := make(map[string]Strategy, len(looked))
		for tool, strat := range looked {
			entries[tool] = Shift(strat, tier)
		}

		if app.Model != "" {
			if !cfg.ModelTracked(app.Model) {
				return fmt.Errorf("%w: %q", ErrModelNotTracked, app.Model)
			}
			if cfg.ModelPolicies == nil {
				cfg.ModelPolicies = make(map[string]map[Context]map[string]Strategy)
			}
			if cfg.ModelPolicies[app.Model] == nil {
				cfg.ModelPolicies[app.Model] = make(map[Context]map[string]Strategy)
			}
			if cfg.ModelPolicies[app.Model][app.Context] == nil {
				cfg.ModelPolicies[app.Model][app.Context] = make(map[string]Strategy)
			}
			for tool, strat := range entries {
				cfg.ModelPolicies[app.Model][app.Context][tool] = strat
			}
			return nil
		}

		if cfg.ToolPolicies == nil {
			cfg.ToolPolicies = make(map[Context]map[string]Strategy)
		}
		if cfg.ToolPolicies[app.Context] == nil {
			cfg.ToolPolicies[app.Context] = make(map[string]Strategy)
		}
		for tool, strat := range entries {
			cfg.ToolPolicies[app.Context][tool] = strat
		}
		return nil
	})
}
