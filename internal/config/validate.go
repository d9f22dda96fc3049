package config

import (
	"errors"
	"fmt"

	"github.com/flemzord/warden/internal/core"
)

// Validate checks the structural validity of a Config.
// It verifies the version field, ensures at least one module is configured,
// and checks that all referenced module IDs exist in the registry.
// Application-level requirements (e.g. which modules must be present)
// belong to the composition root, not here.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if len(cfg.Modules) == 0 {
		errs = append(errs, errors.New("config: at least one module must be configured"))
	}

	for id := range cfg.Modules {
		if _, ok := core.GetModule(id); !ok {
			errs = append(errs, fmt.Errorf("config: unknown module %q", id))
		}
	}

	return errors.Join(errs...)
}
