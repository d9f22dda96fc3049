// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for warden.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "approver.telegram").
	// Only modules with an entry here are loaded; compiled-in modules
	// without an entry stay inert.
	Modules map[string]yaml.Node `yaml:"modules"`

	// Security holds process-wide throttles that sit outside the module map.
	Security *SecurityConfig `yaml:"security"`
}

// SecurityConfig is the top-level security section.
type SecurityConfig struct {
	RateLimits RateLimitsConfig `yaml:"rate_limits"`
}

// RateLimitsConfig throttles mediations and approval resolutions.
// Zero values mean unlimited.
type RateLimitsConfig struct {
	// MediationsPerMin caps tool call mediations per tool id.
	MediationsPerMin int `yaml:"mediations_per_min"`

	// PerTool overrides MediationsPerMin for specific tool ids.
	PerTool map[string]int `yaml:"per_tool"`

	// ResolutionsPerMin caps approval resolutions per responder.
	ResolutionsPerMin int `yaml:"resolutions_per_min"`
}

// Load reads a YAML configuration file, expands environment variables,
// and parses it into a Config struct.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	expanded, err := expandEnv(raw)
	if err != nil {
		return nil, fmt.Errorf("config: expanding variables in %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return &cfg, nil
}
