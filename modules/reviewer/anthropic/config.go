package anthropic

import (
	"time"

	"github.com/flemzord/warden/internal/config"
)

// defaultModel is the reviewer model used when the policy names none.
// Pinned to a dated release for reproducibility.
const defaultModel = "claude-3-5-haiku-20241022"

const (
	defaultMaxTokens = 1024
	defaultTimeout   = 30 * time.Second
)

// Config holds the YAML-decoded configuration for the AI reviewer.
type Config struct {
	APIKey    string          `yaml:"api_key"`
	Model     string          `yaml:"model"`
	BaseURL   string          `yaml:"base_url"`
	MaxTokens int             `yaml:"max_tokens"`
	Timeout   config.Duration `yaml:"timeout"`
}

// defaults fills zero-value fields with sensible defaults.
func (c *Config) defaults() {
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.Timeout == 0 {
		c.Timeout = config.Duration(defaultTimeout)
	}
}
