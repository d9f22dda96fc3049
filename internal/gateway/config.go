package gateway

import (
	"time"

	"github.com/flemzord/warden/internal/config"
)

// Config holds HTTP gateway configuration.
type Config struct {
	Bind            string                      `yaml:"bind"`
	Auth            AuthConfig                  `yaml:"auth"`
	AdminCORS       CORSConfig                  `yaml:"admin_cors"`
	Webhooks        map[string]WebhookSourceCfg `yaml:"webhooks"`
	Notify          map[string]NotifyTarget     `yaml:"notify"`
	ReadTimeout     config.Duration             `yaml:"read_timeout"`
	WriteTimeout    config.Duration             `yaml:"write_timeout"`
	ShutdownTimeout config.Duration             `yaml:"shutdown_timeout"`
}

// defaults fills zero values with sensible defaults. The write timeout must
// exceed the longest approval deadline or /v1/mediate cuts waits short, so
// it defaults to zero (unlimited) and is only set when configured.
func (c *Config) defaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = config.Duration(10 * time.Second)
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = config.Duration(5 * time.Second)
	}
}

// AuthConfig configures authentication for the mediation and admin APIs.
type AuthConfig struct {
	BearerToken string `yaml:"bearer_token"`
	BasicUser   string `yaml:"basic_user"`
	BasicPass   string `yaml:"basic_pass"`
}

// IsConfigured returns true if any auth method is configured.
func (a AuthConfig) IsConfigured() bool {
	return a.BearerToken != "" || (a.BasicUser != "" && a.BasicPass != "")
}

// CORSConfig configures cross-origin access to the admin surface for the
// external policy UI.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebhookSourceCfg holds per-source inbound webhook configuration.
type WebhookSourceCfg struct {
	Secret string `yaml:"secret"`
}

// NotifyTarget is one outbound webhook destination for terminal verdicts.
type NotifyTarget struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}
