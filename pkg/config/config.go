// Package config loads sirr's runtime configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all server configuration, loaded from environment variables.
type Config struct {
	DataDir string `env:"DATA_DIR" envDefault:"."`

	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Port int    `env:"PORT" envDefault:"8080"`

	APIKey    string `env:"API_KEY"`
	MasterKey string `env:"MASTER_KEY"`

	LicenseKey       string `env:"LICENSE_KEY"`
	LicenseOnline    bool   `env:"LICENSE_ONLINE" envDefault:"false"`
	LicenseServerURL string `env:"LICENSE_SERVER_URL" envDefault:"https://license.sirrvault.example/v1"`
	LicenseCacheTTL  string `env:"LICENSE_CACHE_TTL" envDefault:"24h"`
	MaxFreeSecrets   int    `env:"MAX_FREE_SECRETS" envDefault:"100"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"LOG_JSON" envDefault:"true"`

	SweepInterval string `env:"SWEEP_INTERVAL" envDefault:"60s"`
	MaxValueBytes int    `env:"MAX_VALUE_BYTES" envDefault:"65536"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	return cfg, nil
}

// ListenAddr returns the address the HTTP server should listen on.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SweepIntervalDuration parses SweepInterval.
func (c *Config) SweepIntervalDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.SweepInterval)
	if err != nil {
		return 0, fmt.Errorf("parsing SWEEP_INTERVAL: %w", err)
	}
	return d, nil
}

// LicenseCacheTTLDuration parses LicenseCacheTTL.
func (c *Config) LicenseCacheTTLDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.LicenseCacheTTL)
	if err != nil {
		return 0, fmt.Errorf("parsing LICENSE_CACHE_TTL: %w", err)
	}
	return d, nil
}
