// Package config provides unified configuration for the qwengate gateway.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (QWENGATE_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds all configuration for the qwengate gateway.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Upstream      UpstreamConfig      `yaml:"upstream"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 7050
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 30s
}

// UpstreamConfig holds settings for the upstream chat service.
type UpstreamConfig struct {
	BaseURL      string        `yaml:"base_url"`      // default: https://qwen.aikit.club
	Timeout      time.Duration `yaml:"timeout"`       // per non-streaming call, default: 60s
	MaxRetries   int           `yaml:"max_retries"`   // transient-failure attempts, default: 3
	DefaultModel string        `yaml:"default_model"` // default: qwen3-max-latest
}

// AuthConfig holds credential lifecycle settings. Either a preconfigured
// token or a login email/password pair must be supplied.
type AuthConfig struct {
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"` // _file variant for token
	Email     string `yaml:"email"`
	Password  string `yaml:"password"`

	LoginURL string `yaml:"login_url"` // default: chat.qwen.ai signin page
	Headless bool   `yaml:"headless"`  // default: true

	// TokenPath is where the acquired credential is persisted (owner-only
	// permissions). Default: ~/.qwengate/credential.json.
	TokenPath string `yaml:"token_path"`

	RefreshMargin  time.Duration `yaml:"refresh_margin"`   // default: 5m
	LoginTimeout   time.Duration `yaml:"login_timeout"`    // whole-login bound, default: 2m
	MinTokenLength int           `yaml:"min_token_length"` // default: 20
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            7050,
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Upstream: UpstreamConfig{
			BaseURL:      "https://qwen.aikit.club",
			Timeout:      60 * time.Second,
			MaxRetries:   3,
			DefaultModel: "qwen3-max-latest",
		},
		Auth: AuthConfig{
			LoginURL:       "https://chat.qwen.ai/auth?action=signin",
			Headless:       true,
			TokenPath:      defaultTokenPath(),
			RefreshMargin:  5 * time.Minute,
			LoginTimeout:   2 * time.Minute,
			MinTokenLength: 20,
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// defaultTokenPath places the credential file under the user's home
// directory, falling back to the working directory when home is unknown.
func defaultTokenPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".qwengate", "credential.json")
	}
	return filepath.Join(home, ".qwengate", "credential.json")
}
