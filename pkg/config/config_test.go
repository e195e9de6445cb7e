package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("QWENGATE_CONFIG", "")
	t.Setenv("QWENGATE_TOKEN", "a-sufficiently-long-session-token")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 7050 {
		t.Errorf("Server.Port = %d, want 7050", cfg.Server.Port)
	}
	if cfg.Upstream.BaseURL != "https://qwen.aikit.club" {
		t.Errorf("Upstream.BaseURL = %q, want default", cfg.Upstream.BaseURL)
	}
	if cfg.Upstream.DefaultModel != "qwen3-max-latest" {
		t.Errorf("Upstream.DefaultModel = %q, want qwen3-max-latest", cfg.Upstream.DefaultModel)
	}
	if !cfg.Auth.Headless {
		t.Error("Auth.Headless = false, want true by default")
	}
	if cfg.Auth.RefreshMargin != 5*time.Minute {
		t.Errorf("Auth.RefreshMargin = %s, want 5m", cfg.Auth.RefreshMargin)
	}
	if !cfg.Observability.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true by default")
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9090
upstream:
  base_url: https://example.test
  default_model: qwen3-coder-plus
auth:
  email: user@example.test
  password: secret
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Upstream.BaseURL != "https://example.test" {
		t.Errorf("Upstream.BaseURL = %q, want file value", cfg.Upstream.BaseURL)
	}
	if cfg.Upstream.DefaultModel != "qwen3-coder-plus" {
		t.Errorf("Upstream.DefaultModel = %q, want file value", cfg.Upstream.DefaultModel)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Upstream.Timeout != 60*time.Second {
		t.Errorf("Upstream.Timeout = %s, want default 60s", cfg.Upstream.Timeout)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9090
auth:
  token: file-token-value-long-enough
`)
	t.Setenv("QWENGATE_PORT", "7777")
	t.Setenv("QWENGATE_MODEL", "qwen3-coder-plus")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 7777 {
		t.Errorf("Server.Port = %d, want env override 7777", cfg.Server.Port)
	}
	if cfg.Upstream.DefaultModel != "qwen3-coder-plus" {
		t.Errorf("Upstream.DefaultModel = %q, want env override", cfg.Upstream.DefaultModel)
	}
}

func TestTokenFileReference(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(tokenPath, []byte("  file-sourced-session-token\n"), 0o600); err != nil {
		t.Fatalf("writing token file: %v", err)
	}
	path := writeConfigFile(t, "auth:\n  token_file: "+tokenPath+"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Auth.Token != "file-sourced-session-token" {
		t.Errorf("Auth.Token = %q, want trimmed file content", cfg.Auth.Token)
	}
}

func TestTokenFileDoesNotOverrideExplicitToken(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(tokenPath, []byte("from-file"), 0o600); err != nil {
		t.Fatalf("writing token file: %v", err)
	}
	path := writeConfigFile(t, "auth:\n  token: explicit-token-long-enough\n  token_file: "+tokenPath+"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.Token != "explicit-token-long-enough" {
		t.Errorf("Auth.Token = %q, explicit value should win", cfg.Auth.Token)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() = nil error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Defaults()
		cfg.Auth.Token = "a-sufficiently-long-session-token"
		return cfg
	}

	tests := []struct {
		name     string
		mutate   func(*Config)
		wantPart string // empty means valid
	}{
		{
			name:   "valid with token",
			mutate: func(c *Config) {},
		},
		{
			name: "valid with login pair",
			mutate: func(c *Config) {
				c.Auth.Token = ""
				c.Auth.Email = "user@example.test"
				c.Auth.Password = "secret"
			},
		},
		{
			name:     "zero port",
			mutate:   func(c *Config) { c.Server.Port = 0 },
			wantPart: "server.port",
		},
		{
			name:     "missing base url",
			mutate:   func(c *Config) { c.Upstream.BaseURL = "" },
			wantPart: "upstream.base_url",
		},
		{
			name:     "zero max retries",
			mutate:   func(c *Config) { c.Upstream.MaxRetries = 0 },
			wantPart: "upstream.max_retries",
		},
		{
			name:     "no credential source",
			mutate:   func(c *Config) { c.Auth.Token = "" },
			wantPart: "auth",
		},
		{
			name: "email without password",
			mutate: func(c *Config) {
				c.Auth.Token = ""
				c.Auth.Email = "user@example.test"
			},
			wantPart: "auth",
		},
		{
			name:     "negative refresh margin",
			mutate:   func(c *Config) { c.Auth.RefreshMargin = -time.Second },
			wantPart: "auth.refresh_margin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantPart == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error mentioning %q", tt.wantPart)
			}
			if !strings.Contains(err.Error(), tt.wantPart) {
				t.Errorf("Validate() = %q, want mention of %q", err, tt.wantPart)
			}
		})
	}
}
