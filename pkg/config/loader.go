package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, QWENGATE_CONFIG env, ./config.yaml, /etc/qwengate/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. QWENGATE_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/qwengate/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("QWENGATE_CONFIG"); envPath != "" {
		return envPath
	}
	candidates := []string{
		"config.yaml",
		"/etc/qwengate/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps environment variables to config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("QWENGATE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("QWENGATE_UPSTREAM_URL"); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := os.Getenv("QWENGATE_MODEL"); v != "" {
		cfg.Upstream.DefaultModel = v
	}
	if v := os.Getenv("QWENGATE_TOKEN"); v != "" {
		cfg.Auth.Token = v
	}
	if v := os.Getenv("QWENGATE_EMAIL"); v != "" {
		cfg.Auth.Email = v
	}
	if v := os.Getenv("QWENGATE_PASSWORD"); v != "" {
		cfg.Auth.Password = v
	}
	if v := os.Getenv("QWENGATE_TOKEN_PATH"); v != "" {
		cfg.Auth.TokenPath = v
	}
	if v := os.Getenv("QWENGATE_REFRESH_MARGIN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Auth.RefreshMargin = d
		}
	}
	if v := os.Getenv("QWENGATE_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Auth.Headless = b
		}
	}
}

// resolveFileReferences reads _file fields and populates the corresponding
// value fields. For each field ending in _file, if the value field is empty
// and the file field is set, the file is read, whitespace is trimmed, and
// the value field is populated.
func resolveFileReferences(cfg *Config) error {
	if cfg.Auth.TokenFile != "" && cfg.Auth.Token == "" {
		val, err := readSecretFile(cfg.Auth.TokenFile)
		if err != nil {
			return fmt.Errorf("auth.token_file: %w", err)
		}
		cfg.Auth.Token = val
	}
	return nil
}

// readSecretFile reads a file and returns its content with surrounding
// whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
