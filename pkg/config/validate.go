package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for required fields and valid values.
// A validation failure is fatal at startup: the process must not begin
// serving with an incomplete credential configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	if c.Upstream.BaseURL == "" {
		errs = append(errs, fmt.Errorf("upstream.base_url is required"))
	}
	if c.Upstream.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("upstream.max_retries must be >= 1, got %d", c.Upstream.MaxRetries))
	}

	// The gateway needs either a preconfigured credential or login
	// credentials to acquire one.
	hasToken := c.Auth.Token != "" || c.Auth.TokenFile != ""
	hasLogin := c.Auth.Email != "" && c.Auth.Password != ""
	if !hasToken && !hasLogin {
		errs = append(errs, fmt.Errorf("auth: either auth.token (or auth.token_file) or auth.email and auth.password are required"))
	}

	if c.Auth.RefreshMargin < 0 {
		errs = append(errs, fmt.Errorf("auth.refresh_margin must be >= 0, got %s", c.Auth.RefreshMargin))
	}
	if c.Auth.MinTokenLength < 1 {
		errs = append(errs, fmt.Errorf("auth.min_token_length must be >= 1, got %d", c.Auth.MinTokenLength))
	}

	return errors.Join(errs...)
}
