// Package browser implements credential acquisition by driving a headless
// Chrome instance through the upstream service's interactive login flow.
//
// The upstream exposes no token-issuing API; the session JWT only
// materializes in the browser's localStorage after a successful form login.
// Every interactive step (form wait, navigation wait, token poll) carries
// its own bound so a stuck login page surfaces an AuthenticationError
// instead of hanging the process.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/qwengate/qwengate/pkg/credential"
)

// Config holds the login automation settings.
type Config struct {
	LoginURL string
	Email    string
	Password string

	// Headless disables the visible browser window. Defaults to true; only
	// turned off for interactive debugging.
	Headless bool

	FormTimeout       time.Duration // wait for the login form to render
	NavigationTimeout time.Duration // wait for post-submit navigation
	TokenPollAttempts int           // localStorage poll attempts after login
	TokenPollInterval time.Duration // delay between poll attempts
}

// DefaultConfig returns login automation settings tuned for chat.qwen.ai.
func DefaultConfig() Config {
	return Config{
		LoginURL:          "https://chat.qwen.ai/auth?action=signin",
		Headless:          true,
		FormTimeout:       15 * time.Second,
		NavigationTimeout: 30 * time.Second,
		TokenPollAttempts: 10,
		TokenPollInterval: time.Second,
	}
}

// The login form markup changes without notice, so each field is located
// through a fallback chain rather than a single brittle selector.
var (
	emailSelectors    = []string{`input[type="email"]`, `input[name="email"]`}
	passwordSelectors = []string{`input[type="password"]`, `input[name="password"]`}
	submitSelectors   = []string{`button[type="submit"]`, `form button`}
)

// localStorage key under which the upstream stores the session JWT.
const tokenStorageKey = "token"

// Acquirer drives a headless browser login and extracts the session token.
// Logins are strictly sequential: a second Acquire blocks until the first
// browser session has finished.
type Acquirer struct {
	cfg    Config
	logger *slog.Logger

	mu sync.Mutex
}

// New creates a browser Acquirer. Zero-valued timeouts in cfg are replaced
// with the defaults.
func New(cfg Config, logger *slog.Logger) *Acquirer {
	def := DefaultConfig()
	if cfg.LoginURL == "" {
		cfg.LoginURL = def.LoginURL
	}
	if cfg.FormTimeout == 0 {
		cfg.FormTimeout = def.FormTimeout
	}
	if cfg.NavigationTimeout == 0 {
		cfg.NavigationTimeout = def.NavigationTimeout
	}
	if cfg.TokenPollAttempts == 0 {
		cfg.TokenPollAttempts = def.TokenPollAttempts
	}
	if cfg.TokenPollInterval == 0 {
		cfg.TokenPollInterval = def.TokenPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Acquirer{cfg: cfg, logger: logger}
}

// Acquire performs the full login flow and returns the extracted credential.
// Failures at any step return an AuthenticationError; the browser is always
// torn down before returning.
func (a *Acquirer) Acquire(ctx context.Context) (*credential.Credential, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cfg.Email == "" || a.cfg.Password == "" {
		return nil, &credential.AuthenticationError{Reason: "login email and password are not configured"}
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", a.cfg.Headless),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	a.logger.Info("starting browser login", slog.String("url", a.cfg.LoginURL))

	if err := a.openLoginForm(browserCtx); err != nil {
		return nil, err
	}
	if err := a.submitLogin(browserCtx); err != nil {
		return nil, err
	}
	if err := a.awaitNavigation(browserCtx); err != nil {
		return nil, err
	}

	token, err := a.pollToken(browserCtx)
	if err != nil {
		return nil, err
	}

	cred := credential.New(token, credential.SourceExtracted)
	a.logger.Info("session token extracted",
		slog.Int("token_length", len(token)),
		slog.Time("expires_at", cred.ExpiresAt))
	return &cred, nil
}

// openLoginForm navigates to the login page and waits for the form to render.
func (a *Acquirer) openLoginForm(ctx context.Context) error {
	navCtx, cancel := context.WithTimeout(ctx, a.cfg.NavigationTimeout)
	defer cancel()

	if err := chromedp.Run(navCtx, chromedp.Navigate(a.cfg.LoginURL)); err != nil {
		return &credential.AuthenticationError{Reason: "login page did not load", Err: err}
	}
	return nil
}

// submitLogin fills the credential fields and clicks submit, trying each
// selector in the fallback chain. A form that cannot be located signals an
// upstream UI change.
func (a *Acquirer) submitLogin(ctx context.Context) error {
	emailSel, err := a.waitAny(ctx, emailSelectors)
	if err != nil {
		return &credential.AuthenticationError{Reason: "email field not found (upstream login UI may have changed)", Err: err}
	}
	passwordSel, err := a.waitAny(ctx, passwordSelectors)
	if err != nil {
		return &credential.AuthenticationError{Reason: "password field not found (upstream login UI may have changed)", Err: err}
	}

	fillCtx, cancel := context.WithTimeout(ctx, a.cfg.FormTimeout)
	defer cancel()

	err = chromedp.Run(fillCtx,
		chromedp.SendKeys(emailSel, a.cfg.Email, chromedp.ByQuery),
		chromedp.SendKeys(passwordSel, a.cfg.Password, chromedp.ByQuery),
	)
	if err != nil {
		return &credential.AuthenticationError{Reason: "filling login form failed", Err: err}
	}

	for _, sel := range submitSelectors {
		clickCtx, cancelClick := context.WithTimeout(ctx, a.cfg.FormTimeout)
		err = chromedp.Run(clickCtx, chromedp.Click(sel, chromedp.ByQuery))
		cancelClick()
		if err == nil {
			return nil
		}
	}
	return &credential.AuthenticationError{Reason: "login button not found (upstream login UI may have changed)", Err: err}
}

// waitAny waits for the first selector in the chain that becomes visible
// within the form timeout and returns it.
func (a *Acquirer) waitAny(ctx context.Context, selectors []string) (string, error) {
	var lastErr error
	for _, sel := range selectors {
		waitCtx, cancel := context.WithTimeout(ctx, a.cfg.FormTimeout)
		err := chromedp.Run(waitCtx, chromedp.WaitVisible(sel, chromedp.ByQuery))
		cancel()
		if err == nil {
			return sel, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("no selector matched %v: %w", selectors, lastErr)
}

// awaitNavigation waits until the browser has left the signin page. Staying
// on the signin URL past the bound means the login was rejected.
func (a *Acquirer) awaitNavigation(ctx context.Context) error {
	deadline := time.Now().Add(a.cfg.NavigationTimeout)
	for time.Now().Before(deadline) {
		var location string
		locCtx, cancel := context.WithTimeout(ctx, a.cfg.FormTimeout)
		err := chromedp.Run(locCtx, chromedp.Location(&location))
		cancel()
		if err != nil {
			return &credential.AuthenticationError{Reason: "reading browser location failed", Err: err}
		}
		if !strings.Contains(location, "action=signin") {
			return nil
		}
		select {
		case <-ctx.Done():
			return &credential.AuthenticationError{Reason: "login cancelled", Err: ctx.Err()}
		case <-time.After(a.cfg.TokenPollInterval):
		}
	}
	return &credential.AuthenticationError{Reason: "still on signin page after login (credentials rejected or navigation timed out)"}
}

// pollToken polls localStorage for the session token with a fixed attempt
// count. Token materialization after login is asynchronous on the upstream
// side, so the first reads routinely come back empty.
func (a *Acquirer) pollToken(ctx context.Context) (string, error) {
	script := fmt.Sprintf(`window.localStorage.getItem(%q) || ""`, tokenStorageKey)

	for attempt := 1; attempt <= a.cfg.TokenPollAttempts; attempt++ {
		var token string
		evalCtx, cancel := context.WithTimeout(ctx, a.cfg.FormTimeout)
		err := chromedp.Run(evalCtx, chromedp.Evaluate(script, &token))
		cancel()
		if err != nil {
			return "", &credential.AuthenticationError{Reason: "reading localStorage failed", Err: err}
		}
		if token != "" {
			return token, nil
		}

		a.logger.Debug("session token not yet present",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", a.cfg.TokenPollAttempts))

		select {
		case <-ctx.Done():
			return "", &credential.AuthenticationError{Reason: "token poll cancelled", Err: ctx.Err()}
		case <-time.After(a.cfg.TokenPollInterval):
		}
	}
	return "", &credential.AuthenticationError{
		Reason: fmt.Sprintf("session token not found after %d attempts", a.cfg.TokenPollAttempts),
	}
}
