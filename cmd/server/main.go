// Command server runs the qwengate gateway: an OpenAI-compatible
// chat-completion front for chat.qwen.ai, authenticated via an automated
// browser login or a preconfigured session token.
//
// Configuration is layered: built-in defaults, a YAML config file
// (-config flag, QWENGATE_CONFIG, ./config.yaml, /etc/qwengate/config.yaml),
// then QWENGATE_* environment overrides. See pkg/config.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qwengate/qwengate/pkg/config"
	"github.com/qwengate/qwengate/pkg/credential"
	"github.com/qwengate/qwengate/pkg/credential/browser"
	"github.com/qwengate/qwengate/pkg/gateway"
	"github.com/qwengate/qwengate/pkg/models"
	"github.com/qwengate/qwengate/pkg/observability"
	"github.com/qwengate/qwengate/pkg/upstream"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	setupLogging()

	if err := run(*configPath); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Credential store, reloading any persisted session from a previous run.
	store := credential.NewStore(cfg.Auth.TokenPath, cfg.Auth.MinTokenLength)
	if err := store.Load(); err != nil {
		slog.Warn("persisted credential not loaded", "error", err.Error())
	}

	// A preconfigured token short-circuits browser automation entirely.
	var acquirer credential.Acquirer
	if cfg.Auth.Token != "" {
		acquirer = credential.NewStaticAcquirer(cfg.Auth.Token)
		slog.Info("using preconfigured credential")
	} else {
		acquirer = browser.New(browser.Config{
			LoginURL: cfg.Auth.LoginURL,
			Email:    cfg.Auth.Email,
			Password: cfg.Auth.Password,
			Headless: cfg.Auth.Headless,
		}, slog.Default())
		slog.Info("using browser login", "email", maskEmail(cfg.Auth.Email))
	}

	refresher := credential.NewRefresher(store, acquirer, cfg.Auth.LoginTimeout, slog.Default())

	client := upstream.NewClient(
		cfg.Upstream.BaseURL,
		func() string {
			if cred := store.Get(); cred != nil {
				return cred.Token
			}
			return ""
		},
		cfg.Upstream.Timeout,
		upstream.RetryPolicy{
			MaxAttempts:     cfg.Upstream.MaxRetries,
			InitialInterval: upstream.DefaultRetryPolicy().InitialInterval,
			MaxInterval:     upstream.DefaultRetryPolicy().MaxInterval,
		},
		slog.Default(),
	)
	defer client.Close()

	resolver := models.NewResolver(cfg.Upstream.DefaultModel)

	gw := gateway.New(store, refresher, resolver, client, gateway.Config{
		RefreshMargin: cfg.Auth.RefreshMargin,
	}, slog.Default())

	mux := http.NewServeMux()
	mux.Handle("/", observability.MetricsMiddleware(gw.Handler()))
	if cfg.Observability.Metrics.Enabled {
		mux.Handle("GET "+cfg.Observability.Metrics.Path, promhttp.Handler())
	}

	srv := gateway.NewServer(mux, gateway.ServerConfig{
		Addr:            fmt.Sprintf(":%d", cfg.Server.Port),
		ReadTimeout:     cfg.Server.ReadTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, slog.Default())

	slog.Info("gateway configured",
		"port", cfg.Server.Port,
		"upstream", cfg.Upstream.BaseURL,
		"default_model", resolver.Default())

	return srv.ListenAndServe()
}

// setupLogging configures the process-wide structured logger. The level is
// taken from QWENGATE_LOG_LEVEL (debug, info, warn, error; default info).
func setupLogging() {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("QWENGATE_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// maskEmail hides most of an address for log output.
func maskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 1 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
