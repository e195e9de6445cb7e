package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/qwengate/qwengate/pkg/observability"
)

// AuthenticationError reports a failed login or token extraction. It is fatal
// to the refresh attempt, not to the process; callers surface it to clients
// as a generic upstream-unavailable failure and log the detail.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %s", e.Reason, e.Err)
	}
	return "authentication failed: " + e.Reason
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// IsAuthenticationError reports whether err is an AuthenticationError.
func IsAuthenticationError(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr)
}

// Acquirer obtains a fresh credential from an external source. Acquisition
// may be expensive (a full browser login); callers must go through a
// Refresher rather than invoking an Acquirer concurrently.
type Acquirer interface {
	Acquire(ctx context.Context) (*Credential, error)
}

// Refresher coordinates credential refreshes. At most one acquisition is in
// flight process-wide; concurrent callers observing an invalid credential
// join the in-flight refresh and all resume once it resolves.
type Refresher struct {
	store    *Store
	acquirer Acquirer
	timeout  time.Duration
	logger   *slog.Logger

	group singleflight.Group
}

// NewRefresher creates a Refresher writing successful acquisitions into
// store. timeout bounds a single acquisition end to end; zero selects two
// minutes, enough for a full headless login.
func NewRefresher(store *Store, acquirer Acquirer, timeout time.Duration, logger *slog.Logger) *Refresher {
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		store:    store,
		acquirer: acquirer,
		timeout:  timeout,
		logger:   logger,
	}
}

// Refresh acquires a fresh credential and stores it. Concurrent calls
// de-duplicate onto a single acquisition and share its outcome.
//
// The acquisition runs detached from the triggering caller's context: one
// client disconnecting must not abort a refresh that other requests are
// waiting on. The refresher's own timeout bounds the attempt instead.
func (r *Refresher) Refresh(ctx context.Context) error {
	result := r.group.DoChan("credential", func() (any, error) {
		acquireCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		start := time.Now()
		cred, err := r.acquirer.Acquire(acquireCtx)
		if err != nil {
			observability.CredentialRefreshes.WithLabelValues("failure").Inc()
			r.logger.Error("credential refresh failed",
				slog.String("error", err.Error()),
				slog.Duration("elapsed", time.Since(start)))
			return nil, err
		}

		if err := r.store.Set(*cred); err != nil {
			// The credential is usable even if persistence failed.
			r.logger.Warn("credential acquired but not persisted",
				slog.String("error", err.Error()))
		}

		observability.CredentialRefreshes.WithLabelValues("success").Inc()
		r.logger.Info("credential refreshed",
			slog.String("source", string(cred.Source)),
			slog.Time("expires_at", cred.ExpiresAt),
			slog.Duration("elapsed", time.Since(start)))
		return cred, nil
	})

	select {
	case res := <-result:
		return res.Err
	case <-ctx.Done():
		// The caller gave up; the shared acquisition keeps running for the
		// other waiters.
		return ctx.Err()
	}
}
