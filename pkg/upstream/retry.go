package upstream

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy is the bounded retry schedule applied to transient upstream
// failures. A named policy rather than inline sleeps so the behavior is a
// testable parameter.
type RetryPolicy struct {
	MaxAttempts     int           // total attempts, including the first
	InitialInterval time.Duration // delay before the first retry
	MaxInterval     time.Duration // cap on the growing delay
}

// DefaultRetryPolicy matches the upstream call policy: three attempts with
// an increasing delay starting at half a second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// backOff builds the context-bound backoff schedule for one call.
func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.RandomizationFactor = 0.2
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}
