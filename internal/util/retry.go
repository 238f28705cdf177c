package util

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Permanent marks err as not worth retrying. Retry returns the wrapped error
// immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Retry calls fn up to maxAttempts times, doubling the pause after each
// failure starting from baseDelay. It returns nil on the first success, the
// last error once attempts run out, or ctx.Err() when ctx ends first. An
// error wrapped with Permanent stops the loop at once.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = baseDelay
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxInterval = max(baseDelay<<10, time.Minute)
	exp.MaxElapsedTime = 0

	attempts := max(maxAttempts, 1)
	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
	return backoff.Retry(fn, b)
}
