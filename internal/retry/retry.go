// Package retry wraps fallible operations with bounded exponential
// backoff. The executor is policy-agnostic: it retries unconditionally on
// any failure up to the limit; classifying errors is the caller's job.
package retry

import (
	"context"
	"time"
)

// Config controls retry behavior.
type Config struct {
	// MaxRetries is the number of retries after the first attempt, so an
	// operation is invoked at most MaxRetries+1 times.
	MaxRetries int
	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the exponentially growing delay.
	MaxDelay time.Duration
}

// DefaultConfig returns the standard retry policy.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
	}
}

// Do invokes op until it succeeds or the retry budget is exhausted,
// doubling the delay between attempts up to cfg.MaxDelay. It returns the
// first successful result or the last error. Waiting respects ctx; a
// cancelled context returns ctx.Err immediately.
func Do[T any](ctx context.Context, cfg Config, op func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := 0
	delay := cfg.InitialDelay

	for {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		attempts++
		if attempts > cfg.MaxRetries {
			return zero, err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}
