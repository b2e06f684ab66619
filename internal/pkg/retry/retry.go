// Package retry provides bounded retry with exponential backoff.
//
// Callers pass a Config explicitly; nothing in the ledger boundary retries on
// its own.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Config is a bounded retry policy.
type Config struct {
	// MaxRetries is the number of retries after the first attempt (0 means a single attempt).
	MaxRetries int

	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps exponential growth.
	MaxBackoff time.Duration

	// BackoffFactor multiplies the wait after each retry (default 2.0).
	BackoffFactor float64

	// Jitter adds rand(0, backoff) to each wait.
	Jitter bool
}

// DefaultConfig returns the ledger read policy: 3 retries, 1s doubling up to 30s.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
	}
}

func (c Config) withDefaults() Config {
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = 2.0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 10 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	return c
}

// Backoff returns the wait before retry number attempt (1-indexed), without jitter.
func (c Config) Backoff(attempt int) time.Duration {
	c = c.withDefaults()
	if attempt < 1 {
		return 0
	}
	backoff := float64(c.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= c.BackoffFactor
		if backoff >= float64(c.MaxBackoff) {
			return c.MaxBackoff
		}
	}
	return time.Duration(backoff)
}

func (c Config) wait(attempt int) time.Duration {
	d := c.Backoff(attempt)
	if c.Jitter && d > 0 {
		d += time.Duration(rand.Int63n(int64(d)))
	}
	return d
}

// IsRetryableFunc determines if an error should trigger a retry.
type IsRetryableFunc func(error) bool

// OnRetryFunc is called before each retry. attempt is 1-indexed.
type OnRetryFunc func(attempt int, err error, backoff time.Duration)

// Do calls fn until it succeeds, returns a non-retryable error, the retries
// are exhausted or ctx ends.
//
//	ok, err := retry.Do(ctx, cfg, entity.IsRetryable, nil, func() (bool, error) {
//	    return blockchain.CheckUserAccess(ctx, gw, account)
//	})
func Do[T any](
	ctx context.Context,
	cfg Config,
	isRetryable IsRetryableFunc,
	onRetry OnRetryFunc,
	fn func() (T, error),
) (T, error) {
	var zero T
	var lastErr error
	cfg = cfg.withDefaults()

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := cfg.wait(attempt)
			if onRetry != nil {
				onRetry(attempt, lastErr, backoff)
			}

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, fmt.Errorf("context cancelled while retrying: %w", ctx.Err())
			case <-timer.C:
			}
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if isRetryable == nil || !isRetryable(err) {
			return zero, err
		}
	}

	return zero, fmt.Errorf("operation failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

// DoVoid is Do for functions without a result.
func DoVoid(
	ctx context.Context,
	cfg Config,
	isRetryable IsRetryableFunc,
	onRetry OnRetryFunc,
	fn func() error,
) error {
	_, err := Do(ctx, cfg, isRetryable, onRetry, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
