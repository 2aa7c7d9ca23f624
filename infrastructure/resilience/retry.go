// Package resilience provides retry with exponential backoff.
package resilience

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // 0-1, adds randomness
}

// DefaultRetryConfig allows three retries after the initial attempt, with
// backoff 1s, 2s, 4s capped at 8s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  4,
		InitialDelay: time.Second,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
	}
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Retry returns it immediately without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// delayHintError carries a server-provided delay that supersedes the schedule.
type delayHintError struct {
	err   error
	delay time.Duration
}

func (e *delayHintError) Error() string { return e.err.Error() }
func (e *delayHintError) Unwrap() error { return e.err }

// WithDelayHint wraps err with a delay (e.g. from a Retry-After header) that
// replaces the backoff schedule for the next attempt.
func WithDelayHint(err error, delay time.Duration) error {
	if err == nil {
		return nil
	}
	return &delayHintError{err: err, delay: delay}
}

// Retry executes fn with exponential backoff. Errors wrapped with Permanent
// stop the loop; errors wrapped with WithDelayHint override the next sleep.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err

		if attempt < cfg.MaxAttempts-1 {
			sleep := addJitter(delay, cfg.Jitter)
			var hint *delayHintError
			if errors.As(err, &hint) && hint.delay > 0 {
				sleep = hint.delay
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleep):
			}
			delay = nextDelay(delay, cfg)
		}
	}

	var hint *delayHintError
	if errors.As(lastErr, &hint) {
		return hint.err
	}
	return lastErr
}

func nextDelay(current time.Duration, cfg RetryConfig) time.Duration {
	next := time.Duration(float64(current) * cfg.Multiplier)
	if next > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return next
}

func addJitter(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	delta := float64(d) * jitter
	return d + time.Duration(rand.Float64()*delta*2-delta)
}
