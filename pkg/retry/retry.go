// Package retry provides the shared retry engine for external calls
// (LLM requests, tool invocations) with configurable backoff.
//
// Failures fall into three classes:
//   - transient (the default): retried with the configured backoff
//   - rate-limited: retried with a longer, linear backoff schedule
//   - permanent: never retried; wrap with Stop to signal this
//
// Usage:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//	    resp, err := client.Complete(ctx, req)
//	    if isAuthFailure(err) {
//	        return retry.Stop(err)
//	    }
//	    return err
//	})
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy defines the backoff algorithm for transient failures.
type Strategy int

const (
	// Exponential doubles the delay each attempt: initDelay * 2^attempt.
	Exponential Strategy = iota
	// Linear increases the delay linearly: initDelay * (attempt+1).
	Linear
	// Constant uses the same delay between every attempt.
	Constant
)

// Config controls retry behaviour.
type Config struct {
	MaxAttempts int           // Total attempts (including the first). 0 means no-op.
	InitDelay   time.Duration // Base delay before first retry.
	MaxDelay    time.Duration // Upper bound on any single transient delay.
	Strategy    Strategy      // Backoff algorithm for transient failures.
	Jitter      bool          // Add ±25% random jitter to transient delays.
}

// DefaultConfig returns the pipeline default: 3 attempts, exponential
// backoff from 1 s to 30 s with jitter enabled.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		InitDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Strategy:    Exponential,
		Jitter:      true,
	}
}

// StopError wraps an error to signal that retrying should stop
// immediately. Use for permanent failures: auth errors, malformed
// responses, invalid configuration.
type StopError struct {
	Err error
}

func (e *StopError) Error() string { return e.Err.Error() }
func (e *StopError) Unwrap() error { return e.Err }

// Stop wraps err so that Do returns it without further retries.
func Stop(err error) error {
	return &StopError{Err: err}
}

// RateLimitError wraps an error to signal the upstream is rate limiting
// or saturated. Do retries it on a longer schedule than ordinary
// transient failures: 30s + attempt*10s, capped at 120s.
type RateLimitError struct {
	Err error
}

func (e *RateLimitError) Error() string { return e.Err.Error() }
func (e *RateLimitError) Unwrap() error { return e.Err }

// RateLimited wraps err so that Do backs off on the rate-limit schedule.
func RateLimited(err error) error {
	return &RateLimitError{Err: err}
}

// sleeper is an interface for waiting, allowing tests to override
// time.After.
type sleeper interface {
	sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do executes fn up to cfg.MaxAttempts times, sleeping between failures
// according to the failure class. It returns nil on the first
// successful call, or the last error if all attempts fail. If the
// context is cancelled, ctx.Err() is returned immediately.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	return doWithSleeper(ctx, cfg, fn, realSleeper{})
}

func doWithSleeper(ctx context.Context, cfg Config, fn func() error, s sleeper) error {
	if cfg.MaxAttempts <= 0 {
		return nil
	}

	var lastErr error
	for attempt := range cfg.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var stop *StopError
		if errors.As(lastErr, &stop) {
			return stop.Err
		}

		if attempt < cfg.MaxAttempts-1 {
			var delay time.Duration
			var rl *RateLimitError
			if errors.As(lastErr, &rl) {
				delay = RateLimitDelay(attempt)
			} else {
				delay = CalcDelay(cfg, attempt)
			}
			if err := s.sleep(ctx, delay); err != nil {
				return err
			}
		}
	}
	return lastErr
}

// CalcDelay computes the transient-failure sleep duration for a given
// attempt (0-indexed).
func CalcDelay(cfg Config, attempt int) time.Duration {
	var delay time.Duration
	switch cfg.Strategy {
	case Exponential:
		f := float64(cfg.InitDelay) * math.Pow(2, float64(attempt))
		if f > float64(cfg.MaxDelay) || math.IsInf(f, 1) {
			delay = cfg.MaxDelay
		} else {
			delay = time.Duration(f)
		}
	case Linear:
		f := float64(cfg.InitDelay) * float64(attempt+1)
		if f > float64(cfg.MaxDelay) {
			delay = cfg.MaxDelay
		} else {
			delay = time.Duration(f)
		}
	case Constant:
		delay = cfg.InitDelay
	}
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.Jitter && delay > 0 {
		quarter := int64(delay) / 4
		if quarter > 0 {
			j := time.Duration(rand.Int64N(quarter))
			if rand.IntN(2) == 0 {
				delay += j
			} else {
				delay -= j
			}
		}
	}
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}

// RateLimitDelay computes the rate-limit sleep duration for a given
// attempt (0-indexed): 30s + attempt*10s, capped at 120s.
func RateLimitDelay(attempt int) time.Duration {
	d := 30*time.Second + time.Duration(attempt)*10*time.Second
	if d > 120*time.Second {
		d = 120 * time.Second
	}
	return d
}
