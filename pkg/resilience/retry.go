// Package resilience provides fault-tolerance primitives shared by the
// connection pool (C9) and client runtime (C10): exponential backoff retry
// and a circuit breaker.
package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures exponential backoff.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // 0..1, fraction of delay added/subtracted at random
}

// DefaultRetryConfig returns sensible defaults: 3 attempts, 100ms..10s backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// Retry runs fn up to cfg.MaxAttempts times with exponential backoff between
// attempts, stopping early on success or context cancellation.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt < cfg.MaxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(addJitter(DelayForAttempt(cfg, uint64(attempt+1)), cfg.Jitter)):
			}
		}
	}
	return lastErr
}

// DelayForAttempt returns the backoff delay before the nth retry (1-indexed:
// DelayForAttempt(cfg, 1) is the delay before the first retry), computed
// directly from the attempt number by exponentiation rather than by
// replaying every intermediate step. internal/mqueue's outbox persists only
// an attempt count between separate Drain calls (its retry schedule
// survives a process restart, unlike Retry's single blocking loop), so it
// calls this directly instead of keeping its own copy of the backoff math.
func DelayForAttempt(cfg RetryConfig, attempt uint64) time.Duration {
	if cfg.InitialDelay <= 0 {
		cfg = DefaultRetryConfig()
	}
	if attempt == 0 {
		return cfg.InitialDelay
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		return cfg.MaxDelay
	}
	return time.Duration(delay)
}

func addJitter(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	delta := float64(d) * jitter
	return d + time.Duration(rand.Float64()*delta*2-delta)
}
