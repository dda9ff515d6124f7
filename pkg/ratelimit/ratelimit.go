// Package ratelimit provides a token-bucket rate limiter, which the
// connection pool uses to throttle how often it dials (connpool's
// Config.DialRateLimit; CanSend does not consult it), and a passphrase
// throttle for the clientapp.passphrase_throttle config section.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config describes a token bucket.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns a permissive default bucket.
func DefaultConfig() Config {
	return Config{RequestsPerSecond: 100, Burst: 200}
}

// Limiter wraps golang.org/x/time/rate with a Reset operation and a
// read-mostly lock for concurrent reconfiguration.
type Limiter struct {
	mu      sync.RWMutex
	limiter *rate.Limiter
	cfg     Config
}

// New creates a Limiter from cfg, filling sensible defaults for zero fields.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 100
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond * 2)
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		cfg:     cfg,
	}
}

// Allow reports whether a single unit of work may proceed right now,
// consuming a token if so.
func (l *Limiter) Allow() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.RLock()
	limiter := l.limiter
	l.mu.RUnlock()
	return limiter.Wait(ctx)
}

// Reset recreates the underlying bucket from the limiter's configuration,
// discarding any accumulated burst credit.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiter = rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)
}

// PassphraseThrottle implements the clientapp.passphrase_throttle config
// section: after a failed passphrase check, callers must wait delay before
// the next attempt is accepted, and the window resets after period of no
// attempts.
type PassphraseThrottle struct {
	mu       sync.Mutex
	period   time.Duration
	delay    time.Duration
	lastFail map[string]time.Time
	blocked  map[string]time.Time
}

// NewPassphraseThrottle builds a throttle from the config section's
// period_s/delay_s values.
func NewPassphraseThrottle(periodS, delayS int) *PassphraseThrottle {
	return &PassphraseThrottle{
		period:   time.Duration(periodS) * time.Second,
		delay:    time.Duration(delayS) * time.Second,
		lastFail: make(map[string]time.Time),
		blocked:  make(map[string]time.Time),
	}
}

// Allow reports whether principal may attempt a passphrase check now.
func (t *PassphraseThrottle) Allow(principal string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if until, ok := t.blocked[principal]; ok {
		if now.Before(until) {
			return false
		}
		delete(t.blocked, principal)
	}
	if last, ok := t.lastFail[principal]; ok && now.Sub(last) > t.period {
		delete(t.lastFail, principal)
	}
	return true
}

// RecordFailure registers a failed attempt, starting (or extending) the
// throttle delay for principal.
func (t *PassphraseThrottle) RecordFailure(principal string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastFail[principal] = now
	t.blocked[principal] = now.Add(t.delay)
}

// RecordSuccess clears any throttle state for principal.
func (t *PassphraseThrottle) RecordSuccess(principal string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lastFail, principal)
	delete(t.blocked, principal)
}
