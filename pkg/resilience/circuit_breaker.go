package resilience

import (
	"errors"
	"sync"
	"time"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Errors returned by CircuitBreaker.Allow / Execute.
var (
	ErrCircuitOpen     = errors.New("resilience: circuit breaker is open")
	ErrTooManyRequests = errors.New("resilience: too many requests in half-open state")
)

// CircuitBreakerConfig configures trip/recovery thresholds.
type CircuitBreakerConfig struct {
	MaxFailures   int
	Timeout       time.Duration
	HalfOpenMax   int
	OnStateChange func(from, to State)
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{MaxFailures: 5, Timeout: 30 * time.Second, HalfOpenMax: 3}
}

// CircuitBreaker implements the classic closed/open/half-open state machine,
// used by the connection pool to stop hammering a peer endpoint that is
// failing connection attempts (spec §4.7 failover) and by the client
// runtime around remote calls.
type CircuitBreaker struct {
	mu           sync.Mutex
	cfg          CircuitBreakerConfig
	state        State
	failures     int
	halfOpenReqs int
	lastFailure  time.Time
}

// NewCircuitBreaker creates a CircuitBreaker, defaulting zero-value fields.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// Allow reports whether a new call may proceed, transitioning Open->HalfOpen
// once the timeout has elapsed.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.lastFailure) >= b.cfg.Timeout {
			b.transition(StateHalfOpen)
			b.halfOpenReqs = 1
			return true
		}
		return false
	case StateHalfOpen:
		if b.halfOpenReqs >= b.cfg.HalfOpenMax {
			return false
		}
		b.halfOpenReqs++
		return true
	default:
		return false
	}
}

// RecordSuccess closes the circuit from half-open, or is a no-op if closed.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
	b.failures = 0
	b.halfOpenReqs = 0
}

// RecordFailure counts a failure, tripping the circuit open once the
// threshold is reached (or immediately, from half-open).
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailure = time.Now()

	if b.state == StateHalfOpen {
		b.transition(StateOpen)
		return
	}
	b.failures++
	if b.failures >= b.cfg.MaxFailures {
		b.transition(StateOpen)
	}
}

// State returns the current state.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn if Allow permits it, recording success/failure, and
// returns ErrCircuitOpen without calling fn otherwise.
func (b *CircuitBreaker) Execute(fn func() error) error {
	if !b.Allow() {
		return ErrCircuitOpen
	}
	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

func (b *CircuitBreaker) transition(to State) {
	from := b.state
	b.state = to
	if to == StateClosed || to == StateOpen {
		b.failures = 0
		b.halfOpenReqs = 0
	}
	if b.cfg.OnStateChange != nil && from != to {
		b.cfg.OnStateChange(from, to)
	}
}
