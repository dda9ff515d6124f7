package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreakerTripsAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 2, Timeout: 50 * time.Millisecond, HalfOpenMax: 1})

	if err := cb.Execute(func() error { return errors.New("boom") }); err == nil {
		t.Fatal("expected first failure to propagate")
	}
	if err := cb.Execute(func() error { return errors.New("boom") }); err == nil {
		t.Fatal("expected second failure to propagate")
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected circuit to be open after MaxFailures, got %s", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen while open, got %v", err)
	}
}

func TestCircuitBreakerHalfOpenRecovers(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Timeout: 10 * time.Millisecond, HalfOpenMax: 1})
	_ = cb.Execute(func() error { return errors.New("boom") })
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	time.Sleep(20 * time.Millisecond)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected half-open probe to succeed, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after successful probe, got %s", cb.State())
	}
}

func TestCircuitBreakerOnStateChangeCallback(t *testing.T) {
	var transitions []State
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures: 1,
		Timeout:     time.Second,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, to)
		},
	})
	_ = cb.Execute(func() error { return errors.New("boom") })
	if len(transitions) != 1 || transitions[0] != StateOpen {
		t.Fatalf("expected a single transition to open, got %v", transitions)
	}
}
