package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsWithoutRetryingOnFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), DefaultRetryConfig(), func() error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Fatalf("calls=%d err=%v", calls, err)
	}
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2}
	calls := 0
	boom := errors.New("boom")
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return boom
	})
	if calls != 3 || !errors.Is(err, boom) {
		t.Fatalf("calls=%d err=%v", calls, err)
	}
}

func TestRetryStopsOnContextCancellation(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, cfg, func() error { return errors.New("boom") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDelayForAttemptGrowsExponentiallyAndCaps(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	cases := []struct {
		attempt uint64
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second}, // 1600ms capped at MaxDelay
	}
	for _, tc := range cases {
		got := DelayForAttempt(cfg, tc.attempt)
		if got != tc.want {
			t.Fatalf("DelayForAttempt(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestDelayForAttemptFallsBackOnZeroInitialDelay(t *testing.T) {
	got := DelayForAttempt(RetryConfig{}, 1)
	if got != DefaultRetryConfig().InitialDelay {
		t.Fatalf("expected default initial delay, got %v", got)
	}
}
