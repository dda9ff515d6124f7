package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterAllowRespectsBurst(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, Burst: 2})
	if !l.Allow() || !l.Allow() {
		t.Fatal("expected first two requests within burst to be allowed")
	}
	if l.Allow() {
		t.Fatal("expected third immediate request to be throttled")
	}
}

func TestPassphraseThrottleBlocksAfterFailure(t *testing.T) {
	th := NewPassphraseThrottle(60, 5)
	now := time.Now()

	if !th.Allow("alice", now) {
		t.Fatal("expected first attempt to be allowed")
	}
	th.RecordFailure("alice", now)
	if th.Allow("alice", now.Add(1*time.Second)) {
		t.Fatal("expected attempt within delay window to be blocked")
	}
	if !th.Allow("alice", now.Add(6*time.Second)) {
		t.Fatal("expected attempt after delay window to be allowed")
	}
}

func TestPassphraseThrottleRecordSuccessClears(t *testing.T) {
	th := NewPassphraseThrottle(60, 30)
	now := time.Now()
	th.RecordFailure("bob", now)
	th.RecordSuccess("bob")
	if !th.Allow("bob", now.Add(time.Second)) {
		t.Fatal("expected success to clear throttle")
	}
}
