package authtoken

import (
	"testing"
	"time"

	"github.com/evgeniums/hatn-go/internal/apperrors"
)

func TestNegotiatePicksHighestPrioritySupportedMatch(t *testing.T) {
	n := NewNegotiator(false)
	n.Register(ProtocolOffer{Name: DefaultProtocolName, Version: DefaultProtocolVersion, Priority: 10})
	n.Register(ProtocolOffer{Name: JWTBearerProtocolName, Version: 1, Priority: 20})

	picked, err := n.Negotiate([]ProtocolOffer{
		{Name: DefaultProtocolName, Version: DefaultProtocolVersion},
		{Name: JWTBearerProtocolName, Version: 1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if picked.Name != JWTBearerProtocolName {
		t.Fatalf("expected jwt-bearer to win on priority, got %q", picked.Name)
	}
}

func TestNegotiateFallsBackToDefault(t *testing.T) {
	n := NewNegotiator(false)
	n.Register(ProtocolOffer{Name: JWTBearerProtocolName, Version: 1, Priority: 20})

	picked, err := n.Negotiate([]ProtocolOffer{
		{Name: DefaultProtocolName, Version: DefaultProtocolVersion},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if picked.Name != DefaultProtocolName {
		t.Fatalf("expected fallback to default, got %q", picked.Name)
	}
}

func TestNegotiateForceRejectsWithNoMatch(t *testing.T) {
	n := NewNegotiator(true)
	n.Register(ProtocolOffer{Name: JWTBearerProtocolName, Version: 1, Priority: 20})

	_, err := n.Negotiate([]ProtocolOffer{{Name: "unknown-protocol", Version: 1}})
	if !apperrors.Is(err, apperrors.CodeAuthForbidden) {
		t.Fatalf("expected AUTH_FORBIDDEN, got %v", err)
	}
}

func TestJWTValidatorIssueAndValidateRoundTrip(t *testing.T) {
	v := NewJWTValidator([]byte("test-secret"), "hatn-core")
	rec := SessionRecord{SessionID: "s1", Login: "alice", Topic: "default"}

	token, err := v.IssueJWT(rec, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := v.Validate(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Login != "alice" || got.SessionID != "s1" {
		t.Fatalf("unexpected session: %+v", got)
	}
}

func TestJWTValidatorRejectsExpiredToken(t *testing.T) {
	v := NewJWTValidator([]byte("test-secret"), "")
	rec := SessionRecord{SessionID: "s1", Login: "alice"}

	token, err := v.IssueJWT(rec, -time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := v.Validate(token); !apperrors.Is(err, apperrors.CodeAuthTokenExpired) {
		t.Fatalf("expected AUTH_TOKEN_EXPIRED, got %v", err)
	}
}

func TestJWTValidatorRejectsWrongAudience(t *testing.T) {
	v := NewJWTValidator([]byte("test-secret"), "hatn-core")
	rec := SessionRecord{SessionID: "s1", Login: "alice"}
	token, err := v.IssueJWT(rec, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	other := NewJWTValidator([]byte("test-secret"), "different-audience")
	if _, err := other.Validate(token); !apperrors.Is(err, apperrors.CodeAuthForbidden) {
		t.Fatalf("expected AUTH_FORBIDDEN, got %v", err)
	}
}
