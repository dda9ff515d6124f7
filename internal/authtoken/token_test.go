package authtoken

import (
	"testing"
	"time"

	"github.com/evgeniums/hatn-go/internal/apperrors"
	"github.com/evgeniums/hatn-go/internal/cryptosuite"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(cryptosuite.DefaultSuite())
	m.AddKey("v1", make([]byte, 32), true)
	return m
}

func TestMakeTokenParseTokenRoundTrip(t *testing.T) {
	m := testManager(t)
	rec := SessionRecord{SessionID: "s1", SessionCreatedAt: time.Now(), Login: "alice", Topic: "default"}

	token, err := m.MakeToken(rec, TokenSession, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	server, err := m.ParseToken(token, TokenSession)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if server.Login != "alice" || server.SessionID != "s1" || server.TokenType != TokenSession {
		t.Fatalf("unexpected server token: %+v", server)
	}
}

func TestParseTokenUnknownTag(t *testing.T) {
	m := testManager(t)
	rec := SessionRecord{SessionID: "s1", Login: "alice"}
	token, err := m.MakeToken(rec, TokenSession, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	token.Tag = "unknown"
	if _, err := m.ParseToken(token, TokenSession); !apperrors.Is(err, apperrors.CodeAuthTokenTagInvalid) {
		t.Fatalf("expected AUTH_TOKEN_TAG_INVALID, got %v", err)
	}
}

func TestParseTokenWrongType(t *testing.T) {
	m := testManager(t)
	rec := SessionRecord{SessionID: "s1", Login: "alice"}
	token, err := m.MakeToken(rec, TokenRefresh, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.ParseToken(token, TokenSession); !apperrors.Is(err, apperrors.CodeAuthTokenInvalidType) {
		t.Fatalf("expected AUTH_TOKEN_INVALID_TYPE, got %v", err)
	}
}

func TestParseTokenExpired(t *testing.T) {
	m := testManager(t)
	rec := SessionRecord{SessionID: "s1", Login: "alice"}
	token, err := m.MakeToken(rec, TokenSession, -time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.ParseToken(token, TokenSession); !apperrors.Is(err, apperrors.CodeAuthTokenExpired) {
		t.Fatalf("expected AUTH_TOKEN_EXPIRED, got %v", err)
	}
}

func TestKeyRotationKeepsAcceptingOldTag(t *testing.T) {
	m := testManager(t)
	rec := SessionRecord{SessionID: "s1", Login: "alice"}
	oldToken, err := m.MakeToken(rec, TokenSession, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m.AddKey("v2", make([]byte, 32), true)
	newToken, err := m.MakeToken(rec, TokenSession, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if newToken.Tag != "v2" {
		t.Fatalf("expected new tokens to use the newly active tag, got %q", newToken.Tag)
	}

	if _, err := m.ParseToken(oldToken, TokenSession); err != nil {
		t.Fatalf("expected old tag %q to still validate, got %v", oldToken.Tag, err)
	}
}

func TestClientTokenMarshalRoundTrip(t *testing.T) {
	m := testManager(t)
	rec := SessionRecord{SessionID: "s1", Login: "alice"}
	token, err := m.MakeToken(rec, TokenSession, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	raw, err := token.Marshal()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	parsed, err := UnmarshalClientToken(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.Tag != token.Tag {
		t.Fatalf("expected tag %q, got %q", token.Tag, parsed.Tag)
	}
	if _, err := m.ParseToken(parsed, TokenSession); err != nil {
		t.Fatalf("unexpected error validating unmarshaled token: %v", err)
	}
}
