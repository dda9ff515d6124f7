// Package authtoken implements the auth & token services of spec §4.10:
// session token issuance/validation, auth-protocol negotiation, and the
// ECDH key exchange used to establish session keys. Session creation
// itself (who may authenticate as whom) is delegated to application
// code; this package only manages the tokens and handshakes around it.
//
// Grounded on internal/cryptosuite (C4) for every cryptographic
// primitive, and on the teacher's internal/app/httpapi/auth.go for the
// shape of the optional jwt-bearer protocol (see negotiation.go).
package authtoken

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/evgeniums/hatn-go/internal/apperrors"
	"github.com/evgeniums/hatn-go/internal/cryptosuite"
)

// TokenType distinguishes a session token from a refresh token (spec
// §4.10's make_token "token type (Session or Refresh)").
type TokenType int

const (
	TokenSession TokenType = iota
	TokenRefresh
)

func (t TokenType) String() string {
	if t == TokenRefresh {
		return "Refresh"
	}
	return "Session"
}

// SessionRecord is the application-supplied session this token snapshots
// (spec §4.10: "Session creation is delegated to application code").
type SessionRecord struct {
	SessionID        string
	SessionCreatedAt time.Time
	Login            string
	Topic            string
}

// ServerToken is the server-side token of spec §4.10: {id, created_at,
// session_id, session_created_at, login, topic, token_type, expire}.
type ServerToken struct {
	ID               string    `json:"id"`
	CreatedAt        time.Time `json:"created_at"`
	SessionID        string    `json:"session_id"`
	SessionCreatedAt time.Time `json:"session_created_at"`
	Login            string    `json:"login"`
	Topic            string    `json:"topic"`
	TokenType        TokenType `json:"token_type"`
	Expire           time.Time `json:"expire"`
}

// ClientToken is the client-side token of spec §4.10: {tag, expire, ct}
// where ct is the AEAD sealing of the serialized server-side token under
// the key named by tag. CT carries its nonce prepended so the token is
// self-contained on the wire.
type ClientToken struct {
	Tag    string    `json:"tag"`
	Expire time.Time `json:"expire"`
	CT     []byte    `json:"ct"`
}

// Marshal serializes t for transport as an auth header.
func (t *ClientToken) Marshal() ([]byte, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err)
	}
	return b, nil
}

// UnmarshalClientToken parses an auth header produced by Marshal.
func UnmarshalClientToken(b []byte) (*ClientToken, error) {
	var t ClientToken
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeAuthTokenTagInvalid, err)
	}
	return &t, nil
}

// KeyVersion is one rotation slot: a tag and the AEAD key it names.
type KeyVersion struct {
	Tag string
	Key []byte
}

// Manager issues and validates tokens against a set of rotating key
// versions (spec §4.10: "rotation is supported by keeping multiple tags
// with their keys").
type Manager struct {
	suite *cryptosuite.Suite

	keys      map[string][]byte
	activeTag string
}

// NewManager constructs a Manager with no registered keys; callers must
// AddKey at least one version before MakeToken will succeed.
func NewManager(suite *cryptosuite.Suite) *Manager {
	if suite == nil {
		suite = cryptosuite.DefaultSuite()
	}
	return &Manager{suite: suite, keys: make(map[string][]byte)}
}

// AddKey registers a key version. If active is true, subsequent
// MakeToken calls use this tag until a later AddKey(_, true) call.
func (m *Manager) AddKey(tag string, key []byte, active bool) {
	m.keys[tag] = key
	if active || m.activeTag == "" {
		m.activeTag = tag
	}
}

// MakeToken issues a client-side token for rec, snapshotting it into a
// server-side token of type tokenType that expires after ttl (spec
// §4.10's make_token).
func (m *Manager) MakeToken(rec SessionRecord, tokenType TokenType, ttl time.Duration) (*ClientToken, error) {
	tag := m.activeTag
	key, ok := m.keys[tag]
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeAuthTokenTagInvalid, "no active token key registered")
	}

	now := time.Now()
	server := ServerToken{
		ID:               uuid.NewString(),
		CreatedAt:        now,
		SessionID:        rec.SessionID,
		SessionCreatedAt: rec.SessionCreatedAt,
		Login:            rec.Login,
		Topic:            rec.Topic,
		TokenType:        tokenType,
		Expire:           now.Add(ttl),
	}
	raw, err := json.Marshal(server)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err)
	}

	aead, err := m.suite.NewAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce, err := aead.RandomNonce()
	if err != nil {
		return nil, err
	}
	sealed := aead.Seal(nonce, raw, []byte(tag))
	ct := make([]byte, 0, len(nonce)+len(sealed))
	ct = append(ct, nonce...)
	ct = append(ct, sealed...)

	return &ClientToken{Tag: tag, Expire: server.Expire, CT: ct}, nil
}

// ParseToken validates token and returns the server-side token it
// encloses (spec §4.10's parse_token): unknown tag -> AUTH_TOKEN_TAG_INVALID;
// wrong token type -> AUTH_TOKEN_INVALID_TYPE; expired -> AUTH_TOKEN_EXPIRED.
func (m *Manager) ParseToken(token *ClientToken, expected TokenType) (*ServerToken, error) {
	key, ok := m.keys[token.Tag]
	if !ok {
		return nil, apperrors.New(apperrors.CodeAuthTokenTagInvalid)
	}

	aead, err := m.suite.NewAEAD(key)
	if err != nil {
		return nil, err
	}
	nonceLen := aead.NonceSize()
	if len(token.CT) < nonceLen {
		return nil, apperrors.New(apperrors.CodeAuthTokenTagInvalid)
	}
	nonce, sealed := token.CT[:nonceLen], token.CT[nonceLen:]
	raw, err := aead.Open(nonce, sealed, []byte(token.Tag))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeAuthTokenTagInvalid, err)
	}

	var server ServerToken
	if err := json.Unmarshal(raw, &server); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeAuthTokenTagInvalid, err)
	}
	if server.TokenType != expected {
		return nil, apperrors.New(apperrors.CodeAuthTokenInvalidType)
	}
	if !server.Expire.After(time.Now()) {
		return nil, apperrors.New(apperrors.CodeAuthTokenExpired)
	}
	return &server, nil
}
