package authtoken

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/evgeniums/hatn-go/internal/apperrors"
)

// DefaultProtocolName/DefaultProtocolVersion is the mandatory fallback
// protocol of spec §4.10: "Default is a shared-secret MAC protocol
// (hatn/shared-secret v1)".
const (
	DefaultProtocolName    = "hatn/shared-secret"
	DefaultProtocolVersion = 1

	// JWTBearerProtocolName is the optional negotiable protocol this
	// package also offers, for peers that hold an HMAC-signed JWT minted
	// by JWTValidator.IssueJWT rather than running the shared-secret
	// handshake.
	JWTBearerProtocolName = "jwt-bearer"
)

// ProtocolOffer is one entry of a client's offered protocol list, or of
// the server's published table (spec §4.10: "(protocol_name, version,
// priority) entries").
type ProtocolOffer struct {
	Name     string
	Version  int
	Priority int
}

func (p ProtocolOffer) matches(other ProtocolOffer) bool {
	return p.Name == other.Name && p.Version == other.Version
}

// Negotiator picks the protocol a connection will authenticate with
// (spec §4.10's "Auth-protocol negotiation").
type Negotiator struct {
	entries     []ProtocolOffer
	defaultOffer ProtocolOffer
	forceReject bool
}

// NewNegotiator constructs a Negotiator whose fallback is the mandatory
// shared-secret protocol. forceReject, when true, makes Negotiate fail
// instead of falling back when the client offers nothing the server
// recognizes (spec §4.10: "configurable: force-reject or accept").
func NewNegotiator(forceReject bool) *Negotiator {
	return &Negotiator{
		defaultOffer: ProtocolOffer{Name: DefaultProtocolName, Version: DefaultProtocolVersion, Priority: 0},
		forceReject:  forceReject,
	}
}

// Register publishes one supported protocol entry.
func (n *Negotiator) Register(offer ProtocolOffer) {
	n.entries = append(n.entries, offer)
}

// Negotiate picks the highest-priority entry present in both offered
// and the server's registered table, falling back to the default unless
// forceReject is set.
func (n *Negotiator) Negotiate(offered []ProtocolOffer) (ProtocolOffer, error) {
	candidates := make([]ProtocolOffer, 0, len(n.entries))
	for _, server := range n.entries {
		for _, client := range offered {
			if server.matches(client) {
				candidates = append(candidates, server)
				break
			}
		}
	}
	if len(candidates) > 0 {
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].Priority > candidates[j].Priority })
		return candidates[0], nil
	}

	for _, client := range offered {
		if client.matches(n.defaultOffer) {
			return n.defaultOffer, nil
		}
	}
	if n.forceReject {
		return ProtocolOffer{}, apperrors.Newf(apperrors.CodeAuthForbidden, "no supported auth protocol offered")
	}
	return n.defaultOffer, nil
}

// Claims is the subset of a jwt-bearer token's claims this package
// cares about once the signature has been verified.
type Claims struct {
	jwt.RegisteredClaims
	Login string `json:"login"`
	Topic string `json:"topic"`
}

// JWTValidator verifies a bearer token and returns the session it
// grants (spec §4.10's optional jwt-bearer protocol, grounded on the
// teacher's SupabaseJWTValidator shape but reduced to HMAC-signed
// tokens this core issues and verifies itself rather than delegating to
// an external identity provider).
type JWTValidator struct {
	secret []byte
	aud    string
}

// NewJWTValidator constructs a JWTValidator. aud may be empty to skip
// audience checking.
func NewJWTValidator(secret []byte, aud string) *JWTValidator {
	return &JWTValidator{secret: secret, aud: strings.TrimSpace(aud)}
}

// Validate parses and verifies token, returning the SessionRecord it
// grants.
func (v *JWTValidator) Validate(token string) (SessionRecord, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperrors.Newf(apperrors.CodeAuthTokenInvalidType, "unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return SessionRecord{}, apperrors.Wrap(apperrors.CodeAuthTokenExpired, err)
		}
		return SessionRecord{}, apperrors.Wrap(apperrors.CodeAuthTokenTagInvalid, err)
	}
	if !parsed.Valid {
		return SessionRecord{}, apperrors.New(apperrors.CodeAuthTokenTagInvalid)
	}
	if v.aud != "" {
		validAud := false
		for _, a := range claims.Audience {
			if strings.EqualFold(strings.TrimSpace(a), v.aud) {
				validAud = true
				break
			}
		}
		if !validAud {
			return SessionRecord{}, apperrors.New(apperrors.CodeAuthForbidden)
		}
	}
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(time.Now()) {
		return SessionRecord{}, apperrors.New(apperrors.CodeAuthTokenExpired)
	}
	return SessionRecord{Login: claims.Login, Topic: claims.Topic, SessionID: claims.ID}, nil
}

// IssueJWT mints a bearer token for rec, for use by tests and by
// application code bridging an external identity provider into a
// session the core can verify itself.
func (v *JWTValidator) IssueJWT(rec SessionRecord, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        rec.SessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Login: rec.Login,
		Topic: rec.Topic,
	}
	if v.aud != "" {
		claims.Audience = jwt.ClaimStrings{v.aud}
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeSignFailed, err)
	}
	return signed, nil
}
