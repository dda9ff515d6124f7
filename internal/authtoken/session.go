package authtoken

import (
	"sync"
	"time"

	"github.com/evgeniums/hatn-go/internal/apperrors"
	"github.com/evgeniums/hatn-go/internal/taskctx"
	"github.com/evgeniums/hatn-go/internal/wire"
)

// serverTokenVar is the taskctx variable key a server-side auth handler
// publishes its parsed ServerToken under, for downstream method handlers
// to read via ctx.Var(serverTokenVar).
const serverTokenVar = "authtoken.server_token"

// ServerTokenFromContext retrieves the ServerToken an AuthHandler built
// by Manager.AuthHandler published for the request currently being
// handled.
func ServerTokenFromContext(ctx *taskctx.Handle) (*ServerToken, bool) {
	v, ok := ctx.Var(serverTokenVar)
	if !ok {
		return nil, false
	}
	st, ok := v.(*ServerToken)
	return st, ok
}

// AuthHandler returns a function matching rpcserver's AuthHandler shape
// (func(*taskctx.Handle, wire.RequestFrame) error) that validates the
// request's auth header as a client token of type expected, rejecting
// with CodeAuthRequired when no header is present at all and otherwise
// with whatever Manager.ParseToken reports.
func (m *Manager) AuthHandler(expected TokenType) func(ctx *taskctx.Handle, req wire.RequestFrame) error {
	return func(ctx *taskctx.Handle, req wire.RequestFrame) error {
		if len(req.AuthHeader) == 0 {
			return apperrors.New(apperrors.CodeAuthRequired)
		}
		token, err := UnmarshalClientToken(req.AuthHeader)
		if err != nil {
			return err
		}
		server, err := m.ParseToken(token, expected)
		if err != nil {
			return err
		}
		ctx.PushVar(serverTokenVar, server)
		return nil
	}
}

// ClientSession is an AuthSession (rpcclient's narrow interface) backed
// by a Manager: it lazily mints a token for the bound SessionRecord and
// re-mints one on Refresh, which rpcclient.Exec calls after a server
// rejects a request as AUTH_REQUIRED/AUTH_TOKEN_EXPIRED (spec §4.8 point
// 4).
type ClientSession struct {
	manager   *Manager
	record    SessionRecord
	tokenType TokenType
	ttl       time.Duration

	mu      sync.Mutex
	current *ClientToken
}

// NewClientSession constructs a ClientSession that mints tokens of
// tokenType with the given ttl for rec.
func NewClientSession(manager *Manager, rec SessionRecord, tokenType TokenType, ttl time.Duration) *ClientSession {
	return &ClientSession{manager: manager, record: rec, tokenType: tokenType, ttl: ttl}
}

// MakeAuthHeader returns the marshaled current token, minting one first
// if none exists yet or the existing one has expired.
func (s *ClientSession) MakeAuthHeader(ctx *taskctx.Handle, serviceID, methodID uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || !s.current.Expire.After(time.Now()) {
		token, err := s.manager.MakeToken(s.record, s.tokenType, s.ttl)
		if err != nil {
			return nil, err
		}
		s.current = token
	}
	return s.current.Marshal()
}

// Refresh discards the current token and mints a fresh one.
func (s *ClientSession) Refresh(ctx *taskctx.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, err := s.manager.MakeToken(s.record, s.tokenType, s.ttl)
	if err != nil {
		return err
	}
	s.current = token
	return nil
}
