package rpcserver

import (
	"bufio"
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/evgeniums/hatn-go/internal/apperrors"
	"github.com/evgeniums/hatn-go/internal/logging"
	"github.com/evgeniums/hatn-go/internal/taskctx"
	"github.com/evgeniums/hatn-go/internal/wire"
)

// Server is the raw-connection RPC server runtime of spec §4.9.
type Server struct {
	ln       net.Listener
	auth     *AuthDispatcher
	services *Dispatcher
	env      *Environment
	logger   *logging.Logger

	ctxPool sync.Pool // *taskctx.Handle, pre-warmed for low per-request jitter

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	closing atomic.Bool
	wg      sync.WaitGroup
}

// NewServer constructs a Server around an already-bound listener. logger
// may be nil to disable per-request logging.
func NewServer(ln net.Listener, auth *AuthDispatcher, services *Dispatcher, env *Environment, logger *logging.Logger) *Server {
	s := &Server{
		ln:       ln,
		auth:     auth,
		services: services,
		env:      env,
		logger:   logger,
		conns:    make(map[net.Conn]struct{}),
	}
	s.ctxPool.New = func() any {
		return taskctx.MakeContext(context.Background(), "rpc-request", nil)
	}
	// Warm the pool so the first requests on a fresh server don't pay
	// allocation cost (spec §4.9: "pre-allocated from a pool for low
	// jitter").
	const warmCount = 16
	warmed := make([]*taskctx.Handle, warmCount)
	for i := range warmed {
		warmed[i] = s.ctxPool.Get().(*taskctx.Handle)
	}
	for _, h := range warmed {
		s.ctxPool.Put(h)
	}
	return s
}

// Serve accepts connections until the listener is closed by Shutdown.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.closing.Load() {
				return nil
			}
			return err
		}
		s.trackConn(conn)
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) trackConn(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrackConn(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrackConn(conn)
	defer conn.Close()

	r := bufio.NewReader(conn)
	var writeMu sync.Mutex
	for {
		if s.closing.Load() {
			return
		}
		body, err := wire.ReadFrame(r)
		if err != nil {
			return
		}
		s.handleRequest(conn, &writeMu, body)
	}
}

func (s *Server) handleRequest(conn net.Conn, writeMu *sync.Mutex, body []byte) {
	start := time.Now()

	typ, err := wire.PeekType(body)
	if err != nil || typ != wire.FrameRequest {
		return
	}
	req, err := wire.DecodeRequest(body)
	if err != nil {
		return
	}

	ctx := s.ctxPool.Get().(*taskctx.Handle)
	ctx.ResetError()
	defer s.ctxPool.Put(ctx)

	resp := wire.ResponseFrame{RequestID: req.RequestID, Priority: req.Priority}

	if authErr := s.auth.Authorize(ctx, req); authErr != nil {
		s.writeResponse(conn, writeMu, withError(resp, authErr))
		s.logRequest(ctx, req, authErr, start)
		return
	}

	handler, ok := s.services.Lookup(req.ServiceID, req.MethodID)
	if !ok {
		err := methodNotFound()
		s.writeResponse(conn, writeMu, withError(resp, err))
		s.logRequest(ctx, req, err, start)
		return
	}

	payload, err := handler(ctx, s.env, req)
	if err != nil {
		s.writeResponse(conn, writeMu, withError(resp, err))
		s.logRequest(ctx, req, err, start)
		return
	}
	resp.Payload = payload
	s.writeResponse(conn, writeMu, resp)
	s.logRequest(ctx, req, nil, start)
}

func withError(resp wire.ResponseFrame, err error) wire.ResponseFrame {
	resp.StatusCode = 1
	if ae, ok := apperrors.As(err); ok {
		resp.APIErrorCode = ae.WireAPICode()
	} else {
		resp.APIErrorCode = apperrors.New(apperrors.CodeInternal).WireAPICode()
	}
	return resp
}

func (s *Server) writeResponse(conn net.Conn, writeMu *sync.Mutex, resp wire.ResponseFrame) {
	writeMu.Lock()
	defer writeMu.Unlock()
	_, _ = conn.Write(wire.EncodeResponse(resp))
}

func (s *Server) logRequest(ctx *taskctx.Handle, req wire.RequestFrame, err error, start time.Time) {
	if s.logger == nil {
		return
	}
	fields := map[string]any{
		"request_id": req.RequestID,
		"service_id": req.ServiceID,
		"method_id":  req.MethodID,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		s.logger.LogError(logging.LevelError, err, ctx, "rpc request failed", fields)
		return
	}
	s.logger.Log(logging.LevelInfo, ctx, "rpc request completed", fields)
}

// Shutdown stops accepting new connections, waits for in-flight requests
// to drain, and closes the connection store (spec §4.9: "stop accepting;
// drain in-flight; close the connection store"). If ctx is cancelled
// before drain completes, remaining connections are force-closed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closing.Store(true)
	_ = s.ln.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.mu.Unlock()
		<-done
		return ctx.Err()
	}
}
