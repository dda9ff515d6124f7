package rpcclient

import (
	"bufio"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/evgeniums/hatn-go/internal/apperrors"
	"github.com/evgeniums/hatn-go/internal/connpool"
	"github.com/evgeniums/hatn-go/internal/taskctx"
	"github.com/evgeniums/hatn-go/internal/wire"
)

// startServer accepts connections and answers each decoded request with
// respond(req), serving requests on a connection until the client closes
// it (the pool reuses an idle connection for its next request).
func startServer(t *testing.T, respond func(wire.RequestFrame) wire.ResponseFrame) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unexpected error listening: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				r := bufio.NewReader(c)
				for {
					body, err := wire.ReadFrame(r)
					if err != nil {
						return
					}
					req, err := wire.DecodeRequest(body)
					if err != nil {
						return
					}
					_, _ = c.Write(wire.EncodeResponse(respond(req)))
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func newTestHandle() *taskctx.Handle {
	return taskctx.MakeContext(nil, "test", nil)
}

func TestCallRoundTrip(t *testing.T) {
	addr := startServer(t, func(req wire.RequestFrame) wire.ResponseFrame {
		return wire.ResponseFrame{RequestID: req.RequestID, Payload: req.Payload}
	})
	pool := connpool.New(connpool.DefaultConfig([]string{addr}), nil)
	defer pool.Close()

	c := New(pool, NoAuthSession{}, DefaultConfig(), nil)
	resp, err := c.Call(newTestHandle(), Request{ServiceID: 1, MethodID: 2, Payload: []byte("ping")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Payload) != "ping" {
		t.Fatalf("expected echoed payload, got %q", resp.Payload)
	}
}

type countingSession struct {
	refreshes atomic.Int32
	header    []byte
}

func (s *countingSession) MakeAuthHeader(*taskctx.Handle, uint32, uint32) ([]byte, error) {
	return s.header, nil
}

func (s *countingSession) Refresh(*taskctx.Handle) error {
	s.refreshes.Add(1)
	s.header = []byte("refreshed")
	return nil
}

func TestExecRefreshesSessionOnAuthRequired(t *testing.T) {
	addr := startServer(t, func(req wire.RequestFrame) wire.ResponseFrame {
		if string(req.AuthHeader) != "refreshed" {
			return wire.ResponseFrame{
				RequestID:    req.RequestID,
				StatusCode:   1,
				APIErrorCode: apperrors.New(apperrors.CodeAuthRequired).WireAPICode(),
			}
		}
		return wire.ResponseFrame{RequestID: req.RequestID, Payload: []byte("ok")}
	})
	pool := connpool.New(connpool.DefaultConfig([]string{addr}), nil)
	defer pool.Close()

	session := &countingSession{header: []byte("stale")}
	c := New(pool, session, DefaultConfig(), nil)
	resp, err := c.Call(newTestHandle(), Request{ServiceID: 1, MethodID: 1, RequiresAuth: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Payload) != "ok" {
		t.Fatalf("expected ok payload after refresh, got %q", resp.Payload)
	}
	if session.refreshes.Load() != 1 {
		t.Fatalf("expected exactly one refresh, got %d", session.refreshes.Load())
	}
}

func TestExecGivesUpAfterMaxAuthRefreshes(t *testing.T) {
	addr := startServer(t, func(req wire.RequestFrame) wire.ResponseFrame {
		return wire.ResponseFrame{
			RequestID:    req.RequestID,
			StatusCode:   1,
			APIErrorCode: apperrors.New(apperrors.CodeAuthRequired).WireAPICode(),
		}
	})
	pool := connpool.New(connpool.DefaultConfig([]string{addr}), nil)
	defer pool.Close()

	session := &countingSession{}
	cfg := DefaultConfig()
	cfg.MaxAuthRefreshes = 2
	c := New(pool, session, cfg, nil)
	_, err := c.Call(newTestHandle(), Request{ServiceID: 1, MethodID: 1, RequiresAuth: true})
	if !apperrors.Is(err, apperrors.CodeAuthRequired) {
		t.Fatalf("expected AUTH_REQUIRED after exhausting refreshes, got %v", err)
	}
	if session.refreshes.Load() != 2 {
		t.Fatalf("expected 2 refreshes, got %d", session.refreshes.Load())
	}
}

func TestExecReturnsCancelledWhenAlreadyCancelled(t *testing.T) {
	addr := startServer(t, func(req wire.RequestFrame) wire.ResponseFrame {
		return wire.ResponseFrame{RequestID: req.RequestID}
	})
	pool := connpool.New(connpool.DefaultConfig([]string{addr}), nil)
	defer pool.Close()

	c := New(pool, NoAuthSession{}, DefaultConfig(), nil)
	ctx := newTestHandle()
	ctx.Cancel()
	_, err := c.Call(ctx, Request{ServiceID: 1, MethodID: 1})
	if !apperrors.Is(err, apperrors.CodeCancelled) {
		t.Fatalf("expected CANCELLED, got %v", err)
	}
}

func TestExecCancellationDropsConnection(t *testing.T) {
	// Server never responds, forcing Recv to block until the client
	// drops the connection on cancellation.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			// Read the request but never write a response.
			go func(c net.Conn) {
				_, _ = wire.ReadFrame(bufio.NewReader(c))
			}(conn)
		}
	}()

	pool := connpool.New(connpool.DefaultConfig([]string{ln.Addr().String()}), nil)
	defer pool.Close()
	c := New(pool, NoAuthSession{}, DefaultConfig(), nil)

	ctx := newTestHandle()
	go func() {
		time.Sleep(20 * time.Millisecond)
		ctx.Cancel()
	}()
	_, err = c.Call(ctx, Request{ServiceID: 1, MethodID: 1})
	if !apperrors.Is(err, apperrors.CodeCancelled) {
		t.Fatalf("expected CANCELLED, got %v", err)
	}
}
