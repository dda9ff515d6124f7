package connpool

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/evgeniums/hatn-go/internal/apperrors"
	"github.com/evgeniums/hatn-go/internal/wire"
	"github.com/evgeniums/hatn-go/pkg/ratelimit"
)

// startEchoServer accepts one connection and echoes whatever frame it
// receives back once, then closes.
func startEchoServer(t *testing.T) string {
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
				body, err := wire.ReadFrame(r)
				if err != nil {
					return
				}
				_, _ = c.Write(wire.EncodeResponse(wire.ResponseFrame{RequestID: 1, Payload: body}))
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestSendRecvRoundTrip(t *testing.T) {
	addr := startEchoServer(t)
	cfg := DefaultConfig([]string{addr})
	p := New(cfg, nil)
	defer p.Close()

	frame := wire.EncodeRequest(wire.RequestFrame{RequestID: 7, Topic: "t", Payload: []byte("ping")})
	conn, err := p.Send(wire.PriorityNormal, frame)
	if err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}
	body, err := p.Recv(conn)
	if err != nil {
		t.Fatalf("unexpected recv error: %v", err)
	}
	resp, err := wire.DecodeResponse(body)
	if err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if string(resp.Payload) != "ping" {
		t.Fatalf("expected echoed payload, got %q", resp.Payload)
	}
}

func TestCanSendFalseWhenBucketFull(t *testing.T) {
	addr := startEchoServer(t)
	cfg := DefaultConfig([]string{addr})
	cfg.DefaultMaxPerPriority = 1
	p := New(cfg, nil)
	defer p.Close()

	frame := wire.EncodeRequest(wire.RequestFrame{RequestID: 1, Payload: []byte("x")})
	conn, err := p.Send(wire.PriorityNormal, frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// conn is now in-flight (not recv'd yet) and the bucket is at max.
	if p.CanSend(wire.PriorityNormal) {
		t.Fatal("expected CanSend to be false with one in-flight connection at bucket capacity")
	}
	if _, err := p.Recv(conn); err != nil {
		t.Fatalf("unexpected recv error: %v", err)
	}
	if !p.CanSend(wire.PriorityNormal) {
		t.Fatal("expected CanSend to be true once the connection is idle again")
	}
}

func TestSendRejectsAfterClose(t *testing.T) {
	addr := startEchoServer(t)
	p := New(DefaultConfig([]string{addr}), nil)
	p.Close()

	_, err := p.Send(wire.PriorityNormal, []byte("x"))
	if !apperrors.Is(err, apperrors.CodePoolClosed) {
		t.Fatalf("expected POOL_CLOSED, got %v", err)
	}
}

func TestDialFailsWithNoEndpoints(t *testing.T) {
	p := New(DefaultConfig(nil), nil)
	defer p.Close()
	_, err := p.Send(wire.PriorityNormal, []byte("x"))
	if !apperrors.Is(err, apperrors.CodeTransport) {
		t.Fatalf("expected TRANSPORT error with no endpoints, got %v", err)
	}
}

func TestMetricsTrackOpenConnections(t *testing.T) {
	addr := startEchoServer(t)
	m := NewMetrics(nil)
	p := New(DefaultConfig([]string{addr}), m)
	defer p.Close()

	conn, err := p.Send(wire.PriorityHigh, wire.EncodeRequest(wire.RequestFrame{RequestID: 1}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.mu.Lock()
	got := m.open[wire.PriorityHigh]
	m.mu.Unlock()
	if got != 1 {
		t.Fatalf("expected 1 open connection tracked, got %v", got)
	}
	_, _ = p.Recv(conn)
	time.Sleep(time.Millisecond) // let the echo goroutine finish writing
}

func TestDialRateLimitRejectsExcessDials(t *testing.T) {
	addr := startEchoServer(t)
	cfg := DefaultConfig([]string{addr})
	cfg.DialRateLimit = ratelimit.Config{RequestsPerSecond: 1, Burst: 1}
	p := New(cfg, nil)
	defer p.Close()

	if _, err := p.Send(wire.PriorityNormal, []byte("x")); err != nil {
		t.Fatalf("unexpected error on first dial: %v", err)
	}
	// Bucket has room for a second connection, but the dial limiter's
	// single burst token is already spent.
	_, err := p.Send(wire.PriorityHigh, []byte("y"))
	if !apperrors.Is(err, apperrors.CodeDialRateLimited) {
		t.Fatalf("expected DIAL_RATE_LIMITED, got %v", err)
	}
}
