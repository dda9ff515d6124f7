// Package connpool implements the per-priority connection pool of spec
// §4.7: bounded connection buckets per priority, hostname resolution with
// a DNS cache, failover across endpoints, and back-pressure. Bucket
// occupancy is the primary back-pressure signal (CanSend/Send); an
// optional secondary DialRateLimit throttles how often new outbound
// connections are opened regardless of bucket capacity, e.g. to avoid
// hammering a resolver or remote listener during an outage.
//
// Grounded on infrastructure/resilience/circuit_breaker.go and retry.go
// (failover/backoff, reused here via pkg/resilience) and on
// AKJUS-bsc-erigon's use of github.com/rs/dnscache for its dial-time
// resolver cache.
package connpool

import (
	"context"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/evgeniums/hatn-go/internal/apperrors"
	"github.com/evgeniums/hatn-go/internal/wire"
	"github.com/evgeniums/hatn-go/pkg/ratelimit"
	"github.com/evgeniums/hatn-go/pkg/resilience"
	"github.com/rs/dnscache"
)

// Conn is one pooled connection bound to a priority bucket.
type Conn struct {
	nc       net.Conn
	priority wire.Priority

	mu       sync.Mutex
	inFlight bool
}

// NetConn exposes the raw connection for framing (wire.ReadFrame/Write).
func (c *Conn) NetConn() net.Conn { return c.nc }

func (c *Conn) markIdle() {
	c.mu.Lock()
	c.inFlight = false
	c.mu.Unlock()
}

func (c *Conn) tryClaim() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		return false
	}
	c.inFlight = true
	return true
}

// bucket holds the connections open for one priority.
type bucket struct {
	mu    sync.Mutex
	conns []*Conn
	max   int
}

// Config configures a Pool.
type Config struct {
	Endpoints []string // host:port, attempted in order with optional shuffle
	// Priorities maps each priority to its connection bucket size; a
	// priority absent from the map falls back to DefaultMaxPerPriority.
	Priorities            map[wire.Priority]int
	DefaultMaxPerPriority int
	DialTimeout           time.Duration
	ShuffleEndpoints      bool
	Retry                 resilience.RetryConfig
	// DialRateLimit caps how often new outbound connections may be
	// opened, independent of the per-priority bucket caps (e.g. to avoid
	// hammering a resolver during an outage). Zero disables the limit.
	DialRateLimit ratelimit.Config
}

// DefaultConfig fills the spec's implementation-defined defaults: 2
// connections per priority (documented in DESIGN.md's Open Question
// decisions), a 5s dial timeout, default retry/backoff.
func DefaultConfig(endpoints []string) Config {
	return Config{
		Endpoints:             endpoints,
		DefaultMaxPerPriority: 2,
		DialTimeout:           5 * time.Second,
		Retry:                 resilience.DefaultRetryConfig(),
	}
}

// Pool is a per-priority multiplexed connection pool to one peer set.
type Pool struct {
	cfg      Config
	resolver *dnscache.Resolver

	mu      sync.RWMutex
	closed  bool
	buckets map[wire.Priority]*bucket
	metrics *Metrics

	dialLimiter *ratelimit.Limiter
}

// New constructs a Pool. metrics may be nil to disable Prometheus
// reporting.
func New(cfg Config, metrics *Metrics) *Pool {
	if cfg.DefaultMaxPerPriority <= 0 {
		cfg.DefaultMaxPerPriority = 2
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	p := &Pool{
		cfg:      cfg,
		resolver: &dnscache.Resolver{},
		buckets:  map[wire.Priority]*bucket{},
		metrics:  metrics,
	}
	if cfg.DialRateLimit.RequestsPerSecond > 0 {
		p.dialLimiter = ratelimit.New(cfg.DialRateLimit)
	}
	return p
}

func (p *Pool) bucketFor(priority wire.Priority) *bucket {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.buckets[priority]
	if !ok {
		max := p.cfg.DefaultMaxPerPriority
		if m, ok := p.cfg.Priorities[priority]; ok {
			max = m
		}
		b = &bucket{max: max}
		p.buckets[priority] = b
	}
	return b
}

// CanSend reports whether priority's bucket has room for a new
// connection, or an existing connection sitting idle (spec §4.7's
// back-pressure hook).
func (p *Pool) CanSend(priority wire.Priority) bool {
	b := p.bucketFor(priority)
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.conns) < b.max {
		return true
	}
	for _, c := range b.conns {
		c.mu.Lock()
		idle := !c.inFlight
		c.mu.Unlock()
		if idle {
			return true
		}
	}
	return false
}

// Send finds (or opens) a connection in priority's bucket not currently
// owning an in-flight exchange, writes frame to it, and returns it bound
// for the matching Recv. If the write fails before any byte was
// transferred it retries once on a freshly dialed connection at the same
// priority (spec §4.7); any other failure is surfaced directly.
func (p *Pool) Send(priority wire.Priority, frame []byte) (*Conn, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, apperrors.New(apperrors.CodePoolClosed)
	}

	b := p.bucketFor(priority)
	b.mu.Lock()
	var target *Conn
	for _, c := range b.conns {
		if c.tryClaim() {
			target = c
			break
		}
	}
	opened := false
	if target == nil {
		if len(b.conns) >= b.max {
			b.mu.Unlock()
			return nil, apperrors.Newf(apperrors.CodeInvalidState, "priority %d bucket is full", priority)
		}
		b.mu.Unlock()
		nc, err := p.dialWithFailover()
		if err != nil {
			return nil, err
		}
		target = &Conn{nc: nc, priority: priority, inFlight: true}
		opened = true
		b.mu.Lock()
		b.conns = append(b.conns, target)
	}
	b.mu.Unlock()
	if opened {
		p.reportOpen(priority, 1)
	}

	if n, err := target.nc.Write(frame); err != nil {
		p.destroyConn(priority, target)
		if n > 0 {
			return nil, apperrors.Wrap(apperrors.CodeTransport, err)
		}
		nc, derr := p.dialWithFailover()
		if derr != nil {
			return nil, derr
		}
		if _, werr := nc.Write(frame); werr != nil {
			_ = nc.Close()
			return nil, apperrors.Wrap(apperrors.CodeTransport, werr)
		}
		retried := &Conn{nc: nc, priority: priority, inFlight: true}
		b.mu.Lock()
		b.conns = append(b.conns, retried)
		b.mu.Unlock()
		p.reportOpen(priority, 1)
		return retried, nil
	}
	return target, nil
}

// Recv reads one framed unit from conn. On error the connection is
// destroyed; on success it is marked idle for reuse (spec §4.7).
func (p *Pool) Recv(conn *Conn) ([]byte, error) {
	body, err := wire.ReadFrame(conn.nc)
	if err != nil {
		p.destroyConn(conn.priority, conn)
		return nil, err
	}
	conn.markIdle()
	return body, nil
}

func (p *Pool) destroyConn(priority wire.Priority, conn *Conn) {
	_ = conn.nc.Close()
	b := p.bucketFor(priority)
	b.mu.Lock()
	for i, c := range b.conns {
		if c == conn {
			b.conns = append(b.conns[:i], b.conns[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	p.reportOpen(priority, -1)
}

func (p *Pool) reportOpen(priority wire.Priority, delta int) {
	if p.metrics == nil {
		return
	}
	p.metrics.AdjustOpenConnections(priority, delta)
}

// Close marks the pool closed, rejects subsequent sends with
// POOL_CLOSED, and drains every bucket's connections (spec §4.7).
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	buckets := p.buckets
	p.mu.Unlock()

	for priority, b := range buckets {
		b.mu.Lock()
		for _, c := range b.conns {
			_ = c.nc.Close()
		}
		b.conns = nil
		b.mu.Unlock()
		p.reportOpen(priority, 0)
	}
}

func (p *Pool) dialWithFailover() (net.Conn, error) {
	if p.dialLimiter != nil && !p.dialLimiter.Allow() {
		return nil, apperrors.New(apperrors.CodeDialRateLimited)
	}
	endpoints := append([]string(nil), p.cfg.Endpoints...)
	if len(endpoints) == 0 {
		return nil, apperrors.Newf(apperrors.CodeTransport, "connection pool has no configured endpoints")
	}
	if p.cfg.ShuffleEndpoints {
		rand.Shuffle(len(endpoints), func(i, j int) { endpoints[i], endpoints[j] = endpoints[j], endpoints[i] })
	}

	var lastErr error
	for _, ep := range endpoints {
		nc, err := p.dialOne(ep)
		if err == nil {
			return nc, nil
		}
		lastErr = err
	}
	return nil, apperrors.Wrap(apperrors.CodeTransport, lastErr)
}

func (p *Pool) dialOne(endpoint string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		return net.DialTimeout("tcp", endpoint, p.cfg.DialTimeout)
	}
	ips, err := p.resolver.LookupHost(context.Background(), host)
	if err != nil || len(ips) == 0 {
		return net.DialTimeout("tcp", endpoint, p.cfg.DialTimeout)
	}
	var lastErr error
	for _, ip := range ips {
		nc, derr := net.DialTimeout("tcp", net.JoinHostPort(ip, port), p.cfg.DialTimeout)
		if derr == nil {
			return nc, nil
		}
		lastErr = derr
	}
	return nil, lastErr
}
