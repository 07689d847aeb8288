package pool

import (
	"context"
	"crypto/tls"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/kroma-labs/courier/httperr"
)

// Eviction reasons reported in logs and metrics.
const (
	ReasonIdleTimeout = "idle_timeout"
	ReasonPeerClosed  = "peer_closed"
	ReasonIdleFull    = "idle_full"
	ReasonPoolClosed  = "pool_closed"
	ReasonWaiter      = "handoff"
	ReasonAborted     = "aborted"
)

// Config configures a Pool. Zero values take the defaults noted per field.
type Config struct {
	// Dialer opens TCP connections. Default: *net.Dialer with KeepAlive.
	Dialer Dialer

	// ConnectTimeout bounds dial plus TLS handshake. Zero disables it.
	ConnectTimeout time.Duration

	// KeepAlive is the TCP keep-alive period for the default dialer.
	// Default: 30s.
	KeepAlive time.Duration

	// IdleTTL is how long a connection may sit idle before it is closed.
	// Zero keeps idle connections until the peer closes them.
	IdleTTL time.Duration

	// MaxIdlePerHost caps idle connections per key. Default: 8. A negative
	// value disables pooling: every released connection is closed.
	MaxIdlePerHost int

	// MaxConnsPerHost caps live (idle plus in-use) connections per key.
	// Acquire blocks while the cap is reached. Zero means unlimited.
	MaxConnsPerHost int

	// MaxConns caps live connections across all keys. When the cap is
	// reached Acquire closes an idle connection of any key to make room,
	// or blocks. Zero means unlimited.
	MaxConns int

	// TLSConfig is cloned for every handshake. ServerName defaults to the
	// key host.
	TLSConfig *tls.Config

	// VerifyConnection, if set, runs after the standard certificate checks
	// (or instead of them for insecure keys) and can reject the peer.
	VerifyConnection func(tls.ConnectionState) error

	// BufferSize sizes each connection's reader and writer. Default: 4 KiB.
	BufferSize int

	Logger        zerolog.Logger
	MeterProvider metric.MeterProvider
}

func (c *Config) setDefaults() {
	if c.KeepAlive == 0 {
		c.KeepAlive = 30 * time.Second
	}
	if c.Dialer == nil {
		c.Dialer = &net.Dialer{KeepAlive: c.KeepAlive}
	}
	if c.MaxIdlePerHost == 0 {
		c.MaxIdlePerHost = 8
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 4 << 10
	}
	if c.MeterProvider == nil {
		c.MeterProvider = otel.GetMeterProvider()
	}
}

// Pool keeps reusable connections in buckets keyed by scheme, host, port and
// TLS verification mode. It is safe for concurrent use; each bucket has its
// own lock so requests to different hosts never contend.
type Pool struct {
	cfg     Config
	logger  zerolog.Logger
	metrics *metrics

	mu      sync.RWMutex
	buckets map[Key]*bucket

	// total holds one slot per live connection when MaxConns is set.
	total        *semaphore.Weighted
	totalWaiters atomic.Int32

	closed atomic.Bool
	stop   chan struct{}
	wg     sync.WaitGroup

	dials     atomic.Uint64
	reuses    atomic.Uint64
	evictions atomic.Uint64
}

type bucket struct {
	mu      sync.Mutex
	idle    []*Conn // most recently used last
	busy    int
	waiters int
	sem     *semaphore.Weighted
}

// New creates a Pool. When IdleTTL is set a background sweeper closes
// expired idle connections; Close stops it.
func New(cfg Config) *Pool {
	cfg.setDefaults()

	p := &Pool{
		cfg:     cfg,
		logger:  cfg.Logger.With().Str("component", "pool").Logger(),
		buckets: make(map[Key]*bucket),
		stop:    make(chan struct{}),
	}

	if cfg.MaxConns > 0 {
		p.total = semaphore.NewWeighted(int64(cfg.MaxConns))
	}

	m, err := newMetrics(cfg.MeterProvider.Meter(meterName))
	if err != nil {
		p.logger.Warn().Err(err).Msg("pool metrics disabled")
	}
	p.metrics = m

	if cfg.IdleTTL > 0 {
		p.wg.Add(1)
		go p.sweep(cfg.IdleTTL / 2)
	}
	return p
}

func (p *Pool) bucket(key Key) *bucket {
	p.mu.RLock()
	b, ok := p.buckets[key]
	p.mu.RUnlock()
	if ok {
		return b
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok = p.buckets[key]; ok {
		return b
	}
	b = &bucket{}
	if p.cfg.MaxConnsPerHost > 0 {
		b.sem = semaphore.NewWeighted(int64(p.cfg.MaxConnsPerHost))
	}
	p.buckets[key] = b
	return b
}

// Acquire returns an idle connection for key, or dials a new one.
// Expired and peer-closed idle connections are evicted on the way.
func (p *Pool) Acquire(ctx context.Context, key Key) (*Conn, error) {
	if p.closed.Load() {
		return nil, httperr.ErrPoolClosed
	}
	b := p.bucket(key)

	for {
		b.mu.Lock()
		if len(b.idle) == 0 {
			b.mu.Unlock()
			break
		}
		c := b.idle[len(b.idle)-1]
		b.idle[len(b.idle)-1] = nil
		b.idle = b.idle[:len(b.idle)-1]
		b.busy++
		b.mu.Unlock()

		if reason := p.unusable(c); reason != "" {
			p.Evict(c, reason)
			continue
		}

		c.uses++
		p.reuses.Add(1)
		p.metrics.recordReuse(ctx, key)
		return c, nil
	}

	return p.Dial(ctx, key)
}

func (p *Pool) unusable(c *Conn) string {
	switch {
	case p.cfg.IdleTTL > 0 && time.Since(c.lastUsed) > p.cfg.IdleTTL:
		return ReasonIdleTimeout
	case !c.alive():
		return ReasonPeerClosed
	}
	return ""
}

// Dial always opens a new connection for key, still subject to
// MaxConnsPerHost and MaxConns. The connection joins the pool on Release.
func (p *Pool) Dial(ctx context.Context, key Key) (*Conn, error) {
	if p.closed.Load() {
		return nil, httperr.ErrPoolClosed
	}
	b := p.bucket(key)

	if b.sem != nil && !b.sem.TryAcquire(1) {
		if err := p.waitSlot(ctx, b); err != nil {
			return nil, err
		}
	}

	if p.total != nil && !p.total.TryAcquire(1) {
		if err := p.waitTotal(ctx); err != nil {
			if b.sem != nil {
				b.sem.Release(1)
			}
			return nil, err
		}
	}

	c, err := p.dial(ctx, key)
	if err != nil {
		if b.sem != nil {
			b.sem.Release(1)
		}
		if p.total != nil {
			p.total.Release(1)
		}
		return nil, err
	}

	b.mu.Lock()
	b.busy++
	b.mu.Unlock()

	c.uses = 1
	p.dials.Add(1)
	p.metrics.recordOpen(ctx, key, 1)
	return c, nil
}

// waitSlot blocks until b has room for another connection. Idle
// connections hold slots too, so one is closed to make room if present.
func (p *Pool) waitSlot(ctx context.Context, b *bucket) error {
	b.mu.Lock()
	if len(b.idle) > 0 {
		c := b.idle[0]
		b.idle = slices.Delete(b.idle, 0, 1)
		p.discardLocked(ctx, b, c, ReasonWaiter)
	}
	b.waiters++
	b.mu.Unlock()

	err := b.sem.Acquire(ctx, 1)

	b.mu.Lock()
	b.waiters--
	b.mu.Unlock()
	return err
}

// waitTotal blocks until the pool has room for another connection. The
// least recently used idle connection of any key is closed to make room.
func (p *Pool) waitTotal(ctx context.Context) error {
	p.closeOldestIdle(ctx)

	p.totalWaiters.Add(1)
	defer p.totalWaiters.Add(-1)
	return p.total.Acquire(ctx, 1)
}

// closeOldestIdle closes the idle connection unused for longest, if any.
func (p *Pool) closeOldestIdle(ctx context.Context) {
	p.mu.RLock()
	buckets := make([]*bucket, 0, len(p.buckets))
	for _, b := range p.buckets {
		buckets = append(buckets, b)
	}
	p.mu.RUnlock()

	var (
		oldest *bucket
		at     time.Time
	)
	for _, b := range buckets {
		b.mu.Lock()
		if len(b.idle) > 0 && (oldest == nil || b.idle[0].lastUsed.Before(at)) {
			oldest, at = b, b.idle[0].lastUsed
		}
		b.mu.Unlock()
	}
	if oldest == nil {
		return
	}

	oldest.mu.Lock()
	defer oldest.mu.Unlock()
	if len(oldest.idle) > 0 {
		c := oldest.idle[0]
		oldest.idle = slices.Delete(oldest.idle, 0, 1)
		p.discardLocked(ctx, oldest, c, ReasonWaiter)
	}
}

// Release returns a healthy connection to its bucket. The caller must have
// consumed the full response. Connections that were aborted, belong to a
// closed pool, or would exceed MaxIdlePerHost are closed instead.
func (p *Pool) Release(c *Conn) {
	if c.Aborted() {
		p.Evict(c, ReasonAborted)
		return
	}
	if p.closed.Load() {
		p.Evict(c, ReasonPoolClosed)
		return
	}

	b := p.bucket(c.key)
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case b.waiters > 0 || p.totalWaiters.Load() > 0:
		// A request is blocked on MaxConnsPerHost or MaxConns; give it the slot.
		b.busy--
		p.discardLocked(context.Background(), b, c, ReasonWaiter)
	case len(b.idle) >= p.cfg.MaxIdlePerHost || p.cfg.MaxIdlePerHost < 0:
		b.busy--
		p.discardLocked(context.Background(), b, c, ReasonIdleFull)
	default:
		b.busy--
		c.lastUsed = time.Now()
		c.SetReadTimeout(0)
		b.idle = append(b.idle, c)
	}
}

// Evict closes a connection that is in use and frees its slot. It must be
// called instead of Release after any I/O or protocol error.
func (p *Pool) Evict(c *Conn, reason string) {
	if c.closed.Load() {
		return
	}
	b := p.bucket(c.key)
	b.mu.Lock()
	b.busy--
	p.discardLocked(context.Background(), b, c, reason)
	b.mu.Unlock()
}

// discardLocked closes c, which is already detached from b.idle and b.busy.
func (p *Pool) discardLocked(ctx context.Context, b *bucket, c *Conn, reason string) {
	// Only the call that closes c gives its slots back.
	if c.closed.Swap(true) {
		return
	}
	err := c.raw.Close()
	if b.sem != nil {
		b.sem.Release(1)
	}
	if p.total != nil {
		p.total.Release(1)
	}

	p.evictions.Add(1)
	p.metrics.recordEviction(ctx, c.key, reason)
	p.metrics.recordOpen(ctx, c.key, -1)

	p.logger.Debug().
		Str("key", c.key.String()).
		Str("reason", reason).
		Int("uses", c.uses).
		Dur("age", time.Since(c.createdAt)).
		AnErr("close_error", err).
		Msg("conn_evicted")
}

// CloseIdle closes every idle connection without affecting busy ones.
func (p *Pool) CloseIdle() {
	p.drainIdle(ReasonPoolClosed, func(*Conn) bool { return true })
}

// Close closes all idle connections and makes later Acquire calls fail.
// Busy connections are closed when their holders release or evict them.
func (p *Pool) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	close(p.stop)
	p.wg.Wait()
	p.CloseIdle()
	return nil
}

func (p *Pool) sweep(every time.Duration) {
	defer p.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			ttl := p.cfg.IdleTTL
			p.drainIdle(ReasonIdleTimeout, func(c *Conn) bool {
				return time.Since(c.lastUsed) > ttl
			})
		}
	}
}

func (p *Pool) drainIdle(reason string, match func(*Conn) bool) {
	p.mu.RLock()
	buckets := make([]*bucket, 0, len(p.buckets))
	for _, b := range p.buckets {
		buckets = append(buckets, b)
	}
	p.mu.RUnlock()

	for _, b := range buckets {
		b.mu.Lock()
		kept := b.idle[:0]
		for _, c := range b.idle {
			if match(c) {
				p.discardLocked(context.Background(), b, c, reason)
				continue
			}
			kept = append(kept, c)
		}
		clear(b.idle[len(kept):])
		b.idle = kept
		b.mu.Unlock()
	}
}

// HostStats is the state of one bucket.
type HostStats struct {
	Idle int
	Busy int
}

// Stats is a point-in-time snapshot of the pool.
type Stats struct {
	Idle      int
	Busy      int
	Dials     uint64
	Reuses    uint64
	Evictions uint64
	Hosts     map[Key]HostStats
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() Stats {
	s := Stats{
		Dials:     p.dials.Load(),
		Reuses:    p.reuses.Load(),
		Evictions: p.evictions.Load(),
		Hosts:     make(map[Key]HostStats),
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	for key, b := range p.buckets {
		b.mu.Lock()
		hs := HostStats{Idle: len(b.idle), Busy: b.busy}
		b.mu.Unlock()

		s.Idle += hs.Idle
		s.Busy += hs.Busy
		s.Hosts[key] = hs
	}
	return s
}
