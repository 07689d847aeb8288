package pool

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Conn is a pooled transport connection with its buffered reader and writer.
//
// A Conn is owned by exactly one request between Acquire and Release or
// Evict. Deadlines are managed by the Conn itself: a rolling read timeout
// is re-armed before every read, bounded by the deadline of the context
// passed to Bind.
type Conn struct {
	key  Key
	raw  net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer
	pool *Pool

	createdAt time.Time
	lastUsed  time.Time
	uses      int

	// Set once for freshly dialed connections.
	DialDuration time.Duration
	TLSDuration  time.Duration

	mu          sync.Mutex
	readTimeout time.Duration
	hard        time.Time

	aborted atomic.Bool
	closed  atomic.Bool
}

func newConn(p *Pool, key Key, raw net.Conn, bufSize int) *Conn {
	now := time.Now()
	c := &Conn{
		key:       key,
		raw:       raw,
		pool:      p,
		createdAt: now,
		lastUsed:  now,
	}
	c.br = bufio.NewReaderSize(deadlineReader{c}, bufSize)
	c.bw = bufio.NewWriterSize(deadlineWriter{c}, bufSize)
	return c
}

// Key returns the bucket the connection belongs to.
func (c *Conn) Key() Key { return c.key }

// Reader returns the buffered reader over the connection.
func (c *Conn) Reader() *bufio.Reader { return c.br }

// Writer returns the buffered writer over the connection.
func (c *Conn) Writer() *bufio.Writer { return c.bw }

// Reused reports whether the connection carried an earlier request.
func (c *Conn) Reused() bool { return c.uses > 1 }

// Uses returns how many requests have been assigned this connection.
func (c *Conn) Uses() int { return c.uses }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

// TLSState returns the negotiated TLS state for https connections.
func (c *Conn) TLSState() (tls.ConnectionState, bool) {
	tc, ok := c.raw.(*tls.Conn)
	if !ok {
		return tls.ConnectionState{}, false
	}
	return tc.ConnectionState(), true
}

// SetReadTimeout sets the inactivity limit applied to every read. Zero
// disables it.
func (c *Conn) SetReadTimeout(d time.Duration) {
	c.mu.Lock()
	c.readTimeout = d
	c.mu.Unlock()
}

// Bind ties the connection to ctx until the returned stop function is
// called: the context deadline caps every read and write, and cancelling
// ctx aborts any blocked I/O. An aborted connection must be evicted.
func (c *Conn) Bind(ctx context.Context) (stop func()) {
	c.mu.Lock()
	c.hard, _ = ctx.Deadline()
	c.mu.Unlock()

	unregister := context.AfterFunc(ctx, c.Abort)
	return func() {
		unregister()
		c.mu.Lock()
		c.hard = time.Time{}
		c.mu.Unlock()
	}
}

// Abort unblocks any pending read or write. The connection cannot be
// reused afterwards.
func (c *Conn) Abort() {
	c.aborted.Store(true)
	_ = c.raw.SetDeadline(aLongTimeAgo)
}

// Aborted reports whether Abort was called.
func (c *Conn) Aborted() bool { return c.aborted.Load() }

var aLongTimeAgo = time.Unix(1, 0)

func (c *Conn) readDeadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	var d time.Time
	if c.readTimeout > 0 {
		d = time.Now().Add(c.readTimeout)
	}
	if !c.hard.IsZero() && (d.IsZero() || c.hard.Before(d)) {
		d = c.hard
	}
	return d
}

func (c *Conn) writeDeadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hard
}

// alive probes an idle connection: a peer that closed it, or sent bytes
// nobody asked for, makes it unusable.
func (c *Conn) alive() bool {
	if c.br.Buffered() > 0 {
		return false
	}
	if err := c.raw.SetReadDeadline(time.Now().Add(livenessProbe)); err != nil {
		return false
	}
	var one [1]byte
	n, err := c.raw.Read(one[:])
	_ = c.raw.SetReadDeadline(time.Time{})

	var ne net.Error
	return n == 0 && errors.As(err, &ne) && ne.Timeout()
}

const livenessProbe = time.Millisecond

// deadlineReader re-arms the read deadline before each read.
type deadlineReader struct{ c *Conn }

func (r deadlineReader) Read(p []byte) (int, error) {
	if err := r.c.raw.SetReadDeadline(r.c.readDeadline()); err != nil {
		return 0, err
	}
	// Abort may have raced with the set above.
	if r.c.aborted.Load() {
		_ = r.c.raw.SetDeadline(aLongTimeAgo)
	}
	return r.c.raw.Read(p)
}

type deadlineWriter struct{ c *Conn }

func (w deadlineWriter) Write(p []byte) (int, error) {
	if err := w.c.raw.SetWriteDeadline(w.c.writeDeadline()); err != nil {
		return 0, err
	}
	if w.c.aborted.Load() {
		_ = w.c.raw.SetDeadline(aLongTimeAgo)
	}
	return w.c.raw.Write(p)
}
