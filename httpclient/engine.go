package httpclient

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/courier/httperr"
	"github.com/kroma-labs/courier/pool"
	"github.com/kroma-labs/courier/wire"
)

// State is a step in the lifecycle of one logical request. Transitions are
// recorded as span events named "state.<name>" and logged at trace level.
//
//	Init → Connecting → Sending → AwaitingResponse → Parsing
//	     → (Redirecting → Connecting | Done) → Done | Failed
type State int

const (
	StateInit State = iota
	StateConnecting
	StateSending
	StateAwaitingResponse
	StateParsing
	StateRedirecting
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateInit:             "init",
	StateConnecting:       "connecting",
	StateSending:          "sending",
	StateAwaitingResponse: "awaiting_response",
	StateParsing:          "parsing",
	StateRedirecting:      "redirecting",
	StateDone:             "done",
	StateFailed:           "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// enter records a state transition.
func (cfg *internalConfig) enter(ctx context.Context, s State, attrs ...attribute.KeyValue) {
	cfg.Logger.Trace().Stringer("state", s).Msg("request_state")

	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent("state."+s.String(), trace.WithAttributes(attrs...))
}

// Eviction reasons added by the engine on top of the pool's own.
const (
	reasonWriteError     = "write_error"
	reasonReadError      = "read_error"
	reasonProtocolError  = "protocol_error"
	reasonTimeout        = "timeout"
	reasonNotReusable    = "not_reusable"
	reasonBodyAbandoned  = "body_abandoned"
	reasonContentEncoded = "content_encoding"
)

// drainLimit bounds how much unread body is discarded to save a connection.
const drainLimit = 64 << 10

// hopTransport sends one request over one pooled connection and returns the
// response with its body unread. It is the innermost layer of the engine.
type hopTransport struct {
	pool *pool.Pool
	cfg  *internalConfig
}

func newHopTransport(p *pool.Pool, cfg *internalConfig) *hopTransport {
	return &hopTransport{pool: p, cfg: cfg}
}

// RoundTrip implements RoundTripper.
func (t *hopTransport) RoundTrip(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	out := t.prepare(req)
	if err := out.Validate(); err != nil {
		return nil, err
	}

	key, err := pool.KeyFromURL(out.URL, !t.verify(out))
	if err != nil {
		return nil, err
	}

	t.cfg.enter(ctx, StateConnecting,
		attribute.String("server.address", key.Host),
		attribute.Int("server.port", key.Port),
	)
	conn, err := t.connect(ctx, key)
	if err != nil {
		return nil, contextualError(ctx, err)
	}
	stop := conn.Bind(ctx)
	conn.SetReadTimeout(t.cfg.httpConfig.ReadTimeout)
	addConnEvents(trace.SpanFromContext(ctx), conn)

	fail := func(reason string, err error) (*wire.Response, error) {
		stop()
		t.pool.Evict(conn, reason)
		return nil, contextualError(ctx, err)
	}

	t.cfg.enter(ctx, StateSending, attribute.Bool("connection.reused", conn.Reused()))
	if err := wire.WriteRequest(conn.Writer(), out); err != nil {
		return fail(reasonWriteError, err)
	}
	wrote := time.Now()
	if t.cfg.UploadProgress != nil && len(out.Body) > 0 {
		n := int64(len(out.Body))
		t.cfg.UploadProgress(n, n)
	}

	t.cfg.enter(ctx, StateAwaitingResponse)
	resp, err := wire.ReadResponse(conn.Reader(), out.Method, wire.ParseOptions{
		MaxHeaderBytes: t.cfg.httpConfig.MaxResponseHeaderBytes,
		OnFirstByte: func() {
			ttfb := time.Since(wrote)
			t.cfg.Metrics.recordTTFB(ctx, ttfb, t.cfg.baseAttributes())
			t.cfg.enter(ctx, StateParsing, attribute.Int64("ttfb_ms", ttfb.Milliseconds()))
		},
	})
	if err != nil {
		return fail(evictReason(err), err)
	}

	resp.URL = out.URL
	resp.Request = out

	body := &connBody{
		r:        resp.Stream,
		conn:     conn,
		pool:     t.pool,
		ctx:      ctx,
		stop:     stop,
		reuse:    !resp.ConnClose,
		total:    resp.ContentLength,
		progress: t.cfg.DownloadProgress,
		onDone: func(n int64) {
			t.cfg.Metrics.recordResponseBodySize(ctx, n, t.cfg.baseAttributes())
		},
	}
	resp.Stream = body
	if resp.ContentLength == 0 {
		body.finish(nil)
	}

	if ce := resp.Header.Get("Content-Encoding"); ce != "" && resp.ContentLength != 0 && t.decodes(out) {
		decoded, err := wire.DecodeBody(ce, body)
		if err != nil {
			body.abandon(reasonContentEncoded)
			return nil, contextualError(ctx, err)
		}
		resp.Stream = &decodedStream{ReadCloser: decoded, raw: body}
		resp.ContentLength = -1
	}

	return resp, nil
}

// prepare applies per-connection headers to a copy of req.
func (t *hopTransport) prepare(req *wire.Request) *wire.Request {
	if !t.cfg.httpConfig.DisableKeepAlives || req.Header.HasToken("Connection", "close") {
		return req
	}
	out := req.Clone()
	out.Header.Set("Connection", "close")
	return out
}

func (t *hopTransport) verify(req *wire.Request) bool {
	switch req.TLSVerify {
	case wire.VerifyOn:
		return true
	case wire.VerifyOff:
		return false
	default:
		return t.cfg.httpConfig.TLSVerify
	}
}

// decodes reports whether the client advertised the encodings itself, in
// which case it owes the caller a decoded body.
func (t *hopTransport) decodes(req *wire.Request) bool {
	return !t.cfg.httpConfig.DisableCompression && req.Header.Get("Accept-Encoding") == wire.AcceptEncoding
}

func (t *hopTransport) connect(ctx context.Context, key pool.Key) (*pool.Conn, error) {
	if wantsFreshConn(ctx) {
		return t.pool.Dial(ctx, key)
	}
	return t.pool.Acquire(ctx, key)
}

// Pool returns the connection pool behind the transport.
func (t *hopTransport) Pool() *pool.Pool { return t.pool }

// contextualError maps a hop failure onto the error taxonomy: expiry of
// the request context is an overall timeout, cancellation is returned as
// context.Canceled and any other I/O timeout is a read timeout.
func contextualError(ctx context.Context, err error) error {
	if err == nil || httperr.IsTimeout(err, 0) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return &httperr.TimeoutError{Kind: httperr.TimeoutOverall, Err: err}
		}
		return ctxErr
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		// The deadline can pass a moment before ctx notices.
		if dl, ok := ctx.Deadline(); ok && !time.Now().Before(dl) {
			return &httperr.TimeoutError{Kind: httperr.TimeoutOverall, Err: err}
		}
		return &httperr.TimeoutError{Kind: httperr.TimeoutRead, Err: err}
	}
	return err
}

func evictReason(err error) string {
	var (
		protoErr *httperr.ProtocolError
		ne       net.Error
	)
	switch {
	case errors.As(err, &protoErr):
		return reasonProtocolError
	case errors.As(err, &ne) && ne.Timeout():
		return reasonTimeout
	case errors.Is(err, context.Canceled):
		return pool.ReasonAborted
	default:
		return reasonReadError
	}
}

// connBody is the response body of one hop. Reading it to EOF returns the
// connection to the pool; an error or an early Close evicts it.
type connBody struct {
	r        io.ReadCloser
	conn     *pool.Conn
	pool     *pool.Pool
	ctx      context.Context
	stop     func()
	reuse    bool
	read     int64
	total    int64
	progress ProgressFunc
	onDone   func(n int64)

	done   bool
	closed bool
	err    error
}

func (b *connBody) Read(p []byte) (int, error) {
	switch {
	case b.closed:
		return 0, httperr.ErrBodyClosed
	case b.done:
		if b.err != nil {
			return 0, b.err
		}
		return 0, io.EOF
	}

	n, err := b.r.Read(p)
	b.read += int64(n)
	if n > 0 && b.progress != nil {
		b.progress(b.read, b.total)
	}

	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		b.finish(nil)
	default:
		err = contextualError(b.ctx, err)
		b.finish(err)
	}
	return n, err
}

// Close releases the connection if the body was fully read and evicts it
// otherwise.
func (b *connBody) Close() error {
	if b.closed {
		return nil
	}
	if !b.done {
		b.abandon(reasonBodyAbandoned)
	}
	b.closed = true
	return b.r.Close()
}

// drain reads what is left of the body, up to drainLimit, so the
// connection can be reused.
func (b *connBody) drain() error {
	if b.done {
		return b.err
	}
	_, err := io.CopyN(io.Discard, onlyReader{b}, drainLimit)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		b.abandon(reasonBodyAbandoned)
	}
	return err
}

func (b *connBody) finish(err error) {
	if b.done {
		return
	}
	b.done = true
	b.err = err
	b.stop()

	switch {
	case err != nil:
		b.pool.Evict(b.conn, evictReason(err))
	case !b.reuse:
		b.pool.Evict(b.conn, reasonNotReusable)
	default:
		b.pool.Release(b.conn)
	}
	if b.onDone != nil {
		b.onDone(b.read)
	}
}

func (b *connBody) abandon(reason string) {
	if b.done {
		return
	}
	b.done = true
	b.err = httperr.ErrBodyClosed
	b.stop()
	b.pool.Evict(b.conn, reason)
}

// decodedStream is a content-decoded body. When the decoder reports the
// end of its data, the rest of the raw framing is drained so the
// connection can go back to the pool.
type decodedStream struct {
	io.ReadCloser
	raw *connBody
}

func (d *decodedStream) Read(p []byte) (int, error) {
	n, err := d.ReadCloser.Read(p)
	if errors.Is(err, io.EOF) {
		if derr := d.raw.drain(); derr != nil {
			return n, derr
		}
	}
	return n, err
}

// onlyReader hides every method but Read, so io.Copy cannot take a
// WriterTo shortcut.
type onlyReader struct{ io.Reader }
