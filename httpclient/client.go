package httpclient

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/kroma-labs/courier/httperr"
	"github.com/kroma-labs/courier/pool"
	"github.com/kroma-labs/courier/wire"
)

// Client executes HTTP/1.1 requests over its own connection pool, following
// redirects, with OpenTelemetry instrumentation and a stale connection retry.
//
// Create a Client using New() and release it with Close():
//
//	client := httpclient.New(
//	    httpclient.WithServiceName("payment-service"),
//	)
//	defer client.Close()
//
//	resp, err := client.Get(ctx, "https://api.example.com/payments/42")
//
// A Client is safe for concurrent use.
type Client struct {
	config    *internalConfig
	pool      *pool.Pool
	transport RoundTripper

	// baseCtx is cancelled by Shutdown, which cancels every in-flight request.
	baseCtx context.Context
	cancel  context.CancelFunc

	mu        sync.RWMutex
	closed    bool
	submitted sync.WaitGroup
}

// New creates a Client with production-ready defaults and OpenTelemetry instrumentation.
//
// The engine is a chain of layers, outermost first:
//   - tracing and metrics, one span per logical request
//   - rate limiting (WithRateLimit)
//   - coalescing of identical GET and HEAD requests (WithCoalescing)
//   - redirect following
//   - circuit breaking, per hop (WithCircuitBreaker)
//   - retry, per hop: one immediate retry of stale connections by default
//   - the connection-level transport over the pool
//
// Example - Basic usage:
//
//	client := httpclient.New(
//	    httpclient.WithServiceName("my-service"),
//	    httpclient.WithLogger(logger),
//	)
//
// Example - Custom timeouts:
//
//	cfg := httpclient.DefaultConfig()
//	cfg.OverallTimeout = 10 * time.Second
//	client := httpclient.New(httpclient.WithConfig(cfg))
func New(opts ...Option) *Client {
	cfg := newConfig(opts...)

	c := &Client{config: cfg}

	var base RoundTripper
	if cfg.MockTransport != nil {
		base = cfg.MockTransport
	} else {
		c.pool = pool.New(cfg.poolConfig())
		base = newHopTransport(c.pool, cfg)
	}

	withRetry := newRetryTransport(base, cfg)
	withBreaker := newCircuitBreakerTransport(withRetry, cfg)
	withRedirects := newRedirectTransport(withBreaker, cfg)
	withCoalescing := newCoalesceTransport(withRedirects, cfg)
	withRateLimit := newRateLimitTransport(withCoalescing, cfg.RateLimit)
	c.transport = newOtelTransport(withRateLimit, cfg)

	c.baseCtx, c.cancel = context.WithCancel(context.Background())
	return c
}

// Execute sends req and returns the final response, after redirects, with
// its body read into Body. req is not modified and may be reused.
//
// Failures are typed (see package httperr):
//
//	resp, err := client.Execute(ctx, req)
//	switch {
//	case httperr.IsTimeout(err, httperr.TimeoutRead):
//	    // server went quiet
//	case errors.As(err, new(*httperr.RedirectLimitError)):
//	    // too many redirects
//	}
//
// A response is returned for every status code; 4xx and 5xx are not errors
// unless a response interceptor makes them one.
func (c *Client) Execute(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	if c.isClosed() {
		return nil, httperr.ErrClientClosed
	}
	return c.do(ctx, req, false)
}

// Stream is like Execute but leaves the final body unread in resp.Stream.
// The caller must read it to EOF or Close it; reading to EOF returns the
// connection to the pool, closing early discards it. The overall timeout
// keeps running until the body is done.
//
// Example:
//
//	resp, err := client.Stream(ctx, req)
//	if err != nil {
//	    return err
//	}
//	defer resp.Close()
//	for chunk, err := range resp.Chunks(32 * 1024) {
//	    ...
//	}
func (c *Client) Stream(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	if c.isClosed() {
		return nil, httperr.ErrClientClosed
	}
	return c.do(ctx, req, true)
}

// Get issues a GET to rawURL.
func (c *Client) Get(ctx context.Context, rawURL string) (*wire.Response, error) {
	return c.send(ctx, wire.MethodGet, rawURL, nil)
}

// Head issues a HEAD to rawURL.
func (c *Client) Head(ctx context.Context, rawURL string) (*wire.Response, error) {
	return c.send(ctx, wire.MethodHead, rawURL, nil)
}

// Post issues a POST of body to rawURL.
func (c *Client) Post(ctx context.Context, rawURL string, body []byte) (*wire.Response, error) {
	return c.send(ctx, wire.MethodPost, rawURL, body)
}

// Put issues a PUT of body to rawURL.
func (c *Client) Put(ctx context.Context, rawURL string, body []byte) (*wire.Response, error) {
	return c.send(ctx, wire.MethodPut, rawURL, body)
}

// Patch issues a PATCH of body to rawURL.
func (c *Client) Patch(ctx context.Context, rawURL string, body []byte) (*wire.Response, error) {
	return c.send(ctx, wire.MethodPatch, rawURL, body)
}

// Delete issues a DELETE to rawURL.
func (c *Client) Delete(ctx context.Context, rawURL string) (*wire.Response, error) {
	return c.send(ctx, wire.MethodDelete, rawURL, nil)
}

// Options issues an OPTIONS to rawURL.
func (c *Client) Options(ctx context.Context, rawURL string) (*wire.Response, error) {
	return c.send(ctx, wire.MethodOptions, rawURL, nil)
}

func (c *Client) send(ctx context.Context, method wire.Method, rawURL string, body []byte) (*wire.Response, error) {
	req, err := wire.NewRequest(method, rawURL, body)
	if err != nil {
		return nil, err
	}
	return c.Execute(ctx, req)
}

// Submit executes req in the background and passes the outcome to done.
// Close waits for submitted requests to finish.
//
// Example:
//
//	client.Submit(ctx, req, func(resp *wire.Response, err error) {
//	    results <- result{resp, err}
//	})
func (c *Client) Submit(ctx context.Context, req *wire.Request, done func(*wire.Response, error)) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		if done != nil {
			done(nil, httperr.ErrClientClosed)
		}
		return
	}
	c.submitted.Add(1)
	c.mu.RUnlock()

	go func() {
		defer c.submitted.Done()
		resp, err := c.do(ctx, req, false)
		if done != nil {
			done(resp, err)
		}
	}()
}

// Close stops accepting requests, waits for submitted ones and closes the
// pool. Requests already running through Execute keep their connections
// until they finish. Close is idempotent.
func (c *Client) Close() error {
	if !c.markClosed() {
		return nil
	}
	c.submitted.Wait()
	return c.closePool()
}

// Shutdown is Close that does not wait: in-flight requests are cancelled
// and their connections evicted.
func (c *Client) Shutdown() error {
	if !c.markClosed() {
		return nil
	}
	c.cancel()
	c.submitted.Wait()
	return c.closePool()
}

func (c *Client) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	return true
}

func (c *Client) closePool() error {
	if c.pool == nil {
		return nil
	}
	return c.pool.Close()
}

// Pool returns the connection pool, or nil with WithMockTransport.
// Register its Collector to export pool gauges to Prometheus:
//
//	prometheus.MustRegister(client.Pool().Collector())
func (c *Client) Pool() *pool.Pool {
	return c.pool
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Client) do(ctx context.Context, req *wire.Request, stream bool) (*wire.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	out := c.prepare(req)
	if err := c.config.Interceptors.ApplyRequestInterceptors(out); err != nil {
		return nil, err
	}

	ctx, cancel := c.requestContext(ctx)
	if stream {
		ctx = withStreaming(ctx)
	}

	resp, err := c.transport.RoundTrip(ctx, out)
	if err != nil {
		cancel()
		return nil, err
	}

	if resp.Stream != nil {
		resp.Stream = &cancelOnDone{ReadCloser: resp.Stream, cancel: cancel}
	} else {
		cancel()
	}

	if err := c.config.Interceptors.ApplyResponseInterceptors(resp, out); err != nil {
		return resp, err
	}
	return resp, nil
}

// prepare clones req and adds the client-level headers it lacks.
func (c *Client) prepare(req *wire.Request) *wire.Request {
	out := req.Clone()
	hc := c.config.httpConfig

	for _, f := range c.config.DefaultHeaders.Fields() {
		if !req.Header.Has(f.Name) {
			out.Header.Add(f.Name, f.Value)
		}
	}
	if hc.UserAgent != "" && !out.Header.Has("User-Agent") {
		out.Header.Set("User-Agent", hc.UserAgent)
	}
	if !hc.DisableCompression && !out.Header.Has("Accept-Encoding") {
		out.Header.Set("Accept-Encoding", wire.AcceptEncoding)
	}
	if h := c.config.RequestIDHeader; h != "" && !out.Header.Has(h) {
		out.Header.Set(h, uuid.NewString())
	}
	return out
}

// requestContext derives the context of one logical request: bounded by
// the overall timeout and cancelled by Shutdown.
func (c *Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	var cancel context.CancelFunc
	if d := c.config.httpConfig.OverallTimeout; d > 0 {
		ctx, cancel = context.WithTimeout(ctx, d)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	stop := context.AfterFunc(c.baseCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// cancelOnDone releases the request context once a streamed body is
// finished, by EOF, error or Close.
type cancelOnDone struct {
	io.ReadCloser
	cancel context.CancelFunc
	once   sync.Once
}

func (b *cancelOnDone) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil {
		b.once.Do(b.cancel)
	}
	return n, err
}

func (b *cancelOnDone) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.cancel)
	return err
}
