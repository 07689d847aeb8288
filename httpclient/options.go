package httpclient

import (
	"crypto/tls"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/courier/pool"
	"github.com/kroma-labs/courier/redirect"
	"github.com/kroma-labs/courier/wire"
)

const (
	// scope is the instrumentation scope name for OpenTelemetry.
	scope = "github.com/kroma-labs/courier/httpclient"

	// DefaultUserAgent is sent when the request carries no User-Agent.
	DefaultUserAgent = "courier/1.0"
)

// =============================================================================
// Config - Engine Configuration
// =============================================================================

// Config holds the request engine configuration.
// Use DefaultConfig() to get a properly initialized configuration,
// then modify specific fields as needed.
//
// A zero Config is valid but follows no redirects (MaxRedirects is zero)
// and has no deadlines at all.
//
// Example:
//
//	cfg := httpclient.DefaultConfig()
//	cfg.OverallTimeout = 5 * time.Second
//	cfg.MaxRedirects = 3
//
//	client := httpclient.New(
//	    httpclient.WithConfig(cfg),
//	    httpclient.WithServiceName("payment-service"),
//	)
type Config struct {
	// =======================================================================
	// Redirects
	// =======================================================================

	// FollowRedirects enables the redirect loop. When false, a 3xx response
	// is returned to the caller as the final response.
	//
	// Default: true
	FollowRedirects bool

	// MaxRedirects is the number of redirects a single logical request may
	// follow. The request that would exceed it is never sent; the call fails
	// with *httperr.RedirectLimitError instead.
	//
	// Example:
	//   - APIs that never redirect: 0 (fail loudly on any redirect)
	//   - Typical web endpoints: 10 (default)
	//
	// Default: 10
	MaxRedirects int

	// =======================================================================
	// Deadlines
	// =======================================================================

	// ConnectTimeout bounds TCP dial plus TLS handshake for one connection.
	// Expiry yields *httperr.TimeoutError with Kind TimeoutConnect.
	// Zero disables it.
	//
	// Default: 5s
	ConnectTimeout time.Duration

	// ReadTimeout is the inactivity limit for every read from the
	// connection: waiting for the status line, header bytes and body bytes
	// alike. It is re-armed before each read, so a slow but steady body
	// never trips it. Expiry yields TimeoutError{Kind: TimeoutRead}.
	// Zero disables it.
	//
	// Default: 30s
	ReadTimeout time.Duration

	// OverallTimeout bounds the whole logical request: every redirect hop,
	// the retry, and reading a buffered body. For streamed responses it
	// keeps running until the body is closed. Expiry yields
	// TimeoutError{Kind: TimeoutOverall}. Zero disables it.
	//
	// Default: 60s
	OverallTimeout time.Duration

	// =======================================================================
	// TLS
	// =======================================================================

	// TLSVerify enables certificate chain and hostname verification.
	// Individual requests can override it through wire.Request.TLSVerify.
	// Connections made with and without verification are pooled apart.
	//
	// Default: true
	TLSVerify bool

	// =======================================================================
	// Connection Pool
	// =======================================================================

	// PoolIdleTTL is how long a connection may sit idle in the pool before it
	// is closed. Should be shorter than the server's keep-alive timeout to
	// avoid racing the peer's close.
	//
	// Example:
	//   - Most services: 90s (default)
	//   - Behind AWS ALB (60s idle timeout): 55s
	//
	// Default: 90s
	PoolIdleTTL time.Duration

	// MaxIdleConnsPerHost caps the idle connections kept per
	// (scheme, host, port) bucket.
	//
	// Default: 20
	MaxIdleConnsPerHost int

	// MaxConnsPerHost caps idle plus in-use connections per bucket. Requests
	// over the cap wait for a connection to be released. Zero means
	// unlimited.
	//
	// Default: 100
	MaxConnsPerHost int

	// MaxConns caps idle plus in-use connections across all hosts. At the
	// cap an idle connection to any host is closed to make room, or the
	// request waits. Zero means unlimited.
	//
	// Default: 0
	MaxConns int

	// KeepAlive is the TCP keep-alive probe interval.
	//
	// Default: 30s
	KeepAlive time.Duration

	// DisableKeepAlives closes every connection after one request and sends
	// "Connection: close".
	//
	// Default: false
	DisableKeepAlives bool

	// BufferSize sizes the read and write buffer of each connection.
	//
	// Default: 64KB
	BufferSize int

	// =======================================================================
	// Protocol
	// =======================================================================

	// MaxResponseHeaderBytes bounds the status line plus header block of a
	// response. Larger heads fail with *httperr.ProtocolError.
	//
	// Default: 64KB
	MaxResponseHeaderBytes int

	// DisableCompression stops the client from advertising
	// Accept-Encoding and transparently decoding compressed bodies.
	// Callers that set their own Accept-Encoding always receive the body
	// as sent.
	//
	// Default: true (bodies arrive exactly as the server sent them)
	DisableCompression bool

	// UserAgent is sent when the request has no User-Agent header.
	// Empty sends none.
	//
	// Default: DefaultUserAgent
	UserAgent string
}

// DefaultConfig returns a balanced configuration suitable for most use cases.
//
// Key settings:
//   - Follows up to 10 redirects
//   - 5s connect, 30s read, 60s overall deadline
//   - 20 idle connections per host, 100 max per host, 90s idle TTL
//   - TLS verification on
func DefaultConfig() Config {
	return Config{
		FollowRedirects: true,
		MaxRedirects:    redirect.DefaultMaxRedirects,

		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    30 * time.Second,
		OverallTimeout: 60 * time.Second,

		TLSVerify: true,

		PoolIdleTTL:         90 * time.Second,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     100,
		KeepAlive:           30 * time.Second,
		BufferSize:          64 * 1024,

		MaxResponseHeaderBytes: wire.DefaultMaxHeaderBytes,
		DisableCompression:     true,
		UserAgent:              DefaultUserAgent,
	}
}

// HighThroughputConfig returns a configuration for many concurrent requests
// to a few hosts.
//
// Key settings:
//   - 100 idle connections per host, no per-host cap
//   - 120s idle TTL to keep warm connections around
//   - Larger buffers
func HighThroughputConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxIdleConnsPerHost = 100
	cfg.MaxConnsPerHost = 0 // Unlimited for bursts
	cfg.PoolIdleTTL = 120 * time.Second
	cfg.BufferSize = 128 * 1024
	return cfg
}

// LowLatencyConfig returns a configuration that fails fast.
//
// Key settings:
//   - 2s connect, 3s read, 5s overall deadline
//   - 60s idle TTL, 25 idle connections per host
func LowLatencyConfig() Config {
	cfg := DefaultConfig()
	cfg.ConnectTimeout = 2 * time.Second
	cfg.ReadTimeout = 3 * time.Second
	cfg.OverallTimeout = 5 * time.Second
	cfg.PoolIdleTTL = 60 * time.Second
	cfg.MaxIdleConnsPerHost = 25
	cfg.MaxConnsPerHost = 50
	cfg.KeepAlive = 15 * time.Second
	cfg.BufferSize = 32 * 1024
	return cfg
}

// ConservativeConfig returns a configuration for resource-constrained
// environments.
//
// Key settings:
//   - 5 idle connections per host, 20 max per host, 64 in total
//   - 30s idle TTL
//   - Follows at most 5 redirects
//   - Small buffers
func ConservativeConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxRedirects = 5
	cfg.OverallTimeout = 30 * time.Second
	cfg.PoolIdleTTL = 30 * time.Second
	cfg.MaxIdleConnsPerHost = 5
	cfg.MaxConnsPerHost = 20
	cfg.MaxConns = 64
	cfg.BufferSize = 4 * 1024
	return cfg
}

// poolConfig translates the engine configuration for the connection pool.
func (cfg *internalConfig) poolConfig() pool.Config {
	hc := cfg.httpConfig

	maxIdle := hc.MaxIdleConnsPerHost
	if hc.DisableKeepAlives {
		maxIdle = -1
	}

	return pool.Config{
		Dialer:           cfg.Dialer,
		ConnectTimeout:   hc.ConnectTimeout,
		KeepAlive:        hc.KeepAlive,
		IdleTTL:          hc.PoolIdleTTL,
		MaxIdlePerHost:   maxIdle,
		MaxConnsPerHost:  hc.MaxConnsPerHost,
		MaxConns:         hc.MaxConns,
		TLSConfig:        cfg.TLSConfig,
		VerifyConnection: cfg.VerifyConnection,
		BufferSize:       hc.BufferSize,
		Logger:           cfg.Logger,
		MeterProvider:    cfg.MeterProvider,
	}
}

// =============================================================================
// Internal Configuration
// =============================================================================

// internalConfig holds all configuration for the client, including
// observability settings that are not part of the public Config struct.
type internalConfig struct {
	httpConfig Config

	// =======================================================================
	// OpenTelemetry
	// =======================================================================

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	Metrics        *metrics
	Propagators    propagation.TextMapPropagator

	// ServiceName identifies the client in spans, metrics and as the
	// circuit breaker name.
	ServiceName string

	// =======================================================================
	// Logging
	// =======================================================================

	Logger       zerolog.Logger
	Debug        bool
	GenerateCurl bool

	// =======================================================================
	// Transport
	// =======================================================================

	TLSConfig        *tls.Config
	VerifyConnection func(tls.ConnectionState) error
	Dialer           pool.Dialer
	MockTransport    *MockTransport

	// =======================================================================
	// Request Decoration
	// =======================================================================

	BaseURL          string
	DefaultHeaders   wire.Header
	RequestIDHeader  string
	Interceptors     InterceptorChain
	UploadProgress   ProgressFunc
	DownloadProgress ProgressFunc

	// =======================================================================
	// Resilience
	// =======================================================================

	RetryConfig     RetryConfig
	RetryBackOff    func() backoff.BackOff
	RetryClassifier RetryClassifier
	BreakerConfig   *BreakerConfig
	RateLimit       RateLimitConfig
	Coalesce        bool
}

// newConfig creates an internalConfig with defaults and applies options.
func newConfig(opts ...Option) *internalConfig {
	cfg := &internalConfig{
		httpConfig:     DefaultConfig(),
		TracerProvider: otel.GetTracerProvider(),
		MeterProvider:  otel.GetMeterProvider(),
		Logger:         zerolog.Nop(),
		RetryConfig:    DefaultRetryConfig(),
	}

	for _, opt := range opts {
		opt(cfg)
	}

	cfg.Tracer = cfg.TracerProvider.Tracer(scope)
	cfg.Meter = cfg.MeterProvider.Meter(scope)
	if cfg.Propagators == nil {
		cfg.Propagators = propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		)
	}

	var err error
	cfg.Metrics, err = newMetrics(cfg.Meter)
	if err != nil {
		cfg.Logger.Warn().Err(err).Msg("client metrics disabled")
	}

	return cfg
}

// baseAttributes returns attributes common to all telemetry.
func (cfg *internalConfig) baseAttributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 1)
	if cfg.ServiceName != "" {
		attrs = append(attrs, attribute.String("http.client.name", cfg.ServiceName))
	}
	return attrs
}

// =============================================================================
// Options
// =============================================================================

// Option configures a Client.
type Option func(*internalConfig)

// WithConfig replaces the engine configuration.
//
// Example:
//
//	client := httpclient.New(
//	    httpclient.WithConfig(httpclient.LowLatencyConfig()),
//	)
func WithConfig(c Config) Option {
	return func(cfg *internalConfig) {
		cfg.httpConfig = c
	}
}

// WithServiceName sets the http.client.name attribute on spans and metrics.
// It also names the circuit breaker.
func WithServiceName(name string) Option {
	return func(cfg *internalConfig) {
		cfg.ServiceName = name
	}
}

// WithTracerProvider sets the TracerProvider. Default: otel.GetTracerProvider().
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *internalConfig) {
		cfg.TracerProvider = tp
	}
}

// WithMeterProvider sets the MeterProvider used by the client and its
// connection pool. Default: otel.GetMeterProvider().
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *internalConfig) {
		cfg.MeterProvider = mp
	}
}

// WithPropagators sets the propagator used to inject trace context into
// outgoing headers. Default: W3C TraceContext and Baggage.
func WithPropagators(p propagation.TextMapPropagator) Option {
	return func(cfg *internalConfig) {
		cfg.Propagators = p
	}
}

// WithTLSConfig sets the base TLS configuration. It is cloned for every
// handshake; ServerName defaults to the request host.
//
// Use RootCAs to trust a private CA:
//
//	pool := x509.NewCertPool()
//	pool.AppendCertsFromPEM(caPEM)
//	client := httpclient.New(
//	    httpclient.WithTLSConfig(&tls.Config{RootCAs: pool}),
//	)
func WithTLSConfig(tlsCfg *tls.Config) Option {
	return func(cfg *internalConfig) {
		cfg.TLSConfig = tlsCfg
	}
}

// WithVerifyConnection installs a hook that runs after certificate
// verification (or in place of it when verification is off). Returning an
// error aborts the handshake with a *httperr.ConnectError.
//
// Example - certificate pinning:
//
//	httpclient.WithVerifyConnection(func(cs tls.ConnectionState) error {
//	    if !pinned(cs.PeerCertificates[0]) {
//	        return errors.New("unexpected certificate")
//	    }
//	    return nil
//	})
func WithVerifyConnection(fn func(tls.ConnectionState) error) Option {
	return func(cfg *internalConfig) {
		cfg.VerifyConnection = fn
	}
}

// WithDialer replaces the TCP dialer.
func WithDialer(d pool.Dialer) Option {
	return func(cfg *internalConfig) {
		cfg.Dialer = d
	}
}

// WithBaseURL sets the URL that paths given to Client.Request are resolved
// against.
//
// Example:
//
//	client := httpclient.New(httpclient.WithBaseURL("https://api.example.com/v1"))
//	resp, err := client.Request("GetUser").Path("/users/{id}").PathParam("id", "42").Get(ctx)
func WithBaseURL(baseURL string) Option {
	return func(cfg *internalConfig) {
		cfg.BaseURL = baseURL
	}
}

// WithUserAgent sets the default User-Agent.
func WithUserAgent(ua string) Option {
	return func(cfg *internalConfig) {
		cfg.httpConfig.UserAgent = ua
	}
}

// WithDefaultHeader adds a header sent with every request that does not
// already carry it.
func WithDefaultHeader(name, value string) Option {
	return func(cfg *internalConfig) {
		cfg.DefaultHeaders.Add(name, value)
	}
}

// WithRequestID sets a fresh UUID in the given header for every logical
// request that lacks one. Redirect hops and the retry reuse the same ID.
//
// Example:
//
//	client := httpclient.New(httpclient.WithRequestID("X-Request-ID"))
func WithRequestID(header string) Option {
	return func(cfg *internalConfig) {
		cfg.RequestIDHeader = header
	}
}

// WithLogger sets the zerolog logger. Connection evictions are logged at
// debug level and request state transitions at trace level.
// Default: zerolog.Nop().
func WithLogger(l zerolog.Logger) Option {
	return func(cfg *internalConfig) {
		cfg.Logger = l
	}
}

// WithDebug logs every request and response at debug level.
func WithDebug(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.Debug = enabled
	}
}

// WithGenerateCurl adds a cURL reproduction of each request to the debug
// log. Implies nothing unless WithDebug is also enabled.
func WithGenerateCurl(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.GenerateCurl = enabled
	}
}

// WithRetryConfig replaces the retry configuration.
// Default: DefaultRetryConfig() (one immediate retry of stale connections).
func WithRetryConfig(rc RetryConfig) Option {
	return func(cfg *internalConfig) {
		cfg.RetryConfig = rc
	}
}

// WithRetryBackOff sets a custom backoff strategy, overriding the intervals
// in RetryConfig. MaxRetries still applies. newBackOff is called once per
// logical request, so every request keeps its own backoff state.
//
// Example:
//
//	client := httpclient.New(
//	    httpclient.WithRetryBackOff(func() backoff.BackOff {
//	        return backoff.NewConstantBackOff(50 * time.Millisecond)
//	    }),
//	)
func WithRetryBackOff(newBackOff func() backoff.BackOff) Option {
	return func(cfg *internalConfig) {
		cfg.RetryBackOff = newBackOff
	}
}

// WithRetryClassifier replaces the function deciding which failures are
// retried. Default: DefaultRetryClassifier.
func WithRetryClassifier(c RetryClassifier) Option {
	return func(cfg *internalConfig) {
		cfg.RetryClassifier = c
	}
}

// WithCircuitBreaker enables the circuit breaker.
//
// Example:
//
//	client := httpclient.New(
//	    httpclient.WithServiceName("billing"),
//	    httpclient.WithCircuitBreaker(httpclient.DefaultBreakerConfig()),
//	)
func WithCircuitBreaker(bc BreakerConfig) Option {
	return func(cfg *internalConfig) {
		cfg.BreakerConfig = &bc
	}
}

// WithRateLimit enables client-side rate limiting.
func WithRateLimit(rl RateLimitConfig) Option {
	return func(cfg *internalConfig) {
		cfg.RateLimit = rl
	}
}

// WithCoalescing merges identical concurrent GET and HEAD requests into one
// network request. Only buffered calls (Execute and its helpers) are
// coalesced; Stream always issues its own request.
func WithCoalescing(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.Coalesce = enabled
	}
}

// WithRequestInterceptor adds an interceptor run on every logical request
// before it is sent.
func WithRequestInterceptor(i RequestInterceptor) Option {
	return func(cfg *internalConfig) {
		cfg.Interceptors.AddRequestInterceptor(i)
	}
}

// WithResponseInterceptor adds an interceptor run on every final response.
func WithResponseInterceptor(i ResponseInterceptor) Option {
	return func(cfg *internalConfig) {
		cfg.Interceptors.AddResponseInterceptor(i)
	}
}

// WithUploadProgress reports request body bytes written, once per hop.
func WithUploadProgress(fn ProgressFunc) Option {
	return func(cfg *internalConfig) {
		cfg.UploadProgress = fn
	}
}

// WithDownloadProgress reports response body bytes as they are read.
func WithDownloadProgress(fn ProgressFunc) Option {
	return func(cfg *internalConfig) {
		cfg.DownloadProgress = fn
	}
}
