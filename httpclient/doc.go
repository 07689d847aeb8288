// Package httpclient is an HTTP/1.1 request engine with its own connection
// pool, redirect following and OpenTelemetry instrumentation.
//
// # Features
//
//   - Keep-alive connection pool keyed by scheme, host, port and TLS mode
//   - Redirect following with per-status method and body rules
//   - Connect, read and overall deadlines, each with its own error kind
//   - One transparent retry of stale pooled connections
//   - OpenTelemetry tracing with a state event per lifecycle step
//   - Optional circuit breaking, rate limiting and request coalescing
//
// # Quick Start
//
//	client := httpclient.New(
//	    httpclient.WithServiceName("my-service"),
//	)
//	defer client.Close()
//
//	resp, err := client.Get(ctx, "https://api.example.com/users")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(resp.StatusCode, string(resp.Body))
//
// Requests can also be described explicitly:
//
//	req, _ := wire.NewRequest(wire.MethodPost, "https://api.example.com/users", payload)
//	req.Header.Set("Content-Type", "application/json")
//	resp, err := client.Execute(ctx, req)
//
// or built fluently against a base URL:
//
//	client := httpclient.New(httpclient.WithBaseURL("https://api.example.com"))
//
//	var user User
//	resp, err := client.Request("CreateUser").
//	    Body(newUser).
//	    Decode(&user).
//	    Post(ctx, "/users")
//
// # Redirects
//
// 301 and 302 turn a POST into a GET without a body, 303 always does, and
// 307 and 308 resend the same method and body. Every hop is checked against
// MaxRedirects before it is sent, and a URL seen twice in one chain fails
// with *httperr.RedirectLoopError. The final response carries the visited
// URLs in Response.Redirects.
//
// # Configuration Presets
//
//	client := httpclient.New(
//	    httpclient.WithConfig(httpclient.HighThroughputConfig()),
//	)
//
// DefaultConfig, HighThroughputConfig, LowLatencyConfig and
// ConservativeConfig are starting points; adjust fields as needed.
//
// # Retries
//
// By default a request that fails on a pooled connection before any byte
// of response arrived is retried once, immediately, on a new connection.
// Nothing else is retried. Wider policies are opt-in:
//
//	client := httpclient.New(
//	    httpclient.WithRetryConfig(httpclient.ExponentialRetryConfig()),
//	    httpclient.WithRetryClassifier(httpclient.StatusCodeClassifier(502, 503, 504)),
//	)
//
// # Streaming
//
// Execute buffers the final body. Stream leaves it in Response.Stream; the
// connection returns to the pool when the stream is read to EOF and is
// closed if the caller closes it early.
//
// # Errors
//
// Failures are typed, see package httperr. Non-2xx statuses are responses,
// not errors, unless StatusErrorInterceptor is installed.
//
// # Observability
//
// Each logical request is one client span named "HTTP {method}", with
// events for state transitions, redirects and retries. Metrics follow the
// OpenTelemetry HTTP client conventions; the pool exports its own gauges
// and a Prometheus collector:
//
//	prometheus.MustRegister(client.Pool().Collector())
//
// # Testing
//
// WithMockTransport swaps the network for canned responses while keeping
// redirects, retries and instrumentation in play:
//
//	mock := httpclient.NewMockTransport().
//	    StubRedirect("/old", 301, "/new").
//	    StubPath("/new", 200, `{"ok":true}`)
//	client := httpclient.New(httpclient.WithMockTransport(mock))
package httpclient
