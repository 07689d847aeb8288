package httpclient

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/courier/wire"
)

// Compile-time interface check.
var _ RoundTripper = (*otelTransport)(nil)

// otelTransport wraps a RoundTripper with OpenTelemetry instrumentation.
// It is the outermost layer: one span per logical request, redirects and
// retry included.
type otelTransport struct {
	next RoundTripper
	cfg  *internalConfig
}

// newOtelTransport creates a new instrumented transport.
func newOtelTransport(next RoundTripper, cfg *internalConfig) *otelTransport {
	return &otelTransport{next: next, cfg: cfg}
}

// RoundTrip implements RoundTripper with full tracing and metrics.
func (t *otelTransport) RoundTrip(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	start := time.Now()

	// Build span name: "HTTP {method}" or "HTTP {method} {operation}"
	spanName := "HTTP " + req.Method.String()
	attrs := t.requestAttributes(req)
	if op := operationName(ctx); op != "" {
		spanName += " " + op
		attrs = append(attrs, attribute.String("http.client.operation", op))
	}

	ctx, span := t.cfg.Tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	defer span.End()

	// Inject trace context into request headers
	t.cfg.Propagators.Inject(ctx, headerCarrier{&req.Header})

	t.cfg.enter(ctx, StateInit)

	// Track active requests
	baseAttrs := t.cfg.baseAttributes()
	t.cfg.Metrics.recordActiveRequestStart(ctx, baseAttrs)
	defer t.cfg.Metrics.recordActiveRequestEnd(ctx, baseAttrs)

	if len(req.Body) > 0 {
		t.cfg.Metrics.recordRequestBodySize(ctx, int64(len(req.Body)), baseAttrs)
	}

	if t.cfg.Debug {
		logRequest(t.cfg.Logger, req, t.cfg.GenerateCurl)
	}

	resp, err := t.next.RoundTrip(ctx, req)
	duration := time.Since(start)

	if err != nil {
		errorType := classifyError(err)
		t.cfg.enter(ctx, StateFailed, attribute.String("error.type", errorType))
		setSpanError(span, err, errorType)
		t.cfg.Metrics.recordError(ctx, errorType, baseAttrs)
		t.cfg.Metrics.recordRequestDuration(ctx, duration, t.errorAttributes(req, errorType))
		if t.cfg.Debug {
			logFailure(t.cfg.Logger, req, err, duration)
		}
		return nil, err
	}

	t.cfg.enter(ctx, StateDone, attribute.Int("http.response.status_code", resp.StatusCode))
	span.SetAttributes(t.responseAttributes(resp)...)
	addRedirectAttrs(span, resp)

	// Set span status based on response code
	if resp.StatusCode >= 400 {
		errorType := errorTypeFromStatusCode(resp.StatusCode)
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
		span.SetAttributes(attribute.String("error.type", errorType))
	}

	t.cfg.Metrics.recordRequestDuration(ctx, duration, t.metricsAttributes(req, resp))
	if t.cfg.Debug {
		logResponse(t.cfg.Logger, resp, duration)
	}

	return resp, nil
}

// requestAttributes returns span attributes for the request.
func (t *otelTransport) requestAttributes(req *wire.Request) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 10)
	attrs = append(attrs, t.cfg.baseAttributes()...)
	attrs = append(attrs, attribute.String("http.request.method", req.Method.String()))
	attrs = append(attrs, serverAttributes(req)...)
	attrs = append(attrs,
		attribute.String("url.full", req.URL.String()),
		attribute.String("url.scheme", req.URL.Scheme),
	)

	if len(req.Body) > 0 {
		attrs = append(attrs, attribute.Int("http.request.body.size", len(req.Body)))
	}

	if ua := req.Header.Get("User-Agent"); ua != "" {
		attrs = append(attrs, attribute.String("user_agent.original", ua))
	}

	return attrs
}

// responseAttributes returns span attributes for the response.
func (t *otelTransport) responseAttributes(resp *wire.Response) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 4)
	attrs = append(attrs, attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.Stream == nil {
		attrs = append(attrs, attribute.Int("http.response.body.size", len(resp.Body)))
	} else if resp.ContentLength >= 0 {
		attrs = append(attrs, attribute.Int64("http.response.body.size", resp.ContentLength))
	}

	if resp.ProtoMajor > 0 {
		attrs = append(attrs, attribute.String("network.protocol.version",
			strconv.Itoa(resp.ProtoMajor)+"."+strconv.Itoa(resp.ProtoMinor)))
	}

	return attrs
}

// metricsAttributes returns attributes for metrics recording.
func (t *otelTransport) metricsAttributes(req *wire.Request, resp *wire.Response) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 6)
	attrs = append(attrs, t.cfg.baseAttributes()...)
	attrs = append(attrs, attribute.String("http.request.method", req.Method.String()))
	attrs = append(attrs, serverAttributes(req)...)
	attrs = append(attrs, attribute.Int("http.response.status_code", resp.StatusCode))

	// Add error.type for 4xx/5xx responses
	if resp.StatusCode >= 400 {
		attrs = append(attrs, attribute.String("error.type", strconv.Itoa(resp.StatusCode)))
	}

	return attrs
}

// errorAttributes returns attributes for error metrics.
func (t *otelTransport) errorAttributes(req *wire.Request, errorType string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 5)
	attrs = append(attrs, t.cfg.baseAttributes()...)
	attrs = append(attrs, attribute.String("http.request.method", req.Method.String()))
	attrs = append(attrs, serverAttributes(req)...)
	if errorType != "" {
		attrs = append(attrs, attribute.String("error.type", errorType))
	}
	return attrs
}

// serverAttributes returns server.address and server.port, filling in the
// scheme's default port.
func serverAttributes(req *wire.Request) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if host := req.URL.Hostname(); host != "" {
		attrs = append(attrs, attribute.String("server.address", host))
	}

	if port := req.URL.Port(); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			attrs = append(attrs, attribute.Int("server.port", p))
		}
		return attrs
	}

	switch req.URL.Scheme {
	case "http":
		attrs = append(attrs, attribute.Int("server.port", 80))
	case "https":
		attrs = append(attrs, attribute.Int("server.port", 443))
	}
	return attrs
}
