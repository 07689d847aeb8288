package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/courier/httperr"
	"github.com/kroma-labs/courier/wire"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "given nil error, then returns empty", err: nil, want: ""},
		{
			name: "given connect timeout, then returns timeout_connect",
			err:  &httperr.TimeoutError{Kind: httperr.TimeoutConnect},
			want: httperr.TypeTimeoutConnect,
		},
		{
			name: "given read timeout, then returns timeout_read",
			err:  &httperr.TimeoutError{Kind: httperr.TimeoutRead},
			want: httperr.TypeTimeoutRead,
		},
		{
			name: "given overall timeout, then returns timeout_overall",
			err:  &httperr.TimeoutError{Kind: httperr.TimeoutOverall},
			want: httperr.TypeTimeoutOverall,
		},
		{
			name: "given refused dial, then returns connection_refused",
			err:  &httperr.ConnectError{Addr: "127.0.0.1:1", Err: syscall.ECONNREFUSED},
			want: httperr.TypeConnectionRefused,
		},
		{
			name: "given DNS failure, then returns dns_error",
			err:  &httperr.ConnectError{Addr: "nope.invalid:80", Err: &net.DNSError{Err: "no such host"}},
			want: httperr.TypeDNS,
		},
		{
			name: "given handshake failure, then returns tls_error",
			err:  &httperr.ConnectError{Addr: "example.com:443", TLS: true, Err: errors.New("bad cert")},
			want: httperr.TypeTLS,
		},
		{
			name: "given protocol error, then returns protocol_error",
			err:  &httperr.ProtocolError{Op: "status line"},
			want: httperr.TypeProtocol,
		},
		{
			name: "given redirect loop, then returns redirect_loop",
			err:  &httperr.RedirectLoopError{URL: "http://a/"},
			want: httperr.TypeRedirectLoop,
		},
		{
			name: "given redirect limit, then returns redirect_limit",
			err:  &httperr.RedirectLimitError{Max: 3},
			want: httperr.TypeRedirectLimit,
		},
		{
			name: "given cancellation, then returns cancelled",
			err:  fmt.Errorf("send: %w", context.Canceled),
			want: httperr.TypeCancelled,
		},
		{
			name: "given open circuit, then returns circuit_open",
			err:  httperr.ErrCircuitOpen,
			want: httperr.TypeCircuitOpen,
		},
		{
			name: "given reset, then returns connection_reset",
			err:  syscall.ECONNRESET,
			want: httperr.TypeConnectionReset,
		},
		{
			name: "given EOF, then returns eof",
			err:  io.ErrUnexpectedEOF,
			want: httperr.TypeEOF,
		},
		{
			name: "given unknown error, then returns unknown",
			err:  errors.New("something else"),
			want: httperr.TypeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyError(tt.err))
		})
	}
}

func TestErrorTypeFromStatusCode(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		want       string
	}{
		{name: "given 200, then returns empty", statusCode: 200, want: ""},
		{name: "given 302, then returns empty", statusCode: 302, want: ""},
		{name: "given 404, then returns 404", statusCode: 404, want: "404"},
		{name: "given 503, then returns 503", statusCode: 503, want: "503"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorTypeFromStatusCode(tt.statusCode))
		})
	}
}

func TestTLSVersion(t *testing.T) {
	tests := []struct {
		name    string
		version uint16
		want    string
	}{
		{name: "given TLS 1.3, then returns 1.3", version: tls.VersionTLS13, want: "1.3"},
		{name: "given TLS 1.2, then returns 1.2", version: tls.VersionTLS12, want: "1.2"},
		{name: "given unknown version, then returns number", version: 0x7f00, want: "32512"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tlsVersion(tt.version))
		})
	}
}

func TestHeaderCarrier(t *testing.T) {
	t.Run("given trace context propagator, then injects and extracts traceparent", func(t *testing.T) {
		tp := sdktrace.NewTracerProvider()
		t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

		ctx, span := tp.Tracer(scope).Start(context.Background(), "parent")
		defer span.End()

		h := wire.NewHeader("Accept", "*/*")
		carrier := headerCarrier{&h}
		propagation.TraceContext{}.Inject(ctx, carrier)

		assert.NotEmpty(t, h.Get("Traceparent"))
		assert.ElementsMatch(t, []string{"Accept", "traceparent"}, carrier.Keys())

		extracted := propagation.TraceContext{}.Extract(context.Background(), carrier)
		assert.Equal(t, span.SpanContext().TraceID(), trace.SpanContextFromContext(extracted).TraceID())
	})
}

func TestSpanHelpers(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	t.Run("given error, then sets status, event and error.type", func(t *testing.T) {
		exporter.Reset()
		_, span := tp.Tracer(scope).Start(context.Background(), "op")
		setSpanError(span, errors.New("boom"), httperr.TypeProtocol)
		span.End()

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status.Code)
		assert.Equal(t, "boom", spans[0].Status.Description)
		require.Len(t, spans[0].Events, 1)
		assert.Equal(t, "exception", spans[0].Events[0].Name)
		assert.Equal(t, httperr.TypeProtocol, spanAttrs(spans[0])["error.type"])
	})

	t.Run("given redirected response, then sets redirect attributes", func(t *testing.T) {
		exporter.Reset()
		_, span := tp.Tracer(scope).Start(context.Background(), "op")
		addRedirectAttrs(span, &wire.Response{Redirects: []string{"http://a/", "http://a/b", "http://a/c"}})
		span.End()

		attrs := spanAttrs(exporter.GetSpans()[0])
		assert.Equal(t, int64(2), attrs["http.redirect_count"])
		assert.Equal(t, []string{"http://a/", "http://a/b", "http://a/c"}, attrs["http.redirect_chain"])
	})

	t.Run("given response without redirects, then sets nothing", func(t *testing.T) {
		exporter.Reset()
		_, span := tp.Tracer(scope).Start(context.Background(), "op")
		addRedirectAttrs(span, &wire.Response{Redirects: []string{"http://a/"}})
		span.End()

		assert.NotContains(t, spanAttrs(exporter.GetSpans()[0]), "http.redirect_count")
	})
}

func spanAttrs(s tracetest.SpanStub) map[string]any {
	out := make(map[string]any, len(s.Attributes))
	for _, kv := range s.Attributes {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}
