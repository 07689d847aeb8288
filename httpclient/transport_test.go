package httpclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/kroma-labs/courier/httpclient/mocks"
	"github.com/kroma-labs/courier/httperr"
	"github.com/kroma-labs/courier/wire"
)

// newOtelTestConfig wires an in-memory exporter and manual reader into a
// client configuration.
func newOtelTestConfig(t *testing.T, opts ...Option) (*internalConfig, *tracetest.InMemoryExporter, *sdkmetric.ManualReader) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})

	opts = append([]Option{WithTracerProvider(tp), WithMeterProvider(mp)}, opts...)
	return newConfig(opts...), exporter, reader
}

func TestOtelTransport_RoundTrip(t *testing.T) {
	type args struct {
		method      wire.Method
		body        []byte
		serviceName string
		operation   string
	}

	tests := []struct {
		name          string
		args          args
		resp          *wire.Response
		err           error
		wantErr       assert.ErrorAssertionFunc
		wantSpanName  string
		wantStatus    codes.Code
		wantErrorType string
		wantAttrs     map[string]any
	}{
		{
			name:         "given successful GET request, then creates span",
			args:         args{method: wire.MethodGet, serviceName: "test-service"},
			resp:         &wire.Response{StatusCode: 200, ProtoMajor: 1, ProtoMinor: 1, Body: []byte("OK")},
			wantErr:      assert.NoError,
			wantSpanName: "HTTP GET",
			wantStatus:   codes.Unset,
			wantAttrs: map[string]any{
				"http.request.method":       "GET",
				"http.response.status_code": int64(200),
				"http.response.body.size":   int64(2),
				"network.protocol.version":  "1.1",
				"http.client.name":          "test-service",
			},
		},
		{
			name:         "given POST with body and operation, then names span after operation",
			args:         args{method: wire.MethodPost, body: []byte("test body content"), operation: "CreateUser"},
			resp:         &wire.Response{StatusCode: 201},
			wantErr:      assert.NoError,
			wantSpanName: "HTTP POST CreateUser",
			wantStatus:   codes.Unset,
			wantAttrs: map[string]any{
				"http.request.body.size": int64(17),
				"http.client.operation":  "CreateUser",
			},
		},
		{
			name:          "given 503 response, then marks span as error",
			args:          args{method: wire.MethodGet},
			resp:          &wire.Response{StatusCode: 503},
			wantErr:       assert.NoError,
			wantSpanName:  "HTTP GET",
			wantStatus:    codes.Error,
			wantErrorType: "503",
		},
		{
			name:          "given connection refused, then records error type",
			args:          args{method: wire.MethodGet},
			err:           &httperr.ConnectError{Addr: "example.com:80", Err: errors.New("connection refused")},
			wantErr:       assert.Error,
			wantSpanName:  "HTTP GET",
			wantStatus:    codes.Error,
			wantErrorType: httperr.TypeConnect,
		},
		{
			name:          "given context cancelled, then records cancelled",
			args:          args{method: wire.MethodGet},
			err:           context.Canceled,
			wantErr:       assert.Error,
			wantSpanName:  "HTTP GET",
			wantStatus:    codes.Error,
			wantErrorType: httperr.TypeCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, exporter, _ := newOtelTestConfig(t, WithServiceName(tt.args.serviceName))

			next := mocks.NewRoundTripper(t)
			next.EXPECT().
				RoundTrip(mock.Anything, mock.Anything).
				Return(tt.resp, tt.err).Once()

			transport := newOtelTransport(next, cfg)

			req, err := wire.NewRequest(tt.args.method, "http://example.com/test", tt.args.body)
			require.NoError(t, err)

			_, err = transport.RoundTrip(withOperation(context.Background(), tt.args.operation), req)
			tt.wantErr(t, err)

			spans := exporter.GetSpans()
			require.Len(t, spans, 1)
			assert.Equal(t, tt.wantSpanName, spans[0].Name)
			assert.Equal(t, tt.wantStatus, spans[0].Status.Code)

			attrs := spanAttrs(spans[0])
			if tt.wantErrorType != "" {
				assert.Equal(t, tt.wantErrorType, attrs["error.type"])
			}
			for k, v := range tt.wantAttrs {
				assert.Equal(t, v, attrs[k], k)
			}
		})
	}
}

func TestOtelTransport_TracePropagation(t *testing.T) {
	t.Run("given parent span, then propagates trace context", func(t *testing.T) {
		cfg, exporter, _ := newOtelTestConfig(t)

		var traceparent string
		next := mocks.NewRoundTripper(t)
		next.EXPECT().
			RoundTrip(mock.Anything, mock.Anything).
			RunAndReturn(func(_ context.Context, req *wire.Request) (*wire.Response, error) {
				traceparent = req.Header.Get("Traceparent")
				return &wire.Response{StatusCode: 200}, nil
			}).Once()

		transport := newOtelTransport(next, cfg)

		ctx, parent := cfg.Tracer.Start(context.Background(), "parent")
		req, err := wire.NewRequest(wire.MethodGet, "http://example.com", nil)
		require.NoError(t, err)
		_, err = transport.RoundTrip(ctx, req)
		parent.End()
		require.NoError(t, err)

		require.NotEmpty(t, traceparent)
		assert.Contains(t, traceparent, parent.SpanContext().TraceID().String())

		spans := exporter.GetSpans()
		require.Len(t, spans, 2)
		assert.Equal(t, parent.SpanContext().SpanID(), spans[0].Parent.SpanID())
	})
}

func TestOtelTransport_StateEvents(t *testing.T) {
	tests := []struct {
		name       string
		resp       *wire.Response
		err        error
		wantEvents []string
	}{
		{
			name:       "given response, then enters init and done",
			resp:       &wire.Response{StatusCode: 200},
			wantEvents: []string{"state.init", "state.done"},
		},
		{
			name:       "given error, then enters init and failed",
			err:        &httperr.ProtocolError{Op: "status line"},
			wantEvents: []string{"state.init", "state.failed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, exporter, _ := newOtelTestConfig(t)

			next := mocks.NewRoundTripper(t)
			next.EXPECT().RoundTrip(mock.Anything, mock.Anything).Return(tt.resp, tt.err).Once()

			req, err := wire.NewRequest(wire.MethodGet, "http://example.com", nil)
			require.NoError(t, err)
			_, _ = newOtelTransport(next, cfg).RoundTrip(context.Background(), req)

			spans := exporter.GetSpans()
			require.Len(t, spans, 1)

			var names []string
			for _, ev := range spans[0].Events {
				if ev.Name == "exception" {
					continue
				}
				names = append(names, ev.Name)
			}
			assert.Equal(t, tt.wantEvents, names)
		})
	}
}

func TestOtelTransport_RequestAttributes(t *testing.T) {
	type args struct {
		method      wire.Method
		url         string
		serviceName string
		body        []byte
		userAgent   string
	}

	tests := []struct {
		name       string
		args       args
		wantMethod string
		wantScheme string
		wantHost   string
		wantPort   int64
	}{
		{
			name: "given HTTPS with custom port, then extracts all attrs",
			args: args{
				method:      wire.MethodPost,
				url:         "https://api.example.com:8443/users",
				serviceName: "test-service",
				body:        make([]byte, 1024),
				userAgent:   "test-agent/1.0",
			},
			wantMethod: "POST",
			wantScheme: "https",
			wantHost:   "api.example.com",
			wantPort:   8443,
		},
		{
			name:       "given HTTP without port, then uses default 80",
			args:       args{method: wire.MethodGet, url: "http://example.com/path"},
			wantMethod: "GET",
			wantScheme: "http",
			wantHost:   "example.com",
			wantPort:   80,
		},
		{
			name:       "given HTTPS without port, then uses default 443",
			args:       args{method: wire.MethodGet, url: "https://example.com/path"},
			wantMethod: "GET",
			wantScheme: "https",
			wantHost:   "example.com",
			wantPort:   443,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &otelTransport{cfg: &internalConfig{ServiceName: tt.args.serviceName}}

			req, err := wire.NewRequest(tt.args.method, tt.args.url, tt.args.body)
			require.NoError(t, err)
			if tt.args.userAgent != "" {
				req.Header.Set("User-Agent", tt.args.userAgent)
			}

			attrMap := make(map[string]any)
			for _, attr := range transport.requestAttributes(req) {
				attrMap[string(attr.Key)] = attr.Value.AsInterface()
			}

			assert.Equal(t, tt.wantMethod, attrMap["http.request.method"])
			assert.Equal(t, tt.wantScheme, attrMap["url.scheme"])
			assert.Equal(t, tt.wantHost, attrMap["server.address"])
			assert.Equal(t, tt.wantPort, attrMap["server.port"])
			if len(tt.args.body) > 0 {
				assert.Equal(t, int64(len(tt.args.body)), attrMap["http.request.body.size"])
			}
			if tt.args.userAgent != "" {
				assert.Equal(t, tt.args.userAgent, attrMap["user_agent.original"])
			}
			if tt.args.serviceName != "" {
				assert.Equal(t, tt.args.serviceName, attrMap["http.client.name"])
			}
		})
	}
}

func TestOtelTransport_ResponseAttributes(t *testing.T) {
	tests := []struct {
		name        string
		resp        *wire.Response
		wantSize    any
		wantVersion any
	}{
		{
			name:        "given buffered HTTP/1.1 response, then reports body length",
			resp:        &wire.Response{StatusCode: 200, ProtoMajor: 1, ProtoMinor: 1, Body: make([]byte, 2048)},
			wantSize:    int64(2048),
			wantVersion: "1.1",
		},
		{
			name:        "given HTTP/1.0 response, then extracts version as '1.0'",
			resp:        &wire.Response{StatusCode: 200, ProtoMajor: 1, ProtoMinor: 0},
			wantSize:    int64(0),
			wantVersion: "1.0",
		},
		{
			name:     "given streamed response with unknown length, then omits size",
			resp:     &wire.Response{StatusCode: 200, ContentLength: -1, Stream: &nopStream{}},
			wantSize: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &otelTransport{cfg: &internalConfig{}}

			attrMap := make(map[string]any)
			for _, attr := range transport.responseAttributes(tt.resp) {
				attrMap[string(attr.Key)] = attr.Value.AsInterface()
			}

			assert.Equal(t, int64(tt.resp.StatusCode), attrMap["http.response.status_code"])
			assert.Equal(t, tt.wantSize, attrMap["http.response.body.size"])
			assert.Equal(t, tt.wantVersion, attrMap["network.protocol.version"])
		})
	}
}

func TestOtelTransport_MetricsRecording(t *testing.T) {
	t.Run("given success and failure, then records duration and errors", func(t *testing.T) {
		cfg, _, reader := newOtelTestConfig(t)

		next := mocks.NewRoundTripper(t)
		next.EXPECT().RoundTrip(mock.Anything, mock.Anything).
			Return(&wire.Response{StatusCode: 200}, nil).Once()
		next.EXPECT().RoundTrip(mock.Anything, mock.Anything).
			Return(nil, &httperr.TimeoutError{Kind: httperr.TimeoutRead}).Once()

		transport := newOtelTransport(next, cfg)
		req, err := wire.NewRequest(wire.MethodPost, "http://example.com", []byte("payload"))
		require.NoError(t, err)

		_, err = transport.RoundTrip(context.Background(), req)
		require.NoError(t, err)
		_, err = transport.RoundTrip(context.Background(), req)
		require.Error(t, err)

		got := collectMetrics(t, reader)
		assert.Equal(t, uint64(2), histogramCount(t, got["http.client.request.duration"]))
		assert.Equal(t, uint64(2), histogramCount(t, got["http.client.request.body.size"]))
		assert.Equal(t, int64(1), sumValue(t, got["http.client.request.error"]))
		assert.Equal(t, int64(0), sumValue(t, got["http.client.active_requests"]))
	})
}

// nopStream stands in for an unread response body.
type nopStream struct{}

func (nopStream) Read([]byte) (int, error) { return 0, nil }
func (nopStream) Close() error             { return nil }
