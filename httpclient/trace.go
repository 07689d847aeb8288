package httpclient

import (
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/courier/httperr"
	"github.com/kroma-labs/courier/pool"
	"github.com/kroma-labs/courier/wire"
)

// addConnEvents adds span events describing the connection a hop got:
// dial and handshake timing for a fresh connection, reuse otherwise.
func addConnEvents(span trace.Span, conn *pool.Conn) {
	if !span.IsRecording() {
		return
	}

	var peer string
	if addr := conn.RemoteAddr(); addr != nil {
		peer = addr.String()
	}

	if !conn.Reused() {
		now := time.Now()
		dialStart := now.Add(-(conn.DialDuration + conn.TLSDuration))
		span.AddEvent("connect.done",
			trace.WithTimestamp(dialStart.Add(conn.DialDuration)),
			trace.WithAttributes(
				attribute.Float64("connect.duration_ms", float64(conn.DialDuration.Milliseconds())),
			))

		if cs, ok := conn.TLSState(); ok {
			span.AddEvent("tls.done",
				trace.WithTimestamp(now),
				trace.WithAttributes(
					attribute.Float64("tls.duration_ms", float64(conn.TLSDuration.Milliseconds())),
					attribute.String("tls.protocol", cs.NegotiatedProtocol),
					attribute.String("tls.version", tlsVersion(cs.Version)),
				))
		}
	}

	span.AddEvent("got_conn", trace.WithAttributes(
		attribute.Bool("connection.reused", conn.Reused()),
		attribute.Int("connection.uses", conn.Uses()),
		attribute.String("network.peer.address", peer),
	))
}

func tlsVersion(v uint16) string {
	switch v {
	case 0x0304:
		return "1.3"
	case 0x0303:
		return "1.2"
	case 0x0302:
		return "1.1"
	case 0x0301:
		return "1.0"
	default:
		return strconv.Itoa(int(v))
	}
}

// classifyError returns the error.type classification for err.
func classifyError(err error) string {
	return httperr.Type(err)
}

// errorTypeFromStatusCode returns error.type for HTTP status codes.
// Per OTel semconv, the status code itself is used as the error type for 4xx/5xx.
func errorTypeFromStatusCode(statusCode int) string {
	if statusCode >= 400 {
		return strconv.Itoa(statusCode)
	}
	return ""
}

// setSpanError records an error on the span with proper status and attributes.
func setSpanError(span trace.Span, err error, errorType string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if errorType != "" {
		span.SetAttributes(attribute.String("error.type", errorType))
	}
}

// headerCarrier adapts wire.Header to propagation.TextMapCarrier.
type headerCarrier struct{ h *wire.Header }

var _ propagation.TextMapCarrier = headerCarrier{}

func (c headerCarrier) Get(key string) string { return c.h.Get(key) }

func (c headerCarrier) Set(key, value string) { c.h.Set(key, value) }

func (c headerCarrier) Keys() []string {
	fields := c.h.Fields()
	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, f.Name)
	}
	return keys
}
