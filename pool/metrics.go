package pool

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/kroma-labs/courier/pool"

// metrics holds the pool's instruments. A nil *metrics records nothing.
type metrics struct {
	// openConnections tracks live connections per key.
	openConnections metric.Int64UpDownCounter

	// connectDuration measures TCP connect time in seconds.
	connectDuration metric.Float64Histogram

	// tlsDuration measures TLS handshake time in seconds.
	tlsDuration metric.Float64Histogram

	dialErrors metric.Int64Counter
	evictions  metric.Int64Counter
	reuses     metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	m := &metrics{}
	var err, e error

	m.openConnections, e = meter.Int64UpDownCounter(
		"http.client.open_connections",
		metric.WithDescription("Number of open HTTP client connections"),
		metric.WithUnit("{connection}"),
	)
	err = errors.Join(err, e)

	m.connectDuration, e = meter.Float64Histogram(
		"http.client.connection.duration",
		metric.WithDescription("Time to establish HTTP connection in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
		),
	)
	err = errors.Join(err, e)

	m.tlsDuration, e = meter.Float64Histogram(
		"http.client.tls.duration",
		metric.WithDescription("TLS handshake duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
		),
	)
	err = errors.Join(err, e)

	m.dialErrors, e = meter.Int64Counter(
		"http.client.connection.errors",
		metric.WithDescription("Failed connection attempts"),
		metric.WithUnit("{error}"),
	)
	err = errors.Join(err, e)

	m.evictions, e = meter.Int64Counter(
		"http.client.connection.evictions",
		metric.WithDescription("Connections closed by the pool, by reason"),
		metric.WithUnit("{connection}"),
	)
	err = errors.Join(err, e)

	m.reuses, e = meter.Int64Counter(
		"http.client.connection.reuses",
		metric.WithDescription("Requests served by an idle pooled connection"),
		metric.WithUnit("{connection}"),
	)
	err = errors.Join(err, e)

	if err != nil {
		return nil, err
	}
	return m, nil
}

func keyAttrs(k Key) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("url.scheme", k.Scheme),
		attribute.String("server.address", k.Host),
		attribute.Int("server.port", k.Port),
	}
}

func (m *metrics) recordOpen(ctx context.Context, k Key, delta int64) {
	if m == nil {
		return
	}
	m.openConnections.Add(ctx, delta, metric.WithAttributes(keyAttrs(k)...))
}

func (m *metrics) recordDial(ctx context.Context, k Key, connect, handshake time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(keyAttrs(k)...)
	m.connectDuration.Record(ctx, connect.Seconds(), attrs)
	if k.TLS() {
		m.tlsDuration.Record(ctx, handshake.Seconds(), attrs)
	}
}

func (m *metrics) recordDialError(ctx context.Context, k Key) {
	if m == nil {
		return
	}
	m.dialErrors.Add(ctx, 1, metric.WithAttributes(keyAttrs(k)...))
}

func (m *metrics) recordEviction(ctx context.Context, k Key, reason string) {
	if m == nil {
		return
	}
	attrs := append(keyAttrs(k), attribute.String("reason", reason))
	m.evictions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordReuse(ctx context.Context, k Key) {
	if m == nil {
		return
	}
	m.reuses.Add(ctx, 1, metric.WithAttributes(keyAttrs(k)...))
}
