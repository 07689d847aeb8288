package httpclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/courier/httperr"
	"github.com/kroma-labs/courier/wire"
)

// retryTransport wraps a RoundTripper with retry logic. Every attempt after
// the first is made on a freshly dialed connection.
type retryTransport struct {
	next       RoundTripper
	cfg        *internalConfig
	classifier RetryClassifier
}

// errRetryableStatus stands in for a response the classifier chose to retry.
type errRetryableStatus struct{ status int }

func (e errRetryableStatus) Error() string {
	return fmt.Sprintf("retryable status %d", e.status)
}

// newRetryTransport creates a new retry transport wrapper.
func newRetryTransport(next RoundTripper, cfg *internalConfig) RoundTripper {
	// If retries are disabled, return the next transport directly
	if !cfg.RetryConfig.IsEnabled() {
		return next
	}

	classifier := cfg.RetryClassifier
	if classifier == nil {
		classifier = DefaultRetryClassifier
	}

	return &retryTransport{
		next:       next,
		cfg:        cfg,
		classifier: classifier,
	}
}

// RoundTrip implements RoundTripper with automatic retries.
func (t *retryTransport) RoundTrip(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	rc := t.cfg.RetryConfig
	maxTries := rc.MaxRetries + 1 // +1 because initial attempt is counted

	span := trace.SpanFromContext(ctx)
	baseAttrs := t.cfg.baseAttributes()

	var (
		attempt   int
		tries     uint
		startTime = time.Now()
	)

	retryOpts := []backoff.RetryOption{
		backoff.WithBackOff(t.getBackoff()),
		backoff.WithMaxTries(maxTries),
		backoff.WithMaxElapsedTime(rc.MaxElapsedTime),
		backoff.WithNotify(func(err error, next time.Duration) {
			attempt++
			t.recordRetryEvent(span, attempt, err, next)
			t.cfg.Metrics.recordRetryAttempt(ctx, baseAttrs, attempt)
			t.cfg.Logger.Debug().
				Err(err).
				Int("attempt", attempt).
				Dur("delay", next).
				Str("url", req.URL.String()).
				Msg("retrying request")
		}),
	}

	resp, err := backoff.Retry(ctx, func() (*wire.Response, error) {
		tries++
		attemptCtx := ctx
		if tries > 1 {
			attemptCtx = withFreshConn(ctx)
		}

		resp, err := t.next.RoundTrip(attemptCtx, req)
		if tries >= maxTries {
			return resp, err
		}

		if !t.classifier(resp, err) {
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			return resp, nil
		}

		if err != nil {
			return nil, err
		}
		// Retrying on a response: free the connection first.
		status := resp.StatusCode
		discard(resp)
		return nil, errRetryableStatus{status: status}
	}, retryOpts...)

	// With MaxTries reached, backoff returns the last error unchanged,
	// Permanent wrapper included.
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}

	if attempt > 0 {
		span.SetAttributes(
			attribute.Int("http.retry_count", attempt),
			attribute.Bool("http.retry_success", err == nil),
		)
		if err != nil {
			t.cfg.Metrics.recordRetryExhausted(ctx, baseAttrs)
		}
		t.cfg.Metrics.recordRetryDuration(ctx, baseAttrs, time.Since(startTime))
	}

	if err != nil {
		return nil, err
	}
	return resp, nil
}

// getBackoff returns a backoff owned by one logical request.
func (t *retryTransport) getBackoff() backoff.BackOff {
	if t.cfg.RetryBackOff != nil {
		return t.cfg.RetryBackOff()
	}
	return t.cfg.RetryConfig.backOff()
}

// recordRetryEvent adds a span event for the retry attempt.
func (t *retryTransport) recordRetryEvent(
	span trace.Span,
	attempt int,
	err error,
	nextDelay time.Duration,
) {
	if !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Int("retry.attempt", attempt),
		attribute.Int64("retry.delay_ms", nextDelay.Milliseconds()),
	}

	var statusErr errRetryableStatus
	switch {
	case errors.As(err, &statusErr):
		attrs = append(attrs, attribute.Int("retry.status_code", statusErr.status))
	case httperr.IsStaleConnection(err):
		attrs = append(attrs, attribute.String("retry.reason", "stale_connection"))
	case err != nil:
		attrs = append(attrs, attribute.String("retry.reason", classifyError(err)))
	}
	if err != nil {
		span.RecordError(err)
	}

	span.AddEvent("http.retry", trace.WithAttributes(attrs...))
}
