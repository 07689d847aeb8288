package httpclient

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/kroma-labs/courier/httperr"
	"github.com/kroma-labs/courier/wire"
)

// RetryConfig holds the retry behavior configuration.
// Use DefaultRetryConfig() for the engine defaults, then modify as needed.
//
// By default the engine retries exactly once, immediately, and only when a
// pooled connection turns out to be stale: the peer closed it while it sat
// idle and the request failed before any response byte arrived. The retry
// always goes out on a freshly dialed connection.
//
// Widening the classifier (WithRetryClassifier) and raising MaxRetries
// turns this into a general retry loop with exponential backoff and jitter.
//
// Example usage:
//
//	cfg := httpclient.DefaultRetryConfig()
//	cfg.MaxRetries = 3
//	cfg.InitialInterval = 100 * time.Millisecond
//	client := httpclient.New(
//	    httpclient.WithRetryConfig(cfg),
//	    httpclient.WithRetryClassifier(httpclient.StatusCodeClassifier(502, 503, 504)),
//	)
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts.
	// Set to 0 to disable retries entirely.
	// The initial request is not counted as a retry.
	// Default: 1
	MaxRetries uint

	// InitialInterval is the first backoff interval. Zero retries
	// immediately, and every later interval is zero too.
	// Default: 0
	InitialInterval time.Duration

	// MaxInterval caps the backoff interval.
	// Default: 0 (uncapped, only meaningful with InitialInterval)
	MaxInterval time.Duration

	// MaxElapsedTime is the total time budget for the retry sequence.
	// Zero means only MaxRetries and the request context apply.
	MaxElapsedTime time.Duration

	// Multiplier controls exponential growth of backoff intervals.
	// Values below 1 are treated as 1 (constant interval).
	Multiplier float64

	// JitterFactor randomizes each interval by ±JitterFactor.
	// Value between 0.0 (no jitter) and 1.0.
	JitterFactor float64
}

// DefaultRetryConfig returns the engine default: one immediate retry.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 1}
}

// ExponentialRetryConfig returns a configuration for use with a wider
// classifier: 3 retries starting at 100ms, doubling, capped at 2s, ±50%.
func ExponentialRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxElapsedTime:  10 * time.Second,
		Multiplier:      2.0,
		JitterFactor:    0.5,
	}
}

// NoRetryConfig returns configuration that disables retries entirely,
// including the stale connection retry.
func NoRetryConfig() RetryConfig {
	return RetryConfig{}
}

// IsEnabled returns true if retries are enabled.
func (c RetryConfig) IsEnabled() bool {
	return c.MaxRetries > 0
}

// backOff builds the interval strategy for c.
func (c RetryConfig) backOff() backoff.BackOff {
	if c.InitialInterval <= 0 {
		return &backoff.ZeroBackOff{}
	}

	multiplier := c.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	maxInterval := c.MaxInterval
	if maxInterval <= 0 {
		maxInterval = backoff.DefaultMaxInterval
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.InitialInterval,
		RandomizationFactor: c.JitterFactor,
		Multiplier:          multiplier,
		MaxInterval:         maxInterval,
	}
	b.Reset()
	return b
}

// RetryClassifier determines if a hop should be retried.
// Return true to retry, false to stop immediately.
//
// The classifier receives either an error or a response whose body has
// not been read. A response that is retried is drained and discarded.
//
// Example custom classifier that also retries 503:
//
//	client := httpclient.New(
//	    httpclient.WithRetryClassifier(func(resp *wire.Response, err error) bool {
//	        if resp != nil && resp.StatusCode == 503 {
//	            return true
//	        }
//	        return httpclient.DefaultRetryClassifier(resp, err)
//	    }),
//	)
type RetryClassifier func(resp *wire.Response, err error) bool

// DefaultRetryClassifier retries stale pooled connections only.
//
// Does NOT retry on:
//   - any response, whatever its status
//   - protocol errors (the server answered, just badly)
//   - connect errors and timeouts
//   - context cancellation
func DefaultRetryClassifier(_ *wire.Response, err error) bool {
	return httperr.IsStaleConnection(err)
}

// NeverRetryClassifier returns a classifier that never retries.
func NeverRetryClassifier() RetryClassifier {
	return func(_ *wire.Response, _ error) bool {
		return false
	}
}

// StatusCodeClassifier returns a classifier that retries on specific status
// codes. Stale connections are always retried; cancellation and permanent
// failures never are.
//
// Example:
//
//	// Retry on 502, 503, 504
//	classifier := httpclient.StatusCodeClassifier(502, 503, 504)
func StatusCodeClassifier(codes ...int) RetryClassifier {
	codeSet := make(map[int]bool, len(codes))
	for _, code := range codes {
		codeSet[code] = true
	}

	return func(resp *wire.Response, err error) bool {
		if err != nil {
			if errors.Is(err, context.Canceled) || httperr.IsPermanent(err) {
				return false
			}
			return httperr.IsStaleConnection(err)
		}
		return resp != nil && codeSet[resp.StatusCode]
	}
}

// NetworkClassifier returns a classifier that retries every transport level
// failure except cancellation, overall timeouts and permanent failures,
// plus the given status codes.
func NetworkClassifier(codes ...int) RetryClassifier {
	byStatus := StatusCodeClassifier(codes...)
	return func(resp *wire.Response, err error) bool {
		if err == nil {
			return byStatus(resp, nil)
		}
		switch {
		case errors.Is(err, context.Canceled),
			httperr.IsTimeout(err, httperr.TimeoutOverall),
			httperr.IsPermanent(err):
			return false
		}
		return httperr.IsNetwork(err)
	}
}
