package httpclient

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"github.com/kroma-labs/courier/httperr"
	"github.com/kroma-labs/courier/wire"
)

// RateLimitConfig configures client-level rate limiting. One token is taken
// per logical request; redirect hops and retries are free.
type RateLimitConfig struct {
	// RequestsPerSecond is the token refill rate. Zero turns the limiter off.
	RequestsPerSecond float64

	// Burst is the bucket size, at least 1.
	Burst int

	// WaitOnLimit blocks an over-limit request until a token is free or its
	// context ends. Otherwise it fails at once with httperr.ErrRateLimited.
	WaitOnLimit bool
}

// DefaultRateLimitConfig allows 100 logical requests a second, bursts of
// 10, and waits when over.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             10,
		WaitOnLimit:       true,
	}
}

type rateLimitTransport struct {
	next    RoundTripper
	limiter *rate.Limiter
	wait    bool
}

// newRateLimitTransport returns next unchanged when cfg disables limiting.
func newRateLimitTransport(next RoundTripper, cfg RateLimitConfig) RoundTripper {
	if cfg.RequestsPerSecond <= 0 {
		return next
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &rateLimitTransport{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		wait:    cfg.WaitOnLimit,
	}
}

// RoundTrip implements RoundTripper.
func (t *rateLimitTransport) RoundTrip(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	if t.wait {
		if err := t.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, contextualError(ctx, err)
			}
			// Wait fails early when the deadline would pass before a token.
			if _, ok := ctx.Deadline(); ok && !errors.Is(err, context.Canceled) {
				return nil, httperr.ErrRateLimited
			}
			return nil, err
		}
	} else if !t.limiter.Allow() {
		return nil, httperr.ErrRateLimited
	}

	return t.next.RoundTrip(ctx, req)
}

// RateLimiterStats is a snapshot of the limiter's bucket.
type RateLimiterStats struct {
	Limit           float64
	Burst           int
	TokensAvailable float64
}

// Stats returns the limiter state.
func (t *rateLimitTransport) Stats() RateLimiterStats {
	return RateLimiterStats{
		Limit:           float64(t.limiter.Limit()),
		Burst:           t.limiter.Burst(),
		TokensAvailable: t.limiter.Tokens(),
	}
}
