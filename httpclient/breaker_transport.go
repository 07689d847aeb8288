package httpclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/sony/gobreaker/v2"

	"github.com/kroma-labs/courier/httperr"
	"github.com/kroma-labs/courier/wire"
)

// circuitBreakerTransport is a RoundTripper that wraps each hop in a circuit breaker.
type circuitBreakerTransport struct {
	breaker    CircuitBreaker
	next       RoundTripper
	classifier BreakerClassifier
	cfg        *internalConfig
	name       string
}

// errSyntheticFailure is a sentinel error used to signal the circuit breaker
// that a hop failed (e.g. 500 status) even if the next RoundTrip returned no error.
// It is intercepted and unwrapped by the transport before returning to the caller.
var errSyntheticFailure = errors.New("synthetic failure")

// RoundTrip implements RoundTripper.
func (t *circuitBreakerTransport) RoundTrip(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	var failed *wire.Response

	resp, err := t.breaker.Execute(func() (*wire.Response, error) {
		resp, err := t.next.RoundTrip(ctx, req)

		if t.classifier(resp, err) {
			if err != nil {
				return nil, err
			}
			failed = resp
			return resp, errSyntheticFailure
		}

		return resp, err
	})
	if err != nil {
		// Unwrap synthetic failure
		if errors.Is(err, errSyntheticFailure) {
			t.cfg.Metrics.recordBreakerRequest(ctx, t.name, "failure")
			return failed, nil
		}

		// Differentiate between "Circuit Open" rejection and "Actual Failure"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			t.cfg.Metrics.recordBreakerRequest(ctx, t.name, "rejected")
			t.cfg.Logger.Debug().
				Str("breaker", t.name).
				Str("url", req.URL.String()).
				Msg("request rejected by circuit breaker")
			return nil, fmt.Errorf("%w: %w", httperr.ErrCircuitOpen, err)
		}

		t.cfg.Metrics.recordBreakerRequest(ctx, t.name, "failure")
		return nil, err
	}

	t.cfg.Metrics.recordBreakerRequest(ctx, t.name, "success")
	return resp, nil
}

// newCircuitBreakerTransport creates a new circuit breaker transport.
func newCircuitBreakerTransport(next RoundTripper, cfg *internalConfig) RoundTripper {
	if cfg.BreakerConfig == nil {
		return next
	}
	bc := cfg.BreakerConfig

	// Use ServiceName as the breaker identifier.
	// If no ServiceName provided, fallback to "default-http-client".
	name := cfg.ServiceName
	if name == "" {
		name = "default-http-client"
	}

	classifier := bc.Classifier
	if classifier == nil {
		classifier = DefaultBreakerClassifier
	}

	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: bc.readyToTrip,
		OnStateChange: func(name string, from, to gobreaker.State) {
			cfg.Metrics.recordBreakerState(context.Background(), name, int64(to))
			cfg.Logger.Warn().
				Str("breaker", name).
				Stringer("from", from).
				Stringer("to", to).
				Msg("circuit breaker state changed")
			if bc.OnStateChange != nil {
				bc.OnStateChange(name, from, to)
			}
		},
	}

	var cb CircuitBreaker
	if bc.Store != nil {
		dcb, err := gobreaker.NewDistributedCircuitBreaker[*wire.Response](bc.Store, st)
		if err != nil {
			// A local breaker still protects this process.
			cfg.Logger.Warn().Err(err).Str("breaker", name).
				Msg("distributed circuit breaker unavailable, using local state")
			cb = gobreaker.NewCircuitBreaker[*wire.Response](st)
		} else {
			cb = dcb
		}
	} else {
		cb = gobreaker.NewCircuitBreaker[*wire.Response](st)
	}

	return &circuitBreakerTransport{
		breaker:    cb,
		next:       next,
		classifier: classifier,
		cfg:        cfg,
		name:       name,
	}
}
