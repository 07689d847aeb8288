package httpclient

import (
	"time"

	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"
	gobreakerredis "github.com/sony/gobreaker/v2/redis"

	"github.com/kroma-labs/courier/httperr"
	"github.com/kroma-labs/courier/wire"
)

// NewRedisStore returns a gobreaker store that keeps breaker counts in
// Redis, for breakers shared by several processes talking to one host.
//
//	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{"localhost:6379"}})
//	client := httpclient.New(httpclient.WithCircuitBreaker(
//	    httpclient.DistributedBreakerConfig(httpclient.NewRedisStore(rdb)),
//	))
func NewRedisStore(client redis.UniversalClient) gobreaker.SharedDataStore {
	return gobreakerredis.NewStoreFromClient(client)
}

// CircuitBreaker is what the breaker transport runs each hop through.
// gobreaker.CircuitBreaker and gobreaker.DistributedCircuitBreaker both
// implement it.
type CircuitBreaker interface {
	Execute(req func() (*wire.Response, error)) (*wire.Response, error)
}

// BreakerClassifier reports whether a hop outcome counts against the peer.
type BreakerClassifier func(resp *wire.Response, err error) bool

// BreakerConfig configures the per-client circuit breaker. Each hop of a
// logical request, redirects and the stale connection retry included, is
// one breaker request.
type BreakerConfig struct {
	// MaxRequests bounds the probes let through while half-open. Zero means one.
	MaxRequests uint32

	// Interval resets the closed-state counts periodically. Zero never resets.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing. Zero means 60s.
	Timeout time.Duration

	// FailureThreshold is the request count below which the ratio rule is
	// not evaluated.
	FailureThreshold uint32

	// FailureRatio trips the breaker once failures/requests reaches it.
	FailureRatio float64

	// ConsecutiveFailures trips the breaker on a run of failures. Zero
	// disables the rule.
	ConsecutiveFailures uint32

	// Store shares breaker state between processes. Nil keeps it in memory.
	Store gobreaker.SharedDataStore

	// Classifier defaults to DefaultBreakerClassifier.
	Classifier BreakerClassifier

	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultBreakerConfig returns an in-memory breaker that opens after five
// failed hops in a row, or once half of at least twenty hops within a 10s
// window failed, and probes again 10s later.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            10 * time.Second,
		Timeout:             10 * time.Second,
		FailureThreshold:    20,
		FailureRatio:        0.5,
		ConsecutiveFailures: 5,
		Classifier:          DefaultBreakerClassifier,
	}
}

// DistributedBreakerConfig returns a configuration for a circuit breaker
// whose state is shared through store, so every instance of a service trips
// together.
func DistributedBreakerConfig(store gobreaker.SharedDataStore) BreakerConfig {
	cfg := DefaultBreakerConfig()
	cfg.Store = store
	return cfg
}

// DefaultBreakerClassifier counts transport failures and 5xx responses.
// Invalid requests, redirect errors and cancellation say nothing about the
// peer's health and are ignored.
func DefaultBreakerClassifier(resp *wire.Response, err error) bool {
	if err != nil {
		return httperr.IsNetwork(err)
	}
	return resp != nil && resp.StatusCode >= 500
}

// readyToTrip builds gobreaker's trip predicate from the thresholds.
func (bc *BreakerConfig) readyToTrip(counts gobreaker.Counts) bool {
	if bc.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= bc.ConsecutiveFailures {
		return true
	}
	if bc.FailureThreshold > 0 && counts.Requests < bc.FailureThreshold {
		return false
	}
	if bc.FailureRatio > 0 && counts.Requests > 0 {
		ratio := float64(counts.TotalFailures) / float64(counts.Requests)
		if ratio >= bc.FailureRatio {
			return true
		}
	}
	return false
}
