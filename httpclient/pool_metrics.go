package httpclient

import (
	"time"

	"github.com/kroma-labs/courier/pool"
)

// =============================================================================
// Pool Stats Types
// =============================================================================

// PoolStats provides a snapshot of the connection pool: its limits and its
// live counters.
//
// Example usage:
//
//	client := httpclient.New(
//	    httpclient.WithConfig(httpclient.HighThroughputConfig()),
//	)
//
//	stats := client.PoolStats()
//	fmt.Printf("idle=%d busy=%d reuses=%d\n", stats.Idle, stats.Busy, stats.Reuses)
type PoolStats struct {
	// MaxIdleConnsPerHost is the maximum idle connections per host.
	MaxIdleConnsPerHost int

	// MaxConnsPerHost is the maximum total connections per host.
	// Zero means unlimited.
	MaxConnsPerHost int

	// MaxConns is the maximum total connections across hosts.
	// Zero means unlimited.
	MaxConns int

	// IdleConnTimeout is how long idle connections are kept before closing.
	// Zero means connections are kept until the peer closes them.
	IdleConnTimeout time.Duration

	// DisableKeepAlives indicates if HTTP keep-alives are disabled.
	DisableKeepAlives bool

	// Idle and Busy count connections across all hosts.
	Idle int
	Busy int

	// Dials, Reuses and Evictions are totals since the client was created.
	Dials     uint64
	Reuses    uint64
	Evictions uint64

	// Hosts breaks Idle and Busy down per pool key.
	Hosts map[pool.Key]pool.HostStats
}

// =============================================================================
// Client Methods
// =============================================================================

// PoolStats returns the connection pool configuration and counters.
// A client built with WithMockTransport has no pool and reports only the
// configuration.
func (c *Client) PoolStats() PoolStats {
	hc := c.config.httpConfig
	stats := PoolStats{
		MaxIdleConnsPerHost: hc.MaxIdleConnsPerHost,
		MaxConnsPerHost:     hc.MaxConnsPerHost,
		MaxConns:            hc.MaxConns,
		IdleConnTimeout:     hc.PoolIdleTTL,
		DisableKeepAlives:   hc.DisableKeepAlives,
	}
	if c.pool == nil {
		return stats
	}

	s := c.pool.Stats()
	stats.Idle = s.Idle
	stats.Busy = s.Busy
	stats.Dials = s.Dials
	stats.Reuses = s.Reuses
	stats.Evictions = s.Evictions
	stats.Hosts = s.Hosts
	return stats
}
