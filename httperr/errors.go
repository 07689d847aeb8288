// Package httperr defines the typed failures returned by the request engine
// and helpers that classify them for retries, circuit breaking and metrics.
//
// Every failure surfaced by courier is one of the types below (or wraps one),
// so callers can branch with errors.As:
//
//	resp, err := client.Get(ctx, "https://api.example.com/users")
//	var limitErr *httperr.RedirectLimitError
//	if errors.As(err, &limitErr) {
//	    log.Printf("gave up after %d redirects", limitErr.Max)
//	}
package httperr

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors.
var (
	// ErrClientClosed is returned for requests issued after Close or Shutdown.
	ErrClientClosed = errors.New("courier: client closed")

	// ErrPoolClosed is returned by a connection pool that has been closed.
	ErrPoolClosed = errors.New("courier: connection pool closed")

	// ErrRateLimited is returned when a request is rejected by the client rate limiter.
	ErrRateLimited = errors.New("courier: rate limit exceeded")

	// ErrCircuitOpen wraps rejections from an open (or saturated half-open) circuit breaker.
	ErrCircuitOpen = errors.New("courier: circuit breaker open")

	// ErrBodyClosed is returned when reading a streamed body after Close.
	ErrBodyClosed = errors.New("courier: read on closed response body")
)

// ConnectError reports a failure to establish a transport connection,
// either the TCP dial or the TLS handshake.
type ConnectError struct {
	// Addr is the host:port that was dialed.
	Addr string

	// TLS is true when the failure happened during the TLS handshake.
	TLS bool

	Err error
}

func (e *ConnectError) Error() string {
	stage := "dial"
	if e.TLS {
		stage = "tls handshake"
	}
	return fmt.Sprintf("courier: connect %s (%s): %v", e.Addr, stage, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ProtocolError reports malformed data on the wire. A connection that
// produced a ProtocolError is never returned to the pool.
type ProtocolError struct {
	// Op names the parsing step that failed, e.g. "status line" or "chunk size".
	Op string

	// Detail is the offending input, truncated.
	Detail string

	Err error
}

func (e *ProtocolError) Error() string {
	var b strings.Builder
	b.WriteString("courier: malformed ")
	b.WriteString(e.Op)
	if e.Detail != "" {
		fmt.Fprintf(&b, " %q", truncate(e.Detail, 64))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// InvalidRequestError reports caller misuse detected before anything is sent.
type InvalidRequestError struct {
	Reason string
	Err    error
}

func (e *InvalidRequestError) Error() string {
	if e.Err != nil {
		return "courier: invalid request: " + e.Reason + ": " + e.Err.Error()
	}
	return "courier: invalid request: " + e.Reason
}

func (e *InvalidRequestError) Unwrap() error { return e.Err }

// RedirectLoopError reports a redirect back to a URL already visited in the
// same chain.
type RedirectLoopError struct {
	// URL is the repeated location.
	URL string

	// Chain holds the URLs visited before the loop was detected.
	Chain []string
}

func (e *RedirectLoopError) Error() string {
	return fmt.Sprintf("courier: redirect loop detected at %s after %d hops", e.URL, len(e.Chain)-1)
}

// RedirectLimitError reports a redirect chain longer than the configured maximum.
// The request that would have exceeded the limit is not sent.
type RedirectLimitError struct {
	Max   int
	Chain []string
}

func (e *RedirectLimitError) Error() string {
	return fmt.Sprintf("courier: stopped after %d redirects", e.Max)
}

// TimeoutKind identifies which deadline expired.
type TimeoutKind int

const (
	// TimeoutConnect is the dial + TLS handshake deadline.
	TimeoutConnect TimeoutKind = iota + 1
	// TimeoutRead is the per-read inactivity deadline.
	TimeoutRead
	// TimeoutOverall is the deadline for the whole logical request.
	TimeoutOverall
)

func (k TimeoutKind) String() string {
	switch k {
	case TimeoutConnect:
		return "connect"
	case TimeoutRead:
		return "read"
	case TimeoutOverall:
		return "overall"
	default:
		return "unknown"
	}
}

// TimeoutError reports an expired deadline. It satisfies net.Error.
type TimeoutError struct {
	Kind TimeoutKind
	Err  error
}

func (e *TimeoutError) Error() string {
	if e.Err != nil {
		return "courier: " + e.Kind.String() + " timeout: " + e.Err.Error()
	}
	return "courier: " + e.Kind.String() + " timeout"
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Timeout always reports true.
func (e *TimeoutError) Timeout() bool { return true }

// Temporary reports false; a timeout says nothing about whether a retry helps.
func (e *TimeoutError) Temporary() bool { return false }

// IsTimeout reports whether err is a TimeoutError of the given kind.
// A zero kind matches any TimeoutError.
func IsTimeout(err error, kind TimeoutKind) bool {
	var te *TimeoutError
	if !errors.As(err, &te) {
		return false
	}
	return kind == 0 || te.Kind == kind
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
