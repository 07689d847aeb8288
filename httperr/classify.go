package httperr

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

// Error type labels used for the error.type span attribute and metric dimension.
const (
	TypeConnect           = "connect_error"
	TypeTLS               = "tls_error"
	TypeProtocol          = "protocol_error"
	TypeInvalidRequest    = "invalid_request"
	TypeRedirectLoop      = "redirect_loop"
	TypeRedirectLimit     = "redirect_limit"
	TypeTimeoutConnect    = "timeout_connect"
	TypeTimeoutRead       = "timeout_read"
	TypeTimeoutOverall    = "timeout_overall"
	TypeCancelled         = "cancelled"
	TypeConnectionRefused = "connection_refused"
	TypeConnectionReset   = "connection_reset"
	TypeDNS               = "dns_error"
	TypeEOF               = "eof"
	TypeRateLimited       = "rate_limited"
	TypeCircuitOpen       = "circuit_open"
	TypeClosed            = "client_closed"
	TypeUnknown           = "unknown"
)

// Type returns a low-cardinality label describing err.
func Type(err error) string {
	if err == nil {
		return ""
	}

	var (
		timeoutErr *TimeoutError
		connectErr *ConnectError
		protoErr   *ProtocolError
		invalidErr *InvalidRequestError
		loopErr    *RedirectLoopError
		limitErr   *RedirectLimitError
		dnsErr     *net.DNSError
	)

	switch {
	case errors.As(err, &timeoutErr):
		switch timeoutErr.Kind {
		case TimeoutConnect:
			return TypeTimeoutConnect
		case TimeoutRead:
			return TypeTimeoutRead
		default:
			return TypeTimeoutOverall
		}
	case errors.As(err, &loopErr):
		return TypeRedirectLoop
	case errors.As(err, &limitErr):
		return TypeRedirectLimit
	case errors.As(err, &invalidErr):
		return TypeInvalidRequest
	case errors.As(err, &protoErr):
		return TypeProtocol
	case errors.Is(err, ErrRateLimited):
		return TypeRateLimited
	case errors.Is(err, ErrClientClosed), errors.Is(err, ErrPoolClosed):
		return TypeClosed
	case errors.Is(err, ErrCircuitOpen):
		return TypeCircuitOpen
	case errors.Is(err, context.Canceled):
		return TypeCancelled
	case errors.As(err, &connectErr):
		if connectErr.TLS {
			return TypeTLS
		}
		if errors.As(err, &dnsErr) {
			return TypeDNS
		}
		if errors.Is(err, syscall.ECONNREFUSED) {
			return TypeConnectionRefused
		}
		return TypeConnect
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return TypeConnectionReset
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return TypeEOF
	default:
		return TypeUnknown
	}
}

// IsStaleConnection reports whether err looks like a pooled connection that
// the peer closed while it sat idle: EOF, reset or broken pipe on a
// connection that never produced a response byte. Timeouts, cancellation,
// protocol and connect failures are never stale.
func IsStaleConnection(err error) bool {
	if err == nil {
		return false
	}

	var (
		timeoutErr *TimeoutError
		protoErr   *ProtocolError
		connectErr *ConnectError
		netErr     net.Error
	)
	if errors.As(err, &timeoutErr) || errors.As(err, &protoErr) || errors.As(err, &connectErr) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false
	}

	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	return containsPattern(err, "connection reset", "broken pipe", "use of closed network connection")
}

// IsPermanent reports failures that cannot succeed on retry: certificate
// verification failures and hosts that do not exist.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	var (
		certErr     *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		dnsErr      *net.DNSError
		invalidErr  *InvalidRequestError
	)
	switch {
	case errors.As(err, &certErr), errors.As(err, &unknownAuth), errors.As(err, &hostErr):
		return true
	case errors.As(err, &dnsErr) && dnsErr.IsNotFound:
		return true
	case errors.As(err, &invalidErr):
		return true
	}

	return containsPattern(err, "x509:", "certificate")
}

// IsNetwork reports transport-level failures, the ones that count against a
// circuit breaker.
func IsNetwork(err error) bool {
	if err == nil {
		return false
	}
	var (
		connectErr *ConnectError
		timeoutErr *TimeoutError
		netErr     net.Error
	)
	if errors.As(err, &connectErr) || errors.As(err, &timeoutErr) || errors.As(err, &netErr) {
		return true
	}
	return IsStaleConnection(err)
}

func containsPattern(err error, patterns ...string) bool {
	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
