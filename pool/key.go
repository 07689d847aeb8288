package pool

import (
	"net"
	"net/url"
	"strconv"

	"github.com/kroma-labs/courier/httperr"
)

// Key identifies a bucket of interchangeable connections.
//
// Insecure is part of the key so a connection negotiated without certificate
// verification is never handed to a request that asked for verification.
type Key struct {
	Scheme   string
	Host     string
	Port     int
	Insecure bool
}

// KeyFromURL derives the pool key for u, filling in the default port for
// the scheme. insecure is ignored for plain http.
func KeyFromURL(u *url.URL, insecure bool) (Key, error) {
	k := Key{Scheme: u.Scheme, Host: u.Hostname()}

	switch u.Scheme {
	case "http":
		k.Port = 80
	case "https":
		k.Port = 443
		k.Insecure = insecure
	default:
		return Key{}, &httperr.InvalidRequestError{Reason: "unsupported scheme " + u.Scheme}
	}
	if k.Host == "" {
		return Key{}, &httperr.InvalidRequestError{Reason: "missing host in " + u.String()}
	}

	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return Key{}, &httperr.InvalidRequestError{Reason: "invalid port " + p}
		}
		k.Port = port
	}
	return k, nil
}

// TLS reports whether connections for this key use TLS.
func (k Key) TLS() bool { return k.Scheme == "https" }

// Addr returns the dial address.
func (k Key) Addr() string {
	return net.JoinHostPort(k.Host, strconv.Itoa(k.Port))
}

func (k Key) String() string {
	s := k.Scheme + "://" + k.Addr()
	if k.Insecure {
		s += " (insecure)"
	}
	return s
}
