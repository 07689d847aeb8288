// Package redirect decides how a 3xx response turns into the next request
// and tracks the chain of visited URLs.
package redirect

import (
	"errors"
	"net/url"
	"strings"

	"github.com/kroma-labs/courier/httperr"
	"github.com/kroma-labs/courier/wire"
)

// DefaultMaxRedirects is the hop limit used when none is configured.
const DefaultMaxRedirects = 10

type methodRule int

const (
	// keepMethod re-sends method and body unchanged.
	keepMethod methodRule = iota + 1
	// getUnlessSafe switches to GET unless the method already is GET or HEAD.
	getUnlessSafe
	// alwaysGet switches every method to GET and drops the body.
	alwaysGet
)

var rules = map[int]methodRule{
	301: getUnlessSafe,
	302: getUnlessSafe,
	303: alwaysGet,
	307: keepMethod,
	308: keepMethod,
}

// defaultSensitive are removed when a redirect leaves the original origin.
var defaultSensitive = []string{"Authorization", "Cookie", "Proxy-Authorization"}

// bodyHeaders describe a body and go away with it.
var bodyHeaders = []string{"Content-Length", "Content-Type", "Transfer-Encoding"}

// Resolver derives follow-up requests from redirect responses.
// The zero value is ready to use.
type Resolver struct {
	// SensitiveHeaders are stripped on cross-origin redirects. Nil means
	// Authorization, Cookie and Proxy-Authorization.
	SensitiveHeaders []string
}

// IsRedirect reports whether status is one the resolver follows.
func IsRedirect(status int) bool {
	_, ok := rules[status]
	return ok
}

// Next returns the request to send after resp, or nil when resp is final:
// either its status is not a followed redirect or it has no Location.
//
// req is the request that produced resp and is not modified.
func (r Resolver) Next(req *wire.Request, resp *wire.Response) (*wire.Request, error) {
	rule, ok := rules[resp.StatusCode]
	if !ok {
		return nil, nil
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		return nil, nil
	}

	target, err := Resolve(req.URL, loc)
	if err != nil {
		return nil, err
	}

	next := req.Clone()
	next.URL = target

	dropBody := false
	switch rule {
	case getUnlessSafe:
		if req.Method != wire.MethodGet && req.Method != wire.MethodHead {
			next.Method = wire.MethodGet
			dropBody = true
		}
	case alwaysGet:
		next.Method = wire.MethodGet
		dropBody = true
	}

	if dropBody {
		next.Body = nil
		for _, h := range bodyHeaders {
			next.Header.Del(h)
		}
	}

	if !sameOrigin(req.URL, target) {
		sensitive := r.SensitiveHeaders
		if sensitive == nil {
			sensitive = defaultSensitive
		}
		for _, h := range sensitive {
			next.Header.Del(h)
		}
		// Host was meant for the old origin.
		next.Header.Del("Host")
	}

	return next, nil
}

// Resolve resolves a Location value against the URL that produced it. A
// target without a fragment inherits the base fragment.
func Resolve(base *url.URL, location string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(location))
	if err != nil {
		return nil, &httperr.ProtocolError{Op: "location", Detail: location, Err: err}
	}

	target := base.ResolveReference(ref)
	switch target.Scheme {
	case "http", "https":
	default:
		return nil, &httperr.ProtocolError{Op: "location", Detail: location, Err: errors.New("unsupported scheme")}
	}
	if target.Host == "" {
		return nil, &httperr.ProtocolError{Op: "location", Detail: location, Err: errors.New("missing host")}
	}
	if target.Fragment == "" && base.Fragment != "" {
		target.Fragment = base.Fragment
	}
	return target, nil
}

func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}
