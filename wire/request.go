package wire

import (
	"bytes"
	"net/url"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/kroma-labs/courier/httperr"
)

// VerifyMode selects TLS certificate verification for a single request.
type VerifyMode int

const (
	// VerifyDefault inherits the client configuration.
	VerifyDefault VerifyMode = iota
	// VerifyOn forces certificate verification.
	VerifyOn
	// VerifyOff disables certificate verification. Not for production.
	VerifyOff
)

// Request describes one HTTP request. The engine clones it before use, so a
// Request passed to the client is never modified and may be reused.
type Request struct {
	Method Method
	URL    *url.URL
	Header Header
	Body   []byte

	// TLSVerify overrides the client's verification setting for this request.
	TLSVerify VerifyMode
}

// NewRequest parses rawURL and validates the result.
//
// Example:
//
//	req, err := wire.NewRequest(wire.MethodPost, "https://api.example.com/users", payload)
//	req.Header.Set("Content-Type", "application/json")
func NewRequest(method Method, rawURL string, body []byte) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &httperr.InvalidRequestError{Reason: "parse url", Err: err}
	}
	req := &Request{Method: method, URL: u, Body: body}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// NewJSONRequest encodes v as the request body and sets Content-Type.
func NewJSONRequest(method Method, rawURL string, v any) (*Request, error) {
	body, err := JSONBody(v)
	if err != nil {
		return nil, err
	}
	req, err := NewRequest(method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// JSONBody marshals v for use as a request body.
func JSONBody(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, &httperr.InvalidRequestError{Reason: "encode json body", Err: err}
	}
	return body, nil
}

// Validate checks the request can be serialized.
func (r *Request) Validate() error {
	switch {
	case r == nil:
		return &httperr.InvalidRequestError{Reason: "nil request"}
	case !r.Method.Valid():
		return &httperr.InvalidRequestError{Reason: "invalid method " + strings.TrimSpace(string(r.Method))}
	case r.URL == nil:
		return &httperr.InvalidRequestError{Reason: "missing url"}
	}

	switch r.URL.Scheme {
	case "http", "https":
	default:
		return &httperr.InvalidRequestError{Reason: "unsupported scheme " + r.URL.Scheme}
	}
	if r.URL.Hostname() == "" {
		return &httperr.InvalidRequestError{Reason: "missing host in " + r.URL.String()}
	}
	if len(r.Body) > 0 && !r.Method.AllowsBody() {
		return &httperr.InvalidRequestError{Reason: r.Method.String() + " request must not have a body"}
	}

	for _, f := range r.Header.Fields() {
		if !validFieldName(f.Name) {
			return &httperr.InvalidRequestError{Reason: "invalid header name " + f.Name}
		}
		if !validFieldValue(f.Value) {
			return &httperr.InvalidRequestError{Reason: "invalid value for header " + f.Name}
		}
	}
	return nil
}

// Clone returns a deep copy of r.
func (r *Request) Clone() *Request {
	out := *r
	if r.URL != nil {
		u := *r.URL
		out.URL = &u
	}
	out.Header = r.Header.Clone()
	if r.Body != nil {
		out.Body = bytes.Clone(r.Body)
	}
	return &out
}

// Target returns the origin-form request target: path and query.
func (r *Request) Target() string {
	target := r.URL.RequestURI()
	if target == "" {
		return "/"
	}
	return target
}

// HostHeader returns the value sent in the Host header, omitting the
// default port for the scheme.
func (r *Request) HostHeader() string {
	host := r.URL.Host
	switch {
	case r.URL.Scheme == "http" && strings.HasSuffix(host, ":80"):
		return strings.TrimSuffix(host, ":80")
	case r.URL.Scheme == "https" && strings.HasSuffix(host, ":443"):
		return strings.TrimSuffix(host, ":443")
	}
	return host
}
