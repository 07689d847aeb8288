package httpclient

import (
	"context"
	"net/url"
	"strings"

	"github.com/kroma-labs/courier/httperr"
	"github.com/kroma-labs/courier/wire"
)

// RequestBuilder provides a fluent API for constructing requests.
//
// Create a RequestBuilder using Client.Request():
//
//	var user User
//	resp, err := client.Request("CreateUser").
//	    Path("/users").
//	    Body(newUser).
//	    Decode(&user).
//	    Post(ctx)
type RequestBuilder struct {
	client        *Client
	operationName string
	path          string
	pathParams    map[string]string
	queryParams   url.Values
	header        wire.Header
	body          []byte
	contentType   string
	verify        wire.VerifyMode
	result        any
	errorResult   any
	err           error
}

// Request creates a new RequestBuilder for the given operation name.
//
// The operation name is appended to the span name ("HTTP POST CreateUser")
// and recorded as the http.client.operation span attribute.
func (c *Client) Request(operationName string) *RequestBuilder {
	return &RequestBuilder{
		client:        c,
		operationName: operationName,
		pathParams:    make(map[string]string),
	}
}

// Path sets the request path, or a full URL.
//
// A relative path is resolved against the client's base URL. Path
// parameters can be specified using {name} syntax and filled with
// PathParam().
func (rb *RequestBuilder) Path(path string) *RequestBuilder {
	rb.path = path
	return rb
}

// PathParam sets a path parameter value. The value is path-escaped.
//
// Example:
//
//	client.Request("GetPost").
//	    Path("/users/{id}/posts/{postId}").
//	    PathParam("id", userID).
//	    PathParam("postId", postID).
//	    Get(ctx)
func (rb *RequestBuilder) PathParam(key, value string) *RequestBuilder {
	rb.pathParams[key] = value
	return rb
}

// Query adds a query parameter.
func (rb *RequestBuilder) Query(key, value string) *RequestBuilder {
	if rb.queryParams == nil {
		rb.queryParams = make(url.Values)
	}
	rb.queryParams.Add(key, value)
	return rb
}

// Header sets a request header.
func (rb *RequestBuilder) Header(name, value string) *RequestBuilder {
	rb.header.Set(name, value)
	return rb
}

// Body sets the request body with automatic content type detection.
//
// Encoding rules:
//   - string: raw text (Content-Type: text/plain)
//   - []byte: raw bytes (Content-Type: application/octet-stream)
//   - url.Values: form encoded (Content-Type: application/x-www-form-urlencoded)
//   - anything else: JSON (Content-Type: application/json)
func (rb *RequestBuilder) Body(v any) *RequestBuilder {
	switch body := v.(type) {
	case nil:
	case string:
		rb.body = []byte(body)
		rb.contentType = "text/plain; charset=utf-8"
	case []byte:
		rb.body = body
		rb.contentType = "application/octet-stream"
	case url.Values:
		rb.body = []byte(body.Encode())
		rb.contentType = "application/x-www-form-urlencoded"
	default:
		return rb.BodyJSON(v)
	}
	return rb
}

// BodyJSON encodes the body as JSON.
func (rb *RequestBuilder) BodyJSON(v any) *RequestBuilder {
	data, err := wire.JSONBody(v)
	if err != nil {
		rb.err = err
		return rb
	}
	rb.body = data
	rb.contentType = "application/json"
	return rb
}

// TLSVerify overrides the client's certificate verification for this
// request.
func (rb *RequestBuilder) TLSVerify(enabled bool) *RequestBuilder {
	if enabled {
		rb.verify = wire.VerifyOn
	} else {
		rb.verify = wire.VerifyOff
	}
	return rb
}

// Decode sets the target for JSON decoding of a 2xx response body.
func (rb *RequestBuilder) Decode(v any) *RequestBuilder {
	rb.result = v
	return rb
}

// DecodeError sets the target for JSON decoding of a non-2xx response body.
//
// Example:
//
//	var apiErr APIError
//	resp, err := client.Request("CreateUser").
//	    Decode(&user).
//	    DecodeError(&apiErr).
//	    Post(ctx, "/users")
func (rb *RequestBuilder) DecodeError(v any) *RequestBuilder {
	rb.errorResult = v
	return rb
}

// Get executes a GET request.
func (rb *RequestBuilder) Get(ctx context.Context, path ...string) (*wire.Response, error) {
	return rb.execute(ctx, wire.MethodGet, path)
}

// Head executes a HEAD request.
func (rb *RequestBuilder) Head(ctx context.Context, path ...string) (*wire.Response, error) {
	return rb.execute(ctx, wire.MethodHead, path)
}

// Post executes a POST request.
func (rb *RequestBuilder) Post(ctx context.Context, path ...string) (*wire.Response, error) {
	return rb.execute(ctx, wire.MethodPost, path)
}

// Put executes a PUT request.
func (rb *RequestBuilder) Put(ctx context.Context, path ...string) (*wire.Response, error) {
	return rb.execute(ctx, wire.MethodPut, path)
}

// Patch executes a PATCH request.
func (rb *RequestBuilder) Patch(ctx context.Context, path ...string) (*wire.Response, error) {
	return rb.execute(ctx, wire.MethodPatch, path)
}

// Delete executes a DELETE request.
func (rb *RequestBuilder) Delete(ctx context.Context, path ...string) (*wire.Response, error) {
	return rb.execute(ctx, wire.MethodDelete, path)
}

// Stream executes the request with the given method and leaves the body
// unread, as Client.Stream does. Decode targets are ignored.
func (rb *RequestBuilder) Stream(ctx context.Context, method wire.Method, path ...string) (*wire.Response, error) {
	req, err := rb.Build(method, path...)
	if err != nil {
		return nil, err
	}
	return rb.client.Stream(withOperation(ctx, rb.operationName), req)
}

// Build returns the request the builder describes without sending it.
func (rb *RequestBuilder) Build(method wire.Method, path ...string) (*wire.Request, error) {
	if len(path) > 0 {
		rb.path = path[0]
	}
	if rb.err != nil {
		return nil, rb.err
	}

	target, err := rb.buildURL()
	if err != nil {
		return nil, err
	}

	req, err := wire.NewRequest(method, target, rb.body)
	if err != nil {
		return nil, err
	}
	req.Header = rb.header.Clone()
	if rb.contentType != "" && !req.Header.Has("Content-Type") {
		req.Header.Set("Content-Type", rb.contentType)
	}
	req.TLSVerify = rb.verify
	return req, nil
}

func (rb *RequestBuilder) execute(ctx context.Context, method wire.Method, path []string) (*wire.Response, error) {
	req, err := rb.Build(method, path...)
	if err != nil {
		return nil, err
	}

	resp, err := rb.client.Execute(withOperation(ctx, rb.operationName), req)
	if err != nil {
		return resp, err
	}

	target := rb.result
	if !resp.IsSuccess() {
		target = rb.errorResult
	}
	if target != nil && len(resp.Body) > 0 {
		if err := resp.Decode(target); err != nil {
			return resp, err
		}
	}
	return resp, nil
}

// buildURL constructs the full URL from base URL, path, and query params.
func (rb *RequestBuilder) buildURL() (string, error) {
	path := rb.path
	for k, v := range rb.pathParams {
		path = strings.ReplaceAll(path, "{"+k+"}", url.PathEscape(v))
	}

	ref, err := url.Parse(path)
	if err != nil {
		return "", &httperr.InvalidRequestError{Reason: "parse path", Err: err}
	}

	u := ref
	if !ref.IsAbs() {
		base := rb.client.config.BaseURL
		if base == "" {
			return "", &httperr.InvalidRequestError{Reason: "relative path " + path + " without base url"}
		}
		baseURL, err := url.Parse(strings.TrimSuffix(base, "/") + "/")
		if err != nil {
			return "", &httperr.InvalidRequestError{Reason: "parse base url", Err: err}
		}
		ref.Path = strings.TrimPrefix(ref.Path, "/")
		ref.RawPath = strings.TrimPrefix(ref.RawPath, "/")
		u = baseURL.ResolveReference(ref)
	}

	if len(rb.queryParams) > 0 {
		q := u.Query()
		for k, vs := range rb.queryParams {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}
