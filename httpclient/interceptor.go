package httpclient

import (
	"encoding/base64"

	"github.com/kroma-labs/courier/wire"
)

// RequestInterceptor allows modification of requests before they are sent.
// Interceptors are executed in the order they are added, once per logical
// request: redirect hops and the stale-connection retry reuse the result.
//
// Common use cases:
//   - Adding authentication headers (Bearer tokens, API keys)
//   - Injecting correlation IDs
//   - Adding custom headers based on request context
type RequestInterceptor func(req *wire.Request) error

// ResponseInterceptor allows inspection of the final response, after
// redirects. Interceptors are executed in the order they are added.
// For a streamed response the body has not been read yet.
//
// Common use cases:
//   - Response logging
//   - Turning error statuses into errors
//   - Custom error handling
type ResponseInterceptor func(resp *wire.Response, req *wire.Request) error

// InterceptorChain manages request and response interceptors.
type InterceptorChain struct {
	requestInterceptors  []RequestInterceptor
	responseInterceptors []ResponseInterceptor
}

// AddRequestInterceptor adds a request interceptor to the chain.
func (c *InterceptorChain) AddRequestInterceptor(i RequestInterceptor) {
	c.requestInterceptors = append(c.requestInterceptors, i)
}

// AddResponseInterceptor adds a response interceptor to the chain.
func (c *InterceptorChain) AddResponseInterceptor(i ResponseInterceptor) {
	c.responseInterceptors = append(c.responseInterceptors, i)
}

// ApplyRequestInterceptors runs all request interceptors in order.
// Returns an error if any interceptor fails.
func (c *InterceptorChain) ApplyRequestInterceptors(req *wire.Request) error {
	for _, interceptor := range c.requestInterceptors {
		if err := interceptor(req); err != nil {
			return err
		}
	}
	return nil
}

// ApplyResponseInterceptors runs all response interceptors in order.
// Returns an error if any interceptor fails.
func (c *InterceptorChain) ApplyResponseInterceptors(resp *wire.Response, req *wire.Request) error {
	for _, interceptor := range c.responseInterceptors {
		if err := interceptor(resp, req); err != nil {
			return err
		}
	}
	return nil
}

// Common interceptor helpers

// AuthBearerInterceptor creates an interceptor that adds a Bearer token.
func AuthBearerInterceptor(token string) RequestInterceptor {
	return func(req *wire.Request) error {
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}
}

// AuthBearerFuncInterceptor creates an interceptor that adds a Bearer token
// from a function (useful for dynamic/refreshable tokens).
func AuthBearerFuncInterceptor(tokenFunc func() (string, error)) RequestInterceptor {
	return func(req *wire.Request) error {
		token, err := tokenFunc()
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}
}

// BasicAuthInterceptor creates an interceptor that adds HTTP Basic credentials.
func BasicAuthInterceptor(user, password string) RequestInterceptor {
	cred := base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
	return func(req *wire.Request) error {
		req.Header.Set("Authorization", "Basic "+cred)
		return nil
	}
}

// APIKeyInterceptor creates an interceptor that adds an API key header.
func APIKeyInterceptor(headerName, apiKey string) RequestInterceptor {
	return func(req *wire.Request) error {
		req.Header.Set(headerName, apiKey)
		return nil
	}
}

// CorrelationIDInterceptor creates an interceptor that adds a correlation ID.
func CorrelationIDInterceptor(headerName string, idFunc func() string) RequestInterceptor {
	return func(req *wire.Request) error {
		req.Header.Set(headerName, idFunc())
		return nil
	}
}

// StatusErrorInterceptor turns 4xx and 5xx responses into a *StatusError.
// The response is still returned alongside the error.
func StatusErrorInterceptor() ResponseInterceptor {
	return func(resp *wire.Response, _ *wire.Request) error {
		if resp.IsError() {
			return &StatusError{StatusCode: resp.StatusCode, Status: resp.Status(), URL: resp.URL.String()}
		}
		return nil
	}
}

// StatusError is returned by StatusErrorInterceptor.
type StatusError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *StatusError) Error() string {
	return "courier: " + e.URL + " returned " + e.Status
}
