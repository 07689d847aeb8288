package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"sync"

	"github.com/kroma-labs/courier/wire"
)

// MockTransport stands in for the network in tests. It replaces the
// connection-level transport only, so redirects, retry, circuit breaking
// and instrumentation still run over the stubbed responses.
type MockTransport struct {
	mu          sync.RWMutex
	stubs       []stub
	defaultResp *stubResponse
	defaultErr  error
	requests    []*wire.Request
	requestHook func(*wire.Request)
}

type stub struct {
	matcher  func(*wire.Request) bool
	response *stubResponse
	err      error
}

type stubResponse struct {
	status int
	header wire.Header
	body   []byte
}

func newStubResponse(statusCode int, body string) *stubResponse {
	return &stubResponse{status: statusCode, body: []byte(body)}
}

// NewMockTransport creates a new MockTransport for testing.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// StubResponse stubs all requests to return the given response.
func (m *MockTransport) StubResponse(statusCode int, body string) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultResp = newStubResponse(statusCode, body)
	return m
}

// StubError stubs all requests to return the given error.
func (m *MockTransport) StubError(err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultErr = err
	return m
}

// StubPath stubs requests matching the path to return the given response.
func (m *MockTransport) StubPath(path string, statusCode int, body string) *MockTransport {
	return m.StubFunc(func(req *wire.Request) bool {
		return req.URL.Path == path
	}, statusCode, body)
}

// StubPathRegex stubs requests matching the path regex to return the given response.
func (m *MockTransport) StubPathRegex(pattern string, statusCode int, body string) *MockTransport {
	re := regexp.MustCompile(pattern)
	return m.StubFunc(func(req *wire.Request) bool {
		return re.MatchString(req.URL.Path)
	}, statusCode, body)
}

// StubMethod stubs requests with the given method to return the given response.
func (m *MockTransport) StubMethod(method wire.Method, statusCode int, body string) *MockTransport {
	return m.StubFunc(func(req *wire.Request) bool {
		return req.Method == method
	}, statusCode, body)
}

// StubRedirect stubs requests for path with a redirect to location.
func (m *MockTransport) StubRedirect(path string, statusCode int, location string) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	resp := newStubResponse(statusCode, "")
	resp.header.Set("Location", location)
	m.stubs = append(m.stubs, stub{
		matcher:  func(req *wire.Request) bool { return req.URL.Path == path },
		response: resp,
	})
	return m
}

// StubFunc stubs requests matching the predicate to return the given response.
func (m *MockTransport) StubFunc(
	matcher func(*wire.Request) bool,
	statusCode int,
	body string,
) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, stub{
		matcher:  matcher,
		response: newStubResponse(statusCode, body),
	})
	return m
}

// StubFuncError stubs requests matching the predicate to return the given error.
func (m *MockTransport) StubFuncError(matcher func(*wire.Request) bool, err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, stub{
		matcher: matcher,
		err:     err,
	})
	return m
}

// OnRequest sets a hook that is called for each request.
// Useful for assertions or capturing request details.
func (m *MockTransport) OnRequest(fn func(*wire.Request)) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestHook = fn
	return m
}

// RoundTrip implements RoundTripper.
func (m *MockTransport) RoundTrip(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, contextualError(ctx, err)
	}

	req = req.Clone()
	m.mu.Lock()
	m.requests = append(m.requests, req)
	hook := m.requestHook
	m.mu.Unlock()

	if hook != nil {
		hook(req)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	// Check stubs in order (first match wins)
	for _, s := range m.stubs {
		if s.matcher(req) {
			if s.err != nil {
				return nil, s.err
			}
			return s.response.build(req), nil
		}
	}

	if m.defaultErr != nil {
		return nil, m.defaultErr
	}
	if m.defaultResp != nil {
		return m.defaultResp.build(req), nil
	}

	return nil, fmt.Errorf("no stub found for request: %s %s", req.Method, req.URL)
}

// Requests returns all requests made through this transport, one per hop.
func (m *MockTransport) Requests() []*wire.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*wire.Request{}, m.requests...)
}

// RequestCount returns the number of requests made.
func (m *MockTransport) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// LastRequest returns the most recent request, or nil if none.
func (m *MockTransport) LastRequest() *wire.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

// Reset clears all recorded requests and stubs.
func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.stubs = nil
	m.defaultResp = nil
	m.defaultErr = nil
	m.requestHook = nil
}

// build returns a fresh response with an unread body, the shape the
// connection-level transport produces.
func (s *stubResponse) build(req *wire.Request) *wire.Response {
	resp := &wire.Response{
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		StatusCode:    s.status,
		Header:        s.header.Clone(),
		ContentLength: int64(len(s.body)),
		URL:           req.URL,
		Request:       req,
		Stream:        io.NopCloser(bytes.NewReader(s.body)),
	}
	resp.Header.Set("Content-Length", strconv.Itoa(len(s.body)))
	if req.Method == wire.MethodHead {
		resp.Stream = io.NopCloser(bytes.NewReader(nil))
	}
	return resp
}

// WithMockTransport replaces the network with mock. No connections are
// opened.
func WithMockTransport(mock *MockTransport) Option {
	return func(cfg *internalConfig) {
		cfg.MockTransport = mock
	}
}
