package redirect

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kroma-labs/courier/httperr"
	"github.com/kroma-labs/courier/wire"
)

func redirectResponse(status int, location string) *wire.Response {
	resp := &wire.Response{StatusCode: status}
	if location != "" {
		resp.Header.Add("Location", location)
	}
	return resp
}

func TestResolver_Next(t *testing.T) {
	tests := []struct {
		name       string
		method     wire.Method
		body       string
		status     int
		location   string
		wantMethod wire.Method
		wantBody   string
		wantURL    string
	}{
		{name: "given 301 after POST, then GET without body", method: wire.MethodPost, body: "x", status: 301, location: "/a", wantMethod: wire.MethodGet, wantURL: "http://api.test/a"},
		{name: "given 302 after PUT, then GET without body", method: wire.MethodPut, body: "x", status: 302, location: "/a", wantMethod: wire.MethodGet, wantURL: "http://api.test/a"},
		{name: "given 302 after GET, then GET", method: wire.MethodGet, status: 302, location: "/", wantMethod: wire.MethodGet, wantURL: "http://api.test/"},
		{name: "given 301 after HEAD, then HEAD", method: wire.MethodHead, status: 301, location: "/a", wantMethod: wire.MethodHead, wantURL: "http://api.test/a"},
		{name: "given 303 after POST, then GET without body", method: wire.MethodPost, body: "x", status: 303, location: "/done", wantMethod: wire.MethodGet, wantURL: "http://api.test/done"},
		{name: "given 303 after HEAD, then GET", method: wire.MethodHead, status: 303, location: "/done", wantMethod: wire.MethodGet, wantURL: "http://api.test/done"},
		{name: "given 303 after DELETE with body, then GET without body", method: wire.MethodDelete, body: "x", status: 303, location: "/", wantMethod: wire.MethodGet, wantURL: "http://api.test/"},
		{name: "given 307 after POST, then POST with same body", method: wire.MethodPost, body: "payload\x00\xff", status: 307, location: "/b", wantMethod: wire.MethodPost, wantBody: "payload\x00\xff", wantURL: "http://api.test/b"},
		{name: "given 308 after PATCH, then PATCH with same body", method: wire.MethodPatch, body: "{}", status: 308, location: "/b", wantMethod: wire.MethodPatch, wantBody: "{}", wantURL: "http://api.test/b"},
		{name: "given relative location, then resolves against request path", method: wire.MethodGet, status: 302, location: "next?q=1", wantMethod: wire.MethodGet, wantURL: "http://api.test/v1/next?q=1"},
		{name: "given absolute location, then uses it", method: wire.MethodGet, status: 302, location: "https://other.test/x", wantMethod: wire.MethodGet, wantURL: "https://other.test/x"},
		{name: "given scheme-relative location, then keeps scheme", method: wire.MethodGet, status: 302, location: "//cdn.test/y", wantMethod: wire.MethodGet, wantURL: "http://cdn.test/y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := wire.NewRequest(tt.method, "http://api.test/v1/start", []byte(tt.body))
			require.NoError(t, err)
			req.Header.Set("Content-Type", "text/plain")

			next, err := Resolver{}.Next(req, redirectResponse(tt.status, tt.location))
			require.NoError(t, err)
			require.NotNil(t, next)

			assert.Equal(t, tt.wantMethod, next.Method)
			assert.Equal(t, tt.wantBody, string(next.Body))
			assert.Equal(t, tt.wantURL, next.URL.String())
			assert.Equal(t, "/v1/start", req.URL.Path, "original request untouched")
			if tt.wantBody == "" && tt.body != "" {
				assert.False(t, next.Header.Has("Content-Type"))
			}
		})
	}
}

func TestResolver_Next_Final(t *testing.T) {
	req, err := wire.NewRequest(wire.MethodGet, "http://api.test/", nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		resp *wire.Response
	}{
		{name: "given 200, then final", resp: redirectResponse(200, "/ignored")},
		{name: "given 304, then final", resp: redirectResponse(304, "/ignored")},
		{name: "given 300, then final", resp: redirectResponse(300, "/choice")},
		{name: "given 302 without Location, then final", resp: redirectResponse(302, "")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := Resolver{}.Next(req, tt.resp)

			assert.NoError(t, err)
			assert.Nil(t, next)
		})
	}
}

func TestResolver_Next_Headers(t *testing.T) {
	newReq := func(t *testing.T) *wire.Request {
		req, err := wire.NewRequest(wire.MethodGet, "https://api.test/a", nil)
		require.NoError(t, err)
		req.Header = wire.NewHeader(
			"Authorization", "Bearer t",
			"Cookie", "s=1",
			"X-Request-Id", "abc",
		)
		return req
	}

	t.Run("given same-origin redirect, then keeps credentials", func(t *testing.T) {
		next, err := Resolver{}.Next(newReq(t), redirectResponse(302, "/b"))
		require.NoError(t, err)

		assert.Equal(t, "Bearer t", next.Header.Get("Authorization"))
		assert.Equal(t, "s=1", next.Header.Get("Cookie"))
	})

	t.Run("given cross-host redirect, then strips credentials", func(t *testing.T) {
		next, err := Resolver{}.Next(newReq(t), redirectResponse(302, "https://evil.test/b"))
		require.NoError(t, err)

		assert.False(t, next.Header.Has("Authorization"))
		assert.False(t, next.Header.Has("Cookie"))
		assert.Equal(t, "abc", next.Header.Get("X-Request-Id"))
	})

	t.Run("given scheme downgrade, then strips credentials", func(t *testing.T) {
		next, err := Resolver{}.Next(newReq(t), redirectResponse(301, "http://api.test/b"))
		require.NoError(t, err)

		assert.False(t, next.Header.Has("Authorization"))
	})

	t.Run("given custom sensitive list, then strips only those", func(t *testing.T) {
		r := Resolver{SensitiveHeaders: []string{"X-Request-Id"}}
		next, err := r.Next(newReq(t), redirectResponse(302, "https://other.test/"))
		require.NoError(t, err)

		assert.True(t, next.Header.Has("Authorization"))
		assert.False(t, next.Header.Has("X-Request-Id"))
	})
}

func TestResolve(t *testing.T) {
	base, err := url.Parse("http://api.test/a#section")
	require.NoError(t, err)

	t.Run("given location without fragment, then inherits base fragment", func(t *testing.T) {
		u, err := Resolve(base, "/b")
		require.NoError(t, err)
		assert.Equal(t, "http://api.test/b#section", u.String())
	})

	t.Run("given location with fragment, then keeps its own", func(t *testing.T) {
		u, err := Resolve(base, "/b#other")
		require.NoError(t, err)
		assert.Equal(t, "other", u.Fragment)
	})

	t.Run("given non-http scheme, then ProtocolError", func(t *testing.T) {
		_, err := Resolve(base, "ftp://files.test/x")

		var perr *httperr.ProtocolError
		assert.ErrorAs(t, err, &perr)
	})

	t.Run("given unparsable location, then ProtocolError", func(t *testing.T) {
		_, err := Resolve(base, "http://[::1")

		var perr *httperr.ProtocolError
		assert.ErrorAs(t, err, &perr)
	})
}

func TestChain(t *testing.T) {
	mustURL := func(s string) *url.URL {
		u, err := url.Parse(s)
		require.NoError(t, err)
		return u
	}

	t.Run("given hops within limit, then records every URL", func(t *testing.T) {
		c := NewChain(mustURL("http://a.test/double_redirect"), 2)

		require.NoError(t, c.Visit(mustURL("http://a.test/redirect")))
		require.NoError(t, c.Visit(mustURL("http://a.test/")))

		assert.Equal(t, 2, c.Hops())
		assert.Equal(t, []string{"http://a.test/double_redirect", "http://a.test/redirect", "http://a.test/"}, c.URLs())
	})

	t.Run("given hop beyond limit, then RedirectLimitError and chain unchanged", func(t *testing.T) {
		c := NewChain(mustURL("http://a.test/double_redirect"), 1)
		require.NoError(t, c.Visit(mustURL("http://a.test/redirect")))

		err := c.Visit(mustURL("http://a.test/"))

		var limitErr *httperr.RedirectLimitError
		require.ErrorAs(t, err, &limitErr)
		assert.Equal(t, 1, limitErr.Max)
		assert.Len(t, limitErr.Chain, 2)
		assert.Equal(t, 1, c.Hops())
	})

	t.Run("given limit zero, then first redirect fails", func(t *testing.T) {
		c := NewChain(mustURL("http://a.test/redirect"), 0)

		var limitErr *httperr.RedirectLimitError
		assert.ErrorAs(t, c.Visit(mustURL("http://a.test/")), &limitErr)
	})

	t.Run("given negative limit, then uses default", func(t *testing.T) {
		c := NewChain(mustURL("http://a.test/0"), -1)
		for i := 1; i <= DefaultMaxRedirects; i++ {
			require.NoError(t, c.Visit(mustURL("http://a.test/"+string(rune('a'+i)))))
		}
		assert.Error(t, c.Visit(mustURL("http://a.test/z")))
	})

	t.Run("given repeated URL, then RedirectLoopError", func(t *testing.T) {
		c := NewChain(mustURL("http://a.test/a"), 10)
		require.NoError(t, c.Visit(mustURL("http://a.test/b")))

		err := c.Visit(mustURL("http://A.test/a#frag"))

		var loopErr *httperr.RedirectLoopError
		require.ErrorAs(t, err, &loopErr)
		assert.Equal(t, []string{"http://a.test/a", "http://a.test/b"}, loopErr.Chain)
	})

	t.Run("given same path with different query, then not a loop", func(t *testing.T) {
		c := NewChain(mustURL("http://a.test/a?page=1"), 10)

		assert.NoError(t, c.Visit(mustURL("http://a.test/a?page=2")))
	})
}
