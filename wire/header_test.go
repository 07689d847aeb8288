package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeader(t *testing.T) {
	t.Run("given mixed-case lookups, then matches case-insensitively", func(t *testing.T) {
		h := NewHeader("Content-Type", "text/plain")

		assert.Equal(t, "text/plain", h.Get("content-type"))
		assert.Equal(t, "text/plain", h.Get("CONTENT-TYPE"))
		assert.True(t, h.Has("Content-type"))
	})

	t.Run("given repeated names, then keeps every value in order", func(t *testing.T) {
		h := NewHeader("Set-Cookie", "a=1", "X-Other", "x", "set-cookie", "b=2")

		assert.Equal(t, []string{"a=1", "b=2"}, h.Values("Set-Cookie"))
		assert.Equal(t, "a=1", h.Get("SET-COOKIE"))
		assert.Equal(t, 3, h.Len())
	})

	t.Run("given Set on existing name, then replaces in place", func(t *testing.T) {
		h := NewHeader("A", "1", "B", "2", "a", "3")
		h.Set("A", "9")

		assert.Equal(t, []Field{{"A", "9"}, {"B", "2"}}, h.Fields())
	})

	t.Run("given Set on missing name, then appends", func(t *testing.T) {
		var h Header
		h.Set("X-Id", "1")

		assert.Equal(t, []Field{{"X-Id", "1"}}, h.Fields())
	})

	t.Run("given Del, then removes all matches", func(t *testing.T) {
		h := NewHeader("A", "1", "B", "2", "a", "3")
		h.Del("a")

		assert.Equal(t, []Field{{"B", "2"}}, h.Fields())
		assert.False(t, h.Has("A"))
	})

	t.Run("given Clone, then copies are independent", func(t *testing.T) {
		h := NewHeader("A", "1")
		c := h.Clone()
		c.Set("A", "2")

		assert.Equal(t, "1", h.Get("A"))
		assert.Equal(t, "2", c.Get("A"))
	})

	t.Run("given value copy, then Set and Del on the original leave it intact", func(t *testing.T) {
		h := NewHeader("A", "1", "B", "2", "C", "3")
		snapshot := h

		h.Set("A", "9")
		h.Del("B")

		assert.Equal(t, []Field{{"A", "1"}, {"B", "2"}, {"C", "3"}}, snapshot.Fields())
		assert.Equal(t, []Field{{"A", "9"}, {"C", "3"}}, h.Fields())
	})

	t.Run("given comma separated tokens, then HasToken finds them", func(t *testing.T) {
		h := NewHeader("Connection", "keep-alive, Upgrade")

		assert.True(t, h.HasToken("connection", "upgrade"))
		assert.True(t, h.HasToken("Connection", "Keep-Alive"))
		assert.False(t, h.HasToken("Connection", "close"))
	})

	t.Run("given odd number of arguments, then ignores the trailing name", func(t *testing.T) {
		h := NewHeader("A", "1", "B")

		assert.Equal(t, 1, h.Len())
	})
}

func TestMethod(t *testing.T) {
	tests := []struct {
		name        string
		method      Method
		valid       bool
		allowsBody  bool
		expectsBody bool
	}{
		{name: "given GET, then body allowed but not expected", method: MethodGet, valid: true, allowsBody: true},
		{name: "given HEAD, then body forbidden", method: MethodHead, valid: true},
		{name: "given TRACE, then body forbidden", method: MethodTrace, valid: true},
		{name: "given POST, then body expected", method: MethodPost, valid: true, allowsBody: true, expectsBody: true},
		{name: "given PUT, then body expected", method: MethodPut, valid: true, allowsBody: true, expectsBody: true},
		{name: "given PATCH, then body expected", method: MethodPatch, valid: true, allowsBody: true, expectsBody: true},
		{name: "given DELETE, then body allowed", method: MethodDelete, valid: true, allowsBody: true},
		{name: "given OPTIONS, then body allowed", method: MethodOptions, valid: true, allowsBody: true},
		{name: "given extension token, then valid", method: "PURGE", valid: true, allowsBody: true},
		{name: "given empty method, then invalid", method: "", allowsBody: true},
		{name: "given method with space, then invalid", method: "GET X", allowsBody: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.method.Valid())
			assert.Equal(t, tt.allowsBody, tt.method.AllowsBody())
			assert.Equal(t, tt.expectsBody, tt.method.ExpectsBody())
		})
	}
}
