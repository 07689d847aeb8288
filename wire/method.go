package wire

// Method is an HTTP request method. Any RFC 9110 token is accepted; the
// constants cover the verbs the engine treats specially.
type Method string

const (
	MethodGet     Method = "GET"
	MethodHead    Method = "HEAD"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodPatch   Method = "PATCH"
	MethodDelete  Method = "DELETE"
	MethodOptions Method = "OPTIONS"
	MethodTrace   Method = "TRACE"
)

func (m Method) String() string { return string(m) }

// Valid reports whether m is a non-empty token.
func (m Method) Valid() bool {
	if m == "" {
		return false
	}
	for i := 0; i < len(m); i++ {
		if !isTokenChar(m[i]) {
			return false
		}
	}
	return true
}

// AllowsBody reports whether a request with this method may carry a body.
//
// HEAD and TRACE never do. GET, DELETE and OPTIONS may; their servers are
// free to ignore it.
func (m Method) AllowsBody() bool {
	switch m {
	case MethodHead, MethodTrace:
		return false
	default:
		return true
	}
}

// ExpectsBody reports whether an empty body should still be framed with
// Content-Length: 0.
func (m Method) ExpectsBody() bool {
	switch m {
	case MethodPost, MethodPut, MethodPatch:
		return true
	default:
		return false
	}
}

// isTokenChar reports whether c may appear in an RFC 9110 token.
func isTokenChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}
