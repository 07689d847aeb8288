package wire

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kroma-labs/courier/httperr"
)

// DefaultMaxHeaderBytes bounds the status line plus header block.
const DefaultMaxHeaderBytes = 64 << 10

// maxContentLength rejects absurd declared sizes before any allocation.
const maxContentLength = 1 << 40

// ParseOptions tunes ReadResponse.
type ParseOptions struct {
	// MaxHeaderBytes bounds the response head. Zero means DefaultMaxHeaderBytes.
	MaxHeaderBytes int

	// OnFirstByte, if set, is called once the first byte of the status line
	// has arrived.
	OnFirstByte func()
}

// ReadResponse reads a response head from br and frames the body that
// follows. The body is left unread in resp.Stream.
//
// An error before any byte of the status line arrived is returned as-is, so
// callers can tell a connection the peer already closed (io.EOF, reset) from
// a malformed reply, which is always an *httperr.ProtocolError.
func ReadResponse(br *bufio.Reader, method Method, opts ParseOptions) (*Response, error) {
	budget := opts.MaxHeaderBytes
	if budget <= 0 {
		budget = DefaultMaxHeaderBytes
	}

	first := true
	for {
		resp, err := readHead(br, &budget, first, opts.OnFirstByte)
		if err != nil {
			return nil, err
		}
		first = false

		// Interim responses precede the real one. 101 switches protocols and
		// ends HTTP on this connection.
		if resp.StatusCode >= 100 && resp.StatusCode < 200 && resp.StatusCode != 101 {
			continue
		}

		if err := frameBody(resp, br, method); err != nil {
			return nil, err
		}
		return resp, nil
	}
}

func readHead(br *bufio.Reader, budget *int, first bool, onFirstByte func()) (*Response, error) {
	if first && onFirstByte != nil {
		if _, err := br.Peek(1); err != nil {
			return nil, err
		}
		onFirstByte()
	}

	line, err := readLine(br, budget)
	if err != nil {
		if first && len(line) == 0 && !errors.Is(err, errHeadTooLarge) {
			return nil, err
		}
		return nil, headError("status line", line, err)
	}

	resp := &Response{ContentLength: -1}
	if err := parseStatusLine(resp, line); err != nil {
		return nil, err
	}

	for {
		line, err := readLine(br, budget)
		if err != nil {
			return nil, headError("header block", line, err)
		}
		if len(line) == 0 {
			return resp, nil
		}

		if line[0] == ' ' || line[0] == '\t' {
			if err := unfold(&resp.Header, line); err != nil {
				return nil, err
			}
			continue
		}

		name, value, err := parseField(line)
		if err != nil {
			return nil, err
		}
		resp.Header.Add(name, value)
	}
}

// headError maps read failures inside the head to ProtocolError, keeping
// timeouts and closed connections reachable through Unwrap.
func headError(op string, line []byte, err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return &httperr.ProtocolError{Op: op, Detail: string(line), Err: err}
}

func parseStatusLine(resp *Response, line []byte) error {
	s := string(line)
	bad := func(reason string) error {
		return &httperr.ProtocolError{Op: "status line", Detail: s, Err: errors.New(reason)}
	}

	proto, rest, ok := strings.Cut(s, " ")
	if !ok {
		return bad("missing status code")
	}
	major, minor, ok := parseVersion(proto)
	if !ok {
		return bad("bad version")
	}

	code, reason, _ := strings.Cut(rest, " ")
	if len(code) != 3 {
		return bad("bad status code")
	}
	status, err := strconv.Atoi(code)
	if err != nil || status < 100 {
		return bad("bad status code")
	}

	resp.Proto = proto
	resp.ProtoMajor = major
	resp.ProtoMinor = minor
	resp.StatusCode = status
	resp.Reason = reason
	return nil
}

// parseVersion accepts "HTTP/x.y" with single digits.
func parseVersion(v string) (int, int, bool) {
	if len(v) != len("HTTP/1.1") || !strings.HasPrefix(v, "HTTP/") || v[6] != '.' {
		return 0, 0, false
	}
	major, minor := v[5], v[7]
	if major < '0' || major > '9' || minor < '0' || minor > '9' {
		return 0, 0, false
	}
	return int(major - '0'), int(minor - '0'), true
}

func parseField(line []byte) (string, string, error) {
	idx := bytes.IndexByte(line, ':')
	if idx <= 0 {
		return "", "", &httperr.ProtocolError{Op: "header line", Detail: string(line), Err: errors.New("missing colon")}
	}
	name := string(line[:idx])
	if !validFieldName(name) {
		return "", "", &httperr.ProtocolError{Op: "header name", Detail: name}
	}
	value := strings.Trim(string(line[idx+1:]), " \t")
	return name, value, nil
}

// unfold joins an obs-fold continuation line onto the previous field.
func unfold(h *Header, line []byte) error {
	if len(h.fields) == 0 {
		return &httperr.ProtocolError{Op: "header line", Detail: string(line), Err: errors.New("continuation before first field")}
	}
	last := &h.fields[len(h.fields)-1]
	cont := strings.Trim(string(line), " \t")
	switch {
	case cont == "":
	case last.Value == "":
		last.Value = cont
	default:
		last.Value += " " + cont
	}
	return nil
}

// frameBody chooses the body framing and whether the connection survives.
func frameBody(resp *Response, br *bufio.Reader, method Method) error {
	resp.ConnClose = !keepAlive(resp)

	if !hasBody(method, resp.StatusCode) {
		resp.ContentLength = 0
		resp.Stream = &body{r: eofReader{}}
		if resp.StatusCode == 101 {
			resp.ConnClose = true
		}
		return nil
	}

	chunked := isChunked(resp.Header)

	if resp.Header.Has("Content-Length") {
		n, err := contentLength(resp.Header.Values("Content-Length"))
		if err != nil {
			return err
		}
		// Both present is ambiguous framing; read by length but never reuse.
		if chunked {
			resp.ConnClose = true
		}
		resp.ContentLength = n
		resp.Stream = &body{r: &fixedReader{r: br, remaining: n}}
		return nil
	}

	if chunked {
		resp.Chunked = true
		resp.Stream = &body{r: &chunkedReader{r: br, trailer: &resp.Header}}
		return nil
	}

	resp.ConnClose = true
	resp.Stream = &body{r: &closeReader{r: br}}
	return nil
}

// hasBody reports whether a response to method with the given status can
// carry a body at all.
func hasBody(method Method, status int) bool {
	switch {
	case method == MethodHead:
		return false
	case status >= 100 && status < 200:
		return false
	case status == 204, status == 304:
		return false
	}
	return true
}

func keepAlive(resp *Response) bool {
	if resp.Header.HasToken("Connection", "close") {
		return false
	}
	if resp.ProtoMajor == 1 && resp.ProtoMinor == 0 {
		return resp.Header.HasToken("Connection", "keep-alive")
	}
	return true
}

func isChunked(h Header) bool {
	values := h.Values("Transfer-Encoding")
	if len(values) == 0 {
		return false
	}
	codings := strings.Split(values[len(values)-1], ",")
	return strings.EqualFold(strings.TrimSpace(codings[len(codings)-1]), "chunked")
}

// contentLength parses every Content-Length value; repeats must agree.
func contentLength(values []string) (int64, error) {
	n := int64(-1)
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			v, err := strconv.ParseInt(part, 10, 64)
			if err != nil || v < 0 || v > maxContentLength {
				return 0, &httperr.ProtocolError{Op: "content-length", Detail: raw}
			}
			if n >= 0 && v != n {
				return 0, &httperr.ProtocolError{Op: "content-length", Detail: raw, Err: fmt.Errorf("conflicting values %d and %d", n, v)}
			}
			n = v
		}
	}
	return n, nil
}

var errHeadTooLarge = errors.New("response head exceeds limit")

// readLine returns one line without its CRLF (or bare LF), charging its size
// against budget. On error the partial line read so far is returned.
func readLine(br *bufio.Reader, budget *int) ([]byte, error) {
	var line []byte
	for {
		frag, err := br.ReadSlice('\n')
		*budget -= len(frag)
		if *budget < 0 {
			return append(line, frag...), errHeadTooLarge
		}
		line = append(line, frag...)
		if err == nil {
			break
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return line, err
		}
	}

	line = line[:len(line)-1]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line, nil
}
