package wire

import (
	"errors"
	"io"
	"iter"
	"net/url"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/kroma-labs/courier/httperr"
)

// Response is a parsed HTTP response.
//
// A buffered response (the default for Client.Execute) has Body filled and
// Stream nil. A streamed response (Client.Stream) has Stream set; the caller
// must read it to EOF or Close it. The body can be read only once. To read
// it again, issue the request again.
type Response struct {
	// Proto is the version from the status line, e.g. "HTTP/1.1".
	Proto      string
	ProtoMajor int
	ProtoMinor int

	StatusCode int
	Reason     string

	// Header holds every response field in arrival order. Chunked trailers
	// are appended after the body has been read.
	Header Header

	// ContentLength is the declared body size, or -1 when unknown.
	ContentLength int64

	// Chunked reports chunked transfer encoding.
	Chunked bool

	// ConnClose reports that the connection cannot carry another request.
	ConnClose bool

	// Body holds the buffered body.
	Body []byte

	// Stream is the unread body, when streaming.
	Stream io.ReadCloser

	// URL is the URL that produced this response, after redirects.
	URL *url.URL

	// Redirects lists every URL visited, starting with the original one.
	// It has a single entry when no redirect was followed.
	Redirects []string

	// Request is the request that produced this response.
	Request *Request
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsRedirect reports a 3xx status.
func (r *Response) IsRedirect() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400
}

// IsError reports a 4xx or 5xx status.
func (r *Response) IsError() bool {
	return r.StatusCode >= 400
}

// Status returns "200 OK" style text.
func (r *Response) Status() string {
	var b strings.Builder
	b.WriteString(itoa3(r.StatusCode))
	if r.Reason != "" {
		b.WriteByte(' ')
		b.WriteString(r.Reason)
	}
	return b.String()
}

// ReadBody buffers the remaining stream into Body and closes it.
// It is a no-op for responses that are already buffered.
func (r *Response) ReadBody() error {
	if r.Stream == nil {
		return nil
	}
	stream := r.Stream
	r.Stream = nil

	body, err := io.ReadAll(stream)
	closeErr := stream.Close()
	if err != nil {
		return err
	}
	r.Body = body
	return closeErr
}

// String returns the body as text, buffering it first if needed.
func (r *Response) String() (string, error) {
	if err := r.ReadBody(); err != nil {
		return "", err
	}
	return string(r.Body), nil
}

// Decode unmarshals a JSON body into v, buffering it first if needed.
func (r *Response) Decode(v any) error {
	if err := r.ReadBody(); err != nil {
		return err
	}
	if len(r.Body) == 0 {
		return errors.New("courier: decode empty body")
	}
	return json.Unmarshal(r.Body, v)
}

// Chunks returns a lazy sequence over the streamed body, at most size bytes
// per element. The stream is closed when iteration ends. For a buffered
// response the whole body is yielded once.
//
// Example:
//
//	for chunk, err := range resp.Chunks(32 * 1024) {
//	    if err != nil {
//	        return err
//	    }
//	    dst.Write(chunk)
//	}
func (r *Response) Chunks(size int) iter.Seq2[[]byte, error] {
	if size <= 0 {
		size = 32 * 1024
	}
	return func(yield func([]byte, error) bool) {
		if r.Stream == nil {
			if len(r.Body) > 0 {
				yield(r.Body, nil)
			}
			return
		}

		stream := r.Stream
		r.Stream = nil
		defer stream.Close()

		buf := make([]byte, size)
		for {
			n, err := stream.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				if !yield(chunk, nil) {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

// Close releases the streamed body without reading it.
func (r *Response) Close() error {
	if r.Stream == nil {
		return nil
	}
	err := r.Stream.Close()
	r.Stream = nil
	return err
}

// body is the framed body stream handed out by ReadResponse.
type body struct {
	r      io.Reader
	closed bool
}

func (b *body) Read(p []byte) (int, error) {
	if b.closed {
		return 0, httperr.ErrBodyClosed
	}
	return b.r.Read(p)
}

func (b *body) Close() error {
	b.closed = true
	return nil
}

func itoa3(code int) string {
	if code < 100 || code > 999 {
		return "000"
	}
	return string([]byte{byte('0' + code/100), byte('0' + code/10%10), byte('0' + code%10)})
}
