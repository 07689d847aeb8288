package wire

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/kroma-labs/courier/httperr"
)

// maxChunkLine bounds a chunk-size line and each trailer line.
const maxChunkLine = 4096

// chunkedReader decodes a chunked body. Trailer fields are appended to
// trailer once the terminating chunk has been read.
type chunkedReader struct {
	r       *bufio.Reader
	trailer *Header

	remaining int64 // bytes left in the current chunk
	started   bool  // at least one size line read
	err       error
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	if len(p) == 0 {
		return 0, nil
	}

	if c.remaining == 0 {
		if c.started {
			if err := c.readCRLF(); err != nil {
				c.err = err
				return 0, err
			}
		}
		c.started = true

		size, err := c.readSize()
		if err != nil {
			c.err = err
			return 0, err
		}
		if size == 0 {
			if err := c.readTrailer(); err != nil {
				c.err = err
				return 0, err
			}
			c.err = io.EOF
			return 0, io.EOF
		}
		c.remaining = size
	}

	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = &httperr.ProtocolError{Op: "chunk data", Err: io.ErrUnexpectedEOF}
		}
		c.err = err
	}
	return n, err
}

func (c *chunkedReader) readSize() (int64, error) {
	budget := maxChunkLine
	line, err := readLine(c.r, &budget)
	if err != nil {
		return 0, chunkIOError("chunk size", line, err)
	}

	raw := string(line)
	if i := strings.IndexByte(raw, ';'); i >= 0 {
		raw = raw[:i]
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, &httperr.ProtocolError{Op: "chunk size", Detail: string(line)}
	}

	size, err := strconv.ParseInt(raw, 16, 64)
	if err != nil || size < 0 || size > maxContentLength {
		return 0, &httperr.ProtocolError{Op: "chunk size", Detail: string(line), Err: err}
	}
	return size, nil
}

func (c *chunkedReader) readCRLF() error {
	budget := maxChunkLine
	line, err := readLine(c.r, &budget)
	if err != nil {
		return chunkIOError("chunk terminator", line, err)
	}
	if len(line) != 0 {
		return &httperr.ProtocolError{Op: "chunk terminator", Detail: string(line), Err: errors.New("missing CRLF after chunk data")}
	}
	return nil
}

func (c *chunkedReader) readTrailer() error {
	budget := DefaultMaxHeaderBytes
	for {
		line, err := readLine(c.r, &budget)
		if err != nil {
			return chunkIOError("trailer", line, err)
		}
		if len(line) == 0 {
			return nil
		}
		name, value, err := parseField(line)
		if err != nil {
			return err
		}
		if c.trailer != nil {
			c.trailer.Add(name, value)
		}
	}
}

// chunkIOError keeps transport errors intact and turns truncation into a
// ProtocolError.
func chunkIOError(op string, line []byte, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, errHeadTooLarge) {
		return &httperr.ProtocolError{Op: op, Detail: string(line), Err: io.ErrUnexpectedEOF}
	}
	return err
}

// fixedReader reads exactly remaining bytes. A short body is a ProtocolError.
type fixedReader struct {
	r         *bufio.Reader
	remaining int64
}

func (f *fixedReader) Read(p []byte) (int, error) {
	if f.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > f.remaining {
		p = p[:f.remaining]
	}
	n, err := f.r.Read(p)
	f.remaining -= int64(n)
	if errors.Is(err, io.EOF) {
		if f.remaining > 0 {
			return n, &httperr.ProtocolError{
				Op:  "body",
				Err: errors.Join(io.ErrUnexpectedEOF, errors.New(strconv.FormatInt(f.remaining, 10)+" bytes missing")),
			}
		}
		err = nil
	}
	if err == nil && f.remaining == 0 {
		return n, io.EOF
	}
	return n, err
}

// closeReader reads until the peer closes the connection.
type closeReader struct {
	r *bufio.Reader
}

func (c *closeReader) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
