package wire

import (
	"bufio"
	"errors"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"github.com/kroma-labs/courier/httperr"
)

// AcceptEncoding lists every content coding DecodeBody understands.
const AcceptEncoding = "gzip, deflate, br, zstd"

// DecodeBody wraps r with decoders for the Content-Encoding value, applied
// in reverse order of the listed codings. "identity" and "" are no-ops.
// Closing the result closes r.
func DecodeBody(contentEncoding string, r io.ReadCloser) (io.ReadCloser, error) {
	codings := strings.Split(contentEncoding, ",")
	out := r
	for i := len(codings) - 1; i >= 0; i-- {
		coding := strings.ToLower(strings.TrimSpace(codings[i]))
		dec, err := decoder(coding, out)
		if err != nil {
			return nil, &httperr.ProtocolError{Op: "content-encoding", Detail: contentEncoding, Err: err}
		}
		out = &decodedBody{Reader: dec, under: out}
	}
	return out, nil
}

func decoder(coding string, r io.Reader) (io.Reader, error) {
	switch coding {
	case "", "identity":
		return r, nil
	case "gzip", "x-gzip":
		return gzip.NewReader(r)
	case "deflate":
		return newDeflateReader(r)
	case "br":
		return brotli.NewReader(r), nil
	case "zstd":
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	default:
		return nil, errors.New("unsupported coding " + coding)
	}
}

// newDeflateReader accepts both zlib-wrapped deflate (RFC 9110) and the raw
// deflate stream some servers send instead.
func newDeflateReader(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(2)
	if err != nil {
		return nil, err
	}
	if isZlibHeader(head[0], head[1]) {
		return zlib.NewReader(br)
	}
	return flate.NewReader(br), nil
}

func isZlibHeader(cmf, flg byte) bool {
	return cmf&0x0f == 8 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}

// decodedBody closes the decoder and then the stream below it.
type decodedBody struct {
	io.Reader
	under io.Closer
}

func (d *decodedBody) Close() error {
	var err error
	if c, ok := d.Reader.(io.Closer); ok {
		err = c.Close()
	}
	return errors.Join(err, d.under.Close())
}
