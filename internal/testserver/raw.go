package testserver

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
)

// Raw is a TCP server whose connections are driven by a script, for
// responses net/http would refuse to produce.
type Raw struct {
	ln       net.Listener
	script   func(*RawConn)
	accepted atomic.Int64

	mu    sync.Mutex
	conns []net.Conn
	wg    sync.WaitGroup
}

// RawConn is one accepted connection.
type RawConn struct {
	net.Conn
	// Index is the zero-based order in which the connection was accepted.
	Index int

	br *bufio.Reader
}

// NewRaw listens on a loopback port and runs script for every accepted
// connection, closing the connection when script returns.
func NewRaw(t testing.TB, script func(*RawConn)) *Raw {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("testserver: listen: %v", err)
	}
	r := &Raw{ln: ln, script: script}
	r.wg.Add(1)
	go r.serve()
	t.Cleanup(r.Close)
	return r
}

// URL returns the base URL of the server.
func (r *Raw) URL() string { return "http://" + r.ln.Addr().String() }

// Accepted returns the number of connections accepted so far.
func (r *Raw) Accepted() int { return int(r.accepted.Load()) }

// Close stops the listener and closes every open connection.
func (r *Raw) Close() {
	_ = r.ln.Close()
	r.mu.Lock()
	for _, c := range r.conns {
		_ = c.Close()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Raw) serve() {
	defer r.wg.Done()
	for {
		c, err := r.ln.Accept()
		if err != nil {
			return
		}
		idx := int(r.accepted.Add(1)) - 1

		r.mu.Lock()
		r.conns = append(r.conns, c)
		r.mu.Unlock()

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer c.Close()
			r.script(&RawConn{Conn: c, Index: idx, br: bufio.NewReader(c)})
		}()
	}
}

// ReadRequest reads one request, body included.
func (c *RawConn) ReadRequest() (*http.Request, []byte, error) {
	req, err := http.ReadRequest(c.br)
	if err != nil {
		return nil, nil, err
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, nil, err
	}
	return req, body, nil
}

// Send writes raw bytes to the connection.
func (c *RawConn) Send(s string) error {
	_, err := io.WriteString(c.Conn, s)
	return err
}

// Serve answers requests on the connection with body until the client
// hangs up.
func (c *RawConn) Serve(body string) {
	for {
		if _, _, err := c.ReadRequest(); err != nil {
			return
		}
		if err := c.Send(Reply(200, body)); err != nil {
			return
		}
	}
}

// Reply returns a keep-alive response with a Content-Length body.
func Reply(status int, body string, header ...string) string {
	h := ""
	for i := 0; i+1 < len(header); i += 2 {
		h += header[i] + ": " + header[i+1] + "\r\n"
	}
	return fmt.Sprintf("HTTP/1.1 %d %s\r\n%sContent-Length: %s\r\n\r\n%s",
		status, http.StatusText(status), h, strconv.Itoa(len(body)), body)
}
