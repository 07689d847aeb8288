// Package wire implements the HTTP/1.1 message format used by the request
// engine: methods and their body policy, an order-preserving header, the
// request descriptor and serializer, and an incremental response parser with
// Content-Length, chunked and close-delimited body framing.
//
// The package does no I/O scheduling of its own. Callers supply a
// bufio.Writer or bufio.Reader bound to a connection and own its deadlines.
//
// Example:
//
//	req, _ := wire.NewRequest(wire.MethodGet, "http://localhost:8080/", nil)
//	if err := wire.WriteRequest(bw, req); err != nil {
//	    return err
//	}
//	resp, err := wire.ReadResponse(br, req.Method, wire.ParseOptions{})
//	if err != nil {
//	    return err
//	}
//	if err := resp.ReadBody(); err != nil {
//	    return err
//	}
package wire
