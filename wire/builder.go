package wire

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
)

// Build serializes req into HTTP/1.1 wire format.
func Build(req *Request) ([]byte, error) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	if err := WriteRequest(bw, req); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteRequest validates req and writes it to w, flushing at the end.
//
// Framing rules:
//   - Host is written first unless the caller supplied one.
//   - Caller fields follow in order, with their own casing.
//   - A caller "Transfer-Encoding: chunked" sends the body as chunks;
//     otherwise Content-Length is computed from the body and any caller
//     value is replaced.
//   - POST, PUT and PATCH with no body send Content-Length: 0.
func WriteRequest(w *bufio.Writer, req *Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	chunked := req.Header.HasToken("Transfer-Encoding", "chunked")

	w.WriteString(req.Method.String())
	w.WriteByte(' ')
	w.WriteString(req.Target())
	w.WriteString(" HTTP/1.1\r\n")

	if !req.Header.Has("Host") {
		writeField(w, "Host", req.HostHeader())
	}

	for _, f := range req.Header.Fields() {
		if skipCallerField(f.Name, chunked) {
			continue
		}
		writeField(w, f.Name, f.Value)
	}

	if !chunked && (len(req.Body) > 0 || req.Method.ExpectsBody()) {
		writeField(w, "Content-Length", strconv.Itoa(len(req.Body)))
	}
	w.WriteString("\r\n")

	if chunked {
		writeChunked(w, req.Body)
	} else {
		w.Write(req.Body)
	}

	return w.Flush()
}

func writeField(w *bufio.Writer, name, value string) {
	w.WriteString(name)
	w.WriteString(": ")
	w.WriteString(value)
	w.WriteString("\r\n")
}

func writeChunked(w *bufio.Writer, body []byte) {
	if len(body) > 0 {
		w.WriteString(strconv.FormatInt(int64(len(body)), 16))
		w.WriteString("\r\n")
		w.Write(body)
		w.WriteString("\r\n")
	}
	w.WriteString("0\r\n\r\n")
}

// skipCallerField reports framing fields the builder computes itself.
func skipCallerField(name string, chunked bool) bool {
	switch {
	case strings.EqualFold(name, "Content-Length"):
		return true
	case strings.EqualFold(name, "Transfer-Encoding"):
		return !chunked
	}
	return false
}
