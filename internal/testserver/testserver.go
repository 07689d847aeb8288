// Package testserver provides HTTP fixtures for engine tests: a chi router
// replaying the routes the client is exercised against, and a raw TCP
// listener for servers that misbehave on purpose.
package testserver

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

// RequestIDHeader is echoed back by every route.
const RequestIDHeader = "X-Request-ID"

// Echo is the JSON document returned by the /echo route.
type Echo struct {
	Method  string              `json:"method"`
	Path    string              `json:"path"`
	Query   string              `json:"query,omitempty"`
	Body    string              `json:"body"`
	Headers map[string][]string `json:"headers"`
}

// Server is a running fixture server.
type Server struct {
	*httptest.Server

	hits atomic.Int64
}

// New starts a plain HTTP fixture server, closed when t ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{}
	s.Server = httptest.NewServer(s.router())
	t.Cleanup(s.Close)
	return s
}

// NewTLS starts a fixture server with a self-signed certificate.
func NewTLS(t testing.TB) *Server {
	t.Helper()
	s := &Server{}
	s.Server = httptest.NewTLSServer(s.router())
	t.Cleanup(s.Close)
	return s
}

// Hits returns the number of requests served.
func (s *Server) Hits() int64 { return s.hits.Load() }

// Path returns the absolute URL of path on this server.
func (s *Server) Path(path string) string { return s.URL + path }

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.count, requestID)

	r.Get("/", text("OK"))
	r.Get("/some/path", text("OK"))
	r.Get("/redirect", redirectTo("/", http.StatusFound))
	r.Get("/double_redirect", redirectTo("/redirect", http.StatusFound))
	r.Post("/post", echoBody)
	r.Put("/put", echoBody)
	r.Delete("/delete", echoBody)

	r.HandleFunc("/echo", echo)
	r.HandleFunc("/status/{code}", status)
	r.HandleFunc("/redirect/{code}", redirectCode)
	r.HandleFunc("/chain/{n}", chain)
	r.HandleFunc("/loop", redirectTo("/loop", http.StatusFound))
	r.HandleFunc("/gzip", gzipped)
	r.HandleFunc("/slow", slow)
	r.HandleFunc("/stream", stream)

	return r
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		next.ServeHTTP(w, r)
	})
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func text(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, body)
	}
}

func redirectTo(location string, code int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, location, code)
	}
}

func echoBody(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	_, _ = w.Write(body)
}

func echo(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Echo{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.RawQuery,
		Body:    string(body),
		Headers: r.Header,
	})
}

// status replies with the code from the path and a body naming it.
func status(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(chi.URLParam(r, "code"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(code)
	_, _ = io.WriteString(w, http.StatusText(code))
}

// redirectCode redirects to /echo with the status code from the path, so
// the test can see what the follow-up request looked like.
func redirectCode(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(chi.URLParam(r, "code"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	_, _ = io.Copy(io.Discard, r.Body)
	w.Header().Set("Location", "/echo")
	w.WriteHeader(code)
}

// chain redirects /chain/n to /chain/n-1, and /chain/0 answers "OK".
func chain(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if n <= 0 {
		text("OK")(w, r)
		return
	}
	http.Redirect(w, r, "/chain/"+strconv.Itoa(n-1), http.StatusFound)
}

func gzipped(w http.ResponseWriter, _ *http.Request) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = io.WriteString(zw, "compressed OK")
	_ = zw.Close()

	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = w.Write(buf.Bytes())
}

// slow waits for the duration in the "d" query parameter before answering.
func slow(w http.ResponseWriter, r *http.Request) {
	d, _ := time.ParseDuration(r.URL.Query().Get("d"))
	select {
	case <-time.After(d):
		text("OK")(w, r)
	case <-r.Context().Done():
	}
}

// stream writes "n" chunks of "size" bytes, flushing each.
func stream(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(r.URL.Query().Get("n"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	if size <= 0 {
		size = 1024
	}
	chunk := bytes.Repeat([]byte{'x'}, size)
	flusher, _ := w.(http.Flusher)
	for range n {
		if _, err := w.Write(chunk); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

