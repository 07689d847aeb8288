package httpclient

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kroma-labs/courier/wire"
)

// CurlCommand creates a cURL command equivalent for the given request.
//
// The generated command can be used to reproduce the request from the command line.
// Headers are emitted in the order they were set; sensitive headers like
// Authorization are included for debugging purposes.
//
// Example output:
//
//	curl -X POST 'https://api.example.com/users' -H 'Content-Type: application/json' -d '{"name":"John"}'
func CurlCommand(req *wire.Request) string {
	parts := []string{"curl"}

	if req.Method == wire.MethodHead {
		parts = append(parts, "-I")
	} else if req.Method != wire.MethodGet {
		parts = append(parts, "-X", req.Method.String())
	}

	parts = append(parts, shellQuote(req.URL.String()))

	for _, f := range req.Header.Fields() {
		parts = append(parts, "-H", shellQuote(f.Name+": "+f.Value))
	}

	if len(req.Body) > 0 {
		parts = append(parts, "--data-binary", shellQuote(string(req.Body)))
	}

	if req.TLSVerify == wire.VerifyOff {
		parts = append(parts, "-k")
	}

	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	return fmt.Sprintf("'%s'", strings.ReplaceAll(s, "'", `'\''`))
}

// logRequest logs the request details using zerolog.
func logRequest(logger zerolog.Logger, req *wire.Request, curl bool) {
	ev := logger.Debug().
		Str("method", req.Method.String()).
		Str("url", req.URL.String()).
		Str("host", req.HostHeader()).
		Int("body_size", len(req.Body))
	if curl {
		ev = ev.Str("curl", CurlCommand(req))
	}
	ev.Msg("HTTP request")
}

// logResponse logs the response details using zerolog.
func logResponse(logger zerolog.Logger, resp *wire.Response, duration time.Duration) {
	logger.Debug().
		Int("status", resp.StatusCode).
		Str("status_text", resp.Status()).
		Dur("duration_ms", duration).
		Int64("content_length", resp.ContentLength).
		Strs("redirects", resp.Redirects).
		Msg("HTTP response")
}

// logFailure logs a failed request.
func logFailure(logger zerolog.Logger, req *wire.Request, err error, duration time.Duration) {
	logger.Debug().
		Err(err).
		Str("method", req.Method.String()).
		Str("url", req.URL.String()).
		Str("error_type", classifyError(err)).
		Dur("duration_ms", duration).
		Msg("HTTP request failed")
}
