package httpclient

import (
	"context"

	"github.com/kroma-labs/courier/wire"
)

// RoundTripper executes a single request. Every layer of the engine
// (instrumentation, rate limiting, redirects, circuit breaking, retry and
// the connection-level transport) implements it and wraps the next.
//
// A returned response may carry an unread Stream; the caller owns it.
type RoundTripper interface {
	RoundTrip(ctx context.Context, req *wire.Request) (*wire.Response, error)
}

// RoundTripperFunc adapts a function to RoundTripper.
type RoundTripperFunc func(ctx context.Context, req *wire.Request) (*wire.Response, error)

// RoundTrip calls f.
func (f RoundTripperFunc) RoundTrip(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	return f(ctx, req)
}

// ProgressFunc reports transferred bytes. total is -1 when unknown.
type ProgressFunc func(transferred, total int64)

type ctxKey int

const (
	streamKey ctxKey = iota
	freshConnKey
	operationKey
)

// withStreaming marks ctx as a streaming call: the final body is left
// unread for the caller.
func withStreaming(ctx context.Context) context.Context {
	return context.WithValue(ctx, streamKey, true)
}

func isStreaming(ctx context.Context) bool {
	v, _ := ctx.Value(streamKey).(bool)
	return v
}

// withFreshConn makes the connection-level transport dial instead of
// reusing an idle connection.
func withFreshConn(ctx context.Context) context.Context {
	return context.WithValue(ctx, freshConnKey, true)
}

func wantsFreshConn(ctx context.Context) bool {
	v, _ := ctx.Value(freshConnKey).(bool)
	return v
}

// withOperation names the logical request for tracing. An empty name
// leaves ctx unchanged.
func withOperation(ctx context.Context, name string) context.Context {
	if name == "" {
		return ctx
	}
	return context.WithValue(ctx, operationKey, name)
}

func operationName(ctx context.Context) string {
	v, _ := ctx.Value(operationKey).(string)
	return v
}
