package httpclient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/kroma-labs/courier/wire"
)

// coalesceTransport merges identical concurrent GET and HEAD requests into a
// single network request. Every caller gets its own copy of the response.
//
// The shared request runs detached from the caller that started it, so one
// caller giving up does not fail the others. It is cancelled once every
// caller waiting on it has left.
//
// Streaming calls and other methods pass straight through.
type coalesceTransport struct {
	next   RoundTripper
	cfg    *internalConfig
	group  singleflight.Group
	ignore []string

	mu      sync.Mutex
	flights map[string]*flight
}

// flight is the context a shared request runs under and the number of
// callers still waiting on it.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func newCoalesceTransport(next RoundTripper, cfg *internalConfig) RoundTripper {
	if !cfg.Coalesce {
		return next
	}
	// Per-call headers would make every key unique.
	ignore := cfg.Propagators.Fields()
	if cfg.RequestIDHeader != "" {
		ignore = append(ignore, cfg.RequestIDHeader)
	}
	return &coalesceTransport{
		next:    next,
		cfg:     cfg,
		ignore:  ignore,
		flights: make(map[string]*flight),
	}
}

// RoundTrip implements RoundTripper.
func (t *coalesceTransport) RoundTrip(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	if isStreaming(ctx) || (req.Method != wire.MethodGet && req.Method != wire.MethodHead) {
		return t.next.RoundTrip(ctx, req)
	}

	key := CoalesceKey(req, t.ignore...)
	f := t.join(ctx, key)
	defer t.leave(key, f)

	ch := t.group.DoChan(key, func() (any, error) {
		return t.next.RoundTrip(f.ctx, req)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			// Joined a request whose callers had all left just before.
			if errors.Is(res.Err, context.Canceled) && ctx.Err() == nil {
				return t.next.RoundTrip(ctx, req)
			}
			return nil, res.Err
		}
		if res.Shared {
			t.cfg.Metrics.recordCoalesced(ctx, t.cfg.baseAttributes())
		}
		return copyResponse(res.Val.(*wire.Response), req), nil
	case <-ctx.Done():
		return nil, contextualError(ctx, ctx.Err())
	}
}

// join registers the caller on the flight for key, starting one when none
// is running. The flight keeps ctx's values but not its cancellation, and is
// bounded by the overall timeout instead.
func (t *coalesceTransport) join(ctx context.Context, key string) *flight {
	t.mu.Lock()
	defer t.mu.Unlock()

	if f, ok := t.flights[key]; ok {
		f.waiters++
		return f
	}

	fctx := context.WithoutCancel(ctx)
	var cancel context.CancelFunc
	if d := t.cfg.httpConfig.OverallTimeout; d > 0 {
		fctx, cancel = context.WithTimeout(fctx, d)
	} else {
		fctx, cancel = context.WithCancel(fctx)
	}
	f := &flight{ctx: fctx, cancel: cancel, waiters: 1}
	t.flights[key] = f
	return f
}

// leave drops the caller from f and cancels f when nobody is left.
func (t *coalesceTransport) leave(key string, f *flight) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if t.flights[key] == f {
		delete(t.flights, key)
	}
}

// CoalesceKey returns the key identical requests share: method, URL with
// sorted query, header fields and a hash of the body. Headers named in
// ignore do not take part.
func CoalesceKey(req *wire.Request, ignore ...string) string {
	u := *req.URL
	u.Fragment = ""
	u.RawFragment = ""
	u.RawQuery = u.Query().Encode()

	fields := make([]string, 0, req.Header.Len())
	for _, f := range req.Header.Fields() {
		if slices.ContainsFunc(ignore, func(name string) bool { return strings.EqualFold(name, f.Name) }) {
			continue
		}
		fields = append(fields, strings.ToLower(f.Name)+":"+f.Value)
	}
	slices.Sort(fields)

	h := sha256.New()
	h.Write([]byte(req.Method))
	h.Write([]byte{0})
	h.Write([]byte(u.String()))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(fields, "\n")))
	h.Write([]byte{0})
	h.Write(req.Body)
	return hex.EncodeToString(h.Sum(nil))
}

// copyResponse gives a caller its own buffered response.
func copyResponse(resp *wire.Response, req *wire.Request) *wire.Response {
	out := *resp
	out.Header = resp.Header.Clone()
	out.Body = bytes.Clone(resp.Body)
	out.Redirects = slices.Clone(resp.Redirects)
	out.Request = req
	return &out
}
