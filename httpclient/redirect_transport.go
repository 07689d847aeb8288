package httpclient

import (
	"context"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/courier/redirect"
	"github.com/kroma-labs/courier/wire"
)

// redirectTransport follows redirects. Each hop goes through next, so the
// circuit breaker and the stale connection retry apply per hop.
//
// The returned response carries the full chain in Redirects. Unless the
// call is streaming, its body has been read into Body.
type redirectTransport struct {
	next     RoundTripper
	cfg      *internalConfig
	resolver redirect.Resolver
}

func newRedirectTransport(next RoundTripper, cfg *internalConfig) *redirectTransport {
	return &redirectTransport{next: next, cfg: cfg}
}

// RoundTrip implements RoundTripper.
func (t *redirectTransport) RoundTrip(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	hc := t.cfg.httpConfig
	chain := redirect.NewChain(req.URL, hc.MaxRedirects)
	cur := req

	for {
		resp, err := t.next.RoundTrip(ctx, cur)
		if err != nil {
			return nil, err
		}

		var next *wire.Request
		if hc.FollowRedirects {
			next, err = t.resolver.Next(cur, resp)
			if err != nil {
				discard(resp)
				return nil, err
			}
		}

		if next == nil {
			resp.Redirects = chain.URLs()
			resp.URL = cur.URL
			if !isStreaming(ctx) {
				if err := resp.ReadBody(); err != nil {
					return nil, contextualError(ctx, err)
				}
			}
			return resp, nil
		}

		// The limit and loop checks run before the next hop is sent.
		if err := chain.Visit(next.URL); err != nil {
			discard(resp)
			return nil, err
		}

		t.cfg.enter(ctx, StateRedirecting,
			attribute.Int("http.response.status_code", resp.StatusCode),
			attribute.String("url.full", next.URL.String()),
			attribute.Int("http.redirect_count", chain.Hops()),
		)
		t.cfg.Metrics.recordRedirect(ctx, resp.StatusCode, t.cfg.baseAttributes())
		t.cfg.Logger.Debug().
			Int("status", resp.StatusCode).
			Str("from", cur.URL.String()).
			Str("to", next.URL.String()).
			Msg("following redirect")

		discard(resp)
		cur = next
	}
}

// discard drains what is left of a response body, up to drainLimit, and
// closes it. Reading to the end lets the hop release the connection.
func discard(resp *wire.Response) {
	if resp == nil || resp.Stream == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, resp.Stream, drainLimit)
	_ = resp.Close()
}

// redirectCount returns the number of redirects a response went through.
func redirectCount(resp *wire.Response) int {
	if resp == nil || len(resp.Redirects) == 0 {
		return 0
	}
	return len(resp.Redirects) - 1
}

// addRedirectAttrs annotates the span with the redirect chain of resp.
func addRedirectAttrs(span trace.Span, resp *wire.Response) {
	n := redirectCount(resp)
	if n == 0 {
		return
	}
	span.SetAttributes(
		attribute.Int("http.redirect_count", n),
		attribute.StringSlice("http.redirect_chain", resp.Redirects),
	)
}
