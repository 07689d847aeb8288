package redirect

import (
	"net/url"
	"slices"
	"strings"

	"github.com/kroma-labs/courier/httperr"
)

// Chain records the URLs visited while following redirects.
type Chain struct {
	max  int
	urls []string
	seen map[string]struct{}
}

// NewChain starts a chain at start. limit is the number of redirects that
// may be followed; a negative limit means DefaultMaxRedirects.
func NewChain(start *url.URL, limit int) *Chain {
	if limit < 0 {
		limit = DefaultMaxRedirects
	}
	c := &Chain{max: limit, seen: make(map[string]struct{})}
	c.add(start)
	return c
}

// Visit records a redirect to u. It fails with *httperr.RedirectLimitError
// when the hop would exceed the limit, and with *httperr.RedirectLoopError
// when u (ignoring its fragment) is already in the chain. On error the
// chain is unchanged.
func (c *Chain) Visit(u *url.URL) error {
	if c.Hops() >= c.max {
		return &httperr.RedirectLimitError{Max: c.max, Chain: c.URLs()}
	}
	if _, ok := c.seen[normalize(u)]; ok {
		return &httperr.RedirectLoopError{URL: u.String(), Chain: c.URLs()}
	}
	c.add(u)
	return nil
}

// Hops returns the number of redirects followed so far.
func (c *Chain) Hops() int { return len(c.urls) - 1 }

// URLs returns a copy of the visited URLs, starting URL first.
func (c *Chain) URLs() []string { return slices.Clone(c.urls) }

func (c *Chain) add(u *url.URL) {
	c.urls = append(c.urls, u.String())
	c.seen[normalize(u)] = struct{}{}
}

func normalize(u *url.URL) string {
	n := *u
	n.Fragment = ""
	n.RawFragment = ""
	n.Scheme = strings.ToLower(n.Scheme)
	n.Host = strings.ToLower(n.Host)
	return n.String()
}
