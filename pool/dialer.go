package pool

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"time"

	"github.com/kroma-labs/courier/httperr"
)

// Dialer opens transport connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// dial opens a connection for key, running the TLS handshake for https.
// The connect timeout bounds dial and handshake together.
func (p *Pool) dial(ctx context.Context, key Key) (*Conn, error) {
	dialCtx := ctx
	if p.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, p.cfg.ConnectTimeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := p.cfg.Dialer.DialContext(dialCtx, "tcp", key.Addr())
	if err != nil {
		return nil, p.connectError(ctx, key, false, err)
	}
	dialDur := time.Since(start)

	var tlsDur time.Duration
	if key.TLS() {
		tlsStart := time.Now()
		tc := tls.Client(raw, p.tlsConfig(key))
		if err := tc.HandshakeContext(dialCtx); err != nil {
			_ = raw.Close()
			return nil, p.connectError(ctx, key, true, err)
		}
		raw = tc
		tlsDur = time.Since(tlsStart)
	}

	c := newConn(p, key, raw, p.cfg.BufferSize)
	c.DialDuration = dialDur
	c.TLSDuration = tlsDur

	p.metrics.recordDial(ctx, key, dialDur, tlsDur)
	p.logger.Trace().
		Str("key", key.String()).
		Dur("dial", dialDur).
		Dur("tls", tlsDur).
		Msg("conn_dialed")
	return c, nil
}

func (p *Pool) tlsConfig(key Key) *tls.Config {
	var cfg *tls.Config
	if p.cfg.TLSConfig != nil {
		cfg = p.cfg.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = key.Host
	}
	// HTTP/1.1 only.
	cfg.NextProtos = []string{"http/1.1"}
	if key.Insecure {
		cfg.InsecureSkipVerify = true
	}
	if p.cfg.VerifyConnection != nil {
		cfg.VerifyConnection = p.cfg.VerifyConnection
	}
	return cfg
}

// connectError classifies a dial or handshake failure. Cancellation of the
// caller's context is returned untouched; expiry of the connect timeout
// becomes a TimeoutError.
func (p *Pool) connectError(ctx context.Context, key Key, isTLS bool, err error) error {
	p.metrics.recordDialError(ctx, key)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &httperr.TimeoutError{Kind: httperr.TimeoutConnect, Err: &httperr.ConnectError{Addr: key.Addr(), TLS: isTLS, Err: err}}
	}
	return &httperr.ConnectError{Addr: key.Addr(), TLS: isTLS, Err: err}
}
