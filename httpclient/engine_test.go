package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kroma-labs/courier/httperr"
	"github.com/kroma-labs/courier/internal/testserver"
	"github.com/kroma-labs/courier/wire"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateInit, "init"},
		{StateConnecting, "connecting"},
		{StateSending, "sending"},
		{StateAwaitingResponse, "awaiting_response"},
		{StateParsing, "parsing"},
		{StateRedirecting, "redirecting"},
		{StateDone, "done"},
		{StateFailed, "failed"},
		{State(42), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.String())
		})
	}
}

func TestEngine_ConnectionReuse(t *testing.T) {
	server := testserver.New(t)
	client := New()
	defer client.Close()

	for range 3 {
		resp, err := client.Get(context.Background(), server.Path("/"))
		require.NoError(t, err)
		assert.Equal(t, "OK", string(resp.Body))
	}

	stats := client.PoolStats()
	assert.Equal(t, uint64(1), stats.Dials, "sequential requests share one connection")
	assert.Equal(t, uint64(2), stats.Reuses)
	assert.Equal(t, 1, stats.Idle)
	assert.Equal(t, 0, stats.Busy)
}

func TestEngine_MaxConns(t *testing.T) {
	t.Run("given one connection in total, then hosts take turns with it", func(t *testing.T) {
		serverA, serverB := testserver.New(t), testserver.New(t)
		cfg := DefaultConfig()
		cfg.MaxConns = 1
		client := New(WithConfig(cfg))
		defer client.Close()

		for _, u := range []string{serverA.Path("/"), serverB.Path("/"), serverA.Path("/")} {
			resp, err := client.Get(context.Background(), u)
			require.NoError(t, err)
			assert.Equal(t, "OK", string(resp.Body))
		}

		stats := client.PoolStats()
		assert.Equal(t, 1, stats.MaxConns)
		assert.Equal(t, uint64(3), stats.Dials, "each switch closes the other host's idle connection")
		assert.Equal(t, uint64(2), stats.Evictions)
		assert.Equal(t, 1, stats.Idle)
	})
}

func TestEngine_StaleConnectionRetry(t *testing.T) {
	t.Run("given pooled connection closed by peer mid-request, then retries once on a fresh connection", func(t *testing.T) {
		server := testserver.NewRaw(t, func(c *testserver.RawConn) {
			if c.Index > 0 {
				c.Serve("fresh")
				return
			}
			// Answer once, then hang up on the next request without a byte.
			if _, _, err := c.ReadRequest(); err != nil {
				return
			}
			_ = c.Send(testserver.Reply(200, "first"))
			_, _, _ = c.ReadRequest()
		})

		client := New()
		defer client.Close()

		resp, err := client.Get(context.Background(), server.URL()+"/")
		require.NoError(t, err)
		assert.Equal(t, "first", string(resp.Body))

		resp, err = client.Get(context.Background(), server.URL()+"/")
		require.NoError(t, err)
		assert.Equal(t, "fresh", string(resp.Body))

		assert.Equal(t, 2, server.Accepted())
		assert.Equal(t, uint64(2), client.PoolStats().Dials)
	})

	t.Run("given every connection dropped, then surfaces the second failure", func(t *testing.T) {
		server := testserver.NewRaw(t, func(c *testserver.RawConn) {
			_, _, _ = c.ReadRequest()
		})

		client := New()
		defer client.Close()

		_, err := client.Get(context.Background(), server.URL()+"/")
		require.Error(t, err)
		assert.True(t, httperr.IsStaleConnection(err), "got %v", err)
		assert.Equal(t, 2, server.Accepted(), "exactly one retry")
	})

	t.Run("given retries disabled, then surfaces the first failure", func(t *testing.T) {
		server := testserver.NewRaw(t, func(c *testserver.RawConn) {
			_, _, _ = c.ReadRequest()
		})

		client := New(WithRetryConfig(NoRetryConfig()))
		defer client.Close()

		_, err := client.Get(context.Background(), server.URL()+"/")
		require.Error(t, err)
		assert.Equal(t, 1, server.Accepted())
	})
}

func TestEngine_ProtocolErrorEvicts(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{
			name:  "given garbage status line, then fails with protocol error",
			reply: "SPDY/3 200 OK\r\n\r\n",
		},
		{
			name:  "given header without colon, then fails with protocol error",
			reply: "HTTP/1.1 200 OK\r\nBroken header\r\n\r\n",
		},
		{
			name:  "given bad chunk size, then fails with protocol error",
			reply: "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\nzz\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := testserver.NewRaw(t, func(c *testserver.RawConn) {
				if _, _, err := c.ReadRequest(); err != nil {
					return
				}
				_ = c.Send(tt.reply)
				_, _ = io.Copy(io.Discard, c)
			})

			client := New()
			defer client.Close()

			_, err := client.Get(context.Background(), server.URL()+"/")

			var protoErr *httperr.ProtocolError
			require.ErrorAs(t, err, &protoErr)
			stats := client.PoolStats()
			assert.Equal(t, 0, stats.Idle, "connection must not be pooled")
			assert.Equal(t, 0, stats.Busy)
			assert.Equal(t, uint64(1), stats.Evictions)
			assert.Equal(t, 1, server.Accepted(), "protocol errors are not retried")
		})
	}
}

// blockingDialer never connects; it waits for the dial context to end.
type blockingDialer struct{}

func (blockingDialer) DialContext(ctx context.Context, _, _ string) (net.Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestEngine_Timeouts(t *testing.T) {
	silent := func(c *testserver.RawConn) {
		if _, _, err := c.ReadRequest(); err != nil {
			return
		}
		_, _ = io.Copy(io.Discard, c)
	}

	tests := []struct {
		name     string
		cfg      func(*Config)
		opts     []Option
		wantKind httperr.TimeoutKind
	}{
		{
			name: "given dial that never completes, then fails with connect timeout",
			cfg: func(c *Config) {
				c.ConnectTimeout = 50 * time.Millisecond
			},
			opts:     []Option{WithDialer(blockingDialer{})},
			wantKind: httperr.TimeoutConnect,
		},
		{
			name: "given silent server, then fails with read timeout",
			cfg: func(c *Config) {
				c.ReadTimeout = 50 * time.Millisecond
				c.OverallTimeout = 5 * time.Second
			},
			wantKind: httperr.TimeoutRead,
		},
		{
			name: "given silent server and short overall deadline, then fails with overall timeout",
			cfg: func(c *Config) {
				c.ReadTimeout = 5 * time.Second
				c.OverallTimeout = 80 * time.Millisecond
			},
			wantKind: httperr.TimeoutOverall,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := testserver.NewRaw(t, silent)

			cfg := DefaultConfig()
			tt.cfg(&cfg)
			client := New(append([]Option{WithConfig(cfg)}, tt.opts...)...)
			defer client.Close()

			start := time.Now()
			_, err := client.Get(context.Background(), server.URL()+"/")

			require.Error(t, err)
			assert.True(t, httperr.IsTimeout(err, tt.wantKind), "got %v", err)
			assert.Less(t, time.Since(start), 3*time.Second)

			var ne net.Error
			require.ErrorAs(t, err, &ne)
			assert.True(t, ne.Timeout())
			assert.Equal(t, 0, client.PoolStats().Idle)
		})
	}
}

func TestEngine_CancellationEvicts(t *testing.T) {
	server := testserver.NewRaw(t, func(c *testserver.RawConn) {
		if _, _, err := c.ReadRequest(); err != nil {
			return
		}
		_, _ = io.Copy(io.Discard, c)
	})

	client := New()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		assert.Eventually(t, func() bool { return client.PoolStats().Busy == 1 },
			2*time.Second, 5*time.Millisecond)
	}()

	_, err := client.Get(ctx, server.URL()+"/")
	require.ErrorIs(t, err, context.Canceled)

	stats := client.PoolStats()
	assert.Equal(t, 0, stats.Idle)
	assert.Equal(t, 0, stats.Busy)
	assert.Equal(t, uint64(1), stats.Evictions)
	assert.Equal(t, 1, server.Accepted(), "cancellation is not retried")
}

func TestEngine_IdleTTL(t *testing.T) {
	server := testserver.New(t)

	cfg := DefaultConfig()
	cfg.PoolIdleTTL = 50 * time.Millisecond
	client := New(WithConfig(cfg))
	defer client.Close()

	_, err := client.Get(context.Background(), server.Path("/"))
	require.NoError(t, err)
	require.Equal(t, 1, client.PoolStats().Idle)

	require.Eventually(t, func() bool { return client.PoolStats().Idle == 0 },
		time.Second, 10*time.Millisecond, "sweeper should close the expired connection")

	_, err = client.Get(context.Background(), server.Path("/"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), client.PoolStats().Dials)
}

func TestEngine_DisableKeepAlives(t *testing.T) {
	server := testserver.New(t)

	cfg := DefaultConfig()
	cfg.DisableKeepAlives = true
	client := New(WithConfig(cfg))
	defer client.Close()

	for range 2 {
		resp, err := client.Get(context.Background(), server.Path("/echo"))
		require.NoError(t, err)

		var echo testserver.Echo
		require.NoError(t, resp.Decode(&echo))
	}

	stats := client.PoolStats()
	assert.Equal(t, uint64(2), stats.Dials)
	assert.Equal(t, 0, stats.Idle)
}

func TestEngine_Streaming(t *testing.T) {
	server := testserver.New(t)

	t.Run("given stream read to EOF, then connection returns to the pool", func(t *testing.T) {
		client := New()
		defer client.Close()

		req, err := wire.NewRequest(wire.MethodGet, server.Path("/stream?n=8&size=4096"), nil)
		require.NoError(t, err)

		resp, err := client.Stream(context.Background(), req)
		require.NoError(t, err)
		assert.Empty(t, resp.Body)

		var total int
		for chunk, err := range resp.Chunks(1024) {
			require.NoError(t, err)
			total += len(chunk)
		}
		require.NoError(t, resp.Close())

		assert.Equal(t, 8*4096, total)
		assert.Equal(t, 1, client.PoolStats().Idle)
	})

	t.Run("given stream closed early, then connection is evicted", func(t *testing.T) {
		client := New()
		defer client.Close()

		req, err := wire.NewRequest(wire.MethodGet, server.Path("/stream?n=64&size=4096"), nil)
		require.NoError(t, err)

		resp, err := client.Stream(context.Background(), req)
		require.NoError(t, err)

		stream := resp.Stream
		buf := make([]byte, 10)
		_, err = io.ReadFull(stream, buf)
		require.NoError(t, err)
		require.NoError(t, resp.Close())

		_, err = stream.Read(buf)
		require.ErrorIs(t, err, httperr.ErrBodyClosed)

		stats := client.PoolStats()
		assert.Equal(t, 0, stats.Idle)
		assert.Equal(t, 0, stats.Busy)
		assert.Equal(t, uint64(1), stats.Evictions)
	})

	t.Run("given download progress hook, then reports every byte", func(t *testing.T) {
		var (
			mu   sync.Mutex
			last int64
		)
		client := New(WithDownloadProgress(func(transferred, _ int64) {
			mu.Lock()
			last = transferred
			mu.Unlock()
		}))
		defer client.Close()

		resp, err := client.Get(context.Background(), server.Path("/stream?n=4&size=1000"))
		require.NoError(t, err)
		assert.Len(t, resp.Body, 4000)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, int64(4000), last)
	})
}

func TestEngine_Compression(t *testing.T) {
	server := testserver.New(t)

	tests := []struct {
		name               string
		disableCompression bool
		wantDecoded        bool
	}{
		{
			name:               "given compression enabled, then body is decoded",
			disableCompression: false,
			wantDecoded:        true,
		},
		{
			name:               "given compression disabled, then body arrives as sent",
			disableCompression: true,
			wantDecoded:        false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.DisableCompression = tt.disableCompression
			client := New(WithConfig(cfg))
			defer client.Close()

			resp, err := client.Get(context.Background(), server.Path("/gzip"))
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode)

			if tt.wantDecoded {
				assert.Equal(t, "compressed OK", string(resp.Body))
				assert.Equal(t, 1, client.PoolStats().Idle, "decoded body still frees the connection")
			} else {
				assert.NotEqual(t, "compressed OK", string(resp.Body))
				assert.Equal(t, []byte{0x1f, 0x8b}, resp.Body[:2])
			}
		})
	}
}

func TestEngine_TLS(t *testing.T) {
	server := testserver.NewTLS(t)

	t.Run("given self-signed certificate and verification on, then fails to connect", func(t *testing.T) {
		client := New()
		defer client.Close()

		_, err := client.Get(context.Background(), server.Path("/"))

		var connErr *httperr.ConnectError
		require.ErrorAs(t, err, &connErr)
		assert.True(t, connErr.TLS)
		assert.True(t, httperr.IsPermanent(err))
		assert.Equal(t, httperr.TypeTLS, httperr.Type(err))
	})

	t.Run("given verification off for the request, then succeeds", func(t *testing.T) {
		client := New()
		defer client.Close()

		req, err := wire.NewRequest(wire.MethodGet, server.Path("/"), nil)
		require.NoError(t, err)
		req.TLSVerify = wire.VerifyOff

		resp, err := client.Execute(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "OK", string(resp.Body))
	})

	t.Run("given verify hook that rejects, then fails to connect", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TLSVerify = false
		client := New(
			WithConfig(cfg),
			WithVerifyConnection(func(tls.ConnectionState) error {
				return errors.New("pin mismatch")
			}),
		)
		defer client.Close()

		_, err := client.Get(context.Background(), server.Path("/"))
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "pin mismatch"), "got %v", err)
	})
}
