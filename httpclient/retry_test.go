package httpclient

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kroma-labs/courier/httperr"
	"github.com/kroma-labs/courier/wire"
)

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()

	assert.Equal(t, uint(1), cfg.MaxRetries)
	assert.Equal(t, time.Duration(0), cfg.InitialInterval)
	assert.Equal(t, time.Duration(0), cfg.MaxElapsedTime)
	assert.IsType(t, &backoff.ZeroBackOff{}, cfg.backOff())
}

func TestExponentialRetryConfig(t *testing.T) {
	cfg := ExponentialRetryConfig()

	assert.Equal(t, uint(3), cfg.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialInterval)
	assert.Equal(t, 2*time.Second, cfg.MaxInterval)
	assert.Equal(t, 10*time.Second, cfg.MaxElapsedTime)
	assert.InDelta(t, 2.0, cfg.Multiplier, 0.001)
	assert.InDelta(t, 0.5, cfg.JitterFactor, 0.001)

	b, ok := cfg.backOff().(*backoff.ExponentialBackOff)
	require.True(t, ok)
	assert.Equal(t, 100*time.Millisecond, b.InitialInterval)
	assert.Equal(t, 2*time.Second, b.MaxInterval)
}

func TestRetryConfig_BackOff(t *testing.T) {
	tests := []struct {
		name           string
		cfg            RetryConfig
		wantMultiplier float64
		wantMax        time.Duration
	}{
		{
			name:           "given multiplier below one, then uses constant interval",
			cfg:            RetryConfig{InitialInterval: time.Second, Multiplier: 0.5},
			wantMultiplier: 1,
			wantMax:        backoff.DefaultMaxInterval,
		},
		{
			name:           "given max interval, then caps growth",
			cfg:            RetryConfig{InitialInterval: time.Second, Multiplier: 3, MaxInterval: 5 * time.Second},
			wantMultiplier: 3,
			wantMax:        5 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, ok := tt.cfg.backOff().(*backoff.ExponentialBackOff)
			require.True(t, ok)
			assert.InDelta(t, tt.wantMultiplier, b.Multiplier, 0.001)
			assert.Equal(t, tt.wantMax, b.MaxInterval)
			assert.Equal(t, time.Second, b.NextBackOff())
		})
	}
}

func TestNoRetryConfig(t *testing.T) {
	cfg := NoRetryConfig()

	assert.Equal(t, uint(0), cfg.MaxRetries)
	assert.Equal(t, time.Duration(0), cfg.InitialInterval)
	assert.Equal(t, time.Duration(0), cfg.MaxInterval)
	assert.Equal(t, time.Duration(0), cfg.MaxElapsedTime)
	assert.InDelta(t, 0.0, cfg.Multiplier, 0.001)
	assert.InDelta(t, 0.0, cfg.JitterFactor, 0.001)
}

func TestRetryConfig_IsEnabled(t *testing.T) {
	tests := []struct {
		name   string
		config RetryConfig
		want   bool
	}{
		{
			name:   "given default config, then returns true",
			config: DefaultRetryConfig(),
			want:   true,
		},
		{
			name:   "given no retry config, then returns false",
			config: NoRetryConfig(),
			want:   false,
		},
		{
			name: "given MaxRetries > 0, then returns true",
			config: RetryConfig{
				MaxRetries: 1,
			},
			want: true,
		},
		{
			name: "given MaxRetries = 0, then returns false",
			config: RetryConfig{
				MaxRetries: 0,
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.config.IsEnabled()
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRetryClassifiers(t *testing.T) {
	var (
		stale    = io.EOF
		reset    = syscall.ECONNRESET
		refused  = &httperr.ConnectError{Addr: "example.com:80", Err: syscall.ECONNREFUSED}
		readTO   = &httperr.TimeoutError{Kind: httperr.TimeoutRead}
		overall  = &httperr.TimeoutError{Kind: httperr.TimeoutOverall}
		nxdomain = &httperr.ConnectError{
			Addr: "nope.invalid:80",
			Err:  &net.DNSError{Err: "no such host", Name: "nope.invalid", IsNotFound: true},
		}
		status = func(code int) *wire.Response { return &wire.Response{StatusCode: code} }
	)

	tests := []struct {
		name       string
		classifier RetryClassifier
		resp       *wire.Response
		err        error
		want       bool
	}{
		{name: "given default and EOF, then retries", classifier: DefaultRetryClassifier, err: stale, want: true},
		{name: "given default and reset, then retries", classifier: DefaultRetryClassifier, err: reset, want: true},
		{name: "given default and connect error, then does not retry", classifier: DefaultRetryClassifier, err: refused},
		{name: "given default and read timeout, then does not retry", classifier: DefaultRetryClassifier, err: readTO},
		{name: "given default and cancellation, then does not retry", classifier: DefaultRetryClassifier, err: context.Canceled},
		{name: "given default and 503, then does not retry", classifier: DefaultRetryClassifier, resp: status(503)},
		{name: "given never and EOF, then does not retry", classifier: NeverRetryClassifier(), err: stale},
		{name: "given status classifier and listed code, then retries", classifier: StatusCodeClassifier(502, 503), resp: status(503), want: true},
		{name: "given status classifier and other code, then does not retry", classifier: StatusCodeClassifier(502, 503), resp: status(500)},
		{name: "given status classifier and EOF, then retries", classifier: StatusCodeClassifier(503), err: stale, want: true},
		{name: "given status classifier and cancellation, then does not retry", classifier: StatusCodeClassifier(503), err: context.Canceled},
		{name: "given network classifier and connect error, then retries", classifier: NetworkClassifier(), err: refused, want: true},
		{name: "given network classifier and read timeout, then retries", classifier: NetworkClassifier(), err: readTO, want: true},
		{name: "given network classifier and overall timeout, then does not retry", classifier: NetworkClassifier(), err: overall},
		{name: "given network classifier and NXDOMAIN, then does not retry", classifier: NetworkClassifier(), err: nxdomain},
		{name: "given network classifier and plain error, then does not retry", classifier: NetworkClassifier(), err: errors.New("boom")},
		{name: "given network classifier and listed code, then retries", classifier: NetworkClassifier(504), resp: status(504), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.classifier(tt.resp, tt.err))
		})
	}
}
