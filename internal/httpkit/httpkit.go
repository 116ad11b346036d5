// Package httpkit builds the http.Client used for every outbound call to
// a model provider, so timeouts, pooling and the User-Agent header are
// the same everywhere.
package httpkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/Waghib/Speech-to-TODO-List/internal/buildinfo"
	"github.com/Waghib/Speech-to-TODO-List/internal/retry"
)

// Transport defaults.
const (
	DefaultDialTimeout         = 10 * time.Second
	DefaultKeepAlive           = 30 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second
	// DefaultResponseHeader is generous because hosted models may think
	// for a while before the first header byte.
	DefaultResponseHeader      = 60 * time.Second
	DefaultIdleConnTimeout     = 90 * time.Second
	DefaultMaxIdleConns        = 20
	DefaultMaxIdleConnsPerHost = 5
)

// ClientOption configures a Client built by NewClient.
type ClientOption func(*clientConfig)

type clientConfig struct {
	timeout     time.Duration
	userAgent   string
	transport   *http.Transport
	dialRetries int
	dialDelay   time.Duration
	logger      *slog.Logger
}

// WithTimeout sets the overall request timeout. Zero disables it.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.timeout = d }
}

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *clientConfig) { c.userAgent = ua }
}

// WithTransport overrides the default transport.
func WithTransport(t *http.Transport) ClientOption {
	return func(c *clientConfig) { c.transport = t }
}

// WithDialRetry retries requests that failed before reaching the server
// (connection refused, host or network unreachable). Requests with a
// body are only retried when it can be rewound.
func WithDialRetry(count int, delay time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.dialRetries = count
		c.dialDelay = delay
	}
}

// WithLogger sets a logger for retry diagnostics.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *clientConfig) { c.logger = l }
}

// NewTransport creates an http.Transport with explicit dial, TLS and
// header timeouts and bounded idle pools.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   DefaultDialTimeout,
			KeepAlive: DefaultKeepAlive,
		}).DialContext,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeader,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		MaxIdleConns:          DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		ForceAttemptHTTP2:     true,
	}
}

// NewClient builds an *http.Client with the shared defaults.
func NewClient(opts ...ClientOption) *http.Client {
	cfg := &clientConfig{
		timeout:   2 * time.Minute,
		userAgent: buildinfo.UserAgent(),
	}
	for _, o := range opts {
		o(cfg)
	}

	t := cfg.transport
	if t == nil {
		t = NewTransport()
	}

	var rt http.RoundTripper = &userAgentTransport{base: t, ua: cfg.userAgent}
	if cfg.dialRetries > 0 {
		rt = &dialRetryTransport{
			base:   rt,
			delays: retry.Backoff(cfg.dialDelay, 1, 0, cfg.dialRetries),
			logger: cfg.logger,
		}
	}

	return &http.Client{
		Timeout:   cfg.timeout,
		Transport: rt,
	}
}

type userAgentTransport struct {
	base http.RoundTripper
	ua   string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.ua)
	}
	return t.base.RoundTrip(req)
}

type dialRetryTransport struct {
	base   http.RoundTripper
	delays []time.Duration
	logger *slog.Logger
}

func (t *dialRetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rewindable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
	if !rewindable {
		return t.base.RoundTrip(req)
	}

	policy := retry.Policy{
		Delays:    t.delays,
		Retryable: isDialError,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			if t.logger != nil {
				t.logger.Debug("retrying request after dial error",
					"method", req.Method,
					"url", req.URL.Redacted(),
					"attempt", attempt,
					"error", err,
				)
			}
		},
	}
	resp, err := retry.Do(req.Context(), policy, func(ctx context.Context, attempt int) (*http.Response, error) {
		r := req
		if attempt > 1 {
			r = req.Clone(ctx)
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("rewind body: %w", err)
				}
				r.Body = body
			}
		}
		return t.base.RoundTrip(r)
	})
	var ex *retry.ExhaustedError
	if errors.As(err, &ex) {
		return nil, ex.Last
	}
	return resp, err
}

// isDialError reports connection failures that happen before any byte
// reaches the server. ECONNRESET is excluded since the request may
// already have been processed.
func isDialError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EHOSTUNREACH, syscall.ENETUNREACH, syscall.ECONNREFUSED:
			return true
		}
	}
	return false
}

// DrainAndClose reads up to limit bytes from rc and closes it so the
// connection returns to the pool.
func DrainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	rc.Close()
}

// ReadErrorBody reads up to limit bytes of an error response body, then
// drains and closes the remainder.
func ReadErrorBody(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	DrainAndClose(rc, 1024)
	if err != nil {
		return fmt.Sprintf("(failed to read error body: %v)", err)
	}
	return string(body)
}
