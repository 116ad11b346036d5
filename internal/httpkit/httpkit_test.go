package httpkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestNewClient_Timeouts(t *testing.T) {
	if c := NewClient(); c.Timeout != 2*time.Minute {
		t.Errorf("default timeout = %v, want 2m", c.Timeout)
	}
	if c := NewClient(WithTimeout(5 * time.Second)); c.Timeout != 5*time.Second {
		t.Errorf("custom timeout = %v, want 5s", c.Timeout)
	}
}

func TestNewClient_UserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("User-Agent")))
	}))
	defer srv.Close()

	tests := []struct {
		name   string
		opts   []ClientOption
		header string
		want   string
	}{
		{"default", nil, "", "todoagent/"},
		{"override", []ClientOption{WithUserAgent("TestBot/1.0")}, "", "TestBot/1.0"},
		{"caller header kept", nil, "Custom/2.0", "Custom/2.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("GET", srv.URL, nil)
			if tt.header != "" {
				req.Header.Set("User-Agent", tt.header)
			}
			resp, err := NewClient(tt.opts...).Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if !strings.HasPrefix(string(body), tt.want) {
				t.Errorf("User-Agent = %q, want prefix %q", body, tt.want)
			}
		})
	}
}

func TestNewTransport_HasTimeouts(t *testing.T) {
	tr := NewTransport()
	if tr.TLSHandshakeTimeout != DefaultTLSHandshakeTimeout {
		t.Errorf("TLSHandshakeTimeout = %v", tr.TLSHandshakeTimeout)
	}
	if tr.ResponseHeaderTimeout != DefaultResponseHeader {
		t.Errorf("ResponseHeaderTimeout = %v", tr.ResponseHeaderTimeout)
	}
	if tr.MaxIdleConnsPerHost != DefaultMaxIdleConnsPerHost {
		t.Errorf("MaxIdleConnsPerHost = %d", tr.MaxIdleConnsPerHost)
	}
}

func TestReadErrorBody(t *testing.T) {
	if got := ReadErrorBody(io.NopCloser(strings.NewReader("overloaded")), 100); got != "overloaded" {
		t.Errorf("got %q", got)
	}
	if got := ReadErrorBody(io.NopCloser(strings.NewReader("abcdefghij")), 4); got != "abcd" {
		t.Errorf("truncated = %q, want abcd", got)
	}
	if got := ReadErrorBody(nil, 10); got != "" {
		t.Errorf("nil body = %q, want empty", got)
	}
}

type failingRoundTripper struct {
	failures int
	calls    int
	err      error
	bodies   []string
}

func (f *failingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	f.calls++
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		f.bodies = append(f.bodies, string(b))
	}
	if f.calls <= f.failures {
		if f.err != nil {
			return nil, f.err
		}
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
	}
	return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader("ok"))}, nil
}

func TestDialRetryTransport(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		err       error
		wantErr   bool
		wantCalls int
	}{
		{"succeeds after retry", 1, nil, false, 2},
		{"no retry on success", 0, nil, false, 1},
		{"exhausts retries", 10, nil, true, 3},
		{"non-dial error not retried", 10, errors.New("tls: bad certificate"), true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := &failingRoundTripper{failures: tt.failures, err: tt.err}
			rt := &dialRetryTransport{base: ft, delays: []time.Duration{time.Millisecond, time.Millisecond}}

			req, _ := http.NewRequest("GET", "http://example.com", nil)
			resp, err := rt.RoundTrip(req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				resp.Body.Close()
			}
			if ft.calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", ft.calls, tt.wantCalls)
			}
		})
	}
}

func TestDialRetryTransport_RewindsBody(t *testing.T) {
	ft := &failingRoundTripper{failures: 1}
	rt := &dialRetryTransport{base: ft, delays: []time.Duration{time.Millisecond}}

	req, _ := http.NewRequest("POST", "http://example.com", strings.NewReader(`{"a":1}`))
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	resp.Body.Close()

	if len(ft.bodies) != 2 || ft.bodies[0] != `{"a":1}` || ft.bodies[1] != `{"a":1}` {
		t.Errorf("bodies = %q, want the payload twice", ft.bodies)
	}
}

func TestDialRetryTransport_ContextCancelled(t *testing.T) {
	ft := &failingRoundTripper{failures: 10}
	rt := &dialRetryTransport{base: ft, delays: []time.Duration{time.Hour}}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", "http://example.com", nil)

	_, err := rt.RoundTrip(req)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestIsDialError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{syscall.EHOSTUNREACH, true},
		{&net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ENETUNREACH)}, true},
		{fmt.Errorf("wrapped: %w", syscall.ECONNREFUSED), true},
		{syscall.ECONNRESET, false},
		{errors.New("boom"), false},
	}
	for _, tt := range tests {
		if got := isDialError(tt.err); got != tt.want {
			t.Errorf("isDialError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
