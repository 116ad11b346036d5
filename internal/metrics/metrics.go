// Package metrics exports Prometheus metrics for the HTTP surface, the
// agent loop and the task store. Agent and store metrics are derived
// from the event bus so producers stay unaware of Prometheus.
package metrics

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Waghib/Speech-to-TODO-List/internal/events"
)

// Namespace prefixes every metric name.
const Namespace = "todoagent"

// Metrics holds every collector. Each instance owns its registry, so
// tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	TurnsTotal   *prometheus.CounterVec
	TurnDuration *prometheus.HistogramVec

	ModelCallsTotal   prometheus.Counter
	ModelRetriesTotal prometheus.Counter
	TokensTotal       *prometheus.CounterVec

	ToolCallsTotal *prometheus.CounterVec

	TodoChangesTotal *prometheus.CounterVec

	WSConnectionsActive prometheus.Gauge

	ServiceUp *prometheus.GaugeVec
}

// New creates the collectors on a fresh registry that also carries the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		TurnsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "turns_total",
				Help:      "Completed agent turns by outcome",
			},
			[]string{"outcome"},
		),
		TurnDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "turn_duration_seconds",
				Help:      "Agent turn duration in seconds",
				Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60, 90},
			},
			[]string{"outcome"},
		),
		ModelCallsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "model_calls_total",
				Help:      "Model exchanges started",
			},
		),
		ModelRetriesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "model_retries_total",
				Help:      "Model attempts retried after transient overload",
			},
		),
		TokensTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "model_tokens_total",
				Help:      "Model tokens by direction",
			},
			[]string{"direction"},
		),
		ToolCallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "tool_calls_total",
				Help:      "Tool dispatches by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		TodoChangesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "todo_changes_total",
				Help:      "Todos created or deleted",
			},
			[]string{"op"},
		),
		WSConnectionsActive: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "websocket_connections_active",
				Help:      "Active /v1/events WebSocket connections",
			},
		),
		ServiceUp: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "service_up",
				Help:      "Whether a dependency answered its last health probe",
			},
			[]string{"service"},
		),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request count, duration and concurrency. Paths
// are labelled by their mux pattern to bound cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Hijack passes through so /v1/events can upgrade to a WebSocket.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer %T does not support hijacking", rw.ResponseWriter)
	}
	return h.Hijack()
}

// SetServiceUp records a dependency's health.
func (m *Metrics) SetServiceUp(service string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	m.ServiceUp.WithLabelValues(service).Set(v)
}

// Observe folds one bus event into the counters.
func (m *Metrics) Observe(e events.Event) {
	switch e.Kind {
	case events.KindModelCall:
		m.ModelCallsTotal.Inc()
	case events.KindModelRetry:
		m.ModelRetriesTotal.Inc()
	case events.KindToolDone:
		outcome := "error"
		if ok, _ := e.Data["ok"].(bool); ok {
			outcome = "ok"
		}
		tool, _ := e.Data["tool"].(string)
		m.ToolCallsTotal.WithLabelValues(tool, outcome).Inc()
	case events.KindTurnComplete:
		m.TurnsTotal.WithLabelValues("ok").Inc()
		m.TurnDuration.WithLabelValues("ok").Observe(millis(e.Data["elapsed_ms"]).Seconds())
		m.TokensTotal.WithLabelValues("input").Add(number(e.Data["tokens_in"]))
		m.TokensTotal.WithLabelValues("output").Add(number(e.Data["tokens_out"]))
	case events.KindTurnFailed:
		reason, _ := e.Data["reason"].(string)
		if reason == "" {
			reason = "unknown"
		}
		m.TurnsTotal.WithLabelValues(reason).Inc()
		m.TurnDuration.WithLabelValues(reason).Observe(millis(e.Data["elapsed_ms"]).Seconds())
	case events.KindTodoCreated:
		m.TodoChangesTotal.WithLabelValues("create").Inc()
	case events.KindTodoDeleted:
		m.TodoChangesTotal.WithLabelValues("delete").Inc()
	}
}

// Run consumes bus events until ctx is cancelled.
func (m *Metrics) Run(ctx context.Context, bus *events.Bus) {
	ch := bus.Subscribe(256)
	defer bus.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			m.Observe(e)
		}
	}
}

func number(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}

func millis(v any) time.Duration {
	return time.Duration(number(v) * float64(time.Millisecond))
}
