package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Waghib/Speech-to-TODO-List/internal/events"
)

func TestObserve(t *testing.T) {
	m := New()
	for _, e := range []events.Event{
		{Kind: events.KindModelCall},
		{Kind: events.KindModelRetry},
		{Kind: events.KindModelRetry},
		{Kind: events.KindModelCall},
		{Kind: events.KindToolDone, Data: map[string]any{"tool": "createTodo", "ok": true}},
		{Kind: events.KindToolDone, Data: map[string]any{"tool": "getAllTodos", "ok": false}},
		{Kind: events.KindTurnComplete, Data: map[string]any{"tokens_in": 30, "tokens_out": 12, "elapsed_ms": int64(1500)}},
		{Kind: events.KindTurnFailed, Data: map[string]any{"reason": "contract_violation", "elapsed_ms": int64(200)}},
		{Kind: events.KindTodoCreated},
		{Kind: events.KindTodoDeleted},
		{Kind: events.KindTodoDeleted},
	} {
		m.Observe(e)
	}

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"model calls", testutil.ToFloat64(m.ModelCallsTotal), 2},
		{"model retries", testutil.ToFloat64(m.ModelRetriesTotal), 2},
		{"create ok", testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("createTodo", "ok")), 1},
		{"list error", testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("getAllTodos", "error")), 1},
		{"turns ok", testutil.ToFloat64(m.TurnsTotal.WithLabelValues("ok")), 1},
		{"turns violated", testutil.ToFloat64(m.TurnsTotal.WithLabelValues("contract_violation")), 1},
		{"tokens in", testutil.ToFloat64(m.TokensTotal.WithLabelValues("input")), 30},
		{"tokens out", testutil.ToFloat64(m.TokensTotal.WithLabelValues("output")), 12},
		{"todos created", testutil.ToFloat64(m.TodoChangesTotal.WithLabelValues("create")), 1},
		{"todos deleted", testutil.ToFloat64(m.TodoChangesTotal.WithLabelValues("delete")), 2},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestMiddleware_LabelsByPattern(t *testing.T) {
	m := New()
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /todos/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(m.Middleware(mux))
	defer srv.Close()

	for _, id := range []string{"1", "2", "3"} {
		req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/todos/"+id, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		resp.Body.Close()
	}

	got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("DELETE", "DELETE /todos/{id}", "204"))
	if got != 3 {
		t.Errorf("requests for pattern = %v, want 3", got)
	}
	if inflight := testutil.ToFloat64(m.HTTPRequestsInFlight); inflight != 0 {
		t.Errorf("in flight = %v, want 0", inflight)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.SetServiceUp("model", true)
	m.SetServiceUp("store", false)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`todoagent_service_up{service="model"} 1`,
		`todoagent_service_up{service="store"} 0`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestRun(t *testing.T) {
	m := New()
	bus := events.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, bus)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for bus.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	bus.Emit(events.SourceStore, events.KindTodoCreated, nil)

	for testutil.ToFloat64(m.TodoChangesTotal.WithLabelValues("create")) != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := testutil.ToFloat64(m.TodoChangesTotal.WithLabelValues("create")); got != 1 {
		t.Errorf("todos created = %v, want 1", got)
	}

	cancel()
	<-done
}
