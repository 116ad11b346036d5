// Package api implements the todoagent HTTP API: the todo list, the
// chat endpoint that drives the agent, and the operational endpoints
// (health, version, metrics, event stream).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/Waghib/Speech-to-TODO-List/internal/agent"
	"github.com/Waghib/Speech-to-TODO-List/internal/buildinfo"
	"github.com/Waghib/Speech-to-TODO-List/internal/connwatch"
	"github.com/Waghib/Speech-to-TODO-List/internal/events"
	"github.com/Waghib/Speech-to-TODO-List/internal/metrics"
	"github.com/Waghib/Speech-to-TODO-List/internal/todo"
	"github.com/Waghib/Speech-to-TODO-List/internal/usage"
	"github.com/Waghib/Speech-to-TODO-List/internal/web"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 64 << 10

// SessionHeader names the session when the body does not.
const SessionHeader = "X-Session-ID"

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	loop    *agent.Loop
	todos   todo.Store
	health  *connwatch.Manager
	metrics *metrics.Metrics
	usage   *usage.Store
	bus     *events.Bus
	origins []string
	logger  *slog.Logger
	server  *http.Server

	closing   chan struct{}
	closeOnce sync.Once
}

// NewServer creates a new API server.
func NewServer(address string, port int, loop *agent.Loop, todos todo.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		loop:    loop,
		todos:   todos,
		logger:  logger,
		closing: make(chan struct{}),
	}
}

// SetUsage enables GET /v1/usage.
func (s *Server) SetUsage(u *usage.Store) { s.usage = u }

// SetHealth configures the dependency watchers reported by /health.
func (s *Server) SetHealth(m *connwatch.Manager) { s.health = m }

// SetMetrics enables /metrics and the HTTP metrics middleware.
func (s *Server) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// SetEventBus enables the /v1/events stream.
func (s *Server) SetEventBus(bus *events.Bus) { s.bus = bus }

// SetCORSOrigins restricts browser origins. Empty allows any origin.
func (s *Server) SetCORSOrigins(origins []string) { s.origins = origins }

// Handler builds the routed, middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /todos", s.handleListTodos)
	mux.HandleFunc("DELETE /todos/{id}", s.handleDeleteTodo)
	mux.HandleFunc("POST /chat", s.handleChat)

	mux.HandleFunc("POST /v1/sessions/{id}/reset", s.handleSessionReset)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	if s.usage != nil {
		mux.HandleFunc("GET /v1/usage", s.handleUsage)
	}

	web.RegisterRoutes(mux)

	var h http.Handler = mux
	if s.metrics != nil {
		h = s.metrics.Middleware(h)
	}
	return s.withCORS(s.withLogging(h))
}

// Start serves HTTP until [Server.Shutdown] is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second, // a turn may spend ~10s in model retries alone
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server and closes event streams.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) allowOrigin(origin string) bool {
	return len(s.origins) == 0 || slices.Contains(s.origins, origin)
}

// withCORS answers preflight requests and tags responses for browsers.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.allowOrigin(origin) {
			h := w.Header()
			if len(s.origins) == 0 {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, "+SessionHeader)
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Details string `json:"details,omitempty"`
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, body ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, body, s.logger)
}

func (s *Server) handleListTodos(w http.ResponseWriter, r *http.Request) {
	todos, err := s.todos.List(r.Context())
	if err != nil {
		s.logger.Error("list todos failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, ErrorResponse{Error: "Database error", Message: err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, todos, s.logger)
}

func (s *Server) handleDeleteTodo(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, ErrorResponse{Error: "invalid todo id", Message: r.PathValue("id")})
		return
	}
	if err := s.todos.Delete(r.Context(), id); err != nil {
		s.logger.Error("delete todo failed", "id", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, ErrorResponse{Error: "Database error", Message: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatResponse is the body of a successful POST /chat.
type ChatResponse struct {
	Reply     string `json:"reply"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Message: err.Error()})
		return
	}
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, ErrorResponse{Error: "message is required"})
		return
	}

	session := req.SessionID
	if session == "" {
		session = r.Header.Get(SessionHeader)
	}

	res, err := s.loop.Process(r.Context(), session, req.Message)
	if err != nil {
		code, body := chatError(err)
		s.logger.Error("chat turn failed", "session", session, "status", code, "error", err)
		s.errorResponse(w, code, body)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ChatResponse{Reply: res.Reply, SessionID: res.SessionID}, s.logger)
}

// chatError maps a failed turn to a status and body.
func chatError(err error) (int, ErrorResponse) {
	var cv *agent.ContractViolation
	var se *todo.StoreError
	switch {
	case errors.As(err, &cv):
		return http.StatusInternalServerError, ErrorResponse{
			Error:   "Invalid response format from AI",
			Details: cv.Reason,
		}
	case errors.Is(err, agent.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, ErrorResponse{
			Error:   "AI service temporarily unavailable",
			Message: "Please try again in a few moments",
		}
	case errors.As(err, &se):
		return http.StatusInternalServerError, ErrorResponse{Error: "Database error", Message: se.Error()}
	case errors.Is(err, agent.ErrModel):
		return http.StatusInternalServerError, ErrorResponse{Error: "AI service error", Message: err.Error()}
	case errors.Is(err, context.Canceled):
		return http.StatusInternalServerError, ErrorResponse{Error: "Request cancelled"}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "Internal error", Message: err.Error()}
	}
}

func (s *Server) handleSessionReset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.loop.Reset(r.Context(), id); err != nil {
		s.logger.Error("session reset failed", "session", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, ErrorResponse{Error: "reset failed", Message: err.Error()})
		return
	}
	s.logger.Info("session reset via API", "session", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string                    `json:"status"`
	Version  string                    `json:"version"`
	Services []connwatch.ServiceStatus `json:"services"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "healthy",
		Version:  buildinfo.Version,
		Services: []connwatch.ServiceStatus{},
	}
	if s.health != nil {
		resp.Services = s.health.Status()
	}

	code := http.StatusOK
	if !s.health.Healthy() {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, resp, s.logger)
}

// UsageResponse is the body of GET /v1/usage.
type UsageResponse struct {
	Start     time.Time                 `json:"start"`
	End       time.Time                 `json:"end"`
	Total     *usage.Summary            `json:"total"`
	ByOutcome map[string]*usage.Summary `json:"by_outcome"`
}

// handleUsage reports turn usage over ?period= (a Go duration,
// default 24h) ending now.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	period := 24 * time.Hour
	if v := r.URL.Query().Get("period"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			s.errorResponse(w, http.StatusBadRequest, ErrorResponse{Error: "invalid period", Message: v})
			return
		}
		period = d
	}

	end := time.Now()
	start := end.Add(-period)
	total, err := s.usage.Summary(r.Context(), start, end)
	if err != nil {
		s.logger.Error("usage summary failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, ErrorResponse{Error: "Database error", Message: err.Error()})
		return
	}
	byOutcome, err := s.usage.SummaryByOutcome(r.Context(), start, end)
	if err != nil {
		s.logger.Error("usage summary failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, ErrorResponse{Error: "Database error", Message: err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, UsageResponse{Start: start, End: end, Total: total, ByOutcome: byOutcome}, s.logger)
}
