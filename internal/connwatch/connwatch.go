// Package connwatch tracks whether the services todoagent depends on
// (the model provider, the task database, the session cache) are
// reachable, for the /health endpoint and the connectivity gauges.
//
// Each Watcher probes one service in two phases:
//  1. Startup: probes spaced by an exponential backoff
//     (2s, 4s, 8s, ... capped at 60s)
//  2. Background: periodic polling with state-transition callbacks
//
// This complements httpkit's dial retry, which only covers
// sub-second connection races on a single request.
package connwatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Waghib/Speech-to-TODO-List/internal/retry"
)

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// BackoffConfig controls probe timing.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// MaxRetries is the number of startup probes before falling back to
	// background polling.
	MaxRetries int

	PollInterval time.Duration
	ProbeTimeout time.Duration
}

// DefaultBackoffConfig returns 2s, 4s, 8s, 16s, 32s, 60s (capped) with
// 10 startup probes, 60-second polling and a 10-second probe timeout.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   10,
		PollInterval: 60 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
}

// withDefaults fills zero fields from [DefaultBackoffConfig].
func (b BackoffConfig) withDefaults() BackoffConfig {
	d := DefaultBackoffConfig()
	if b.InitialDelay <= 0 {
		b.InitialDelay = d.InitialDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = d.MaxDelay
	}
	if b.Multiplier <= 0 {
		b.Multiplier = d.Multiplier
	}
	if b.MaxRetries <= 0 {
		b.MaxRetries = d.MaxRetries
	}
	if b.PollInterval <= 0 {
		b.PollInterval = d.PollInterval
	}
	if b.ProbeTimeout <= 0 {
		b.ProbeTimeout = d.ProbeTimeout
	}
	return b
}

// startupDelays is the wait before each startup probe after the first.
func (b BackoffConfig) startupDelays() []time.Duration {
	return retry.Backoff(b.InitialDelay, b.Multiplier, b.MaxDelay, b.MaxRetries-1)
}

// WatcherConfig configures a single service watcher.
type WatcherConfig struct {
	// Name identifies the service in logs and status output
	// (e.g. "model", "store", "sessions").
	Name    string
	Probe   ProbeFunc
	Backoff BackoffConfig

	// OnReady and OnDown run in their own goroutine on state
	// transitions. Both are optional.
	OnReady func()
	OnDown  func(err error)

	Logger *slog.Logger
}

// ServiceStatus is the health of one service as reported by /health.
type ServiceStatus struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher monitors a single service.
type Watcher struct {
	config WatcherConfig
	ready  atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	lastErr   error
	lastCheck time.Time
}

// IsReady reports whether the last probe succeeded.
func (w *Watcher) IsReady() bool {
	return w.ready.Load()
}

// LastError returns the most recent probe error, or nil.
func (w *Watcher) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Status returns the current health status.
func (w *Watcher) Status() ServiceStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := ServiceStatus{
		Name:      w.config.Name,
		Ready:     w.ready.Load(),
		LastCheck: w.lastCheck,
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Stop cancels the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	cfg := w.config.Backoff
	logger := w.config.Logger

	attempts, err := retry.Do(ctx, retry.Policy{
		Delays: cfg.startupDelays(),
		OnRetry: func(attempt int, delay time.Duration, err error) {
			logger.Debug("startup probe failed, retrying",
				"service", w.config.Name,
				"attempt", attempt,
				"next_delay", delay,
				"error", err,
			)
		},
	}, func(ctx context.Context, attempt int) (int, error) {
		return attempt, w.check(ctx)
	})
	switch {
	case err == nil:
		logger.Debug("startup probe succeeded", "service", w.config.Name, "attempts", attempts)
		w.transition(nil)
	case ctx.Err() != nil:
		return
	default:
		logger.Warn("service unreachable at startup, polling in background",
			"service", w.config.Name,
			"attempts", cfg.MaxRetries,
			"error", err,
		)
	}

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.transition(w.check(ctx))
		}
	}
}

// check runs the probe with a timeout and records the result.
func (w *Watcher) check(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.config.Backoff.ProbeTimeout)
	defer cancel()
	err := w.config.Probe(probeCtx)

	w.mu.Lock()
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()
	return err
}

// transition updates readiness from a probe result and fires callbacks
// when the state changes.
func (w *Watcher) transition(err error) {
	logger := w.config.Logger
	wasReady := w.ready.Load()
	switch {
	case err == nil && !wasReady:
		w.ready.Store(true)
		logger.Info("service ready", "service", w.config.Name)
		if w.config.OnReady != nil {
			go w.config.OnReady()
		}
	case err != nil && wasReady:
		w.ready.Store(false)
		logger.Warn("service became unreachable", "service", w.config.Name, "error", err)
		if w.config.OnDown != nil {
			go w.config.OnDown(err)
		}
	case err != nil:
		logger.Debug("service still unreachable", "service", w.config.Name, "error", err)
	}
}

// Manager coordinates the service watchers.
type Manager struct {
	mu       sync.RWMutex
	watchers map[string]*Watcher
	logger   *slog.Logger
}

// NewManager creates a connection watch manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		watchers: make(map[string]*Watcher),
		logger:   logger,
	}
}

// Watch registers and starts a watcher that runs until ctx is cancelled
// or [Manager.Stop] is called. Zero backoff fields take defaults.
//
// Panics if Name is empty or Probe is nil.
func (m *Manager) Watch(ctx context.Context, cfg WatcherConfig) *Watcher {
	if cfg.Name == "" {
		panic("connwatch: WatcherConfig.Name must not be empty")
	}
	if cfg.Probe == nil {
		panic("connwatch: WatcherConfig.Probe must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = m.logger
	}
	cfg.Backoff = cfg.Backoff.withDefaults()

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		config: cfg,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go w.run(watchCtx)

	m.mu.Lock()
	m.watchers[cfg.Name] = w
	m.mu.Unlock()
	return w
}

// Status returns every watched service, sorted by name.
func (m *Manager) Status() []ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ServiceStatus, 0, len(m.watchers))
	for _, w := range m.watchers {
		out = append(out, w.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Healthy reports whether every watched service is ready. A nil
// manager is healthy.
func (m *Manager) Healthy() bool {
	if m == nil {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, w := range m.watchers {
		if !w.IsReady() {
			return false
		}
	}
	return true
}

// Stop shuts down all watchers and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.RLock()
	watchers := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.mu.RUnlock()

	for _, w := range watchers {
		w.Stop()
	}
}
