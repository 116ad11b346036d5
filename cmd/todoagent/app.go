package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Waghib/Speech-to-TODO-List/internal/agent"
	"github.com/Waghib/Speech-to-TODO-List/internal/config"
	"github.com/Waghib/Speech-to-TODO-List/internal/events"
	"github.com/Waghib/Speech-to-TODO-List/internal/llm"
	"github.com/Waghib/Speech-to-TODO-List/internal/memory"
	"github.com/Waghib/Speech-to-TODO-List/internal/retry"
	"github.com/Waghib/Speech-to-TODO-List/internal/todo"
	"github.com/Waghib/Speech-to-TODO-List/internal/tools"
)

// app is the component graph shared by serve, chat and ask.
type app struct {
	store   *todo.SQLStore
	todos   todo.Store
	memory  memory.Store
	redis   *memory.RedisStore // nil unless memory.backend is redis
	gateway *agent.Gateway
	loop    *agent.Loop

	closers []func() error
}

// buildApp opens the store and session memory and assembles the agent
// loop. A nil bus disables event publishing. The returned app must be
// closed.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, bus *events.Bus) (*app, error) {
	a := &app{}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	a.todos = todo.NewNotifyingStore(store, bus)

	switch cfg.Memory.Backend {
	case config.BackendRedis:
		rs, err := memory.NewRedisStore(ctx, cfg.Memory.RedisURL, cfg.Memory.TTL, cfg.Memory.MaxMessages)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open session memory: %w", err)
		}
		a.redis = rs
		a.memory = rs
		a.closers = append(a.closers, rs.Close)
		logger.Info("session memory on redis", "ttl", cfg.Memory.TTL)
	default:
		ms := memory.NewMemStore(cfg.Memory.TTL, cfg.Memory.MaxMessages, logger.With("component", "memory"))
		go ms.Run(ctx)
		a.memory = ms
	}

	client, err := llm.New(cfg.Model, logger.With("component", "llm"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.gateway = agent.NewGateway(client, cfg.Model.Name, retryDelays(cfg.Retry), logger.With("component", "gateway"))

	a.loop = agent.NewLoop(logger.With("component", "agent"), a.gateway, tools.NewRegistry(a.todos), a.memory, agent.Config{
		TurnTimeout:         cfg.Agent.TurnTimeout,
		RollbackFailedTurns: cfg.Memory.RollbackFailedTurns,
	})
	a.loop.SetEventBus(bus)

	logger.Info("agent ready",
		"provider", cfg.Model.Provider,
		"model", cfg.Model.Name,
		"max_retries", cfg.Retry.MaxRetries,
	)
	return a, nil
}

// Close releases everything buildApp opened, newest first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// openStore opens the configured todo database.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*todo.SQLStore, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		s, err := todo.OpenPostgres(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("open todo store: %w", err)
		}
		logger.Info("todo store opened", "driver", config.DriverPostgres)
		return s, nil
	default:
		path := cfg.StorePath()
		if path != ":memory:" {
			if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
				return nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
			}
		}
		s, err := todo.OpenSQLite(path)
		if err != nil {
			return nil, fmt.Errorf("open todo store %s: %w", path, err)
		}
		logger.Info("todo store opened", "driver", config.DriverSQLite, "path", path)
		return s, nil
	}
}

// retryDelays expands the retry settings into the gateway's wait list.
// The defaults give 1s, 2s, 4s.
func retryDelays(rc config.RetryConfig) []time.Duration {
	delays := retry.Backoff(rc.InitialDelay, rc.Multiplier, rc.MaxDelay, rc.MaxRetries)
	if delays == nil {
		// Non-nil so the gateway does not substitute its own defaults.
		delays = []time.Duration{}
	}
	return delays
}
