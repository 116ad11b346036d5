package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/Waghib/Speech-to-TODO-List/internal/agent"
	"github.com/Waghib/Speech-to-TODO-List/internal/api"
	"github.com/Waghib/Speech-to-TODO-List/internal/buildinfo"
	"github.com/Waghib/Speech-to-TODO-List/internal/config"
	"github.com/Waghib/Speech-to-TODO-List/internal/connwatch"
	"github.com/Waghib/Speech-to-TODO-List/internal/events"
	"github.com/Waghib/Speech-to-TODO-List/internal/metrics"
	"github.com/Waghib/Speech-to-TODO-List/internal/mqtt"
	"github.com/Waghib/Speech-to-TODO-List/internal/todo"
	"github.com/Waghib/Speech-to-TODO-List/internal/usage"
)

// runServe is the primary operating mode: it wires the store, session
// memory, model gateway and agent loop behind the HTTP API, and blocks
// until SIGINT or SIGTERM.
//
// Shutdown order:
//  1. the signal cancels ctx
//  2. MQTT publishes "offline"
//  3. the HTTP server drains in-flight turns
//  4. stores close via defers
func runServe(ctx context.Context, stdout, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting todoagent", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Validate already rejected unknown levels.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger = newLogger(stdout, level, cfg.LogFormat)

	if cfgPath == "" {
		cfgPath = "(none, defaults and environment)"
	}
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"provider", cfg.Model.Provider,
		"model", cfg.Model.Name,
		"store", cfg.Store.Driver,
		"memory", cfg.Memory.Backend,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bus := events.New()

	a, err := buildApp(ctx, cfg, logger, bus)
	if err != nil {
		return err
	}
	defer a.Close()

	m := metrics.New()
	go m.Run(ctx, bus)

	// Turn ledger, stored alongside the todos.
	ledger, err := usage.NewStore(a.store.DB(), a.store.Dialect().Name)
	if err != nil {
		return fmt.Errorf("open usage ledger: %w", err)
	}
	go usage.NewRecorder(ledger, cfg.Model.Name, cfg.Model.Provider, logger.With("component", "usage")).Run(ctx, bus)

	// --- Connection health ---
	// Probes run in the background with backoff; /health and the
	// service_up gauge reflect the latest result.
	connMgr := connwatch.NewManager(logger)
	defer connMgr.Stop()

	watch := func(name string, probe connwatch.ProbeFunc) {
		connMgr.Watch(ctx, connwatch.WatcherConfig{
			Name:    name,
			Probe:   probe,
			Backoff: connwatch.DefaultBackoffConfig(),
			OnReady: func() { m.SetServiceUp(name, true) },
			OnDown:  func(error) { m.SetServiceUp(name, false) },
			Logger:  logger,
		})
	}
	watch("model", a.gateway.Ping)
	watch("store", a.store.Ping)
	if a.redis != nil {
		watch("sessions", a.redis.Ping)
	}

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, a.loop, a.todos, logger.With("component", "api"))
	server.SetHealth(connMgr)
	server.SetMetrics(m)
	server.SetUsage(ledger)
	server.SetEventBus(bus)
	server.SetCORSOrigins(cfg.Listen.CORSOrigins)

	// --- MQTT publisher ---
	// Optional: Home Assistant discovery plus periodic sensor states.
	var mqttPub *mqtt.Publisher
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("load mqtt instance id: %w", err)
		}
		logger.Info("mqtt instance ID loaded", "instance_id", instanceID)

		tokens := mqtt.NewDailyTokens(time.Local)
		mqttPub = mqtt.New(cfg.MQTT, instanceID, tokens, &mqttStatsAdapter{todos: a.todos, loop: a.loop}, bus, logger.With("component", "mqtt"))
		go func() {
			if err := mqttPub.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()

		connMgr.Watch(ctx, connwatch.WatcherConfig{
			Name: "mqtt",
			Probe: func(pCtx context.Context) error {
				awaitCtx, awaitCancel := context.WithTimeout(pCtx, 2*time.Second)
				defer awaitCancel()
				return mqttPub.AwaitConnection(awaitCtx)
			},
			Backoff: connwatch.DefaultBackoffConfig(),
			OnReady: func() { m.SetServiceUp("mqtt", true) },
			OnDown:  func(error) { m.SetServiceUp("mqtt", false) },
			Logger:  logger,
		})

		logger.Info("mqtt publishing enabled",
			"broker", cfg.MQTT.Broker,
			"device_name", cfg.MQTT.DeviceName,
			"interval", cfg.MQTT.PublishIntervalSec,
		)
	} else {
		logger.Info("mqtt publishing disabled (not configured)")
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if mqttPub != nil {
			if err := mqttPub.Stop(shutdownCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	err = server.Start(ctx)
	cancel()
	<-shutdownDone
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("todoagent stopped")
	return nil
}

// mqttStatsAdapter exposes store and session counts to the MQTT
// publisher's [mqtt.StatsSource] interface.
type mqttStatsAdapter struct {
	todos todo.Store
	loop  *agent.Loop
}

func (a *mqttStatsAdapter) TodoCount(ctx context.Context) (int, error) {
	todos, err := a.todos.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(todos), nil
}

func (a *mqttStatsAdapter) ActiveSessions(ctx context.Context) (int, error) {
	return a.loop.ActiveSessions(ctx)
}
