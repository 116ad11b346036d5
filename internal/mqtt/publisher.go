package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/Waghib/Speech-to-TODO-List/internal/buildinfo"
	"github.com/Waghib/Speech-to-TODO-List/internal/config"
	"github.com/Waghib/Speech-to-TODO-List/internal/events"
)

// StatsSource supplies live counts for sensor states. main wires it to
// the todo store and the agent loop.
type StatsSource interface {
	TodoCount(ctx context.Context) (int, error)
	ActiveSessions(ctx context.Context) (int, error)
}

// Publisher owns the broker connection and the state publish loop.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	device     DeviceInfo
	tokens     *DailyTokens
	stats      StatsSource
	bus        *events.Bus
	logger     *slog.Logger
	cm         *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect. bus may be nil, in
// which case states are only refreshed on the interval.
func New(cfg config.MQTTConfig, instanceID string, tokens *DailyTokens, stats StatsSource, bus *events.Bus, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		device:     NewDeviceInfo(instanceID, cfg.DeviceName),
		tokens:     tokens,
		stats:      stats,
		bus:        bus,
		logger:     logger,
	}
}

// Start connects to the broker and publishes until ctx is cancelled.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected", "broker", p.cfg.Broker)
			p.publishDiscovery(ctx, cm)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "todoagent-" + p.cfg.DeviceName,
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		p.logger.Warn("mqtt initial connection timed out, retrying in background", "error", err)
	}

	p.runLoop(ctx)
	return nil
}

// Stop publishes "offline" and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

// AwaitConnection blocks until the broker connection is up or ctx ends.
func (p *Publisher) AwaitConnection(ctx context.Context) error {
	if p.cm == nil {
		return fmt.Errorf("mqtt publisher not started")
	}
	return p.cm.AwaitConnection(ctx)
}

func (p *Publisher) baseTopic() string {
	return "todoagent/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) stateTopic(entity string) string {
	return p.baseTopic() + "/" + entity + "/state"
}

func (p *Publisher) discoveryTopic(entity string) string {
	return p.cfg.DiscoveryPrefix + "/sensor/" + p.cfg.DeviceName + "/" + entity + "/config"
}

type sensorDef struct {
	entity string
	config SensorConfig
}

func (p *Publisher) sensor(entity, name, icon string) SensorConfig {
	return SensorConfig{
		Name:              name,
		ObjectID:          entity,
		HasEntityName:     true,
		UniqueID:          p.instanceID + "_" + entity,
		StateTopic:        p.stateTopic(entity),
		AvailabilityTopic: p.availabilityTopic(),
		Device:            p.device,
		Icon:              icon,
	}
}

func (p *Publisher) sensorDefinitions() []sensorDef {
	todos := p.sensor("todo_count", "Open Todos", "mdi:format-list-checks")
	todos.StateClass = "measurement"
	todos.UnitOfMeasurement = "todos"

	sessions := p.sensor("active_sessions", "Active Sessions", "mdi:chat-processing")
	sessions.StateClass = "measurement"

	tokens := p.sensor("tokens_today", "Tokens Today", "mdi:counter")
	tokens.StateClass = "total_increasing"
	tokens.UnitOfMeasurement = "tokens"

	lastTurn := p.sensor("last_turn", "Last Turn", "mdi:clock-check")
	lastTurn.DeviceClass = "timestamp"

	version := p.sensor("version", "Version", "mdi:tag")
	version.EntityCategory = "diagnostic"

	uptime := p.sensor("uptime", "Uptime", "mdi:clock-outline")
	uptime.EntityCategory = "diagnostic"

	return []sensorDef{
		{"todo_count", todos},
		{"active_sessions", sessions},
		{"tokens_today", tokens},
		{"last_turn", lastTurn},
		{"version", version},
		{"uptime", uptime},
	}
}

func (p *Publisher) publishDiscovery(ctx context.Context, cm *autopaho.ConnectionManager) {
	for _, s := range p.sensorDefinitions() {
		topic := p.discoveryTopic(s.entity)
		payload, err := json.Marshal(s.config)
		if err != nil {
			p.logger.Error("mqtt marshal discovery payload", "entity", s.entity, "error", err)
			continue
		}
		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   topic,
			Payload: payload,
			QoS:     1,
			Retain:  true,
		}); err != nil {
			p.logger.Warn("mqtt discovery publish failed", "entity", s.entity, "topic", topic, "error", err)
		}
	}
	p.logger.Debug("mqtt discovery published")
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
	}
}

// runLoop publishes states on the interval and whenever the todo list
// changes. Turn events are folded into the token counters.
func (p *Publisher) runLoop(ctx context.Context) {
	interval := time.Duration(p.cfg.PublishIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var evs <-chan events.Event
	if p.bus != nil {
		ch := p.bus.Subscribe(64)
		defer p.bus.Unsubscribe(ch)
		evs = ch
	}

	p.publishStates(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishStates(ctx)
		case e, ok := <-evs:
			if !ok {
				evs = nil
				continue
			}
			p.tokens.Observe(e)
			if e.Source == events.SourceStore || e.Kind == events.KindTurnComplete {
				p.publishStates(ctx)
			}
		}
	}
}

// states computes the current value of every sensor. Sensors whose
// source fails are omitted.
func (p *Publisher) states(ctx context.Context) map[string]string {
	states := map[string]string{
		"version": buildinfo.Version,
		"uptime":  buildinfo.Uptime().String(),
	}

	if n, err := p.stats.TodoCount(ctx); err == nil {
		states["todo_count"] = strconv.Itoa(n)
	} else {
		p.logger.Debug("mqtt todo count unavailable", "error", err)
	}
	if n, err := p.stats.ActiveSessions(ctx); err == nil {
		states["active_sessions"] = strconv.Itoa(n)
	} else {
		p.logger.Debug("mqtt session count unavailable", "error", err)
	}

	input, output, _ := p.tokens.Snapshot()
	states["tokens_today"] = strconv.FormatInt(input+output, 10)

	if last := p.tokens.LastTurn(); !last.IsZero() {
		states["last_turn"] = last.Format(time.RFC3339)
	} else {
		states["last_turn"] = "unknown"
	}
	return states
}

func (p *Publisher) publishStates(ctx context.Context) {
	if p.cm == nil {
		return
	}
	states := p.states(ctx)
	for entity, value := range states {
		if _, err := p.cm.Publish(ctx, &paho.Publish{
			Topic:   p.stateTopic(entity),
			Payload: []byte(value),
			QoS:     0,
			Retain:  true,
		}); err != nil {
			p.logger.Debug("mqtt state publish failed", "entity", entity, "error", err)
		}
	}
	p.logger.Debug("mqtt sensor states published", "entities", len(states))
}
