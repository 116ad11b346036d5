package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Waghib/Speech-to-TODO-List/internal/buildinfo"
	"github.com/Waghib/Speech-to-TODO-List/internal/config"
)

type fakeStats struct {
	todos    int
	sessions int
	err      error
}

func (f fakeStats) TodoCount(context.Context) (int, error)      { return f.todos, f.err }
func (f fakeStats) ActiveSessions(context.Context) (int, error) { return f.sessions, nil }

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker:             "mqtt://localhost:1883",
		DeviceName:         "kitchen-todo",
		DiscoveryPrefix:    "homeassistant",
		PublishIntervalSec: 60,
	}
}

func TestLoadOrCreateInstanceID(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	first, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID() error = %v", err)
	}
	if parts := strings.Split(first, "-"); len(parts) != 5 {
		t.Errorf("id %q does not look like a UUID", first)
	}

	data, err := os.ReadFile(filepath.Join(dir, "instance_id"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != first {
		t.Errorf("file content = %q, want %q", got, first)
	}

	second, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("second call error = %v", err)
	}
	if second != first {
		t.Errorf("second = %q, want stable %q", second, first)
	}
}

func TestNewDeviceInfo(t *testing.T) {
	info := NewDeviceInfo("instance-abc", "kitchen-todo")
	if info.Name != "kitchen-todo" {
		t.Errorf("Name = %q", info.Name)
	}
	if len(info.Identifiers) != 1 || info.Identifiers[0] != "instance-abc" {
		t.Errorf("Identifiers = %v", info.Identifiers)
	}
	if info.SWVersion != buildinfo.Version {
		t.Errorf("SWVersion = %q, want %q", info.SWVersion, buildinfo.Version)
	}
}

func TestPublisher_TopicPaths(t *testing.T) {
	p := New(testConfig(), "test-id", NewDailyTokens(time.UTC), nil, nil, nil)

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"availability", p.availabilityTopic(), "todoagent/kitchen-todo/availability"},
		{"state", p.stateTopic("todo_count"), "todoagent/kitchen-todo/todo_count/state"},
		{"discovery", p.discoveryTopic("todo_count"), "homeassistant/sensor/kitchen-todo/todo_count/config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestPublisher_SensorDefinitions(t *testing.T) {
	cfg := testConfig()
	p := New(cfg, "instance-123", NewDailyTokens(time.UTC), nil, nil, nil)

	want := []string{"todo_count", "active_sessions", "tokens_today", "last_turn", "version", "uptime"}
	defs := p.sensorDefinitions()
	if len(defs) != len(want) {
		t.Fatalf("got %d sensors, want %d", len(defs), len(want))
	}
	for i, d := range defs {
		if d.entity != want[i] {
			t.Errorf("sensor %d = %q, want %q", i, d.entity, want[i])
		}
		if strings.Contains(d.config.Name, cfg.DeviceName) {
			t.Errorf("sensor %s: Name %q repeats the device name", d.entity, d.config.Name)
		}
		if !d.config.HasEntityName || d.config.ObjectID != d.entity {
			t.Errorf("sensor %s: HasEntityName=%v ObjectID=%q", d.entity, d.config.HasEntityName, d.config.ObjectID)
		}
		if d.config.UniqueID != "instance-123_"+d.entity {
			t.Errorf("sensor %s: UniqueID = %q", d.entity, d.config.UniqueID)
		}
		if d.config.AvailabilityTopic != "todoagent/kitchen-todo/availability" {
			t.Errorf("sensor %s: AvailabilityTopic = %q", d.entity, d.config.AvailabilityTopic)
		}
		if _, err := json.Marshal(d.config); err != nil {
			t.Errorf("sensor %s: marshal: %v", d.entity, err)
		}
	}
}

func TestPublisher_States(t *testing.T) {
	tokens := NewDailyTokens(time.UTC)
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	tokens.Add(120, 30, at)

	p := New(testConfig(), "id", tokens, fakeStats{todos: 4, sessions: 2}, nil, nil)
	got := p.states(context.Background())

	want := map[string]string{
		"todo_count":      "4",
		"active_sessions": "2",
		"tokens_today":    "150",
		"last_turn":       "2026-03-01T09:30:00Z",
		"version":         buildinfo.Version,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("states[%q] = %q, want %q", k, got[k], v)
		}
	}
	if _, ok := got["uptime"]; !ok {
		t.Error("uptime missing from states")
	}
}

func TestPublisher_StatesSkipFailingSource(t *testing.T) {
	p := New(testConfig(), "id", NewDailyTokens(time.UTC), fakeStats{err: errors.New("db closed")}, nil, nil)
	got := p.states(context.Background())

	if _, ok := got["todo_count"]; ok {
		t.Error("todo_count should be omitted when the store fails")
	}
	if got["last_turn"] != "unknown" {
		t.Errorf("last_turn = %q, want unknown before any turn", got["last_turn"])
	}
}

func TestMQTTConfig_Configured(t *testing.T) {
	if (config.MQTTConfig{}).Configured() {
		t.Error("empty config reports configured")
	}
	if !testConfig().Configured() {
		t.Error("config with broker reports unconfigured")
	}
}
