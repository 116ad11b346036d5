// Package config handles todoagent configuration loading.
//
// Configuration comes from three layers, later layers winning:
// built-in defaults, an optional YAML file (with ${VAR} expansion), and
// a small set of environment variables. A .env file in the working
// directory is loaded into the process environment first, so
// deployments that only set GEMINI_API_KEY in .env need no YAML at all.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPort is the HTTP port used when neither the config file nor
// PORT specifies one.
const DefaultPort = 3000

// Model providers understood by [Config.Validate].
const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Memory backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/todoagent/config.yaml, /etc/todoagent/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "todoagent", "config.yaml"))
	}

	paths = append(paths, "/etc/todoagent/config.yaml")
	return paths
}

// ErrNoConfig is returned by [FindConfig] when no explicit path was given
// and none of the search paths exist. Callers may fall back to [Default].
var ErrNoConfig = errors.New("no config file found")

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNoConfig, DefaultSearchPaths())
}

// Config holds all todoagent configuration.
type Config struct {
	Listen    ListenConfig `yaml:"listen"`
	Model     ModelConfig  `yaml:"model"`
	Retry     RetryConfig  `yaml:"retry"`
	Agent     AgentConfig  `yaml:"agent"`
	Store     StoreConfig  `yaml:"store"`
	Memory    MemoryConfig `yaml:"memory"`
	MQTT      MQTTConfig   `yaml:"mqtt"`
	DataDir   string       `yaml:"data_dir"`
	LogLevel  string       `yaml:"log_level"`
	LogFormat string       `yaml:"log_format"` // text or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
	// CORSOrigins lists origins allowed to call the API from a browser.
	// Empty means any origin.
	CORSOrigins []string `yaml:"cors_origins"`
}

// ModelConfig selects the language model that interprets requests.
type ModelConfig struct {
	Provider string `yaml:"provider"` // gemini, anthropic, ollama, openai
	Name     string `yaml:"name"`
	APIKey   string `yaml:"api_key"`
	// BaseURL overrides the provider endpoint. Required for ollama
	// when not on localhost; optional elsewhere.
	BaseURL string `yaml:"base_url"`
}

// RetryConfig bounds how long a transiently overloaded model is retried.
// With the defaults a request is attempted four times, waiting 1s, 2s
// and 4s between attempts.
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// AgentConfig tunes a single conversational turn.
type AgentConfig struct {
	// TurnTimeout caps one user turn end to end, model retries included.
	TurnTimeout time.Duration `yaml:"turn_timeout"`
}

// StoreConfig selects where todos are persisted.
type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	// Path is the SQLite database file. Relative paths resolve against
	// DataDir.
	Path string `yaml:"path"`
	// DSN is the Postgres connection string.
	DSN string `yaml:"dsn"`
}

// MemoryConfig controls per-session conversation history.
type MemoryConfig struct {
	Backend     string        `yaml:"backend"`      // memory or redis
	TTL         time.Duration `yaml:"ttl"`          // idle sessions are evicted after this
	MaxMessages int           `yaml:"max_messages"` // system prompt excluded from trimming
	// RollbackFailedTurns discards the turns a failed request appended.
	// Off by default: a malformed model reply stays in the history.
	RollbackFailedTurns bool   `yaml:"rollback_failed_turns"`
	RedisURL            string `yaml:"redis_url"`
}

// MQTTConfig configures Home Assistant discovery publishing. Publishing
// is disabled unless Broker is set.
type MQTTConfig struct {
	Broker             string `yaml:"broker"` // e.g. mqtt://homeassistant.local:1883
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	DeviceName         string `yaml:"device_name"`
	DiscoveryPrefix    string `yaml:"discovery_prefix"`
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
}

// Configured reports whether an MQTT broker was provided.
func (m MQTTConfig) Configured() bool { return m.Broker != "" }

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: DefaultPort},
		Model: ModelConfig{
			Provider: ProviderGemini,
			Name:     "gemini-1.5-flash",
		},
		Retry: RetryConfig{
			MaxRetries:   3,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2,
		},
		Agent: AgentConfig{TurnTimeout: 90 * time.Second},
		Store: StoreConfig{
			Driver: DriverSQLite,
			Path:   "todos.db",
		},
		Memory: MemoryConfig{
			Backend:     BackendMemory,
			TTL:         24 * time.Hour,
			MaxMessages: 200,
		},
		MQTT: MQTTConfig{
			DeviceName:         "todoagent",
			DiscoveryPrefix:    "homeassistant",
			PublishIntervalSec: 60,
		},
		DataDir:   "./data",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads configuration from a YAML file layered over [Default], then
// applies environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		// Expand environment variables
		expanded := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=value pairs from the given files (default ".env")
// into the process environment. Variables already set are left alone and
// missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overlays environment variables onto cfg. getenv is usually
// [os.Getenv]; tests pass a map lookup.
//
//   - GEMINI_API_KEY, gemini_api_key or MODEL_API_KEY set model.api_key
//   - PORT sets listen.port
//   - DATABASE_URL switches the store to postgres
//   - REDIS_URL switches session memory to redis
//   - LOG_LEVEL sets log_level
func (c *Config) ApplyEnv(getenv func(string) string) error {
	for _, k := range []string{"MODEL_API_KEY", "GEMINI_API_KEY", "gemini_api_key"} {
		if v := getenv(k); v != "" {
			c.Model.APIKey = v
			break
		}
	}
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("PORT %q: %w", v, err)
		}
		c.Listen.Port = port
	}
	if v := getenv("DATABASE_URL"); v != "" {
		c.Store.Driver = DriverPostgres
		c.Store.DSN = v
	}
	if v := getenv("REDIS_URL"); v != "" {
		c.Memory.Backend = BackendRedis
		c.Memory.RedisURL = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return nil
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.Listen.Port <= 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}

	switch c.Model.Provider {
	case ProviderGemini, ProviderAnthropic, ProviderOpenAI:
		if c.Model.APIKey == "" && c.Model.BaseURL == "" {
			return fmt.Errorf("model.api_key is required for provider %q (set GEMINI_API_KEY or model.api_key)", c.Model.Provider)
		}
	case ProviderOllama:
	default:
		return fmt.Errorf("unknown model.provider %q (valid: gemini, anthropic, ollama, openai)", c.Model.Provider)
	}
	if c.Model.Name == "" {
		return errors.New("model.name is required")
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries %d must not be negative", c.Retry.MaxRetries)
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier %g must be at least 1", c.Retry.Multiplier)
	}

	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			return errors.New("store.path is required for sqlite")
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			return errors.New("store.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unknown store.driver %q (valid: sqlite, postgres)", c.Store.Driver)
	}

	switch c.Memory.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Memory.RedisURL == "" {
			return errors.New("memory.redis_url is required for redis")
		}
	default:
		return fmt.Errorf("unknown memory.backend %q (valid: memory, redis)", c.Memory.Backend)
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat)
	}
	return nil
}

// StorePath resolves the SQLite path against DataDir.
func (c *Config) StorePath() string {
	if c.Store.Path == ":memory:" || filepath.IsAbs(c.Store.Path) {
		return c.Store.Path
	}
	return filepath.Join(c.DataDir, c.Store.Path)
}
