// Package config loads the settings for the pools, transactions, logging and
// observability of a dbcore.DB. Values come from defaults, then an optional
// YAML file, then DBCORE_* environment variables, each overriding the last.
//
// Environment variables:
//
//	DBCORE_LOG_LEVEL, DBCORE_LOG_FORMAT
//	DBCORE_RETRY_MAX_RETRIES, DBCORE_RETRY_BASE_DELAY, DBCORE_RETRY_MAX_DELAY
//	DBCORE_TX_TIMEOUT, DBCORE_TX_ISOLATION, DBCORE_TX_DEFAULT_POOL
//	DBCORE_QUERY_SLOW_THRESHOLD, DBCORE_QUERY_CIRCUIT_THRESHOLD, DBCORE_QUERY_CIRCUIT_RESET, DBCORE_QUERY_TRACING
//	DBCORE_EVENTS_BUFFER_SIZE, DBCORE_EVENTS_REDIS_ADDR, DBCORE_EVENTS_REDIS_STREAM
//	DBCORE_METRICS_NAMESPACE
//	DBCORE_DB_POOL selects the pool the DBCORE_DB_* variables apply to ("default"):
//	DBCORE_DB_DRIVER, DBCORE_DB_HOST, DBCORE_DB_PORT, DBCORE_DB_USER, DBCORE_DB_PASSWORD,
//	DBCORE_DB_DATABASE, DBCORE_DB_PARAMS (k:v,k:v), DBCORE_DB_DSN, DBCORE_DB_MIN, DBCORE_DB_MAX,
//	DBCORE_DB_IDLE_TIMEOUT, DBCORE_DB_ACQUIRE_TIMEOUT, DBCORE_DB_HEALTH_CHECK_INTERVAL
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/Aeglx/WeDrawOS-sub006/pool"
	"github.com/Aeglx/WeDrawOS-sub006/retry"
)

// EnvPrefix prefixes every environment variable Load reads.
const EnvPrefix = "DBCORE"

// DefaultPoolID is the pool DBCORE_DB_* variables configure unless DBCORE_DB_POOL says otherwise.
const DefaultPoolID = "default"

// Config holds everything needed to open a dbcore.DB.
type Config struct {
	Log         LogConfig            `yaml:"log"`
	Retry       retry.Policy         `yaml:"retry"`
	Transaction TransactionConfig    `yaml:"transaction"`
	Query       QueryConfig          `yaml:"query"`
	Events      EventsConfig         `yaml:"events"`
	Metrics     MetricsConfig        `yaml:"metrics"`
	Pools       map[string]PoolEntry `yaml:"pools"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is one of silent, error, warn, info, debug.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// TransactionConfig holds transaction manager defaults.
type TransactionConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	// Isolation is empty for the database default, or e.g. "read_committed".
	Isolation string `yaml:"isolation"`
	// DefaultPool is used when a transaction names no pool.
	DefaultPool string `yaml:"default_pool" split_words:"true"`
}

// QueryConfig configures the ExecuteQuery middleware chain.
type QueryConfig struct {
	// SlowThreshold enables slow statement logging when positive.
	SlowThreshold time.Duration `yaml:"slow_threshold" split_words:"true"`
	// CircuitThreshold enables a per-pool circuit breaker when positive.
	CircuitThreshold int           `yaml:"circuit_threshold" split_words:"true"`
	CircuitReset     time.Duration `yaml:"circuit_reset" split_words:"true"`
	// Tracing wraps statements in OpenTelemetry spans from the global provider.
	Tracing bool `yaml:"tracing"`
}

// EventsConfig configures the event bus and its optional Redis sink.
type EventsConfig struct {
	BufferSize  int    `yaml:"buffer_size" split_words:"true"`
	RedisAddr   string `yaml:"redis_addr" split_words:"true"`
	RedisStream string `yaml:"redis_stream" split_words:"true"`
}

// MetricsConfig enables Prometheus metrics when Namespace is set.
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
}

// PoolEntry is one named pool: its connection target and sizing. Fields
// missing from YAML take pool.DefaultConfig values.
type PoolEntry struct {
	pool.Config `yaml:",inline"`
}

func (e *PoolEntry) UnmarshalYAML(node *yaml.Node) error {
	type plain PoolEntry
	p := plain{Config: pool.DefaultConfig()}
	if err := node.Decode(&p); err != nil {
		return err
	}
	*e = PoolEntry(p)
	return nil
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Log:         LogConfig{Level: "info", Format: "text"},
		Retry:       retry.DefaultPolicy(),
		Transaction: TransactionConfig{Timeout: 30 * time.Second},
		Query:       QueryConfig{CircuitReset: 30 * time.Second},
		Events:      EventsConfig{BufferSize: 1024, RedisStream: "dbcore:events"},
		Pools:       make(map[string]PoolEntry),
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML onto cfg; keys absent from data keep their current values.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Pools == nil {
		cfg.Pools = make(map[string]PoolEntry)
	}
	return nil
}

// ApplyEnv overrides cfg with the DBCORE_* variables that are set.
func ApplyEnv(cfg *Config) error {
	sections := []struct {
		name   string
		prefix string
		target any
	}{
		{"log", EnvPrefix + "_LOG", &cfg.Log},
		{"retry", EnvPrefix + "_RETRY", &cfg.Retry},
		{"transaction", EnvPrefix + "_TX", &cfg.Transaction},
		{"query", EnvPrefix + "_QUERY", &cfg.Query},
		{"events", EnvPrefix + "_EVENTS", &cfg.Events},
		{"metrics", EnvPrefix + "_METRICS", &cfg.Metrics},
	}
	for _, s := range sections {
		if err := envconfig.Process(s.prefix, s.target); err != nil {
			return fmt.Errorf("failed to load %s config: %w", s.name, err)
		}
	}
	return applyPoolEnv(cfg)
}

func applyPoolEnv(cfg *Config) error {
	id := os.Getenv(EnvPrefix + "_DB_POOL")
	if id == "" {
		id = DefaultPoolID
	}
	entry, exists := cfg.Pools[id]
	if !exists {
		entry = PoolEntry{Config: pool.DefaultConfig()}
	}

	prefix := EnvPrefix + "_DB"
	if err := envconfig.Process(prefix, &entry.Config); err != nil {
		return fmt.Errorf("failed to load pool %q config: %w", id, err)
	}
	if err := envconfig.Process(prefix, &entry.Conn); err != nil {
		return fmt.Errorf("failed to load pool %q connection: %w", id, err)
	}
	if exists || entry.Conn.Driver != "" {
		cfg.Pools[id] = entry
	}
	return nil
}

// ErrNoPools is returned by Validate when no pool is configured.
var ErrNoPools = errors.New("no pools configured")
