// Package config loads the payflow process configuration from an optional
// YAML file and PAYFLOW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"payflow/pkg/api"
	"payflow/pkg/logging"
	"payflow/pkg/reconcile"
	"payflow/pkg/writer"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("config: invalid")

// Store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config is the full process configuration.
type Config struct {
	Upstream  UpstreamConfig              `yaml:"upstream"`
	Reconcile reconcile.Config            `yaml:"reconcile"`
	API       api.ServerConfig            `yaml:"api"`
	Store     StoreConfig                 `yaml:"store"`
	Writer    writer.SnapshotWriterConfig `yaml:"writer"`
	Journal   JournalConfig               `yaml:"journal"`
	Logging   logging.Config              `yaml:"logging"`
	Metrics   MetricsConfig               `yaml:"metrics"`
}

// UpstreamConfig locates the payment and payout services.
type UpstreamConfig struct {
	PaymentURL string `yaml:"payment_url"`
	PayoutURL  string `yaml:"payout_url"`

	// Timeout is the HTTP client timeout; per-call budgets come from Reconcile.
	Timeout time.Duration `yaml:"timeout"`

	// BreakerTimeout is how long an open circuit stays open.
	BreakerTimeout time.Duration `yaml:"breaker_timeout"`

	// FeedTimeout bounds one shared payout feed read.
	FeedTimeout time.Duration `yaml:"feed_timeout"`
}

// StoreConfig selects the snapshot store.
type StoreConfig struct {
	Backend        string        `yaml:"backend"`
	RedisAddr      string        `yaml:"redis_addr"`
	RedisKeyPrefix string        `yaml:"redis_key_prefix"`
	PostgresDSN    string        `yaml:"postgres_dsn"`
	RetainStopped  time.Duration `yaml:"retain_stopped"`
}

// JournalConfig locates the idempotency journal. An empty path keeps it in memory.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig configures the Prometheus collector.
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
}

// Default returns the configuration used when nothing is set: the sandbox
// ports on localhost and an in-memory store.
func Default() Config {
	return Config{
		Upstream: UpstreamConfig{
			PaymentURL:     "http://localhost:3001",
			PayoutURL:      "http://localhost:3002",
			Timeout:        5 * time.Second,
			BreakerTimeout: 15 * time.Second,
			FeedTimeout:    5 * time.Second,
		},
		Reconcile: reconcile.DefaultConfig(),
		API:       api.DefaultServerConfig(),
		Store: StoreConfig{
			Backend:        StoreMemory,
			RedisAddr:      "localhost:6379",
			RedisKeyPrefix: "payflow:session:",
			RetainStopped:  24 * time.Hour,
		},
		Writer:  writer.SnapshotWriterConfig{QueueSize: 256, Workers: 2, MaxWaitTime: 10 * time.Millisecond, SaveTimeout: 2 * time.Second},
		Logging: logging.DefaultConfig(),
		Metrics: MetricsConfig{Namespace: "payflow"},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	cfg.Logging = logging.ConfigFromEnv(cfg.Logging)

	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(getenv func(string) string) error {
	strs := map[string]*string{
		"PAYFLOW_PAYMENT_URL":  &c.Upstream.PaymentURL,
		"PAYFLOW_PAYOUT_URL":   &c.Upstream.PayoutURL,
		"PAYFLOW_API_ADDR":     &c.API.Address,
		"PAYFLOW_STORE":        &c.Store.Backend,
		"PAYFLOW_REDIS_ADDR":   &c.Store.RedisAddr,
		"PAYFLOW_POSTGRES_DSN": &c.Store.PostgresDSN,
		"PAYFLOW_JOURNAL_PATH": &c.Journal.Path,
	}
	for name, dst := range strs {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"PAYFLOW_POLL_INTERVAL": &c.Reconcile.PollInterval,
		"PAYFLOW_CALL_TIMEOUT":  &c.Reconcile.CallTimeout,
	}
	for name, dst := range durations {
		if v := getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, name, err)
			}
			*dst = d
		}
	}

	ints := map[string]*int{
		"PAYFLOW_MAX_ATTEMPTS":       &c.Reconcile.MaxAttempts,
		"PAYFLOW_DEGRADED_THRESHOLD": &c.Reconcile.DegradedThreshold,
	}
	for name, dst := range ints {
		if v := getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, name, err)
			}
			*dst = n
		}
	}
	return nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	for name, raw := range map[string]string{
		"upstream.payment_url": c.Upstream.PaymentURL,
		"upstream.payout_url":  c.Upstream.PayoutURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: %s must be an absolute URL, got %q", ErrInvalidConfig, name, raw)
		}
	}

	if err := c.Reconcile.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	switch c.Store.Backend {
	case StoreMemory:
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("%w: store.redis_addr is required for the redis store", ErrInvalidConfig)
		}
	case StorePostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("%w: store.postgres_dsn is required for the postgres store", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store backend %q", ErrInvalidConfig, c.Store.Backend)
	}

	if c.API.Address == "" {
		return fmt.Errorf("%w: api.address is required", ErrInvalidConfig)
	}
	return nil
}
