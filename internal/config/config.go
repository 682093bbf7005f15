// Package config loads the service configuration from YAML, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"binary-referral/internal/domain"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration.
type Config struct {
	Service   string          `yaml:"service"`
	Env       string          `yaml:"env"`
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Queue     QueueConfig     `yaml:"queue"`
	Placement PlacementConfig `yaml:"placement"`
	Bonus     BonusConfig     `yaml:"bonus"`
	Log       LogConfig       `yaml:"log"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr            string   `yaml:"addr"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig configures the Postgres pool and transaction retries.
type DatabaseConfig struct {
	DSN           string   `yaml:"dsn"`
	MaxConns      int32    `yaml:"max_conns"`
	MigrateOnBoot bool     `yaml:"migrate_on_boot"`
	TxMaxAttempts int      `yaml:"tx_max_attempts"`
	TxBaseDelay   Duration `yaml:"tx_base_delay"`
}

// QueueConfig configures the worker pool.
type QueueConfig struct {
	Concurrency    int      `yaml:"concurrency"`
	PollInterval   Duration `yaml:"poll_interval"`
	Lease          Duration `yaml:"lease"`
	MaxAttempts    int      `yaml:"max_attempts"`
	RetryBaseDelay Duration `yaml:"retry_base_delay"`
	DepthInterval  Duration `yaml:"depth_interval"`
}

// PlacementConfig bounds the placement search.
type PlacementConfig struct {
	MaxLevels   int `yaml:"max_levels"`
	MaxAttempts int `yaml:"max_attempts"`
}

// BonusConfig configures purchase processing and maturation.
type BonusConfig struct {
	MaxAncestorDepth   int      `yaml:"max_ancestor_depth"`
	DirectStatus       string   `yaml:"direct_status"`
	HoldPeriod         Duration `yaml:"hold_period"`
	MaturationInterval Duration `yaml:"maturation_interval"`
	MaturationBatch    int      `yaml:"maturation_batch"`
}

// LogConfig configures structured logging. An empty File logs to stdout.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Environment overrides.
const (
	EnvPostgresDSN = "POSTGRES_DSN"
	EnvHTTPAddr    = "HTTP_ADDR"
	EnvLogLevel    = "LOG_LEVEL"
	EnvName        = "APP_ENV"
)

// Load reads configuration from path. An empty path uses defaults only.
// A .env file in the working directory is loaded first when present, and
// environment variables override file values.
func Load(path string) (Config, error) {
	// Ignore the error: .env is optional.
	_ = godotenv.Load()

	cfg := Config{}
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvPostgresDSN)); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvHTTPAddr)); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvName)); v != "" {
		cfg.Env = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Service == "" {
		cfg.Service = "binary-referral"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.ReadTimeout.Duration == 0 {
		cfg.HTTP.ReadTimeout.Duration = 10 * time.Second
	}
	if cfg.HTTP.WriteTimeout.Duration == 0 {
		cfg.HTTP.WriteTimeout.Duration = 10 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout.Duration == 0 {
		cfg.HTTP.ShutdownTimeout.Duration = 15 * time.Second
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 16
	}
	if cfg.Database.TxMaxAttempts <= 0 {
		cfg.Database.TxMaxAttempts = 10
	}
	if cfg.Database.TxBaseDelay.Duration == 0 {
		cfg.Database.TxBaseDelay.Duration = 10 * time.Millisecond
	}
	if cfg.Queue.Concurrency <= 0 {
		cfg.Queue.Concurrency = 4
	}
	if cfg.Queue.PollInterval.Duration == 0 {
		cfg.Queue.PollInterval.Duration = 500 * time.Millisecond
	}
	if cfg.Queue.Lease.Duration == 0 {
		cfg.Queue.Lease.Duration = 30 * time.Second
	}
	if cfg.Queue.MaxAttempts <= 0 {
		cfg.Queue.MaxAttempts = 5
	}
	if cfg.Queue.RetryBaseDelay.Duration == 0 {
		cfg.Queue.RetryBaseDelay.Duration = time.Second
	}
	if cfg.Queue.DepthInterval.Duration == 0 {
		cfg.Queue.DepthInterval.Duration = 15 * time.Second
	}
	if cfg.Placement.MaxLevels <= 0 {
		cfg.Placement.MaxLevels = 64
	}
	if cfg.Placement.MaxAttempts <= 0 {
		cfg.Placement.MaxAttempts = 8
	}
	if cfg.Bonus.MaxAncestorDepth <= 0 {
		cfg.Bonus.MaxAncestorDepth = 32
	}
	if cfg.Bonus.DirectStatus == "" {
		cfg.Bonus.DirectStatus = string(domain.BonusStatusReleased)
	}
	if cfg.Bonus.MaturationInterval.Duration == 0 {
		cfg.Bonus.MaturationInterval.Duration = time.Minute
	}
	if cfg.Bonus.MaturationBatch <= 0 {
		cfg.Bonus.MaturationBatch = 100
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Log.MaxBackups <= 0 {
		cfg.Log.MaxBackups = 5
	}
}

func validateConfig(cfg Config) error {
	status := domain.BonusStatus(strings.ToUpper(cfg.Bonus.DirectStatus))
	if !status.Valid() {
		return fmt.Errorf("bonus.direct_status must be PENDING or RELEASED, got %q", cfg.Bonus.DirectStatus)
	}
	if cfg.Bonus.HoldPeriod.Duration < 0 {
		return fmt.Errorf("bonus.hold_period must not be negative")
	}
	if cfg.Queue.Lease.Duration < time.Second {
		return fmt.Errorf("queue.lease must be at least 1s")
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", cfg.Log.Level)
	}
	return nil
}

// DirectStatus returns the configured initial status of DIRECT bonuses.
func (c Config) DirectStatus() domain.BonusStatus {
	return domain.BonusStatus(strings.ToUpper(c.Bonus.DirectStatus))
}
