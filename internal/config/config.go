// Package config loads runtime configuration: built-in defaults, then an
// optional YAML file, then SIMWORKS_* environment variables. Command-line
// flags are applied last by the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "SIMWORKS_"

// Supported database drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

type Config struct {
	Database Database `yaml:"database" envPrefix:"DB_"`
	Provider Provider `yaml:"provider" envPrefix:"PROVIDER_"`
	Retry    Retry    `yaml:"retry" envPrefix:"RETRY_"`
	Drain    Drain    `yaml:"drain" envPrefix:"DRAIN_"`
	Notify   Notify   `yaml:"notify" envPrefix:"NOTIFY_"`
	Metrics  Metrics  `yaml:"metrics" envPrefix:"METRICS_"`
	Catalog  Catalog  `yaml:"catalog" envPrefix:"CATALOG_"`
}

type Database struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	DSN    string `yaml:"dsn" env:"DSN"`
}

type Provider struct {
	Name    string        `yaml:"name" env:"NAME"`
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	APIKey  string        `yaml:"api_key" env:"API_KEY"`
	Model   string        `yaml:"model" env:"MODEL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

type Retry struct {
	MaxAttempts     int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	InitialInterval time.Duration `yaml:"initial_interval" env:"INITIAL_INTERVAL"`
	MaxInterval     time.Duration `yaml:"max_interval" env:"MAX_INTERVAL"`
	RetryMalformed  bool          `yaml:"retry_malformed" env:"MALFORMED"`
}

type Drain struct {
	BatchSize   int           `yaml:"batch_size" env:"BATCH_SIZE"`
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	Interval    time.Duration `yaml:"interval" env:"INTERVAL"`
	Lease       time.Duration `yaml:"lease" env:"LEASE"`
	Workers     int           `yaml:"workers" env:"WORKERS"`
}

// Notify selects the notification sinks. Empty addresses disable a sink;
// events are always logged.
type Notify struct {
	RedisAddr    string   `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisChannel string   `yaml:"redis_channel" env:"REDIS_CHANNEL"`
	KafkaBrokers []string `yaml:"kafka_brokers" env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `yaml:"kafka_topic" env:"KAFKA_TOPIC"`
}

type Metrics struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

type Catalog struct {
	Dir string `yaml:"dir" env:"DIR"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: Database{Driver: DriverSQLite, DSN: "simworks.db"},
		Provider: Provider{
			Name:    "openai",
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
			Timeout: 60 * time.Second,
		},
		Retry: Retry{
			MaxAttempts:     3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
			RetryMalformed:  true,
		},
		Drain: Drain{
			BatchSize:   50,
			MaxAttempts: 5,
			Interval:    5 * time.Second,
			Lease:       2 * time.Minute,
			Workers:     1,
		},
		Notify: Notify{
			RedisChannel: "simworks:notifications",
			KafkaTopic:   "simworks.calls",
		},
	}
}

// Load builds the configuration. path may be empty; a named file that does
// not exist is an error. environ, when non-nil, replaces the process
// environment.
func Load(path string, environ map[string]string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations no component can run with.
func (c Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("database.driver %q: must be %s or %s", c.Database.Driver, DriverSQLite, DriverPostgres))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Provider.Name == "" {
		errs = append(errs, errors.New("provider.name is required"))
	}
	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be positive, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.InitialInterval <= 0 || c.Retry.MaxInterval < c.Retry.InitialInterval {
		errs = append(errs, fmt.Errorf("retry intervals: need 0 < initial_interval <= max_interval, got %s and %s", c.Retry.InitialInterval, c.Retry.MaxInterval))
	}
	if c.Drain.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("drain.batch_size must be positive, got %d", c.Drain.BatchSize))
	}
	if c.Drain.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("drain.max_attempts must be positive, got %d", c.Drain.MaxAttempts))
	}
	if c.Drain.Interval <= 0 {
		errs = append(errs, fmt.Errorf("drain.interval must be positive, got %s", c.Drain.Interval))
	}
	if c.Drain.Lease <= 0 {
		errs = append(errs, fmt.Errorf("drain.lease must be positive, got %s", c.Drain.Lease))
	}
	if c.Drain.Workers <= 0 {
		errs = append(errs, fmt.Errorf("drain.workers must be positive, got %d", c.Drain.Workers))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
