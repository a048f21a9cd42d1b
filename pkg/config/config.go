// Package config loads the market-trends service configuration from YAML
// with MARKET_TRENDS_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-market-trends/cache"
	"github.com/goliatone/go-market-trends/executor"
	"github.com/goliatone/go-market-trends/internal/listings"
	"github.com/goliatone/go-market-trends/trends"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MARKET_TRENDS_"

// Server configures the HTTP API.
type Server struct {
	Addr            string        `yaml:"addr"`
	RateLimit       float64       `yaml:"rate_limit"`
	Burst           int           `yaml:"burst"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Log configures the zap logger.
type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Orchestrator configures the dimension fan-out.
type Orchestrator struct {
	MaxConcurrency int      `yaml:"max_concurrency"`
	Dimensions     []string `yaml:"dimensions"`
}

// DimensionNames converts the configured dimensions, or returns the defaults
// when none are set.
func (o Orchestrator) DimensionNames() []trends.DimensionName {
	if len(o.Dimensions) == 0 {
		return trends.DefaultDimensions()
	}
	names := make([]trends.DimensionName, len(o.Dimensions))
	for i, d := range o.Dimensions {
		names[i] = trends.DimensionName(d)
	}
	return names
}

// Config is the full service configuration.
type Config struct {
	Server       Server          `yaml:"server"`
	Log          Log             `yaml:"log"`
	Database     listings.Config `yaml:"database"`
	Cache        cache.Config    `yaml:"cache"`
	Retry        executor.Policy `yaml:"retry"`
	Orchestrator Orchestrator    `yaml:"orchestrator"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			RateLimit:       10,
			Burst:           20,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: Log{
			Level: "info",
		},
		Database: listings.DefaultConfig(),
		Cache:    cache.DefaultConfig(),
		Retry:    executor.DefaultPolicy(),
		Orchestrator: Orchestrator{
			MaxConcurrency: len(trends.DefaultDimensions()),
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c.Server,
		validation.Field(&c.Server.Addr, validation.Required),
		validation.Field(&c.Server.RateLimit, validation.Min(0.0)),
		validation.Field(&c.Server.Burst, validation.Min(0)),
	)
	if err != nil {
		return fmt.Errorf("config: server: %w", err)
	}

	err = validation.ValidateStruct(&c.Log,
		validation.Field(&c.Log.Level, validation.In("debug", "info", "warn", "error")),
	)
	if err != nil {
		return fmt.Errorf("config: log: %w", err)
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("config: database: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("config: cache: %w", err)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("config: retry: %w", err)
	}

	known := make([]any, 0, len(trends.DefaultDimensions()))
	for _, d := range trends.DefaultDimensions() {
		known = append(known, string(d))
	}
	err = validation.ValidateStruct(&c.Orchestrator,
		validation.Field(&c.Orchestrator.MaxConcurrency, validation.Min(0)),
		validation.Field(&c.Orchestrator.Dimensions, validation.Each(validation.In(known...))),
	)
	if err != nil {
		return fmt.Errorf("config: orchestrator: %w", err)
	}
	return nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

type envBinding struct {
	name  string
	apply func(value string) error
}

// ApplyEnv overrides fields from environment variables named
// MARKET_TRENDS_<SECTION>_<FIELD>, e.g. MARKET_TRENDS_CACHE_FRESHNESS_WINDOW.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	bindings := []envBinding{
		{"SERVER_ADDR", setString(&c.Server.Addr)},
		{"SERVER_RATE_LIMIT", setFloat(&c.Server.RateLimit)},
		{"SERVER_BURST", setInt(&c.Server.Burst)},
		{"SERVER_SHUTDOWN_TIMEOUT", setDuration(&c.Server.ShutdownTimeout)},
		{"LOG_LEVEL", setString(&c.Log.Level)},
		{"LOG_DEVELOPMENT", setBool(&c.Log.Development)},
		{"DATABASE_DRIVER", setString(&c.Database.Driver)},
		{"DATABASE_DSN", setString(&c.Database.DSN)},
		{"DATABASE_MAX_OPEN_CONNS", setInt(&c.Database.MaxOpenConns)},
		{"CACHE_BACKEND", setString(&c.Cache.Backend)},
		{"CACHE_FRESHNESS_WINDOW", setDuration(&c.Cache.FreshnessWindow)},
		{"CACHE_KEY_PREFIX", setString(&c.Cache.KeyPrefix)},
		{"CACHE_RETENTION", setDuration(&c.Cache.Retention)},
		{"CACHE_CAPACITY", setInt(&c.Cache.Capacity)},
		{"CACHE_NUM_SHARDS", setInt(&c.Cache.NumShards)},
		{"CACHE_EVICTION_PERCENTAGE", setInt(&c.Cache.EvictionPercentage)},
		{"RETRY_MAX_ATTEMPTS", setInt(&c.Retry.MaxAttempts)},
		{"RETRY_BASE_DELAY", setDuration(&c.Retry.BaseDelay)},
		{"RETRY_ATTEMPT_TIMEOUT", setDuration(&c.Retry.AttemptTimeout)},
		{"ORCHESTRATOR_MAX_CONCURRENCY", setInt(&c.Orchestrator.MaxConcurrency)},
		{"ORCHESTRATOR_DIMENSIONS", setList(&c.Orchestrator.Dimensions)},
	}

	for _, b := range bindings {
		value, ok := lookup(EnvPrefix + b.name)
		if !ok {
			continue
		}
		if err := b.apply(strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("config: %s%s: %w", EnvPrefix, b.name, err)
		}
	}
	return nil
}

func setString(dst *string) func(string) error {
	return func(v string) error {
		*dst = v
		return nil
	}
}

func setInt(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func setFloat(dst *float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst = f
		return nil
	}
}

func setBool(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

func setDuration(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

func setList(dst *[]string) func(string) error {
	return func(v string) error {
		var out []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*dst = out
		return nil
	}
}
