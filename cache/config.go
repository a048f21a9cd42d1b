package cache

import (
	"time"

	"github.com/goliatone/go-market-trends/internal/cacheinfra"
)

// Backend names accepted in Config.Backend.
const (
	BackendMemory  = "memory"
	BackendSturdyc = "sturdyc"
)

// DefaultFreshnessWindow is how long a record is served without refetching.
const DefaultFreshnessWindow = 5 * time.Minute

// ConfigError reports an invalid configuration field.
type ConfigError = cacheinfra.ConfigError

// Config exposes cache configuration options for consumers of the cache package.
type Config struct {
	Backend            string        `yaml:"backend"`
	FreshnessWindow    time.Duration `yaml:"freshness_window"`
	KeyPrefix          string        `yaml:"key_prefix"`
	Retention          time.Duration `yaml:"retention"`
	Capacity           int           `yaml:"capacity"`
	NumShards          int           `yaml:"num_shards"`
	EvictionPercentage int           `yaml:"eviction_percentage"`
	EvictionInterval   time.Duration `yaml:"eviction_interval"`
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	cfg := convertFromInternal(cacheinfra.DefaultConfig())
	cfg.Backend = BackendMemory
	cfg.FreshnessWindow = DefaultFreshnessWindow
	return cfg
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	if c.FreshnessWindow <= 0 {
		return &ConfigError{Field: "FreshnessWindow", Message: "must be greater than 0"}
	}

	switch c.Backend {
	case BackendMemory:
		return nil
	case BackendSturdyc:
	default:
		return &ConfigError{Field: "Backend", Message: "must be one of memory, sturdyc"}
	}

	if c.Retention <= c.FreshnessWindow {
		return &ConfigError{Field: "Retention", Message: "must be longer than FreshnessWindow"}
	}
	return c.toInternal().Validate()
}

// NewBackend constructs the backend named by cfg.Backend.
func NewBackend(cfg Config) (Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Backend == BackendSturdyc {
		return cacheinfra.NewSturdycBackend(cfg.toInternal())
	}
	return NewMemoryBackend(), nil
}

// New builds a Store from cfg.
func New(cfg Config, opts ...StoreOption) (*Store, error) {
	backend, err := NewBackend(cfg)
	if err != nil {
		return nil, err
	}
	opts = append([]StoreOption{WithRetention(cfg.Retention)}, opts...)
	return NewStore(backend, cfg.FreshnessWindow, opts...), nil
}

func (c Config) toInternal() cacheinfra.Config {
	return cacheinfra.Config{
		Capacity:           c.Capacity,
		NumShards:          c.NumShards,
		Retention:          c.Retention,
		EvictionPercentage: c.EvictionPercentage,
		EvictionInterval:   c.EvictionInterval,
	}
}

func convertFromInternal(cfg cacheinfra.Config) Config {
	return Config{
		Retention:          cfg.Retention,
		Capacity:           cfg.Capacity,
		NumShards:          cfg.NumShards,
		EvictionPercentage: cfg.EvictionPercentage,
		EvictionInterval:   cfg.EvictionInterval,
	}
}
