// Package cacheinfra backs the market trends cache store with sturdyc.
package cacheinfra

import (
	"time"

	"github.com/viccon/sturdyc"

	"github.com/goliatone/go-market-trends/trends"
)

// Config sizes the sturdyc client.
type Config struct {
	Capacity  int
	NumShards int
	// Retention bounds how long sturdyc keeps an entry. It must outlive the
	// freshness window so expired records stay available as fallbacks.
	Retention          time.Duration
	EvictionPercentage int
	// EvictionInterval overrides sturdyc's expiry sweep. Zero keeps its default.
	EvictionInterval time.Duration
}

// DefaultConfig holds ten thousand records for a day across 256 shards.
func DefaultConfig() Config {
	return Config{
		Capacity:           10000,
		NumShards:          256,
		Retention:          24 * time.Hour,
		EvictionPercentage: 10,
	}
}

// ToSturdycOptions returns the optional sturdyc settings. Sizing and
// retention are positional arguments of sturdyc.New.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option
	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}
	return options
}

// Validate returns a *ConfigError for the first field out of range.
func (c Config) Validate() error {
	checks := []struct {
		ok      bool
		field   string
		message string
	}{
		{c.Capacity > 0, "Capacity", "must be greater than 0"},
		{c.NumShards > 0, "NumShards", "must be greater than 0"},
		{c.NumShards <= c.Capacity, "NumShards", "must not exceed Capacity"},
		{c.Retention > 0, "Retention", "must be greater than 0"},
		{c.EvictionPercentage >= 1 && c.EvictionPercentage <= 100, "EvictionPercentage", "must be between 1 and 100"},
		{c.EvictionInterval >= 0, "EvictionInterval", "must be non-negative"},
	}
	for _, check := range checks {
		if !check.ok {
			return &ConfigError{Field: check.field, Message: check.message}
		}
	}
	return nil
}

// ConfigError names the cache setting that failed validation.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "cache config: " + e.Field + " " + e.Message
}

// SturdycBackend keeps cache entries in a sharded sturdyc client. The store
// decides freshness; sturdyc only bounds memory and retention.
type SturdycBackend struct {
	client *sturdyc.Client[*trends.CacheEntry]
}

// NewSturdycBackend validates cfg and creates the client.
func NewSturdycBackend(cfg Config) (*SturdycBackend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[*trends.CacheEntry](
		cfg.Capacity,
		cfg.NumShards,
		cfg.Retention,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)
	return &SturdycBackend{client: client}, nil
}

// Load returns the entry stored under key.
func (b *SturdycBackend) Load(key trends.CacheKey) (*trends.CacheEntry, bool) {
	entry, ok := b.client.Get(string(key))
	if !ok || entry == nil {
		return nil, false
	}
	return entry, true
}

// Store replaces the entry stored under key.
func (b *SturdycBackend) Store(key trends.CacheKey, entry *trends.CacheEntry) {
	b.client.Set(string(key), entry)
}

// Delete removes key.
func (b *SturdycBackend) Delete(key trends.CacheKey) {
	b.client.Delete(string(key))
}

// Keys lists every retained key.
func (b *SturdycBackend) Keys() []trends.CacheKey {
	raw := b.client.ScanKeys()
	keys := make([]trends.CacheKey, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, trends.CacheKey(k))
	}
	return keys
}

// Len returns the number of retained entries.
func (b *SturdycBackend) Len() int {
	return b.client.Size()
}
