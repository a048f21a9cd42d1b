package cacheinfra

import (
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/goliatone/go-market-trends/trends"
)

func smallConfig() Config {
	return Config{
		Capacity:           100,
		NumShards:          4,
		Retention:          time.Hour,
		EvictionPercentage: 10,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{"small", func(*Config) {}, ""},
		{"eviction interval", func(c *Config) { c.EvictionInterval = time.Minute }, ""},
		{"no capacity", func(c *Config) { c.Capacity = 0 }, "Capacity"},
		{"no shards", func(c *Config) { c.NumShards = 0 }, "NumShards"},
		{"more shards than entries", func(c *Config) { c.NumShards = 200 }, "NumShards"},
		{"no retention", func(c *Config) { c.Retention = 0 }, "Retention"},
		{"eviction zero", func(c *Config) { c.EvictionPercentage = 0 }, "EvictionPercentage"},
		{"eviction over 100", func(c *Config) { c.EvictionPercentage = 101 }, "EvictionPercentage"},
		{"negative interval", func(c *Config) { c.EvictionInterval = -time.Second }, "EvictionInterval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := smallConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()

			if tt.wantField == "" {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *ConfigError, got %v", err)
			}
			if cfgErr.Field != tt.wantField {
				t.Errorf("expected field %s, got %s", tt.wantField, cfgErr.Field)
			}
		})
	}
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected default config to validate, got %v", err)
	}
	if cfg.Retention != 24*time.Hour {
		t.Errorf("expected a day of retention, got %v", cfg.Retention)
	}
	if got := len(cfg.ToSturdycOptions()); got != 0 {
		t.Errorf("expected no optional settings, got %d", got)
	}

	cfg.EvictionInterval = time.Minute
	if got := len(cfg.ToSturdycOptions()); got != 1 {
		t.Errorf("expected the eviction interval option, got %d", got)
	}
}

func TestConfigError_Error(t *testing.T) {
	err := &ConfigError{Field: "Retention", Message: "must be greater than 0"}
	if got, want := err.Error(), "cache config: Retention must be greater than 0"; got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestNewSturdycBackend_RejectsInvalidConfig(t *testing.T) {
	if _, err := NewSturdycBackend(Config{}); err == nil {
		t.Error("expected error for empty config")
	}
}

func TestSturdycBackend_StoreLoadDelete(t *testing.T) {
	backend, err := NewSturdycBackend(smallConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	toronto := trends.CacheKey("market_trends::location_name=toronto")
	ottawa := trends.CacheKey("market_trends::location_name=ottawa")

	if _, ok := backend.Load(toronto); ok {
		t.Error("expected empty backend")
	}

	entry := &trends.CacheEntry{Key: toronto, Generation: 2}
	backend.Store(toronto, entry)
	backend.Store(ottawa, &trends.CacheEntry{Key: ottawa})

	if got, ok := backend.Load(toronto); !ok || got != entry {
		t.Errorf("expected the stored entry back, got %+v", got)
	}
	if backend.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", backend.Len())
	}

	keys := backend.Keys()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	if len(keys) != 2 || keys[0] != ottawa || keys[1] != toronto {
		t.Errorf("expected [%s %s], got %v", ottawa, toronto, keys)
	}

	backend.Delete(toronto)
	if _, ok := backend.Load(toronto); ok {
		t.Error("expected entry to be deleted")
	}
	if backend.Len() != 1 {
		t.Errorf("expected 1 entry after delete, got %d", backend.Len())
	}
}

func TestSturdycBackend_InvalidatedEntryReplacesPrevious(t *testing.T) {
	backend, err := NewSturdycBackend(smallConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	key := trends.CacheKey("market_trends::location_name=ottawa")
	backend.Store(key, &trends.CacheEntry{Key: key, Generation: 1})
	backend.Store(key, &trends.CacheEntry{Key: key, Generation: 2, Invalidated: true})

	got, ok := backend.Load(key)
	if !ok {
		t.Fatal("expected entry")
	}
	if got.Generation != 2 || !got.Invalidated {
		t.Errorf("expected the invalidated generation 2 entry, got %+v", got)
	}
}
