// Package cache stores aggregated market-trends records keyed by CacheKey.
//
// # Overview
//
// Store wraps a Backend with a freshness window (five minutes by default).
// An entry is fresh while its record is younger than the window and the entry
// has not been invalidated. Stale entries stay readable through Get so callers
// can show the last good record next to an error, but Fresh and IsFresh never
// report them as servable.
//
// Two backends are available:
//
//   - memory: an unbounded xsync map, the default and the one tests use
//   - sturdyc: a sharded, capacity bounded sturdyc client whose retention TTL
//     must exceed the freshness window
//
// # Generations
//
// Invalidate bumps a per-key generation. A fetch captures the generation when
// it starts and commits with PutIfCurrent; if the key was invalidated in the
// meantime the commit is rejected. This keeps an older fetch from overwriting
// the result of a forced refresh.
//
//	store, err := cache.New(cache.DefaultConfig())
//	gen := store.Generation(key)
//	record := fetch(ctx)
//	store.PutIfCurrent(key, record, gen)
//
// # Configuration
//
// Config mirrors the sturdyc options (capacity, shards, eviction) and adds the
// backend name, freshness window and retention. Validation errors are
// returned as *ConfigError.
package cache
