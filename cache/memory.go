package cache

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/goliatone/go-market-trends/trends"
)

// MemoryBackend keeps entries in an unbounded concurrent map. It is the
// default backend and gives every Store its own isolated state.
type MemoryBackend struct {
	entries *xsync.MapOf[trends.CacheKey, *trends.CacheEntry]
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: xsync.NewMapOf[trends.CacheKey, *trends.CacheEntry]()}
}

func (b *MemoryBackend) Load(key trends.CacheKey) (*trends.CacheEntry, bool) {
	return b.entries.Load(key)
}

func (b *MemoryBackend) Store(key trends.CacheKey, entry *trends.CacheEntry) {
	b.entries.Store(key, entry)
}

func (b *MemoryBackend) Delete(key trends.CacheKey) {
	b.entries.Delete(key)
}

func (b *MemoryBackend) Keys() []trends.CacheKey {
	keys := make([]trends.CacheKey, 0, b.entries.Size())
	b.entries.Range(func(key trends.CacheKey, _ *trends.CacheEntry) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

func (b *MemoryBackend) Len() int {
	return b.entries.Size()
}
