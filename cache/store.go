package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"github.com/goliatone/go-market-trends/pkg/logging"
	"github.com/goliatone/go-market-trends/trends"
)

// Backend holds cache entries. Implementations must be safe for concurrent
// use. Entries are treated as immutable: the store always replaces them.
type Backend interface {
	Load(key trends.CacheKey) (*trends.CacheEntry, bool)
	Store(key trends.CacheKey, entry *trends.CacheEntry)
	Delete(key trends.CacheKey)
	Keys() []trends.CacheKey
	Len() int
}

// Store is the TTL cache of aggregated records. It never refreshes on its own;
// callers decide whether an entry is fresh enough with IsFresh.
//
// Every key has a generation that Invalidate bumps. Writers that started
// before an invalidation commit through PutIfCurrent and are rejected, so an
// older result can never replace a newer one.
type Store struct {
	backend     Backend
	window      time.Duration
	retention   time.Duration
	clock       trends.Clock
	logger      *zap.SugaredLogger
	generations *xsync.MapOf[trends.CacheKey, uint64]

	// mu orders writes against invalidations for the generation check.
	mu sync.Mutex
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock sets the clock used to stamp entries and judge freshness.
func WithClock(c trends.Clock) StoreOption {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithRetention sets how long an entry is kept after it was fetched, fresh or
// stale. Retention shorter than the freshness window is raised to it.
func WithRetention(d time.Duration) StoreOption {
	return func(s *Store) {
		s.retention = d
	}
}

// WithLogger sets the store logger.
func WithLogger(l *zap.SugaredLogger) StoreOption {
	return func(s *Store) {
		s.logger = logging.OrNop(l)
	}
}

// NewStore wraps backend with a freshness window. A non-positive window uses
// DefaultFreshnessWindow.
func NewStore(backend Backend, window time.Duration, opts ...StoreOption) *Store {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	if window <= 0 {
		window = DefaultFreshnessWindow
	}
	s := &Store{
		backend:     backend,
		window:      window,
		clock:       trends.SystemClock(),
		logger:      logging.Nop(),
		generations: xsync.NewMapOf[trends.CacheKey, uint64](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Window returns the freshness window.
func (s *Store) Window() time.Duration {
	return s.window
}

// Now returns the store clock's current time.
func (s *Store) Now() time.Time {
	return s.clock.Now()
}

// Get returns the entry for key whether fresh or not. The entry is shared and
// must not be modified.
func (s *Store) Get(key trends.CacheKey) (*trends.CacheEntry, bool) {
	return s.backend.Load(key)
}

// Fresh returns the entry for key only when it is fresh right now.
func (s *Store) Fresh(key trends.CacheKey) (*trends.CacheEntry, bool) {
	entry, ok := s.backend.Load(key)
	if !ok || !s.IsFresh(entry, s.clock.Now()) {
		return nil, false
	}
	return entry, true
}

// IsFresh reports whether entry can be served without refetching at now.
func (s *Store) IsFresh(entry *trends.CacheEntry, now time.Time) bool {
	if entry == nil || entry.Record == nil || entry.Invalidated {
		return false
	}
	return now.Sub(entry.Record.FetchedAt) < s.window
}

// Put stores record under key at the key's current generation.
func (s *Store) Put(key trends.CacheKey, record *trends.AggregatedRecord) *trends.CacheEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(key, record, s.Generation(key))
}

// PutIfCurrent stores record only if key is still at generation gen. It
// reports whether the record was committed.
func (s *Store) PutIfCurrent(key trends.CacheKey, record *trends.AggregatedRecord, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current := s.Generation(key); current != gen {
		s.logger.Debugw("dropping result from superseded generation",
			"key", key.Short(),
			"generation", gen,
			"current", current,
		)
		return false
	}
	s.put(key, record, gen)
	return true
}

func (s *Store) put(key trends.CacheKey, record *trends.AggregatedRecord, gen uint64) *trends.CacheEntry {
	fetchedAt := record.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = s.clock.Now()
	}
	entry := &trends.CacheEntry{
		Key:        key,
		Record:     record,
		ExpiresAt:  fetchedAt.Add(s.window),
		Generation: gen,
	}
	s.backend.Store(key, entry)
	return entry
}

// Invalidate makes key stale and bumps its generation. The record is kept as
// a stale fallback. It returns the new generation.
func (s *Store) Invalidate(key trends.CacheKey) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	gen, _ := s.generations.Compute(key, func(old uint64, _ bool) (uint64, bool) {
		return old + 1, false
	})

	if entry, ok := s.backend.Load(key); ok {
		stale := *entry
		stale.Invalidated = true
		stale.Generation = gen
		s.backend.Store(key, &stale)
	}

	s.logger.Debugw("invalidated cache entry", "key", key.Short(), "generation", gen)
	return gen
}

// Generation returns the current generation of key. Keys never invalidated
// are at generation zero.
func (s *Store) Generation(key trends.CacheKey) uint64 {
	gen, _ := s.generations.Load(key)
	return gen
}

// Prune drops entries fetched longer than the retention ago and returns how
// many were dropped. Generations are kept. Without a retention it does nothing.
func (s *Store) Prune() int {
	if s.retention <= 0 {
		return 0
	}
	retention := s.retention
	if retention < s.window {
		retention = s.window
	}
	cutoff := s.clock.Now().Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for _, key := range s.backend.Keys() {
		entry, ok := s.backend.Load(key)
		if !ok || entry.Record == nil || entry.Record.FetchedAt.After(cutoff) {
			continue
		}
		s.backend.Delete(key)
		pruned++
	}
	if pruned > 0 {
		s.logger.Debugw("pruned cache entries", "count", pruned, "retention", retention)
	}
	return pruned
}

// Run prunes the store every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Prune()
		}
	}
}

// Len returns the number of entries, fresh or stale.
func (s *Store) Len() int {
	return s.backend.Len()
}

// Snapshot returns every entry ordered by key.
func (s *Store) Snapshot() []*trends.CacheEntry {
	keys := s.backend.Keys()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	entries := make([]*trends.CacheEntry, 0, len(keys))
	for _, key := range keys {
		if entry, ok := s.backend.Load(key); ok {
			entries = append(entries, entry)
		}
	}
	return entries
}
