// Package session coordinates consumers of market-trends data. A Manager owns
// the shared cache store and the request deduplicator; each Session is one
// consumer's view with its own parameters and state machine.
package session

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"github.com/goliatone/go-market-trends/cache"
	"github.com/goliatone/go-market-trends/dedup"
	"github.com/goliatone/go-market-trends/pkg/logging"
	"github.com/goliatone/go-market-trends/pkg/metrics"
	"github.com/goliatone/go-market-trends/trends"
)

// RecordFetcher produces a fresh aggregated record for a parameter set.
// *dimensions.Orchestrator implements it.
type RecordFetcher interface {
	Fetch(ctx context.Context, params trends.QueryParameters) (*trends.AggregatedRecord, error)
}

// flightKey scopes deduplication to a key generation, so a fetch started
// before an invalidation is never joined by requests made after it.
type flightKey struct {
	Key trends.CacheKey
	Gen uint64
}

type flight = dedup.Call[*trends.AggregatedRecord]

// Manager is shared by every session in the process.
type Manager struct {
	store    *cache.Store
	fetcher  RecordFetcher
	keys     trends.KeyBuilder
	flights  *dedup.Group[flightKey, *trends.AggregatedRecord]
	sessions *xsync.MapOf[string, *Session]
	logger   *zap.SugaredLogger
	metrics  metrics.Recorder
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithKeyBuilder sets the cache key builder.
func WithKeyBuilder(b trends.KeyBuilder) ManagerOption {
	return func(m *Manager) {
		if b != nil {
			m.keys = b
		}
	}
}

// WithLogger sets the manager and session logger.
func WithLogger(l *zap.SugaredLogger) ManagerOption {
	return func(m *Manager) {
		m.logger = logging.OrNop(l)
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics.OrNop(r)
	}
}

// NewManager creates a Manager over store and fetcher.
func NewManager(store *cache.Store, fetcher RecordFetcher, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:    store,
		fetcher:  fetcher,
		keys:     trends.NewKeyBuilder(),
		sessions: xsync.NewMapOf[string, *Session](),
		logger:   logging.Nop(),
		metrics:  metrics.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.flights = dedup.NewWithHooks[flightKey, *trends.AggregatedRecord](dedup.Hooks{
		Started:  m.metrics.FlightStarted,
		Joined:   m.metrics.FlightJoined,
		InFlight: m.metrics.InFlight,
	})
	return m
}

// Store returns the shared cache store.
func (m *Manager) Store() *cache.Store {
	return m.store
}

// Key returns the cache key for params.
func (m *Manager) Key(params trends.QueryParameters) trends.CacheKey {
	return m.keys.Build(params)
}

// NewSession creates and registers an idle session.
func (m *Manager) NewSession() *Session {
	s := newSession(uuid.NewString(), m)
	m.sessions.Store(s.id, s)
	m.logger.Debugw("session opened", "session", s.id)
	return s
}

// Session returns the open session with id.
func (m *Manager) Session(id string) (*Session, bool) {
	return m.sessions.Load(id)
}

// Sessions returns the number of open sessions.
func (m *Manager) Sessions() int {
	return m.sessions.Size()
}

func (m *Manager) forget(s *Session) {
	m.sessions.Delete(s.id)
	m.logger.Debugw("session closed", "session", s.id)
}

// Get returns a fresh record for params, waiting on the shared fetch when the
// cache cannot serve it. With force the key is invalidated first.
func (m *Manager) Get(ctx context.Context, params trends.QueryParameters, force bool) (*trends.AggregatedRecord, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	params = params.Normalize()
	key := m.keys.Build(params)

	if !force {
		if entry, fresh := m.lookup(key); fresh {
			return entry.Record, nil
		}
	}
	record, err := m.load(ctx, key, params, force).Wait(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil, &trends.Error{Kind: trends.KindTimeout, Op: "session.get", Err: err}
	}
	return record, err
}

// lookup reads key from the store and records hit, miss or stale.
func (m *Manager) lookup(key trends.CacheKey) (*trends.CacheEntry, bool) {
	entry, ok := m.store.Get(key)
	switch {
	case !ok:
		m.metrics.CacheMiss()
		return nil, false
	case m.store.IsFresh(entry, m.store.Now()):
		m.metrics.CacheHit()
		return entry, true
	default:
		m.metrics.CacheStale()
		return entry, false
	}
}

// load returns the in-flight fetch for key, starting one if needed. The
// result is committed to the store inside the shared flight, before the
// flight is deregistered, so a caller arriving after completion finds it in
// the cache instead of starting another fetch.
func (m *Manager) load(ctx context.Context, key trends.CacheKey, params trends.QueryParameters, force bool) *flight {
	if force {
		m.store.Invalidate(key)
	}
	gen := m.store.Generation(key)

	call, joined := m.flights.Do(ctx, flightKey{Key: key, Gen: gen}, func(ctx context.Context) (*trends.AggregatedRecord, error) {
		// A flight that finished between the caller's cache miss and this
		// registration has already committed its record.
		if !force {
			if entry, ok := m.store.Fresh(key); ok && entry.Generation == gen {
				return entry.Record, nil
			}
		}

		started := time.Now()
		record, err := m.fetcher.Fetch(ctx, params)
		if err != nil {
			m.logger.Warnw("market trends fetch failed",
				"key", key.Short(),
				"generation", gen,
				"kind", trends.KindOf(err),
				"error", err,
			)
			return nil, err
		}

		committed := m.store.PutIfCurrent(key, record, gen)
		m.logger.Infow("market trends fetched",
			"key", key.Short(),
			"generation", gen,
			"partial", record.Partial,
			"committed", committed,
			"elapsed", time.Since(started),
		)
		return record, nil
	})

	m.logger.Debugw("market trends load",
		"key", key.Short(),
		"generation", gen,
		"force", force,
		"joined", joined,
	)
	return call
}

// EntryInfo describes one cache entry for inspection.
type EntryInfo struct {
	Key         trends.CacheKey `json:"key"`
	Digest      string          `json:"digest"`
	FetchedAt   time.Time       `json:"fetchedAt"`
	ExpiresAt   time.Time       `json:"expiresAt"`
	AgeSeconds  float64         `json:"ageSeconds"`
	Fresh       bool            `json:"fresh"`
	Invalidated bool            `json:"invalidated"`
	Partial     bool            `json:"partial"`
	Generation  uint64          `json:"generation"`
}

// FlightInfo describes one in-flight fetch. Callers counts everyone handed
// the fetch, including callers that have since given up waiting.
type FlightInfo struct {
	Key        trends.CacheKey `json:"key"`
	Generation uint64          `json:"generation"`
	Callers    int64           `json:"callers"`
}

// Inspection is a point-in-time view of the shared state.
type Inspection struct {
	GeneratedAt     time.Time         `json:"generatedAt"`
	FreshnessWindow string            `json:"freshnessWindow"`
	Entries         []EntryInfo       `json:"entries"`
	InFlight        int               `json:"inFlight"`
	InFlightKeys    []trends.CacheKey `json:"inFlightKeys"`
	Flights         []FlightInfo      `json:"flights"`
	Sessions        int               `json:"sessions"`
}

// Inspect reports cache entries with their ages, in-flight fetches and the
// number of open sessions.
func (m *Manager) Inspect() Inspection {
	now := m.store.Now()
	snapshot := m.store.Snapshot()

	entries := make([]EntryInfo, 0, len(snapshot))
	for _, entry := range snapshot {
		info := EntryInfo{
			Key:         entry.Key,
			Digest:      entry.Key.Short(),
			ExpiresAt:   entry.ExpiresAt,
			Fresh:       m.store.IsFresh(entry, now),
			Invalidated: entry.Invalidated,
			Generation:  entry.Generation,
		}
		if entry.Record != nil {
			info.FetchedAt = entry.Record.FetchedAt
			info.AgeSeconds = entry.Record.Age(now).Seconds()
			info.Partial = entry.Record.Partial
		}
		entries = append(entries, info)
	}

	var flights []FlightInfo
	m.flights.Range(func(fk flightKey, call *flight) bool {
		flights = append(flights, FlightInfo{Key: fk.Key, Generation: fk.Gen, Callers: call.Refs()})
		return true
	})
	sort.Slice(flights, func(i, j int) bool {
		if flights[i].Key != flights[j].Key {
			return flights[i].Key < flights[j].Key
		}
		return flights[i].Generation < flights[j].Generation
	})
	keys := make([]trends.CacheKey, 0, len(flights))
	for _, f := range flights {
		keys = append(keys, f.Key)
	}

	return Inspection{
		GeneratedAt:     now,
		FreshnessWindow: m.store.Window().String(),
		Entries:         entries,
		InFlight:        len(flights),
		InFlightKeys:    keys,
		Flights:         flights,
		Sessions:        m.sessions.Size(),
	}
}
