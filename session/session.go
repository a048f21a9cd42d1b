package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/goliatone/go-market-trends/trends"
)

// State is where a session is in its load cycle.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateFailed  State = "failed"
)

var (
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session: closed")
	// ErrNoParameters is returned by Refresh before any parameters were set.
	ErrNoParameters = errors.New("session: no parameters set")
)

// Snapshot is the consumer-visible state of a session. Data never belongs to
// parameters other than Params.
type Snapshot struct {
	SessionID     string                   `json:"sessionId"`
	Version       uint64                   `json:"version"`
	Key           trends.CacheKey          `json:"key,omitempty"`
	Params        trends.QueryParameters   `json:"params"`
	State         State                    `json:"state"`
	Data          *trends.AggregatedRecord `json:"data,omitempty"`
	Loading       bool                     `json:"loading"`
	Stale         bool                     `json:"stale"`
	Partial       bool                     `json:"partial"`
	Err           error                    `json:"-"`
	Error         string                   `json:"error,omitempty"`
	ErrorKind     trends.ErrorKind         `json:"errorKind,omitempty"`
	RequestedAt   time.Time                `json:"requestedAt"`
	LastFetchedAt time.Time                `json:"lastFetchedAt"`
}

// Observer receives snapshots. It runs on the goroutine that changed the
// session and must not call SetParameters, Refresh or Subscribe
// synchronously.
type Observer func(Snapshot)

type observer struct {
	fn Observer
	// last is the newest version this observer has seen. Guarded by notifyMu.
	last uint64
}

// Session is one consumer's view of market trends. It is safe for concurrent
// use. Each request takes a ticket; a completion is applied only if its
// ticket is still the latest and its key is still the active one, so a slow
// response for old parameters can never overwrite newer state.
type Session struct {
	id      string
	manager *Manager
	closeCh chan struct{}

	mu        sync.Mutex
	snap      Snapshot
	ticket    uint64
	closed    bool
	observers map[uint64]*observer
	nextObs   uint64

	// notifyMu serialises delivery; delivered is the newest version sent.
	notifyMu  sync.Mutex
	delivered uint64
}

func newSession(id string, m *Manager) *Session {
	return &Session{
		id:        id,
		manager:   m,
		closeCh:   make(chan struct{}),
		snap:      Snapshot{SessionID: id, State: StateIdle},
		observers: make(map[uint64]*observer),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// SetParameters points the session at params. Invalid parameters move the
// session to Failed and are returned. Requesting the key that is already
// loading, or already ready and fresh, is a no-op. A fresh cache entry makes
// the session Ready immediately; otherwise it moves to Loading and the fetch
// is shared with every other consumer of the same key.
func (s *Session) SetParameters(ctx context.Context, params trends.QueryParameters) error {
	if err := params.Validate(); err != nil {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ErrClosed
		}
		s.ticket++
		snap := s.publishLocked(Snapshot{
			Params:      params,
			State:       StateFailed,
			Err:         err,
			ErrorKind:   trends.KindInvalidParameters,
			RequestedAt: s.manager.store.Now(),
		})
		s.mu.Unlock()
		s.notify(snap)
		return err
	}

	params = params.Normalize()
	return s.request(ctx, s.manager.Key(params), params, false)
}

// Refresh reloads the current parameters, bypassing the cache. Other
// consumers asking for the same key while the refresh runs share its fetch.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	key, params, closed := s.snap.Key, s.snap.Params, s.closed
	s.mu.Unlock()

	switch {
	case closed:
		return ErrClosed
	case key == "":
		return ErrNoParameters
	}
	return s.request(ctx, key, params, true)
}

func (s *Session) request(ctx context.Context, key trends.CacheKey, params trends.QueryParameters, force bool) error {
	m := s.manager

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	if !force && s.snap.Key == key {
		switch s.snap.State {
		case StateLoading:
			s.mu.Unlock()
			return nil
		case StateReady:
			if _, fresh := m.store.Fresh(key); fresh {
				s.mu.Unlock()
				return nil
			}
		}
	}

	now := m.store.Now()
	var entry *trends.CacheEntry
	if !force {
		var fresh bool
		entry, fresh = m.lookup(key)
		if fresh {
			s.ticket++
			snap := s.publishLocked(Snapshot{
				Key:           key,
				Params:        params,
				State:         StateReady,
				Data:          entry.Record,
				Partial:       entry.Record.Partial,
				RequestedAt:   now,
				LastFetchedAt: entry.Record.FetchedAt,
			})
			s.mu.Unlock()
			s.notify(snap)
			return nil
		}
	} else {
		entry, _ = m.store.Get(key)
	}

	s.ticket++
	ticket := s.ticket
	loading := Snapshot{
		Key:         key,
		Params:      params,
		State:       StateLoading,
		Loading:     true,
		RequestedAt: now,
	}
	if entry != nil && entry.Record != nil {
		loading.Data = entry.Record
		loading.Stale = true
		loading.Partial = entry.Record.Partial
		loading.LastFetchedAt = entry.Record.FetchedAt
	}
	snap := s.publishLocked(loading)
	s.mu.Unlock()
	s.notify(snap)

	call := m.load(ctx, key, params, force)
	go s.await(call, ticket, key)
	return nil
}

func (s *Session) await(call *flight, ticket uint64, key trends.CacheKey) {
	select {
	case <-call.Done():
	case <-s.closeCh:
		return
	}
	record, err := call.Wait(context.Background())
	s.complete(ticket, key, record, err)
}

func (s *Session) complete(ticket uint64, key trends.CacheKey, record *trends.AggregatedRecord, err error) {
	m := s.manager

	s.mu.Lock()
	if s.closed || ticket != s.ticket || key != s.snap.Key {
		current := s.snap.Key
		s.mu.Unlock()
		m.metrics.StaleDiscarded()
		m.logger.Debugw("discarding superseded result",
			"session", s.id,
			"key", key.Short(),
			"active", current.Short(),
		)
		return
	}

	next := Snapshot{
		Key:         key,
		Params:      s.snap.Params,
		RequestedAt: s.snap.RequestedAt,
	}
	if err == nil {
		next.State = StateReady
		next.Data = record
		next.Partial = record.Partial
		next.LastFetchedAt = record.FetchedAt
	} else {
		kind := trends.KindOf(err)
		if kind == trends.KindNone {
			kind = trends.KindQueryFailed
		}
		next.State = StateFailed
		next.Err = err
		next.ErrorKind = kind
		if entry, ok := m.store.Get(key); ok && entry.Record != nil {
			next.Data = entry.Record
			next.Stale = true
			next.Partial = entry.Record.Partial
			next.LastFetchedAt = entry.Record.FetchedAt
		}
	}
	snap := s.publishLocked(next)
	s.mu.Unlock()
	s.notify(snap)
}

// publishLocked installs next as the current snapshot and stamps it with a
// new version. s.mu must be held.
func (s *Session) publishLocked(next Snapshot) Snapshot {
	next.SessionID = s.id
	next.Version = s.snap.Version + 1
	if next.Err != nil {
		next.Error = next.Err.Error()
	}
	s.snap = next
	return next
}

// notify delivers snap to observers unless a newer version was already sent.
func (s *Session) notify(snap Snapshot) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	if snap.Version <= s.delivered {
		return
	}
	s.delivered = snap.Version

	for _, obs := range s.currentObservers() {
		if snap.Version <= obs.last {
			continue
		}
		obs.last = snap.Version
		obs.fn(snap)
	}
}

func (s *Session) currentObservers() []*observer {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint64, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]*observer, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.observers[id])
	}
	return out
}

// Subscribe registers fn and immediately sends it the current snapshot.
// The returned function unsubscribes.
func (s *Session) Subscribe(fn Observer) (cancel func()) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return func() {}
	}
	id := s.nextObs
	s.nextObs++
	current := s.snap
	s.observers[id] = &observer{fn: fn, last: current.Version}
	s.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

// Close detaches observers and deregisters the session. In-flight fetches
// keep running for other consumers and still populate the cache.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.observers = make(map[uint64]*observer)
	close(s.closeCh)
	s.mu.Unlock()

	s.manager.forget(s)
}
