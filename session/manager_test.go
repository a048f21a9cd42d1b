package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-market-trends/trends"
)

func TestManager_GetDeduplicatesConcurrentCallers(t *testing.T) {
	f := newFixture(t)
	f.fetcher.gate("Toronto")

	const callers = 20
	var wg sync.WaitGroup
	records := make([]*trends.AggregatedRecord, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			records[i], errs[i] = f.manager.Get(context.Background(), toronto, false)
		}(i)
	}

	f.fetcher.waitStarted(t, "Toronto")
	waitFor(t, "callers to register", func() bool {
		return f.manager.Inspect().InFlight == 1
	})
	time.Sleep(10 * time.Millisecond)
	f.fetcher.open("Toronto")
	wg.Wait()

	if got := f.fetcher.count("Toronto"); got != 1 {
		t.Errorf("expected 1 upstream fetch, got %d", got)
	}
	for i := range records {
		if errs[i] != nil {
			t.Errorf("caller %d: unexpected error: %v", i, errs[i])
		}
		if records[i] != records[0] {
			t.Errorf("caller %d: expected shared record", i)
		}
	}
}

func TestManager_GetServesFreshAndForces(t *testing.T) {
	f := newFixture(t)

	first, err := f.manager.Get(context.Background(), toronto, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f.clock.Advance(4*time.Minute + 59*time.Second)
	cached, err := f.manager.Get(context.Background(), toronto, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cached != first || f.fetcher.count("Toronto") != 1 {
		t.Error("expected fresh cache hit without fetching")
	}

	forced, err := f.manager.Get(context.Background(), toronto, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if forced == first || f.fetcher.count("Toronto") != 2 {
		t.Error("expected forced refetch")
	}

	f.clock.Advance(5*time.Minute + time.Second)
	if _, err := f.manager.Get(context.Background(), toronto, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.fetcher.count("Toronto") != 3 {
		t.Errorf("expected stale entry to be refetched, got %d fetches", f.fetcher.count("Toronto"))
	}
}

func TestManager_GetInvalidParameters(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Get(context.Background(), trends.QueryParameters{LocationType: trends.LocationCity}, false)
	if trends.KindOf(err) != trends.KindInvalidParameters {
		t.Errorf("expected invalid parameters, got %v", err)
	}
}

func TestManager_GetCallerGivesUpWithoutCancellingFlight(t *testing.T) {
	f := newFixture(t)
	f.fetcher.gate("Ottawa")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.manager.Get(ctx, ottawa, false)
	if !trends.IsKind(err, trends.KindTimeout) {
		t.Errorf("expected %q, got %v", trends.KindTimeout, err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected the deadline in the chain, got %v", err)
	}

	f.fetcher.open("Ottawa")
	waitFor(t, "Ottawa cached", func() bool {
		_, ok := f.store.Fresh(f.manager.Key(ottawa))
		return ok
	})
}

func TestManager_GetCallerCancelIsTimeout(t *testing.T) {
	f := newFixture(t)
	f.fetcher.gate("Ottawa")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.manager.Get(ctx, ottawa, false)
		done <- err
	}()

	f.fetcher.waitStarted(t, "Ottawa")
	cancel()
	err := <-done
	if trends.KindOf(err) != trends.KindTimeout || !trends.KindTimeout.Retryable() {
		t.Errorf("expected a retryable timeout, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in the chain, got %v", err)
	}
	f.fetcher.open("Ottawa")
}

func TestManager_Inspect(t *testing.T) {
	f := newFixture(t)
	s := f.manager.NewSession()
	defer s.Close()

	if _, err := f.manager.Get(context.Background(), toronto, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.clock.Advance(2 * time.Minute)

	f.fetcher.gate("Ottawa")
	s.SetParameters(context.Background(), ottawa)
	f.fetcher.waitStarted(t, "Toronto")
	f.fetcher.waitStarted(t, "Ottawa")

	info := f.manager.Inspect()
	if info.Sessions != 1 {
		t.Errorf("expected 1 session, got %d", info.Sessions)
	}
	if info.InFlight != 1 || len(info.InFlightKeys) != 1 || info.InFlightKeys[0] != f.manager.Key(ottawa) {
		t.Errorf("expected Ottawa in flight, got %+v", info.InFlightKeys)
	}
	if len(info.Flights) != 1 || info.Flights[0].Key != f.manager.Key(ottawa) || info.Flights[0].Callers < 1 {
		t.Errorf("expected one Ottawa flight with a caller, got %+v", info.Flights)
	}
	if info.FreshnessWindow != "5m0s" {
		t.Errorf("expected 5m0s window, got %q", info.FreshnessWindow)
	}
	if len(info.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(info.Entries))
	}
	entry := info.Entries[0]
	if entry.Key != f.manager.Key(toronto) || !entry.Fresh || entry.AgeSeconds != 120 {
		t.Errorf("unexpected entry info %+v", entry)
	}
	if entry.Digest != entry.Key.Short() {
		t.Errorf("expected digest %q, got %q", entry.Key.Short(), entry.Digest)
	}

	f.fetcher.open("Ottawa")
	waitState(t, s, StateReady, "Ottawa")

	if got, ok := f.manager.Session(s.ID()); !ok || got != s {
		t.Error("expected session lookup by id")
	}
}
