package di

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/goliatone/go-market-trends/internal/listings"
	"github.com/goliatone/go-market-trends/pkg/logging"
	"github.com/goliatone/go-market-trends/session"
	"github.com/goliatone/go-market-trends/trends"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func seed(t testing.TB, container *Container) {
	t.Helper()
	records := listings.SampleListings(listings.DefaultSeedLocations[:2], 10, t0, 42)
	if err := container.DB().Seed(context.Background(), records); err != nil {
		t.Fatalf("Seed() failed: %v", err)
	}
}

var torontoParams = trends.QueryParameters{
	LocationType:   trends.LocationCity,
	LocationName:   "Toronto",
	YearsOfHistory: 5,
}

func TestEndToEndHTTPFlow(t *testing.T) {
	container, clock := newTestContainer(t, testConfig(t))
	seed(t, container)
	router := container.Handler().Router()

	get := func(target string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		return rec
	}

	rec := get("/api/market-trends?location_type=city&location_name=Toronto&years=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var record trends.AggregatedRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record.Partial {
		t.Errorf("expected a complete record, failures: %v", record.Failures)
	}
	overview := record.Dimension(trends.DimensionPriceOverview)
	if overview == nil || overview.Summary["listings"] != 20 {
		t.Errorf("expected 20 Toronto listings in the overview, got %+v", overview)
	}
	if !record.FetchedAt.Equal(t0) {
		t.Errorf("expected FetchedAt from the container clock, got %v", record.FetchedAt)
	}

	// Served from cache inside the window.
	clock.Advance(4 * time.Minute)
	if rec := get("/api/market-trends?location_type=city&location_name=Toronto%20RE&years=5"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	lookups := container.Metrics().Registry()
	got, err := testutil.GatherAndCount(lookups, "market_trends_cache_lookups_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if got != 2 {
		t.Errorf("expected hit and miss series, got %d", got)
	}

	if rec := get("/internal/cache"); rec.Code != http.StatusOK {
		t.Errorf("expected 200 from inspection, got %d", rec.Code)
	}
	if rec := get("/health"); rec.Code != http.StatusOK {
		t.Errorf("expected healthy database, got %d", rec.Code)
	}
}

func TestEndToEndUnknownLocation(t *testing.T) {
	container, _ := newTestContainer(t, testConfig(t))
	seed(t, container)

	record, err := container.Manager().Get(context.Background(), trends.QueryParameters{
		LocationType: trends.LocationCity,
		LocationName: "Atlantis",
	}, false)
	if err != nil {
		t.Fatalf("expected empty result, got %v", err)
	}
	if record.Partial {
		t.Error("expected no failures for an empty market")
	}
	if overview := record.Dimension(trends.DimensionPriceOverview); overview == nil || overview.Summary["listings"] != 0 {
		t.Errorf("expected empty overview, got %+v", overview)
	}
}

func TestEndToEndConcurrentRequestsShareOneFetch(t *testing.T) {
	container, _ := newTestContainer(t, testConfig(t))
	seed(t, container)

	const callers = 25
	var wg sync.WaitGroup
	records := make([]*trends.AggregatedRecord, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			records[i], errs[i] = container.Manager().Get(context.Background(), torontoParams, false)
		}(i)
	}
	wg.Wait()

	for i := range records {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if records[i] != records[0] {
			t.Errorf("caller %d: expected the shared record", i)
		}
	}
	if n := container.Store().Len(); n != 1 {
		t.Errorf("expected 1 cache entry, got %d", n)
	}
}

func TestEndToEndFreshnessExpiry(t *testing.T) {
	container, clock := newTestContainer(t, testConfig(t))
	seed(t, container)
	manager := container.Manager()

	first, err := manager.Get(context.Background(), torontoParams, false)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}

	clock.Advance(4*time.Minute + 59*time.Second)
	cached, err := manager.Get(context.Background(), torontoParams, false)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if cached != first {
		t.Error("expected the cached record inside the freshness window")
	}

	clock.Advance(2 * time.Second)
	refetched, err := manager.Get(context.Background(), torontoParams, false)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if refetched == first {
		t.Error("expected a refetch once the window elapsed")
	}
	if !refetched.FetchedAt.Equal(clock.Now()) {
		t.Errorf("expected FetchedAt %v, got %v", clock.Now(), refetched.FetchedAt)
	}
}

func TestEndToEndSessionSwitch(t *testing.T) {
	// Superseded results are discarded on a background goroutine that may
	// log after the test returns.
	container, _ := newTestContainer(t, testConfig(t), WithLogger(logging.Nop()))
	seed(t, container)

	s := container.Manager().NewSession()
	defer s.Close()

	ottawa := trends.QueryParameters{LocationType: trends.LocationCity, LocationName: "Ottawa"}
	if err := s.SetParameters(context.Background(), torontoParams); err != nil {
		t.Fatalf("SetParameters() failed: %v", err)
	}
	if err := s.SetParameters(context.Background(), ottawa); err != nil {
		t.Fatalf("SetParameters() failed: %v", err)
	}

	waitFor(t, "session ready", func() bool {
		return s.Snapshot().State == session.StateReady
	})
	snap := s.Snapshot()
	if snap.Params.LocationName != "Ottawa" || snap.Data == nil || snap.Data.Params.LocationName != "Ottawa" {
		t.Errorf("expected Ottawa data only, got %+v", snap.Params)
	}

	// The superseded Toronto fetch still completes and is cached.
	waitFor(t, "flights to drain", func() bool {
		return container.Manager().Inspect().InFlight == 0
	})
	if _, ok := container.Store().Fresh(container.Manager().Key(torontoParams)); !ok {
		t.Error("expected the superseded fetch to populate the cache")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
