package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/goliatone/go-market-trends/pkg/testsupport"
	"github.com/goliatone/go-market-trends/trends"
)

type countingReconnector struct {
	calls      atomic.Int32
	generation atomic.Uint64
	seen       []uint64
	mu         sync.Mutex
	err        error
}

func (r *countingReconnector) Generation() uint64 {
	return r.generation.Load()
}

func (r *countingReconnector) Reconnect(ctx context.Context, seen uint64) error {
	r.calls.Add(1)
	r.mu.Lock()
	r.seen = append(r.seen, seen)
	r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.generation.CompareAndSwap(seen, seen+1)
	return nil
}

func (r *countingReconnector) seenGenerations() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.seen...)
}

func newTestExecutor(t *testing.T, sleeper Sleeper, opts ...Option) *Executor {
	t.Helper()
	base := []Option{
		WithPolicy(Policy{MaxAttempts: 3, BaseDelay: time.Second}),
		WithSleeper(sleeper),
		WithLogger(zaptest.NewLogger(t).Sugar()),
	}
	return New(append(base, opts...)...)
}

func TestExecute_SucceedsFirstTry(t *testing.T) {
	sleeper := &testsupport.RecordingSleeper{}
	e := newTestExecutor(t, sleeper)

	calls := 0
	got, err := Execute(context.Background(), e, "price_overview", func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if len(sleeper.Delays()) != 0 {
		t.Errorf("expected no delays, got %v", sleeper.Delays())
	}
}

func TestExecute_RetriesWithLinearBackoff(t *testing.T) {
	sleeper := &testsupport.RecordingSleeper{}
	reconnector := &countingReconnector{}
	e := newTestExecutor(t, sleeper, WithReconnector(reconnector))

	calls := 0
	got, err := Execute(context.Background(), e, "sales_volume", func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("read tcp 10.0.0.1:5432: connection reset by peer")
		}
		return "ok", nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("expected ok, got %q", got)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}

	delays := sleeper.Delays()
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("expected delays %v, got %v", want, delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay %d: expected %v, got %v", i, want[i], delays[i])
		}
	}
	if reconnector.calls.Load() != 2 {
		t.Errorf("expected 2 reconnects, got %d", reconnector.calls.Load())
	}
	if seen := reconnector.seenGenerations(); len(seen) != 2 || seen[0] != 0 || seen[1] != 1 {
		t.Errorf("expected reconnects from generations [0 1], got %v", seen)
	}
}

func TestExecute_ReconnectPassesGenerationOfFailedAttempt(t *testing.T) {
	sleeper := &testsupport.RecordingSleeper{}
	reconnector := &countingReconnector{}
	e := newTestExecutor(t, sleeper, WithReconnector(reconnector))

	calls := 0
	err := e.Do(context.Background(), "listing_flow", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			// A sibling query replaced the connection while this one ran.
			reconnector.generation.Store(1)
			return errors.New("sql: database is closed")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen := reconnector.seenGenerations(); len(seen) != 1 || seen[0] != 0 {
		t.Errorf("expected a reconnect from generation 0, got %v", seen)
	}
	if got := reconnector.Generation(); got != 1 {
		t.Errorf("expected the replaced connection to be kept, got generation %d", got)
	}
}

func TestExecute_FatalNeverRetries(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want trends.ErrorKind
	}{
		{"unclassified", errors.New("syntax error at or near SELECT"), trends.KindQueryFailed},
		{"not found", trends.NewError(trends.KindNotFound, "lookup", errors.New("no market")), trends.KindNotFound},
		{"invalid parameters", trends.NewError(trends.KindInvalidParameters, "validate", errors.New("bad")), trends.KindInvalidParameters},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sleeper := &testsupport.RecordingSleeper{}
			reconnector := &countingReconnector{}
			e := newTestExecutor(t, sleeper, WithReconnector(reconnector))

			calls := 0
			err := e.Do(context.Background(), "price_overview", func(ctx context.Context) error {
				calls++
				return tt.err
			})

			if calls != 1 {
				t.Errorf("expected exactly 1 call, got %d", calls)
			}
			if trends.KindOf(err) != tt.want {
				t.Errorf("expected kind %q, got %q", tt.want, trends.KindOf(err))
			}
			if len(sleeper.Delays()) != 0 {
				t.Errorf("expected no delays, got %v", sleeper.Delays())
			}
			if reconnector.calls.Load() != 0 {
				t.Errorf("expected no reconnects, got %d", reconnector.calls.Load())
			}
		})
	}
}

func TestExecute_Exhausted(t *testing.T) {
	sleeper := &testsupport.RecordingSleeper{}
	e := newTestExecutor(t, sleeper)

	cause := errors.New("sorry, too many clients already")
	calls := 0
	err := e.Do(context.Background(), "inventory", func(ctx context.Context) error {
		calls++
		return cause
	})

	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}

	var te *trends.Error
	if !errors.As(err, &te) {
		t.Fatalf("expected *trends.Error, got %T", err)
	}
	if te.Kind != trends.KindExhausted {
		t.Errorf("expected kind %q, got %q", trends.KindExhausted, te.Kind)
	}
	if te.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", te.Attempts)
	}
	if !errors.Is(err, cause) {
		t.Error("expected last cause to be wrapped")
	}
	if !errors.Is(err, &trends.Error{Kind: trends.KindPoolExhausted}) {
		t.Error("expected last retryable kind in the chain")
	}
	if got := len(sleeper.Delays()); got != 2 {
		t.Errorf("expected 2 delays, got %d", got)
	}
}

func TestExecute_AttemptTimeoutIsRetryable(t *testing.T) {
	sleeper := &testsupport.RecordingSleeper{}
	e := New(
		WithPolicy(Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, AttemptTimeout: 20 * time.Millisecond}),
		WithSleeper(sleeper),
		WithLogger(zaptest.NewLogger(t).Sugar()),
	)

	var calls atomic.Int32
	got, err := Execute(context.Background(), e, "days_on_market", func(ctx context.Context) (int, error) {
		if calls.Add(1) == 1 {
			// ignores ctx on purpose
			time.Sleep(200 * time.Millisecond)
			return 0, nil
		}
		return 7, nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 7 {
		t.Errorf("expected 7, got %d", got)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
}

func TestExecute_ParentCancelStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sleeper := SleeperFunc(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	})
	e := newTestExecutor(t, sleeper)

	calls := 0
	err := e.Do(ctx, "listing_flow", func(ctx context.Context) error {
		calls++
		return errors.New("i/o timeout")
	})

	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", err)
	}
}

func TestExecute_ReconnectFailureDoesNotAbort(t *testing.T) {
	sleeper := &testsupport.RecordingSleeper{}
	reconnector := &countingReconnector{err: errors.New("dial failed")}
	e := newTestExecutor(t, sleeper, WithReconnector(reconnector))

	calls := 0
	err := e.Do(context.Background(), "price_overview", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("broken pipe")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reconnector.calls.Load() != 1 {
		t.Errorf("expected 1 reconnect, got %d", reconnector.calls.Load())
	}
}

func TestPolicy_Validate(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Errorf("expected default policy to be valid, got %v", err)
	}
	if err := (Policy{MaxAttempts: 0}).Validate(); err == nil {
		t.Error("expected error for zero attempts")
	}
	if err := (Policy{MaxAttempts: 3, BaseDelay: -time.Second}).Validate(); err == nil {
		t.Error("expected error for negative delay")
	}
}

func TestPolicy_Delay(t *testing.T) {
	p := Policy{BaseDelay: 500 * time.Millisecond}
	if p.Delay(1) != 500*time.Millisecond || p.Delay(2) != time.Second {
		t.Errorf("expected linear delays, got %v and %v", p.Delay(1), p.Delay(2))
	}
}
