// Package dedup collapses concurrent requests for the same key into a single
// in-flight call whose result is shared by every caller.
package dedup

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// Starter performs the work for one key. It runs once per call, in its own
// goroutine, on a context that is not cancelled when callers give up.
type Starter[V any] func(ctx context.Context) (V, error)

// Call is one in-flight or completed operation.
type Call[V any] struct {
	done  chan struct{}
	value V
	err   error
	refs  atomic.Int64
}

// Done is closed once the result is available.
func (c *Call[V]) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the call completes or ctx is done. Giving up on ctx does
// not cancel the call for other waiters.
func (c *Call[V]) Wait(ctx context.Context) (V, error) {
	select {
	case <-c.done:
		return c.value, c.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Refs returns how many callers were handed this call, the starter included.
func (c *Call[V]) Refs() int64 {
	return c.refs.Load()
}

// Hooks observe call lifecycle. Any of them may be nil.
type Hooks struct {
	Started  func()
	Joined   func()
	InFlight func(n int)
}

// Group tracks in-flight calls by key. The zero value is not usable; use New.
type Group[K comparable, V any] struct {
	calls *xsync.MapOf[K, *Call[V]]
	hooks Hooks
}

// New creates an empty Group.
func New[K comparable, V any]() *Group[K, V] {
	return &Group[K, V]{calls: xsync.NewMapOf[K, *Call[V]]()}
}

// NewWithHooks creates an empty Group that reports to hooks.
func NewWithHooks[K comparable, V any](hooks Hooks) *Group[K, V] {
	g := New[K, V]()
	g.hooks = hooks
	return g
}

// Do returns the in-flight call for key, starting one with starter if none
// exists. joined reports whether an existing call was reused. The check and
// the registration are a single atomic step, so concurrent callers for the
// same key always share one call.
func (g *Group[K, V]) Do(ctx context.Context, key K, starter Starter[V]) (call *Call[V], joined bool) {
	created := false
	call, _ = g.calls.LoadOrCompute(key, func() *Call[V] {
		created = true
		return &Call[V]{done: make(chan struct{})}
	})
	call.refs.Add(1)

	if !created {
		if g.hooks.Joined != nil {
			g.hooks.Joined()
		}
		return call, true
	}

	if g.hooks.Started != nil {
		g.hooks.Started()
	}
	g.reportInFlight()

	go g.run(context.WithoutCancel(ctx), key, call, starter)
	return call, false
}

func (g *Group[K, V]) run(ctx context.Context, key K, call *Call[V], starter Starter[V]) {
	defer func() {
		if r := recover(); r != nil {
			var zero V
			call.value, call.err = zero, fmt.Errorf("dedup: starter panicked: %v", r)
		}
		// Deregister before releasing waiters so a finished call is never
		// handed to a new caller.
		g.calls.Compute(key, func(current *Call[V], loaded bool) (*Call[V], bool) {
			if loaded && current == call {
				return nil, true
			}
			return current, !loaded
		})
		g.reportInFlight()
		close(call.done)
	}()

	call.value, call.err = starter(ctx)
}

func (g *Group[K, V]) reportInFlight() {
	if g.hooks.InFlight != nil {
		g.hooks.InFlight(g.calls.Size())
	}
}

// Len returns the number of in-flight calls.
func (g *Group[K, V]) Len() int {
	return g.calls.Size()
}

// Range calls fn for every in-flight call until fn returns false.
func (g *Group[K, V]) Range(fn func(key K, call *Call[V]) bool) {
	g.calls.Range(fn)
}
