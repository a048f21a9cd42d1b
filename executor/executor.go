package executor

import (
	"context"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"

	"github.com/goliatone/go-market-trends/pkg/logging"
	"github.com/goliatone/go-market-trends/pkg/metrics"
	"github.com/goliatone/go-market-trends/trends"
)

// Policy bounds how hard the executor tries.
type Policy struct {
	// MaxAttempts counts the first try. Must be at least 1.
	MaxAttempts int `yaml:"max_attempts" json:"maxAttempts"`
	// BaseDelay is multiplied by the attempt number to get the wait before the
	// next attempt: base, 2*base, ...
	BaseDelay time.Duration `yaml:"base_delay" json:"baseDelay"`
	// AttemptTimeout caps a single attempt. Zero disables it.
	AttemptTimeout time.Duration `yaml:"attempt_timeout" json:"attemptTimeout"`
}

// DefaultPolicy returns three attempts, one second base delay and a fifteen
// second per-attempt timeout.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      time.Second,
		AttemptTimeout: 15 * time.Second,
	}
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.MaxAttempts, validation.Required, validation.Min(1), validation.Max(20)),
		validation.Field(&p.BaseDelay, validation.Min(time.Duration(0))),
		validation.Field(&p.AttemptTimeout, validation.Min(time.Duration(0))),
	)
}

// Delay returns the wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(attempt)
}

// Reconnector re-establishes the upstream connection between attempts.
// Generation identifies the current connection and changes on every
// replacement. Reconnect replaces the connection only if it is still the one
// identified by seen, so concurrent retries against the same broken
// connection reconnect once.
type Reconnector interface {
	Generation() uint64
	Reconnect(ctx context.Context, seen uint64) error
}

// Sleeper waits between attempts.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep implements Sleeper.
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

func timerSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Executor runs upstream operations with classification, linear backoff,
// per-attempt timeouts and optional reconnects. It is safe for concurrent use.
type Executor struct {
	policy      Policy
	classifier  Classifier
	reconnector Reconnector
	sleeper     Sleeper
	logger      *zap.SugaredLogger
	metrics     metrics.Recorder
}

// Option configures an Executor.
type Option func(*Executor)

// WithPolicy replaces the default policy.
func WithPolicy(p Policy) Option {
	return func(e *Executor) {
		e.policy = p
	}
}

// WithClassifier replaces the default classifier.
func WithClassifier(c Classifier) Option {
	return func(e *Executor) {
		if c != nil {
			e.classifier = c
		}
	}
}

// WithReconnector registers a hook called before every retry.
func WithReconnector(r Reconnector) Option {
	return func(e *Executor) {
		e.reconnector = r
	}
}

// WithSleeper replaces the timer based sleeper.
func WithSleeper(s Sleeper) Option {
	return func(e *Executor) {
		if s != nil {
			e.sleeper = s
		}
	}
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Executor) {
		e.logger = logging.OrNop(l)
	}
}

// WithMetrics sets the recorder that counts retries.
func WithMetrics(m metrics.Recorder) Option {
	return func(e *Executor) {
		e.metrics = metrics.OrNop(m)
	}
}

// New creates an Executor with DefaultPolicy and DefaultClassifier unless
// overridden.
func New(opts ...Option) *Executor {
	e := &Executor{
		policy:     DefaultPolicy(),
		classifier: DefaultClassifier(),
		sleeper:    SleeperFunc(timerSleep),
		logger:     logging.Nop(),
		metrics:    metrics.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.policy.MaxAttempts < 1 {
		e.policy.MaxAttempts = 1
	}
	return e
}

// Policy returns the effective policy.
func (e *Executor) Policy() Policy {
	return e.policy
}

// Do runs fn under the executor's policy.
func (e *Executor) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	_, err := Execute(ctx, e, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Execute runs fn until it succeeds, fails with a non-retryable kind or the
// attempt budget is spent. Every returned error is a *trends.Error.
func Execute[T any](ctx context.Context, e *Executor, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	policy := e.policy

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, &trends.Error{Kind: trends.KindTimeout, Op: op, Attempts: attempt - 1, Err: withLast(err, lastErr)}
		}

		var generation uint64
		if e.reconnector != nil {
			generation = e.reconnector.Generation()
		}

		value, err := runAttempt(ctx, policy.AttemptTimeout, fn)
		if err == nil {
			return value, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, &trends.Error{Kind: trends.KindTimeout, Op: op, Attempts: attempt, Err: err}
		}

		kind := e.classifier.Classify(err)
		if kind == trends.KindNone {
			kind = trends.KindQueryFailed
		}
		if !kind.Retryable() {
			return zero, &trends.Error{Kind: kind, Op: op, Attempts: attempt, Err: err}
		}
		lastErr = trends.NewError(kind, "", err)

		if attempt == policy.MaxAttempts {
			break
		}

		delay := policy.Delay(attempt)
		e.logger.Warnw("retrying upstream query",
			"op", op,
			"attempt", attempt,
			"remaining", policy.MaxAttempts-attempt,
			"delay", delay,
			"kind", kind,
			"error", err,
		)
		e.metrics.Retry(op, string(kind))

		if err := e.sleeper.Sleep(ctx, delay); err != nil {
			return zero, &trends.Error{Kind: trends.KindTimeout, Op: op, Attempts: attempt, Err: withLast(err, lastErr)}
		}

		if e.reconnector != nil {
			if err := e.reconnector.Reconnect(ctx, generation); err != nil {
				e.logger.Warnw("reconnect before retry failed", "op", op, "attempt", attempt, "error", err)
			}
		}
	}

	return zero, &trends.Error{Kind: trends.KindExhausted, Op: op, Attempts: policy.MaxAttempts, Err: lastErr}
}

func withLast(err, last error) error {
	if last == nil {
		return err
	}
	return fmt.Errorf("%w (last failure: %w)", err, last)
}

type attemptResult[T any] struct {
	value T
	err   error
}

// runAttempt enforces the per-attempt timeout even when fn ignores its context.
func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan attemptResult[T], 1)
	go func() {
		v, err := fn(actx)
		done <- attemptResult[T]{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-actx.Done():
		select {
		case r := <-done:
			return r.value, r.err
		default:
		}
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, trends.NewError(trends.KindTimeout, "", fmt.Errorf("attempt exceeded %s: %w", timeout, actx.Err()))
	}
}
