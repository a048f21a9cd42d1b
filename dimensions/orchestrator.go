// Package dimensions fans one market-trends query out into independent
// dimension fetches and folds the results into an AggregatedRecord.
package dimensions

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-market-trends/executor"
	"github.com/goliatone/go-market-trends/pkg/logging"
	"github.com/goliatone/go-market-trends/pkg/metrics"
	"github.com/goliatone/go-market-trends/trends"
)

// Fetcher computes a single dimension for a parameter set.
type Fetcher interface {
	FetchDimension(ctx context.Context, name trends.DimensionName, params trends.QueryParameters) (*trends.DimensionResult, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, name trends.DimensionName, params trends.QueryParameters) (*trends.DimensionResult, error)

// FetchDimension implements Fetcher.
func (f FetcherFunc) FetchDimension(ctx context.Context, name trends.DimensionName, params trends.QueryParameters) (*trends.DimensionResult, error) {
	return f(ctx, name, params)
}

// Orchestrator fetches every configured dimension concurrently through the
// executor. A failed dimension leaves a nil slot and marks the record
// partial; only when every dimension fails does Fetch return an error.
type Orchestrator struct {
	fetcher        Fetcher
	executor       *executor.Executor
	dimensions     []trends.DimensionName
	maxConcurrency int
	keys           trends.KeyBuilder
	clock          trends.Clock
	logger         *zap.SugaredLogger
	metrics        metrics.Recorder
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDimensions replaces the default dimension set.
func WithDimensions(names ...trends.DimensionName) Option {
	return func(o *Orchestrator) {
		if len(names) > 0 {
			o.dimensions = append([]trends.DimensionName(nil), names...)
		}
	}
}

// WithMaxConcurrency bounds how many dimensions run at once. Zero or less
// runs them all together.
func WithMaxConcurrency(n int) Option {
	return func(o *Orchestrator) {
		o.maxConcurrency = n
	}
}

// WithKeyBuilder sets the builder used to stamp records with their key.
func WithKeyBuilder(b trends.KeyBuilder) Option {
	return func(o *Orchestrator) {
		if b != nil {
			o.keys = b
		}
	}
}

// WithClock sets the clock used for FetchedAt.
func WithClock(c trends.Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the orchestrator logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *Orchestrator) {
		o.logger = logging.OrNop(l)
	}
}

// WithMetrics sets the recorder for dimension failures.
func WithMetrics(m metrics.Recorder) Option {
	return func(o *Orchestrator) {
		o.metrics = metrics.OrNop(m)
	}
}

// New creates an Orchestrator. A nil executor gets executor.New().
func New(fetcher Fetcher, exec *executor.Executor, opts ...Option) *Orchestrator {
	if exec == nil {
		exec = executor.New()
	}
	o := &Orchestrator{
		fetcher:    fetcher,
		executor:   exec,
		dimensions: trends.DefaultDimensions(),
		keys:       trends.NewKeyBuilder(),
		clock:      trends.SystemClock(),
		logger:     logging.Nop(),
		metrics:    metrics.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Dimensions returns the configured dimension names.
func (o *Orchestrator) Dimensions() []trends.DimensionName {
	return append([]trends.DimensionName(nil), o.dimensions...)
}

// Fetch runs every dimension for params and waits for all of them.
func (o *Orchestrator) Fetch(ctx context.Context, params trends.QueryParameters) (*trends.AggregatedRecord, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	params = params.Normalize()
	key := o.keys.Build(params)

	results := make([]*trends.DimensionResult, len(o.dimensions))
	errs := make([]error, len(o.dimensions))

	var g errgroup.Group
	if o.maxConcurrency > 0 {
		g.SetLimit(o.maxConcurrency)
	}
	for i, name := range o.dimensions {
		g.Go(func() error {
			results[i], errs[i] = executor.Execute(ctx, o.executor, string(name),
				func(ctx context.Context) (*trends.DimensionResult, error) {
					return o.fetcher.FetchDimension(ctx, name, params)
				})
			return nil
		})
	}
	_ = g.Wait()

	record := &trends.AggregatedRecord{
		Key:        key,
		Params:     params,
		Dimensions: make(map[trends.DimensionName]*trends.DimensionResult, len(o.dimensions)),
		FetchedAt:  o.clock.Now(),
	}

	var failed []error
	for i, name := range o.dimensions {
		if err := errs[i]; err != nil {
			kind := trends.KindOf(err)
			if record.Failures == nil {
				record.Failures = make(map[trends.DimensionName]trends.ErrorKind)
			}
			record.Dimensions[name] = nil
			record.Failures[name] = kind
			failed = append(failed, err)

			o.metrics.DimensionFailed(string(name), string(kind))
			o.logger.Warnw("dimension fetch failed",
				"key", key.Short(),
				"dimension", name,
				"kind", kind,
				"error", err,
			)
			continue
		}

		result := results[i]
		if result == nil {
			result = &trends.DimensionResult{}
		}
		if result.Name == "" {
			result.Name = name
		}
		record.Dimensions[name] = result
	}

	if len(o.dimensions) > 0 && len(failed) == len(o.dimensions) {
		return nil, &trends.Error{
			Kind: trends.KindAllDimensionsFailed,
			Op:   "fetch " + key.Short(),
			Err:  errors.Join(failed...),
		}
	}

	record.Partial = len(failed) > 0
	if record.Partial {
		o.logger.Infow("partial market trends record",
			"key", key.Short(),
			"failed", len(failed),
			"total", len(o.dimensions),
		)
	}
	return record, nil
}
