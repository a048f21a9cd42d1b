package di

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/goliatone/go-market-trends/cache"
	"github.com/goliatone/go-market-trends/dimensions"
	"github.com/goliatone/go-market-trends/executor"
	"github.com/goliatone/go-market-trends/internal/httpapi"
	"github.com/goliatone/go-market-trends/internal/listings"
	"github.com/goliatone/go-market-trends/pkg/config"
	"github.com/goliatone/go-market-trends/pkg/logging"
	"github.com/goliatone/go-market-trends/pkg/metrics"
	"github.com/goliatone/go-market-trends/session"
	"github.com/goliatone/go-market-trends/trends"
)

// MetricsNamespace prefixes every exported metric.
const MetricsNamespace = "market_trends"

// Container wires the market trends pipeline from a config.Config: the
// listings database, the retrying executor, the dimension orchestrator,
// the shared cache store, the session manager and the HTTP handler.
// Every component is a singleton owned by the container.
type Container struct {
	config config.Config
	clock  trends.Clock
	logger *zap.SugaredLogger

	metrics      *metrics.Collector
	db           *listings.DB
	source       *listings.Source
	executor     *executor.Executor
	orchestrator *dimensions.Orchestrator
	store        *cache.Store
	manager      *session.Manager
	limiter      *httpapi.RateLimiter
	handler      *httpapi.Handler
}

// Option customises a Container before it is built.
type Option func(*Container)

// WithLogger replaces the logger built from the log config.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Container) {
		c.logger = l
	}
}

// WithClock sets the clock shared by the cache, orchestrator and source.
func WithClock(clock trends.Clock) Option {
	return func(c *Container) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewContainer validates cfg and builds every component. The database is
// opened and pinged; the schema is not migrated.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Container{
		config: cfg,
		clock:  trends.SystemClock(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
		if err != nil {
			return nil, fmt.Errorf("di: logger: %w", err)
		}
		c.logger = logger
	}

	c.metrics = metrics.NewCollector(MetricsNamespace)

	db, err := listings.Open(ctx, cfg.Database, c.logger.Named("listings"))
	if err != nil {
		return nil, err
	}
	c.db = db
	c.source = listings.NewSource(db,
		listings.WithClock(c.clock),
		listings.WithLogger(c.logger.Named("listings")),
	)

	c.executor = executor.New(
		executor.WithPolicy(cfg.Retry),
		executor.WithClassifier(listings.NewClassifier()),
		executor.WithReconnector(db),
		executor.WithLogger(c.logger.Named("executor")),
		executor.WithMetrics(c.metrics),
	)

	keys := trends.NewKeyBuilderWithPrefix(cfg.Cache.KeyPrefix)

	c.orchestrator = dimensions.New(c.source, c.executor,
		dimensions.WithKeyBuilder(keys),
		dimensions.WithDimensions(cfg.Orchestrator.DimensionNames()...),
		dimensions.WithMaxConcurrency(cfg.Orchestrator.MaxConcurrency),
		dimensions.WithClock(c.clock),
		dimensions.WithLogger(c.logger.Named("dimensions")),
		dimensions.WithMetrics(c.metrics),
	)

	store, err := cache.New(cfg.Cache,
		cache.WithClock(c.clock),
		cache.WithLogger(c.logger.Named("cache")),
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	c.store = store

	c.manager = session.NewManager(c.store, c.orchestrator,
		session.WithKeyBuilder(keys),
		session.WithLogger(c.logger.Named("session")),
		session.WithMetrics(c.metrics),
	)

	c.limiter = httpapi.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.Burst)
	c.handler = httpapi.New(c.manager,
		httpapi.WithLogger(c.logger.Named("http")),
		httpapi.WithMetrics(c.metrics, c.metrics.Handler()),
		httpapi.WithRateLimiter(c.limiter),
		httpapi.WithHealthCheck(func(ctx context.Context) error {
			return c.db.Bun().PingContext(ctx)
		}),
	)

	c.logger.Infow("market trends container ready",
		"database", cfg.Database.Driver,
		"cache_backend", cfg.Cache.Backend,
		"freshness_window", cfg.Cache.FreshnessWindow,
		"dimensions", len(c.orchestrator.Dimensions()),
	)
	return c, nil
}

// NewContainerWithDefaults builds a container from config.Default().
func NewContainerWithDefaults(ctx context.Context, opts ...Option) (*Container, error) {
	return NewContainer(ctx, config.Default(), opts...)
}

// Config returns the configuration the container was built from.
func (c *Container) Config() config.Config {
	return c.config
}

// Logger returns the root logger.
func (c *Container) Logger() *zap.SugaredLogger {
	return c.logger
}

// Metrics returns the prometheus collector.
func (c *Container) Metrics() *metrics.Collector {
	return c.metrics
}

// DB returns the listings database.
func (c *Container) DB() *listings.DB {
	return c.db
}

// Executor returns the retrying query executor.
func (c *Container) Executor() *executor.Executor {
	return c.executor
}

// Orchestrator returns the dimension orchestrator.
func (c *Container) Orchestrator() *dimensions.Orchestrator {
	return c.orchestrator
}

// Store returns the shared cache store.
func (c *Container) Store() *cache.Store {
	return c.store
}

// Manager returns the session manager.
func (c *Container) Manager() *session.Manager {
	return c.manager
}

// RateLimiter returns the API rate limiter.
func (c *Container) RateLimiter() *httpapi.RateLimiter {
	return c.limiter
}

// Handler returns the HTTP handler.
func (c *Container) Handler() *httpapi.Handler {
	return c.handler
}

// Close releases the database and flushes the logger.
func (c *Container) Close() error {
	err := c.db.Close()
	_ = c.logger.Sync()
	return err
}
