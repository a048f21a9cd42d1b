package listings

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	repository "github.com/goliatone/go-repository-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"go.uber.org/zap"

	"github.com/goliatone/go-market-trends/dedup"
	"github.com/goliatone/go-market-trends/pkg/logging"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Config selects and sizes the listings database.
type Config struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// DefaultConfig returns an on-disk SQLite database with a small pool.
func DefaultConfig() Config {
	return Config{
		Driver:       DriverSQLite,
		DSN:          "file:market_trends.db?_busy_timeout=5000",
		MaxOpenConns: 4,
	}
}

// Validate checks the database configuration.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Driver, validation.Required, validation.In(DriverSQLite, DriverPostgres)),
		validation.Field(&c.DSN, validation.Required),
		validation.Field(&c.MaxOpenConns, validation.Min(0)),
	)
}

// DB owns the bun connection pool and the listing repository built on it.
// Reconnect swaps both atomically, which makes DB an executor.Reconnector.
type DB struct {
	cfg        Config
	logger     *zap.SugaredLogger
	reconnects *dedup.Group[uint64, struct{}]

	mu         sync.RWMutex
	db         *bun.DB
	repo       repository.Repository[*Listing]
	generation uint64
}

// Open validates cfg, opens the pool and verifies it with a ping.
func Open(ctx context.Context, cfg Config, logger *zap.SugaredLogger) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("listings: invalid database config: %w", err)
	}

	db, err := openBun(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &DB{
		cfg:        cfg,
		logger:     logging.OrNop(logger),
		reconnects: dedup.New[uint64, struct{}](),
		db:         db,
		repo:       NewRepository(db),
	}, nil
}

func openBun(ctx context.Context, cfg Config) (*bun.DB, error) {
	sqldb, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("listings: open %s: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
		sqldb.SetMaxIdleConns(cfg.MaxOpenConns)
	}

	var db *bun.DB
	switch cfg.Driver {
	case DriverPostgres:
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		db = bun.NewDB(sqldb, sqlitedialect.New())
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("listings: ping %s: %w", cfg.Driver, err)
	}
	return db, nil
}

// Bun returns the current pool.
func (d *DB) Bun() *bun.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db
}

// Repository returns the repository bound to the current pool.
func (d *DB) Repository() repository.Repository[*Listing] {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.repo
}

// Generation counts pool replacements.
func (d *DB) Generation() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.generation
}

// Reconnect replaces the pool if it is still the one identified by seen.
// Callers that saw the same pool share one replacement, and callers whose
// pool was already replaced return at once. The old pool is closed after the
// swap; queries already running on it finish, new ones fail and are retried.
func (d *DB) Reconnect(ctx context.Context, seen uint64) error {
	if d.Generation() != seen {
		return nil
	}
	call, _ := d.reconnects.Do(ctx, seen, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, d.replace(ctx, seen)
	})
	_, err := call.Wait(ctx)
	return err
}

func (d *DB) replace(ctx context.Context, seen uint64) error {
	if d.Generation() != seen {
		return nil
	}

	db, err := openBun(ctx, d.cfg)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if d.generation != seen || d.db == nil {
		d.mu.Unlock()
		_ = db.Close()
		return nil
	}
	old := d.db
	d.db = db
	d.repo = NewRepository(db)
	d.generation++
	generation := d.generation
	d.mu.Unlock()

	d.logger.Infow("listings database reconnected", "driver", d.cfg.Driver, "generation", generation)
	if old != nil {
		return old.Close()
	}
	return nil
}

// Close closes the current pool.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

// Migrate creates the listings table and its lookup indexes.
func (d *DB) Migrate(ctx context.Context) error {
	db := d.Bun()

	if _, err := db.NewCreateTable().
		Model((*Listing)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("listings: create table: %w", err)
	}

	for _, column := range []string{"city", "area", "neighbourhood", "intersection", "community", "listed_at"} {
		if _, err := db.NewCreateIndex().
			Model((*Listing)(nil)).
			Index("sold_listings_" + column + "_idx").
			Column(column).
			IfNotExists().
			Exec(ctx); err != nil {
			return fmt.Errorf("listings: create index on %s: %w", column, err)
		}
	}
	return nil
}

// Seed inserts records through the repository.
func (d *DB) Seed(ctx context.Context, records []*Listing) error {
	if len(records) == 0 {
		return nil
	}
	if _, err := d.Repository().CreateMany(ctx, records); err != nil {
		return fmt.Errorf("listings: seed: %w", err)
	}
	d.logger.Infow("seeded listings", "count", len(records))
	return nil
}

// Count returns how many listings are stored.
func (d *DB) Count(ctx context.Context) (int, error) {
	return d.Repository().Count(ctx)
}
