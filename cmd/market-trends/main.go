package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/goliatone/go-market-trends/internal/listings"
	"github.com/goliatone/go-market-trends/pkg/config"
	"github.com/goliatone/go-market-trends/pkg/di"
)

const (
	limiterSweepInterval = time.Minute
	limiterIdleTimeout   = 10 * time.Minute
	storePruneInterval   = 5 * time.Minute
)

func main() {
	configPath := flag.String("config", os.Getenv("MARKET_TRENDS_CONFIG"), "path to a YAML config file")
	seedPerLocation := flag.Int("seed", 0, "seed N sample listings per location when the table is empty")
	flag.Parse()

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	if err := run(*configPath, *seedPerLocation); err != nil {
		fmt.Fprintf(os.Stderr, "market-trends: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, seedPerLocation int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := di.NewContainer(ctx, cfg)
	if err != nil {
		return err
	}
	defer container.Close()

	logger := container.Logger()

	if err := container.DB().Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if seedPerLocation > 0 {
		if err := seed(ctx, container, seedPerLocation); err != nil {
			return err
		}
	}

	go container.RateLimiter().Run(ctx, limiterSweepInterval, limiterIdleTimeout)
	go container.Store().Run(ctx, storePruneInterval)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           container.Handler().Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Infow("http server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Infow("shutting down", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server exited")
	return nil
}

func seed(ctx context.Context, container *di.Container, perLocation int) error {
	logger := container.Logger()
	count, err := container.DB().Count(ctx)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	if count > 0 {
		logger.Infow("skipping seed, listings present", "count", count)
		return nil
	}

	records := listings.SampleListings(listings.DefaultSeedLocations, perLocation, time.Now().UTC(), uint64(time.Now().UnixNano()))
	if err := container.DB().Seed(ctx, records); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	logger.Infow("seeded sample listings", "count", len(records))
	return nil
}
