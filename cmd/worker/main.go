package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"itera/internal/infra"
	"itera/internal/jobstore"
)

// purger is the part of the Postgres job store the sweeper drives.
type purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type sweeper struct {
	store    purger
	interval time.Duration
	logger   infra.Logger
}

func main() {
	_ = godotenv.Load()
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	if cfg.JobStore != infra.JobStorePostgres {
		// Redis expires keys itself and the memory store dies with the API.
		logger.Info().Str("job_store", cfg.JobStore).Msg("worker: nothing to sweep")
		return
	}
	if cfg.JobTTL <= 0 {
		logger.Info().Msg("worker: JOB_TTL unset, jobs never expire")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	store := jobstore.NewPostgres(infra.NewSQLRunner(pool, logger), cfg.JobTTL)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker: schema check failed")
	}

	w := &sweeper{store: store, interval: cfg.SweepInterval, logger: logger}
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

// Run sweeps once immediately, then every interval until ctx is done.
func (w *sweeper) Run(ctx context.Context) error {
	w.logger.Info().Dur("interval", w.interval).Msg("worker: started")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		w.sweep(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *sweeper) sweep(ctx context.Context) {
	n, err := w.store.PurgeExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("worker: purge failed")
		}
		return
	}
	if n > 0 {
		w.logger.Info().Int64("purged", n).Msg("worker: expired jobs removed")
	}
}
