package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"mirror/internal/adapter/cache"
	"mirror/internal/adapter/repo"
	"mirror/internal/infra"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()
	runner := infra.NewSQLRunner(pool, infra.Component(logger, "sql"))
	jobRepo := repo.NewJobRepository(runner)

	w := &sweeper{
		jobs:       jobRepo,
		retention:  cfg.JobRetention,
		staleAfter: cfg.JobStaleAfter,
		interval:   cfg.SweepInterval,
		logger:     infra.Component(logger, "sweeper"),
	}

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("worker: redis unavailable, cached statuses expire by ttl only")
	} else if rdb != nil {
		defer rdb.Close()
		w.cache = cache.NewJobStore(jobRepo, rdb, cfg.JobCacheTTL, infra.Component(logger, "job_cache"))
	}

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}
