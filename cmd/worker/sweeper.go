package main

import (
	"context"
	"time"

	"mirror/internal/adapter/repo"
	"mirror/internal/infra"
)

// abandonedReason is recorded on jobs whose processor went away mid-run.
const abandonedReason = "abandoned: processing did not finish"

type sweepStore interface {
	Sweep(ctx context.Context, retainUntil, staleBefore time.Time, reason string) (repo.SweepResult, error)
}

type invalidator interface {
	Invalidate(ctx context.Context, ids ...string)
}

// sweeper expires old jobs and fails jobs stuck in queued or running.
type sweeper struct {
	jobs       sweepStore
	cache      invalidator
	retention  time.Duration
	staleAfter time.Duration
	interval   time.Duration
	logger     infra.Logger
	now        func() time.Time
}

func (w *sweeper) Run(ctx context.Context) error {
	interval := w.interval
	if interval <= 0 {
		interval = time.Minute
	}
	w.logger.Info().
		Dur("interval", interval).
		Dur("retention", w.retention).
		Dur("stale_after", w.staleAfter).
		Msg("worker: started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		w.sweepOnce(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *sweeper) sweepOnce(ctx context.Context) {
	now := time.Now()
	if w.now != nil {
		now = w.now()
	}
	res, err := w.jobs.Sweep(ctx, now.Add(-w.retention), now.Add(-w.staleAfter), abandonedReason)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("worker: sweep failed")
		}
		return
	}
	if len(res.Failed) > 0 && w.cache != nil {
		w.cache.Invalidate(ctx, res.Failed...)
	}
	if res.Deleted > 0 || len(res.Failed) > 0 {
		w.logger.Info().
			Int64("deleted", res.Deleted).
			Int("abandoned", len(res.Failed)).
			Msg("worker: swept jobs")
	}
}
