package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/davidkvd/nomnom-studio/internal/batch"
	"github.com/davidkvd/nomnom-studio/internal/bootstrap"
	"github.com/davidkvd/nomnom-studio/internal/infra"
)

// sweeper picks up batches whose fire-and-continue dispatch never ran and
// reclaims the charge of submissions that died while ingesting.
type sweeper struct {
	orch           *batch.Orchestrator
	logger         zerolog.Logger
	interval       time.Duration
	staleAfter     time.Duration
	abandonedAfter time.Duration
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !cfg.UsesDatabase() {
		logger.Fatal().Msg("worker: DATABASE_URL is required, queued batches live in PostgreSQL")
	}
	svc, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: bootstrap failed")
	}
	defer svc.Close()

	w := &sweeper{
		orch:           svc.Orchestrator,
		logger:         logger,
		interval:       cfg.SweepInterval,
		staleAfter:     cfg.StaleBatchAfter,
		abandonedAfter: cfg.AbandonedIngestAfter,
	}
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

func (w *sweeper) Run(ctx context.Context) error {
	w.logger.Info().Dur("stale_after", w.staleAfter).Dur("interval", w.interval).Msg("worker: started")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		picked, err := w.orch.Sweep(ctx, time.Now().Add(-w.staleAfter))
		if err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error().Err(err).Msg("worker: sweep failed")
		}
		if picked > 0 {
			w.logger.Info().Int("batches", picked).Msg("worker: sweep finished")
		}
		reclaimed, err := w.orch.ReclaimAbandoned(ctx, time.Now().Add(-w.abandonedAfter))
		if err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error().Err(err).Msg("worker: reclaim failed")
		}
		if reclaimed > 0 {
			w.logger.Info().Int("batches", reclaimed).Msg("worker: reclaimed abandoned batches")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
