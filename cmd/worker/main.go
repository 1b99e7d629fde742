// Command worker runs the periodic maintenance jobs: achievement grant
// reconciliation and leaderboard cache warm-up.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alem-hub/learning-progress/config"
	"github.com/alem-hub/learning-progress/internal/bootstrap"
	"github.com/alem-hub/learning-progress/internal/infrastructure/scheduler"
	"github.com/alem-hub/learning-progress/internal/infrastructure/scheduler/jobs"
	"github.com/alem-hub/learning-progress/pkg/logger"
	"github.com/alem-hub/learning-progress/pkg/timeutil"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := bootstrap.NewLogger(cfg)
	defer func() { _ = log.Sync() }()

	if !cfg.Scheduler.Enabled {
		log.Info("scheduler disabled, exiting")
		return nil
	}

	rt, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open runtime: %w", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Error("runtime close failed", logger.Err(err))
		}
	}()

	sched := scheduler.New(scheduler.Config{
		Logger:     log,
		Location:   cfg.App.Location,
		JobTimeout: cfg.Scheduler.JobTimeout,
	})

	if cfg.Features.IsEnabled(config.FeatureWorkerReconcile) {
		job := jobs.NewReconcileGrantsJob(rt.App.ReconcileGrants, cfg.Scheduler.ReconcileBatch)
		if err := sched.Register(cfg.Scheduler.ReconcileSchedule, job); err != nil {
			return err
		}
	}
	if cfg.Features.IsEnabled(config.FeatureWorkerWarmBoards) && rt.Cache != nil {
		job := jobs.NewWarmLeaderboardsJob(rt.App.Leaderboard, timeutil.SystemClock{})
		if err := sched.Register(cfg.Scheduler.WarmSchedule, job); err != nil {
			return err
		}
	}

	if len(sched.Jobs()) == 0 {
		log.Warn("no jobs enabled, exiting")
		return nil
	}

	sched.Start()
	log.Info("worker started", logger.String("env", string(cfg.App.Environment)))

	<-ctx.Done()
	log.Info("shutdown signal received")

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := sched.Stop(stopCtx); err != nil {
		return fmt.Errorf("scheduler stop: %w", err)
	}
	log.Info("worker stopped")
	return nil
}
