// Package main is the entry point of the background worker.
//
// The worker runs ledger reconciliation on a cron schedule and keeps the
// ranking cache warm. With -once it runs a single job and exits, which is
// how operators trigger a repair by hand.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Xeideverme/galpao/config"
	"github.com/Xeideverme/galpao/internal/bootstrap"
	"github.com/Xeideverme/galpao/internal/infrastructure/scheduler"
	"github.com/Xeideverme/galpao/pkg/logger"
)

func main() {
	once := flag.String("once", "", "run a single job and exit: reconcile or warm")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, *once); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, once string) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION & LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := bootstrap.NewLogger(cfg).With(logger.Component("worker"))
	log.Info("starting gamification worker",
		logger.String("version", cfg.App.Version),
		logger.String("timezone", cfg.App.Timezone),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. BACKENDS & JOBS
	// ─────────────────────────────────────────────────────────────────────────
	c, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	jobs := c.NewJobs()

	if once != "" {
		return runOnce(ctx, log, jobs, once)
	}

	if !cfg.Scheduler.Enabled {
		log.Warn("scheduler disabled; nothing to do")
		return nil
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	sched, err := c.NewScheduler(jobs)
	if err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	for _, j := range sched.ListJobs() {
		log.Info("job scheduled",
			logger.String("job", j.Name),
			logger.String("schedule", j.Schedule),
			logger.Time("next_run", j.NextRun),
		)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("received shutdown signal", logger.String("signal", sig.String()))

	if err := sched.Stop(); err != nil {
		log.Error("failed to stop scheduler gracefully", logger.Err(err))
		return err
	}
	log.Info("shutdown completed successfully")
	return nil
}

func runOnce(ctx context.Context, log *logger.Logger, jobs bootstrap.Jobs, name string) error {
	var job scheduler.Job
	switch name {
	case "reconcile":
		job = jobs.Reconcile
	case "warm":
		if jobs.Warm == nil {
			return fmt.Errorf("warm needs redis")
		}
		job = jobs.Warm
	default:
		return fmt.Errorf("unknown job %q (want reconcile or warm)", name)
	}

	log.Info("running job once", logger.String("job", job.Name()))
	if err := job.Run(ctx); err != nil {
		return fmt.Errorf("%s: %w", job.Name(), err)
	}
	if name == "reconcile" {
		if st := jobs.Reconcile.LastStats(); st != nil {
			log.Info("reconcile finished",
				logger.Int("members", st.MembersScanned),
				logger.Int("grants_repaired", st.GrantsRepaired),
				logger.Int("orphans_removed", st.OrphansRemoved),
				logger.Int("levels_raised", st.LevelsRaised),
			)
		}
	}
	return nil
}
