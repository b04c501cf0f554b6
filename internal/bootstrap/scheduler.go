package bootstrap

import (
	"fmt"
	"os"

	"github.com/Xeideverme/galpao/config"
	"github.com/Xeideverme/galpao/internal/infrastructure/scheduler"
	"github.com/Xeideverme/galpao/internal/infrastructure/scheduler/jobs"
	"github.com/Xeideverme/galpao/pkg/logger"
)

// Jobs are the background jobs the worker runs.
type Jobs struct {
	Reconcile *jobs.ReconcileLedgerJob
	// Warm is nil without a ranking cache.
	Warm *jobs.WarmLeaderboardJob
}

// NewJobs builds the worker jobs over the container's stores.
func (c *Container) NewJobs() Jobs {
	cfg := jobs.DefaultReconcileLedgerConfig()
	cfg.Enabled = c.Config.Features.Toggle(config.FeatureLedgerReconciliation)

	j := Jobs{
		Reconcile: jobs.NewReconcileLedgerJob(c.Ledger, c.Unlocks, c.Logger.Slog(), cfg),
	}
	if c.LeaderboardCache != nil {
		j.Warm = jobs.NewWarmLeaderboardJob(
			c.GetLeaderboard,
			c.LeaderboardCache,
			c.Config.Gamification.WarmLimits,
			c.Logger.Slog(),
		)
	}
	return j
}

// NewScheduler creates a scheduler with the worker jobs registered. With
// Redis available, every run takes a cluster-wide lock so replicas of the
// worker do not repeat each other's work.
func (c *Container) NewScheduler(j Jobs) (*scheduler.Scheduler, error) {
	sc := scheduler.DefaultSchedulerConfig()
	sc.Logger = c.Logger.Slog()
	sc.Timezone = c.Config.App.Location
	sc.JobTimeout = c.Config.Scheduler.JobTimeout

	if c.Redis != nil {
		host, _ := os.Hostname()
		owner := fmt.Sprintf("%s-%d", host, os.Getpid())
		sc.Locker = scheduler.NewLocker(c.Redis, owner, c.Config.Scheduler.LockTTL)
	} else {
		c.Logger.Warn("no distributed job lock; run a single worker replica", logger.Err(errNoRedis))
	}

	s, err := scheduler.NewScheduler(sc)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	if err := s.Register(j.Reconcile, scheduler.Cron(c.Config.Scheduler.ReconcileCron)); err != nil {
		return nil, err
	}
	if j.Warm != nil && c.Config.Scheduler.WarmLeaderboardInterval > 0 {
		if err := s.Register(j.Warm, scheduler.Every(c.Config.Scheduler.WarmLeaderboardInterval)); err != nil {
			return nil, err
		}
	}
	return s, nil
}
