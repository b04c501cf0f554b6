// Package jobs contains the engine's scheduled jobs.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Xeideverme/galpao/internal/domain/achievement"
	"github.com/Xeideverme/galpao/internal/domain/progress"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE LEDGER JOB
// ══════════════════════════════════════════════════════════════════════════════

// ReconcileLedgerJob repairs drift between unlock records and ledgers. An
// unlock whose grant failed after insertion is granted again; an id in the
// unlocked set without a record is dropped; the level is recomputed.
type ReconcileLedgerJob struct {
	ledger  progress.Repository
	unlocks achievement.UnlockRepository
	logger  *slog.Logger
	config  ReconcileLedgerConfig

	lastStats atomic.Pointer[ReconcileStats]
}

// ReconcileLedgerConfig contains configuration for the reconcile job.
type ReconcileLedgerConfig struct {
	// PageSize is how many member ids are read per page.
	PageSize int

	// Enabled is consulted on every run; nil means always on.
	Enabled func() bool
}

// DefaultReconcileLedgerConfig returns sensible defaults.
func DefaultReconcileLedgerConfig() ReconcileLedgerConfig {
	return ReconcileLedgerConfig{PageSize: 200}
}

// ReconcileStats contains statistics from a reconcile run.
type ReconcileStats struct {
	StartedAt      time.Time
	CompletedAt    time.Time
	MembersScanned int
	GrantsRepaired int
	OrphansRemoved int
	LevelsRaised   int
	Failures       int
	Skipped        bool
}

// NewReconcileLedgerJob creates a new reconcile job.
func NewReconcileLedgerJob(
	ledger progress.Repository,
	unlocks achievement.UnlockRepository,
	logger *slog.Logger,
	config ReconcileLedgerConfig,
) *ReconcileLedgerJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.PageSize <= 0 {
		config.PageSize = 200
	}
	return &ReconcileLedgerJob{
		ledger:  ledger,
		unlocks: unlocks,
		logger:  logger.With("job", "reconcile_ledger"),
		config:  config,
	}
}

// Name returns the job name.
func (j *ReconcileLedgerJob) Name() string {
	return "reconcile_ledger"
}

// Description returns a human-readable description.
func (j *ReconcileLedgerJob) Description() string {
	return "Re-applies missing achievement grants and drops orphaned unlocked ids"
}

// LastStats returns the statistics of the last completed run, or nil.
func (j *ReconcileLedgerJob) LastStats() *ReconcileStats {
	return j.lastStats.Load()
}

// Run executes the reconcile job. A failing member does not stop the run;
// the returned error reports how many failed.
func (j *ReconcileLedgerJob) Run(ctx context.Context) error {
	stats := &ReconcileStats{StartedAt: time.Now()}
	defer func() {
		stats.CompletedAt = time.Now()
		j.lastStats.Store(stats)
	}()

	if j.config.Enabled != nil && !j.config.Enabled() {
		stats.Skipped = true
		j.logger.Debug("reconciliation disabled")
		return nil
	}

	var firstErr error
	after := ""
	for {
		ids, err := j.ledger.ListMemberIDs(ctx, after, j.config.PageSize)
		if err != nil {
			return fmt.Errorf("list members after %q: %w", after, err)
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			stats.MembersScanned++
			if err := j.reconcileMember(ctx, id, stats); err != nil {
				stats.Failures++
				if firstErr == nil {
					firstErr = err
				}
				j.logger.Warn("member reconciliation failed", "member_id", id, "error", err)
			}
		}
		if len(ids) < j.config.PageSize {
			break
		}
		after = ids[len(ids)-1]
	}

	j.logger.Info("reconciliation finished",
		"members", stats.MembersScanned,
		"grants_repaired", stats.GrantsRepaired,
		"orphans_removed", stats.OrphansRemoved,
		"levels_raised", stats.LevelsRaised,
		"failures", stats.Failures,
	)
	if firstErr != nil {
		return fmt.Errorf("%d members failed: %w", stats.Failures, firstErr)
	}
	return nil
}

func (j *ReconcileLedgerJob) reconcileMember(ctx context.Context, memberID string, stats *ReconcileStats) error {
	p, err := j.ledger.Get(ctx, memberID)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	records, err := j.unlocks.ListByMember(ctx, memberID)
	if err != nil {
		return fmt.Errorf("list unlocks: %w", err)
	}

	held := p.UnlockedSet()
	recorded := make(map[string]struct{}, len(records))
	level, xp := p.Level, p.CurrentXP

	for _, u := range records {
		recorded[u.AchievementID] = struct{}{}
		if _, ok := held[u.AchievementID]; ok {
			continue
		}
		b, granted, err := j.ledger.GrantAchievement(ctx, memberID, progress.Reward{
			Points:        u.Points,
			XP:            u.XP,
			Reason:        "achievement:" + u.AchievementID,
			AchievementID: u.AchievementID,
			At:            u.UnlockedAt,
		})
		if err != nil {
			return fmt.Errorf("grant %s: %w", u.AchievementID, err)
		}
		level, xp = b.Level, b.CurrentXP
		if granted {
			stats.GrantsRepaired++
			j.logger.Info("missing grant applied", "member_id", memberID, "achievement_id", u.AchievementID)
		}
	}

	var errs []error
	for _, id := range p.UnlockedIDs {
		if _, ok := recorded[id]; ok {
			continue
		}
		removed, err := j.ledger.RemoveUnlocked(ctx, memberID, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", id, err))
			continue
		}
		if removed {
			stats.OrphansRemoved++
			j.logger.Info("orphaned unlocked id removed", "member_id", memberID, "achievement_id", id)
		}
	}

	if target := progress.LevelForXP(level, xp); target > level {
		if err := j.ledger.RaiseLevel(ctx, memberID, target); err != nil {
			errs = append(errs, fmt.Errorf("raise level: %w", err))
		} else {
			stats.LevelsRaised++
		}
	}
	return errors.Join(errs...)
}
