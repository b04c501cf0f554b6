package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Xeideverme/galpao/internal/domain/leaderboard"
)

// Ranker computes rankings from the store.
type Ranker interface {
	Rank(ctx context.Context, period leaderboard.Period, limit int) ([]leaderboard.Row, error)
}

// WarmLeaderboardJob recomputes every period's ranking and stores it in the
// cache so the first reader after an invalidation does not pay for it.
type WarmLeaderboardJob struct {
	ranker Ranker
	cache  leaderboard.Cache
	limits []int
	logger *slog.Logger
}

// NewWarmLeaderboardJob creates the job. limits are the page sizes to warm;
// empty means the default page size only.
func NewWarmLeaderboardJob(ranker Ranker, cache leaderboard.Cache, limits []int, logger *slog.Logger) *WarmLeaderboardJob {
	if logger == nil {
		logger = slog.Default()
	}
	if len(limits) == 0 {
		limits = []int{leaderboard.DefaultLimit}
	}
	clamped := make([]int, len(limits))
	for i, l := range limits {
		clamped[i] = leaderboard.ClampLimit(l)
	}
	return &WarmLeaderboardJob{
		ranker: ranker,
		cache:  cache,
		limits: clamped,
		logger: logger.With("job", "warm_leaderboard"),
	}
}

// Name returns the job name.
func (j *WarmLeaderboardJob) Name() string {
	return "warm_leaderboard"
}

// Description returns a human-readable description.
func (j *WarmLeaderboardJob) Description() string {
	return "Rebuilds cached rankings for every leaderboard period"
}

// Run executes the warm-up. Each period is independent.
func (j *WarmLeaderboardJob) Run(ctx context.Context) error {
	var errs []error
	warmed := 0
	for _, period := range leaderboard.AllPeriods {
		for _, limit := range j.limits {
			rows, err := j.ranker.Rank(ctx, period, limit)
			if err != nil {
				errs = append(errs, fmt.Errorf("rank %s/%d: %w", period, limit, err))
				continue
			}
			if err := j.cache.Set(ctx, period, limit, rows); err != nil {
				errs = append(errs, fmt.Errorf("cache %s/%d: %w", period, limit, err))
				continue
			}
			warmed++
		}
	}
	j.logger.Debug("leaderboard warmed", "entries", warmed, "failures", len(errs))
	return errors.Join(errs...)
}
