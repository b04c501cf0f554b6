package query

import (
	"context"
	"time"

	"github.com/Xeideverme/galpao/internal/domain/leaderboard"
	"github.com/Xeideverme/galpao/internal/domain/member"
	"github.com/Xeideverme/galpao/internal/domain/shared"
	"github.com/Xeideverme/galpao/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Ranks ledgers by the selected period counter and joins display names.
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboardQuery selects the period and page size.
type GetLeaderboardQuery struct {
	Period string
	Limit  int
}

// LeaderboardView is the ranked result.
type LeaderboardView struct {
	Period      leaderboard.Period `json:"period"`
	Rows        []leaderboard.Row  `json:"rows"`
	Cached      bool               `json:"cached"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// GetLeaderboardHandler handles leaderboard queries.
type GetLeaderboardHandler struct {
	repo    leaderboard.Repository
	members member.Source
	cache   leaderboard.Cache
	now     shared.Clock
	log     *logger.Logger
}

// NewGetLeaderboardHandler creates a handler. cache may be nil.
func NewGetLeaderboardHandler(repo leaderboard.Repository, members member.Source, cache leaderboard.Cache, clock shared.Clock, log *logger.Logger) *GetLeaderboardHandler {
	if clock == nil {
		clock = shared.SystemClock
	}
	if log == nil {
		log = logger.Nop()
	}
	return &GetLeaderboardHandler{
		repo:    repo,
		members: members,
		cache:   cache,
		now:     clock,
		log:     log.With(logger.Component("leaderboard")),
	}
}

// Handle returns the ranking. Rows whose member record has disappeared are
// dropped; the store is over-read so the page can still be filled.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, q GetLeaderboardQuery) (*LeaderboardView, error) {
	period, err := leaderboard.ParsePeriod(q.Period)
	if err != nil {
		return nil, err
	}
	limit := leaderboard.ClampLimit(q.Limit)

	if h.cache != nil {
		rows, ok, err := h.cache.Get(ctx, period, limit)
		if err != nil {
			h.log.Warn("leaderboard cache read failed", logger.Period(string(period)), logger.Err(err))
		} else if ok {
			return &LeaderboardView{Period: period, Rows: rows, Cached: true, GeneratedAt: h.now()}, nil
		}
	}

	rows, err := h.Rank(ctx, period, limit)
	if err != nil {
		return nil, err
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, period, limit, rows); err != nil {
			h.log.Warn("leaderboard cache write failed", logger.Period(string(period)), logger.Err(err))
		}
	}
	return &LeaderboardView{Period: period, Rows: rows, GeneratedAt: h.now()}, nil
}

// Rank computes rows straight from the store, bypassing the cache.
func (h *GetLeaderboardHandler) Rank(ctx context.Context, period leaderboard.Period, limit int) ([]leaderboard.Row, error) {
	standings, err := h.repo.Standings(ctx, period, overRead(limit))
	if err != nil {
		return nil, shared.WrapError("leaderboard", "Rank", shared.ErrServiceUnavailable, "read standings", err)
	}

	ids := make([]string, len(standings))
	for i, s := range standings {
		ids[i] = s.MemberID
	}
	names, err := h.members.DisplayNames(ctx, ids)
	if err != nil {
		return nil, err
	}

	rows := leaderboard.Join(standings, names)
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func overRead(limit int) int {
	return limit + limit/2 + 5
}
