package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Xeideverme/galpao/internal/domain/leaderboard"
	"github.com/Xeideverme/galpao/internal/domain/shared"
)

// LeaderboardRepository implements leaderboard.Repository straight off the
// ledger table. Reads are unsynchronised with writers.
type LeaderboardRepository struct {
	conn *Connection
}

// NewLeaderboardRepository creates a new LeaderboardRepository.
func NewLeaderboardRepository(conn *Connection) *LeaderboardRepository {
	return &LeaderboardRepository{conn: conn}
}

var _ leaderboard.Repository = (*LeaderboardRepository)(nil)

// periodColumn is a fixed whitelist; the result is interpolated into SQL.
func periodColumn(p leaderboard.Period) (string, error) {
	switch p {
	case leaderboard.PeriodAllTime:
		return "total_points", nil
	case leaderboard.PeriodThisMonth:
		return "points_this_month", nil
	case leaderboard.PeriodThisWeek:
		return "points_this_week", nil
	default:
		return "", shared.ErrInvalidPeriod
	}
}

// Standings returns members with points in the period, ordered by points
// descending, then ledger creation, then member id.
func (r *LeaderboardRepository) Standings(ctx context.Context, period leaderboard.Period, limit int) ([]leaderboard.Standing, error) {
	col, err := periodColumn(period)
	if err != nil {
		return nil, err
	}
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT member_id, %[1]s, level, unlocked_total, created_at
		FROM member_progress
		WHERE %[1]s > 0
		ORDER BY %[1]s DESC, created_at ASC, member_id ASC
		LIMIT $1`, col)

	rows, err := r.conn.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, classify("leaderboard", "Standings", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (leaderboard.Standing, error) {
		var s leaderboard.Standing
		err := row.Scan(&s.MemberID, &s.Points, &s.Level, &s.UnlockedTotal, &s.CreatedAt)
		return s, err
	})
	if err != nil {
		return nil, classify("leaderboard", "Standings", err)
	}
	return out, nil
}
