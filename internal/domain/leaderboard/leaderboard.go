// Package leaderboard is the read side ranking over member ledgers.
package leaderboard

import (
	"context"
	"strings"
	"time"

	"github.com/Xeideverme/galpao/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PERIOD
// ══════════════════════════════════════════════════════════════════════════════

// Period selects the point counter a ranking sorts by.
type Period string

const (
	PeriodAllTime   Period = "all_time"
	PeriodThisMonth Period = "this_month"
	PeriodThisWeek  Period = "this_week"
)

// AllPeriods in display order.
var AllPeriods = []Period{PeriodAllTime, PeriodThisMonth, PeriodThisWeek}

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// ParsePeriod accepts canonical names and the Portuguese query values
// geral, mensal and semanal. Empty means all-time.
func ParsePeriod(s string) (Period, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(PeriodAllTime), "geral", "all-time":
		return PeriodAllTime, nil
	case string(PeriodThisMonth), "mensal", "this-month", "month":
		return PeriodThisMonth, nil
	case string(PeriodThisWeek), "semanal", "this-week", "week":
		return PeriodThisWeek, nil
	default:
		return "", shared.ErrInvalidPeriod
	}
}

// ClampLimit keeps limit within [1, MaxLimit], defaulting non-positive values.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ROWS
// ══════════════════════════════════════════════════════════════════════════════

// Standing is one ledger's position before display data is joined.
type Standing struct {
	MemberID      string
	Points        int64
	Level         int
	UnlockedTotal int
	CreatedAt     time.Time
}

// Row is a ranked, display-ready entry.
type Row struct {
	Position      int    `json:"position"`
	MemberID      string `json:"member_id"`
	Name          string `json:"name"`
	Level         int    `json:"level"`
	Points        int64  `json:"points"`
	UnlockedTotal int    `json:"unlocked_total"`
}

// Less is the ranking order: points descending, then ledger creation, then
// member id.
func Less(a, b Standing) bool {
	if a.Points != b.Points {
		return a.Points > b.Points
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.MemberID < b.MemberID
}

// Join attaches display names and assigns positions. Standings whose member
// no longer exists are dropped and do not consume a position.
func Join(standings []Standing, names map[string]string) []Row {
	rows := make([]Row, 0, len(standings))
	for _, s := range standings {
		name, ok := names[s.MemberID]
		if !ok {
			continue
		}
		rows = append(rows, Row{
			Position:      len(rows) + 1,
			MemberID:      s.MemberID,
			Name:          name,
			Level:         s.Level,
			Points:        s.Points,
			UnlockedTotal: s.UnlockedTotal,
		})
	}
	return rows
}

// Repository reads standings from the ledger store. Only members with
// positive points in the period are returned, in Less order.
type Repository interface {
	Standings(ctx context.Context, period Period, limit int) ([]Standing, error)
}

// Cache stores rendered rankings. Misses return ok=false.
type Cache interface {
	Get(ctx context.Context, period Period, limit int) (rows []Row, ok bool, err error)
	Set(ctx context.Context, period Period, limit int, rows []Row) error
	Invalidate(ctx context.Context) error
}
