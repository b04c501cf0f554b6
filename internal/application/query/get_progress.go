// Package query contains read operations following CQRS pattern.
// Queries never modify engine state, with one exception: reading progress
// lazily creates the default ledger.
package query

import (
	"context"
	"errors"
	"time"

	"github.com/Xeideverme/galpao/internal/domain/member"
	"github.com/Xeideverme/galpao/internal/domain/progress"
	"github.com/Xeideverme/galpao/internal/domain/shared"
	"github.com/Xeideverme/galpao/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// ProgressView is the member's ledger as shown to clients.
type ProgressView struct {
	MemberID string `json:"member_id"`
	Name     string `json:"name,omitempty"`

	TotalPoints     int64 `json:"total_points"`
	PointsThisMonth int64 `json:"points_this_month"`
	PointsThisWeek  int64 `json:"points_this_week"`

	Level           int     `json:"level"`
	CurrentXP       int64   `json:"current_xp"`
	XPToNextLevel   int64   `json:"xp_to_next_level"`
	ProgressPercent float64 `json:"progress_percent"`

	UnlockedIDs       []string `json:"unlocked_ids"`
	UnlockedTotal     int      `json:"unlocked_total"`
	UnlockedThisMonth int      `json:"unlocked_this_month"`

	Streak        progress.Streak         `json:"streak"`
	TotalCheckIns int64                   `json:"total_checkins"`
	History       []progress.HistoryEntry `json:"history"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewProgressView renders a ledger. History is newest first.
func NewProgressView(p *progress.MemberProgress, name string) *ProgressView {
	return &ProgressView{
		MemberID:          p.MemberID,
		Name:              name,
		TotalPoints:       p.TotalPoints,
		PointsThisMonth:   p.PointsThisMonth,
		PointsThisWeek:    p.PointsThisWeek,
		Level:             p.Level,
		CurrentXP:         p.CurrentXP,
		XPToNextLevel:     p.XPToNextLevel(),
		ProgressPercent:   p.ProgressPercent(),
		UnlockedIDs:       p.UnlockedIDs,
		UnlockedTotal:     p.UnlockedTotal,
		UnlockedThisMonth: p.UnlockedThisMonth,
		Streak:            p.Streak,
		TotalCheckIns:     p.TotalCheckIns,
		History:           p.RecentHistory(),
		UpdatedAt:         p.UpdatedAt,
	}
}

// GetProgressHandler handles get_progress.
type GetProgressHandler struct {
	members member.Source
	ledger  progress.Repository
	log     *logger.Logger
}

// NewGetProgressHandler creates a GetProgressHandler.
func NewGetProgressHandler(members member.Source, ledger progress.Repository, log *logger.Logger) *GetProgressHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &GetProgressHandler{members: members, ledger: ledger, log: log.With(logger.Component("get_progress"))}
}

// Handle returns the member's ledger, creating the default one if absent.
// Unknown members are not-found; an unreachable member source only drops
// the display name.
func (h *GetProgressHandler) Handle(ctx context.Context, memberID string) (*ProgressView, error) {
	id, err := shared.NewMemberID(memberID)
	if err != nil {
		return nil, err
	}

	name := ""
	m, err := h.members.GetMember(ctx, id.String())
	switch {
	case err == nil:
		name = m.Name
	case errors.Is(err, shared.ErrNotFound):
		return nil, shared.ErrMemberNotFound
	default:
		h.log.Warn("member lookup failed", logger.MemberID(id.String()), logger.Err(err))
	}

	p, err := h.ledger.GetOrCreate(ctx, id.String())
	if err != nil {
		return nil, shared.WrapError("progress", "Get", shared.ErrServiceUnavailable, "load ledger", err)
	}
	return NewProgressView(p, name), nil
}
