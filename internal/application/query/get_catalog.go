package query

import (
	"context"

	"github.com/Xeideverme/galpao/internal/domain/achievement"
	"github.com/Xeideverme/galpao/internal/domain/progress"
	"github.com/Xeideverme/galpao/internal/domain/shared"
)

// GetCatalogQuery filters the catalog. Empty strings match everything.
type GetCatalogQuery struct {
	Category        string
	Rarity          string
	VisibleOnly     bool
	IncludeInactive bool
}

// GetCatalogHandler lists achievement definitions.
type GetCatalogHandler struct {
	repo achievement.Repository
}

// NewGetCatalogHandler creates a GetCatalogHandler.
func NewGetCatalogHandler(repo achievement.Repository) *GetCatalogHandler {
	return &GetCatalogHandler{repo: repo}
}

func (h *GetCatalogHandler) Handle(ctx context.Context, q GetCatalogQuery) ([]*achievement.Definition, error) {
	f := achievement.Filter{VisibleOnly: q.VisibleOnly, ActiveOnly: !q.IncludeInactive}
	if q.Category != "" {
		c, err := achievement.ParseCategory(q.Category)
		if err != nil {
			return nil, err
		}
		f.Category = c
	}
	if q.Rarity != "" {
		r, err := achievement.ParseRarity(q.Rarity)
		if err != nil {
			return nil, err
		}
		f.Rarity = r
	}
	return h.repo.List(ctx, f)
}

// ══════════════════════════════════════════════════════════════════════════════
// STATISTICS
// ══════════════════════════════════════════════════════════════════════════════

// StatisticsView summarises engine activity.
type StatisticsView struct {
	ActiveAchievements   int     `json:"active_achievements"`
	TotalUnlocks         int64   `json:"total_unlocks"`
	ParticipatingMembers int64   `json:"participating_members"`
	AveragePoints        float64 `json:"average_points"`
}

// GetStatisticsHandler computes StatisticsView.
type GetStatisticsHandler struct {
	catalog achievement.Repository
	unlocks achievement.UnlockRepository
	ledger  progress.Repository
}

// NewGetStatisticsHandler creates a GetStatisticsHandler.
func NewGetStatisticsHandler(catalog achievement.Repository, unlocks achievement.UnlockRepository, ledger progress.Repository) *GetStatisticsHandler {
	return &GetStatisticsHandler{catalog: catalog, unlocks: unlocks, ledger: ledger}
}

func (h *GetStatisticsHandler) Handle(ctx context.Context) (*StatisticsView, error) {
	defs, err := h.catalog.List(ctx, achievement.Filter{ActiveOnly: true})
	if err != nil {
		return nil, wrapUnavailable("list catalog", err)
	}
	total, err := h.unlocks.CountAll(ctx)
	if err != nil {
		return nil, wrapUnavailable("count unlocks", err)
	}
	part, err := h.ledger.Participation(ctx)
	if err != nil {
		return nil, wrapUnavailable("ledger participation", err)
	}

	view := &StatisticsView{
		ActiveAchievements:   len(defs),
		TotalUnlocks:         total,
		ParticipatingMembers: part.Members,
	}
	if part.Members > 0 {
		avg := float64(part.TotalPoints) / float64(part.Members)
		view.AveragePoints = float64(int64(avg*100+0.5)) / 100
	}
	return view, nil
}

func wrapUnavailable(msg string, err error) error {
	if shared.IsValidation(err) || shared.IsNotFound(err) {
		return err
	}
	return shared.WrapError("statistics", "Get", shared.ErrServiceUnavailable, msg, err)
}
