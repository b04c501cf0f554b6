package command

import (
	"context"
	"errors"
	"strings"

	"github.com/Xeideverme/galpao/internal/application/saga"
	"github.com/Xeideverme/galpao/internal/domain/achievement"
	"github.com/Xeideverme/galpao/internal/domain/member"
	"github.com/Xeideverme/galpao/internal/domain/progress"
	"github.com/Xeideverme/galpao/internal/domain/shared"
	"github.com/Xeideverme/galpao/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GRANT ACHIEVEMENT COMMANDS
// The only way into secret-code achievements, plus manual admin grants.
// Both go through the same insert-if-absent path as automatic unlocks.
// ══════════════════════════════════════════════════════════════════════════════

// GrantAchievementCommand grants one achievement by id.
type GrantAchievementCommand struct {
	MemberID      string
	AchievementID string
}

// Validate validates the command.
func (c GrantAchievementCommand) Validate() error {
	if _, err := shared.NewMemberID(c.MemberID); err != nil {
		return err
	}
	if strings.TrimSpace(c.AchievementID) == "" {
		return shared.NewDomainError("achievement", "Grant", shared.ErrInvalidID, "achievement id is required")
	}
	return nil
}

// RedeemCodeCommand redeems a secret code for a member.
type RedeemCodeCommand struct {
	MemberID string
	Code     string
}

// GrantAchievementResult lists what the command granted. Granting something
// the member already has yields an empty Unlocked list.
type GrantAchievementResult struct {
	MemberID string
	Unlocked []*achievement.Unlock
	Level    int
}

// GrantHandler handles explicit grants.
type GrantHandler struct {
	catalog       achievement.Repository
	members       member.Source
	ledger        progress.Repository
	flow          *saga.UnlockFlowSaga
	redeemEnabled func() bool
	log           *logger.Logger
}

// GrantHandlerDeps groups the GrantHandler dependencies.
type GrantHandlerDeps struct {
	Catalog       achievement.Repository
	Members       member.Source
	Ledger        progress.Repository
	Flow          *saga.UnlockFlowSaga
	RedeemEnabled func() bool
	Logger        *logger.Logger
}

// NewGrantHandler creates a GrantHandler.
func NewGrantHandler(d GrantHandlerDeps) *GrantHandler {
	log := d.Logger
	if log == nil {
		log = logger.Nop()
	}
	enabled := d.RedeemEnabled
	if enabled == nil {
		enabled = func() bool { return true }
	}
	return &GrantHandler{
		catalog:       d.Catalog,
		members:       d.Members,
		ledger:        d.Ledger,
		flow:          d.Flow,
		redeemEnabled: enabled,
		log:           log.With(logger.Component("grant")),
	}
}

// Grant unlocks an achievement for a member regardless of its rule, level
// gate or prerequisites.
func (h *GrantHandler) Grant(ctx context.Context, cmd GrantAchievementCommand) (*GrantAchievementResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	if err := h.requireMember(ctx, cmd.MemberID); err != nil {
		return nil, err
	}
	def, err := h.catalog.GetByID(ctx, cmd.AchievementID)
	if err != nil {
		return nil, err
	}

	res, err := h.flow.Grant(ctx, cmd.MemberID, def, achievement.SourceManual)
	if err != nil {
		return nil, err
	}
	out := &GrantAchievementResult{MemberID: cmd.MemberID, Unlocked: []*achievement.Unlock{}, Level: res.LevelAfter}
	if res.Granted {
		out.Unlocked = append(out.Unlocked, res.Unlock)
		h.log.Info("manual grant", logger.MemberID(cmd.MemberID), logger.AchievementID(def.ID))
	}
	return out, nil
}

// RedeemCode grants every active secret-code achievement the code matches.
// Level gates and prerequisites still apply. A code that matches nothing is
// ErrInvalidSecretCode.
func (h *GrantHandler) RedeemCode(ctx context.Context, cmd RedeemCodeCommand) (*GrantAchievementResult, error) {
	if !h.redeemEnabled() {
		return nil, shared.ErrRedeemDisabled
	}
	if _, err := shared.NewMemberID(cmd.MemberID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cmd.Code) == "" {
		return nil, shared.ErrInvalidSecretCode
	}
	if err := h.requireMember(ctx, cmd.MemberID); err != nil {
		return nil, err
	}

	defs, err := h.catalog.List(ctx, achievement.Filter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	var matched []*achievement.Definition
	for _, def := range defs {
		if def.Rule.MatchesCode(cmd.Code) {
			matched = append(matched, def)
		}
	}
	if len(matched) == 0 {
		h.log.Info("secret code did not match", logger.MemberID(cmd.MemberID))
		return nil, shared.ErrInvalidSecretCode
	}

	p, err := h.ledger.GetOrCreate(ctx, cmd.MemberID)
	if err != nil {
		return nil, err
	}
	level, unlocked := p.Level, p.UnlockedSet()

	out := &GrantAchievementResult{MemberID: cmd.MemberID, Unlocked: []*achievement.Unlock{}, Level: level}
	for _, def := range matched {
		if !saga.Eligible(def, level, unlocked) {
			continue
		}
		res, err := h.flow.Grant(ctx, cmd.MemberID, def, achievement.SourceSecretCode)
		if err != nil {
			return nil, err
		}
		out.Level = max(out.Level, res.LevelAfter)
		if res.Granted {
			out.Unlocked = append(out.Unlocked, res.Unlock)
		}
	}
	return out, nil
}

func (h *GrantHandler) requireMember(ctx context.Context, memberID string) error {
	if _, err := h.members.GetMember(ctx, memberID); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.ErrMemberNotFound
		}
		return err
	}
	return nil
}
