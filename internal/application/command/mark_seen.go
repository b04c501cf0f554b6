package command

import (
	"context"

	"github.com/Xeideverme/galpao/internal/domain/achievement"
	"github.com/Xeideverme/galpao/internal/domain/shared"
)

// MarkSeenCommand acknowledges unlock notifications.
type MarkSeenCommand struct {
	MemberID       string
	AchievementIDs []string
}

// MarkSeenHandler handles MarkSeenCommand.
type MarkSeenHandler struct {
	unlocks achievement.UnlockRepository
	now     shared.Clock
}

// NewMarkSeenHandler creates a MarkSeenHandler.
func NewMarkSeenHandler(unlocks achievement.UnlockRepository, clock shared.Clock) *MarkSeenHandler {
	if clock == nil {
		clock = shared.SystemClock
	}
	return &MarkSeenHandler{unlocks: unlocks, now: clock}
}

// Handle flags the given unlocks as seen and returns how many changed. Ids
// the member never unlocked are ignored.
func (h *MarkSeenHandler) Handle(ctx context.Context, cmd MarkSeenCommand) (int, error) {
	if _, err := shared.NewMemberID(cmd.MemberID); err != nil {
		return 0, err
	}
	if len(cmd.AchievementIDs) == 0 {
		return 0, nil
	}
	return h.unlocks.MarkSeen(ctx, cmd.MemberID, cmd.AchievementIDs, h.now())
}
