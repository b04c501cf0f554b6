package query

import (
	"context"

	"github.com/Xeideverme/galpao/internal/domain/achievement"
	"github.com/Xeideverme/galpao/internal/domain/shared"
)

// ListUnlocksHandler returns every unlock of a member, newest first.
type ListUnlocksHandler struct {
	unlocks achievement.UnlockRepository
}

// NewListUnlocksHandler creates a ListUnlocksHandler.
func NewListUnlocksHandler(unlocks achievement.UnlockRepository) *ListUnlocksHandler {
	return &ListUnlocksHandler{unlocks: unlocks}
}

func (h *ListUnlocksHandler) Handle(ctx context.Context, memberID string) ([]*achievement.Unlock, error) {
	if _, err := shared.NewMemberID(memberID); err != nil {
		return nil, err
	}
	return h.unlocks.ListByMember(ctx, memberID)
}

// PendingNotificationsHandler returns unlocks the member has not seen yet,
// including ones won by concurrent evaluations.
type PendingNotificationsHandler struct {
	unlocks achievement.UnlockRepository
}

// NewPendingNotificationsHandler creates a PendingNotificationsHandler.
func NewPendingNotificationsHandler(unlocks achievement.UnlockRepository) *PendingNotificationsHandler {
	return &PendingNotificationsHandler{unlocks: unlocks}
}

func (h *PendingNotificationsHandler) Handle(ctx context.Context, memberID string) ([]*achievement.Unlock, error) {
	if _, err := shared.NewMemberID(memberID); err != nil {
		return nil, err
	}
	return h.unlocks.ListUnseen(ctx, memberID)
}
