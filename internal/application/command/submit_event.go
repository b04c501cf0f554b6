// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"time"

	"github.com/Xeideverme/galpao/internal/application/saga"
	"github.com/Xeideverme/galpao/internal/domain/achievement"
	"github.com/Xeideverme/galpao/internal/domain/activity"
	"github.com/Xeideverme/galpao/internal/domain/member"
	"github.com/Xeideverme/galpao/internal/domain/progress"
	"github.com/Xeideverme/galpao/internal/domain/shared"
	"github.com/Xeideverme/galpao/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBMIT EVENT COMMAND
// Entry point of the engine: one member activity in, points and unlocks out.
// ══════════════════════════════════════════════════════════════════════════════

// futureSkew is how far ahead of the server clock an event may be stamped.
const futureSkew = 5 * time.Minute

// SubmitEventCommand reports one member activity.
type SubmitEventCommand struct {
	// EventID is an optional idempotency token.
	EventID    string
	MemberID   string
	Kind       string
	Payload    map[string]any
	OccurredAt time.Time
}

// Validate validates the command.
func (c SubmitEventCommand) Validate(now time.Time) error {
	if _, err := shared.NewMemberID(c.MemberID); err != nil {
		return err
	}
	if c.Kind == "" {
		return shared.WrapError("event", "Validate", shared.ErrInvalidInput, "kind is required", shared.ErrInvalidEvent)
	}
	if !c.OccurredAt.IsZero() && c.OccurredAt.After(now.Add(futureSkew)) {
		return shared.WrapError("event", "Validate", shared.ErrInvalidInput, "occurred_at is in the future", shared.ErrInvalidEvent)
	}
	return nil
}

// SubmitEventResult is returned to the event submitter.
type SubmitEventResult struct {
	MemberID      string
	PointsAdded   int
	XPAdded       int
	Replayed      bool
	Level         int
	LeveledUp     bool
	Streak        *progress.Streak
	NewlyUnlocked []*achievement.Unlock
	ProcessedAt   time.Time
}

// SubmitEventHandler handles SubmitEventCommand.
type SubmitEventHandler struct {
	members member.Source
	flow    *saga.UnlockFlowSaga
	now     shared.Clock
	log     *logger.Logger
}

// NewSubmitEventHandler creates a SubmitEventHandler.
func NewSubmitEventHandler(members member.Source, flow *saga.UnlockFlowSaga, clock shared.Clock, log *logger.Logger) *SubmitEventHandler {
	if clock == nil {
		clock = shared.SystemClock
	}
	if log == nil {
		log = logger.Nop()
	}
	return &SubmitEventHandler{members: members, flow: flow, now: clock, log: log.With(logger.Component("submit_event"))}
}

// Handle runs the unlock flow for the event. Unknown members are rejected;
// an unreachable member source does not block base points.
func (h *SubmitEventHandler) Handle(ctx context.Context, cmd SubmitEventCommand) (*SubmitEventResult, error) {
	if err := cmd.Validate(h.now()); err != nil {
		return nil, err
	}

	if _, err := h.members.GetMember(ctx, cmd.MemberID); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrMemberNotFound
		}
		h.log.Warn("member lookup failed, processing event anyway",
			logger.MemberID(cmd.MemberID), logger.Err(err))
	}

	res, err := h.flow.Execute(ctx, activity.Event{
		ID:         cmd.EventID,
		MemberID:   cmd.MemberID,
		Kind:       activity.ParseKind(cmd.Kind),
		Payload:    cmd.Payload,
		OccurredAt: cmd.OccurredAt,
	})
	if err != nil {
		h.log.Error("event processing failed",
			logger.MemberID(cmd.MemberID), logger.EventKind(cmd.Kind), logger.Err(err))
		return nil, err
	}

	unlocked := res.NewlyUnlocked
	if unlocked == nil {
		unlocked = []*achievement.Unlock{}
	}
	return &SubmitEventResult{
		MemberID:      res.MemberID,
		PointsAdded:   res.PointsAdded,
		XPAdded:       res.XPAdded,
		Replayed:      res.Replayed,
		Level:         res.LevelAfter,
		LeveledUp:     res.LevelAfter > res.LevelBefore,
		Streak:        res.Streak,
		NewlyUnlocked: unlocked,
		ProcessedAt:   res.ProcessedAt,
	}, nil
}
