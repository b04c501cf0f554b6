package progress

import (
	"context"
)

// Repository persists member ledgers. Every write is a single atomic store
// operation; no method may be implemented as read-modify-write in Go.
type Repository interface {
	// Get returns shared.ErrProgressNotFound when the member has no ledger.
	Get(ctx context.Context, memberID string) (*MemberProgress, error)

	// GetOrCreate lazily creates the default ledger.
	GetOrCreate(ctx context.Context, memberID string) (*MemberProgress, error)

	// ApplyReward adds points and XP to every period counter and appends a
	// history entry. With a non-empty eventID the reward lands at most once
	// per id; applied is false on a replay.
	ApplyReward(ctx context.Context, memberID, eventID string, r Reward) (b Balance, applied bool, err error)

	// GrantAchievement adds r.AchievementID to the unlocked set together with
	// its reward, unless the id is already present.
	GrantAchievement(ctx context.Context, memberID string, r Reward) (b Balance, granted bool, err error)

	// CompareAndSwapStreak stores the streak and increments the lifetime
	// check-in counter only if the streak version still equals expected.
	// With a non-empty eventID the check-in counts at most once per id, even
	// when the reward for that id was applied by an earlier call.
	CompareAndSwapStreak(ctx context.Context, memberID, eventID string, expected int64, s Streak) (StreakSwap, error)

	// RaiseLevel stores max(stored, level).
	RaiseLevel(ctx context.Context, memberID string, level int) error

	// RemoveUnlocked drops an id from the unlocked set. Reconciliation only.
	RemoveUnlocked(ctx context.Context, memberID, achievementID string) (bool, error)

	// ListMemberIDs pages through ledgers ordered by member id.
	ListMemberIDs(ctx context.Context, afterID string, limit int) ([]string, error)

	// Participation summarises the ledger for statistics.
	Participation(ctx context.Context) (Participation, error)
}

// StreakSwap is the outcome of CompareAndSwapStreak.
type StreakSwap int

const (
	// StreakSwapped means the streak was stored and the check-in counted.
	StreakSwapped StreakSwap = iota
	// StreakStale means the version moved; reload and try again.
	StreakStale
	// StreakAlreadyApplied means the event id already advanced the streak.
	StreakAlreadyApplied
)
