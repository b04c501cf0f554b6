// Package progress holds the member progress ledger: points, XP, level,
// streak and unlock bookkeeping. The ledger is owned by the engine; stores
// must apply every mutation with their own atomic primitives.
package progress

import (
	"slices"
	"time"
)

// DefaultHistorySize is used when the configured ring size is not positive.
const DefaultHistorySize = 50

// HistoryEntry is one line of the bounded point history.
type HistoryEntry struct {
	At            time.Time `json:"at"`
	Points        int       `json:"points"`
	XP            int       `json:"xp"`
	Reason        string    `json:"reason"`
	AchievementID string    `json:"achievement_id,omitempty"`
}

// MemberProgress is the per-member ledger.
type MemberProgress struct {
	MemberID string

	TotalPoints     int64
	PointsThisMonth int64
	PointsThisWeek  int64

	Level     int
	CurrentXP int64

	UnlockedIDs       []string
	UnlockedTotal     int
	UnlockedThisMonth int

	// History is oldest first and never longer than the store's ring size.
	History []HistoryEntry

	Streak        Streak
	StreakVersion int64
	TotalCheckIns int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// New returns the default ledger for a member seen for the first time.
func New(memberID string, now time.Time) *MemberProgress {
	return &MemberProgress{
		MemberID:    memberID,
		Level:       MinLevel,
		UnlockedIDs: []string{},
		History:     []HistoryEntry{},
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}
}

// XPToNextLevel is the cumulative XP threshold of the current level.
func (p *MemberProgress) XPToNextLevel() int64 {
	return XPForLevel(p.Level)
}

// ProgressPercent is derived from level and XP on every read.
func (p *MemberProgress) ProgressPercent() float64 {
	return ProgressPercent(p.Level, p.CurrentXP)
}

// HasUnlocked reports whether the achievement id is in the unlocked set.
func (p *MemberProgress) HasUnlocked(achievementID string) bool {
	return slices.Contains(p.UnlockedIDs, achievementID)
}

// UnlockedSet returns the unlocked ids as a set.
func (p *MemberProgress) UnlockedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(p.UnlockedIDs))
	for _, id := range p.UnlockedIDs {
		set[id] = struct{}{}
	}
	return set
}

// RecentHistory returns the history newest first.
func (p *MemberProgress) RecentHistory() []HistoryEntry {
	out := slices.Clone(p.History)
	slices.Reverse(out)
	return out
}

// Clone returns a deep copy.
func (p *MemberProgress) Clone() *MemberProgress {
	c := *p
	c.UnlockedIDs = slices.Clone(p.UnlockedIDs)
	c.History = slices.Clone(p.History)
	if p.Streak.LastCheckIn != nil {
		t := *p.Streak.LastCheckIn
		c.Streak.LastCheckIn = &t
	}
	return &c
}

// AppendHistory appends e and keeps only the newest size entries.
func AppendHistory(history []HistoryEntry, e HistoryEntry, size int) []HistoryEntry {
	if size <= 0 {
		size = DefaultHistorySize
	}
	history = append(history, e)
	if over := len(history) - size; over > 0 {
		history = slices.Clone(history[over:])
	}
	return history
}

// Reward is a points/XP delta applied to the ledger.
type Reward struct {
	Points        int
	XP            int
	Reason        string
	AchievementID string
	At            time.Time
}

// Entry converts the reward into its history line.
func (r Reward) Entry() HistoryEntry {
	return HistoryEntry{
		At:            r.At.UTC(),
		Points:        r.Points,
		XP:            r.XP,
		Reason:        r.Reason,
		AchievementID: r.AchievementID,
	}
}

// Balance is the ledger state returned by atomic writes.
type Balance struct {
	TotalPoints int64
	CurrentXP   int64
	Level       int
}

// Participation aggregates the ledger for the statistics endpoint.
type Participation struct {
	// Members counts ledgers with at least one point.
	Members     int64
	TotalPoints int64
}
