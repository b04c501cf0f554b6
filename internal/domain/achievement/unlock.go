package achievement

import (
	"time"

	"github.com/google/uuid"
)

// Source records how an unlock came to be.
type Source string

const (
	SourceEvaluation Source = "evaluation"
	SourceManual     Source = "manual"
	SourceSecretCode Source = "secret_code"
)

// Unlock is the append-only fact that a member earned an achievement. At most
// one exists per (MemberID, AchievementID).
type Unlock struct {
	ID            string     `json:"id"`
	MemberID      string     `json:"member_id"`
	AchievementID string     `json:"achievement_id"`
	Name          string     `json:"name"`
	Icon          string     `json:"icon"`
	Rarity        Rarity     `json:"rarity"`
	Points        int        `json:"points"`
	XP            int        `json:"xp"`
	Source        Source     `json:"source"`
	UnlockedAt    time.Time  `json:"unlocked_at"`
	Seen          bool       `json:"seen"`
	SeenAt        *time.Time `json:"seen_at,omitempty"`
}

// NewUnlock snapshots the definition's display fields at unlock time.
func NewUnlock(memberID string, def *Definition, source Source, at time.Time) *Unlock {
	return &Unlock{
		ID:            uuid.NewString(),
		MemberID:      memberID,
		AchievementID: def.ID,
		Name:          def.Name,
		Icon:          def.Icon,
		Rarity:        def.Rarity,
		Points:        def.Points,
		XP:            def.BonusXP,
		Source:        source,
		UnlockedAt:    at.UTC(),
	}
}
