// Package activity describes the member activity the engine reacts to.
// Events are transient input; the engine never stores them.
package activity

import (
	"strings"
	"time"

	"github.com/Xeideverme/galpao/internal/domain/shared"
)

// Kind is the type of activity reported by the CRUD backend.
type Kind string

const (
	KindCheckIn          Kind = "checkin"
	KindWorkoutCompleted Kind = "workout_completed"
	KindPayment          Kind = "payment"
	KindAssessment       Kind = "assessment"
)

var kindAliases = map[string]Kind{
	"check-in":          KindCheckIn,
	"check_in":          KindCheckIn,
	"workout-completed": KindWorkoutCompleted,
	"treino":            KindWorkoutCompleted,
	"pagamento":         KindPayment,
	"avaliacao":         KindAssessment,
	"avaliação":         KindAssessment,
}

// ParseKind normalises a raw kind. Unknown kinds pass through untouched:
// they earn no base points but still trigger evaluation.
func ParseKind(s string) Kind {
	s = strings.ToLower(strings.TrimSpace(s))
	if k, ok := kindAliases[s]; ok {
		return k
	}
	return Kind(s)
}

// basePoints is the fixed reward per event kind.
var basePoints = map[Kind]int{
	KindCheckIn:          5,
	KindWorkoutCompleted: 10,
	KindPayment:          15,
	KindAssessment:       20,
}

// BasePoints returns the fixed reward for kind; unlisted kinds earn 0.
func BasePoints(kind Kind) int {
	return basePoints[kind]
}

// Event is one piece of member activity.
type Event struct {
	// ID is an optional client idempotency token. When set, the base reward
	// is applied at most once per ID.
	ID         string
	MemberID   string
	Kind       Kind
	Payload    map[string]any
	OccurredAt time.Time
}

// Validate checks the fields every event needs.
func (e Event) Validate() error {
	if strings.TrimSpace(e.MemberID) == "" {
		return shared.WrapError("event", "Validate", shared.ErrInvalidInput, "member id is required", shared.ErrInvalidEvent)
	}
	if e.Kind == "" {
		return shared.WrapError("event", "Validate", shared.ErrInvalidInput, "event kind is required", shared.ErrInvalidEvent)
	}
	if len(e.ID) > 128 {
		return shared.WrapError("event", "Validate", shared.ErrInvalidInput, "event id is too long", shared.ErrInvalidEvent)
	}
	return nil
}

// Reason is the history label for the base reward.
func (e Event) Reason() string {
	return "event:" + string(e.Kind)
}
