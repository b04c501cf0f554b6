package shared

import (
	"strings"
	"time"
)

// Clock returns the current instant. Components take one so tests can pin
// "now" to a calendar boundary.
type Clock func() time.Time

// SystemClock is the production clock, always UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}

// FixedClock returns a Clock frozen at t.
func FixedClock(t time.Time) Clock {
	t = t.UTC()
	return func() time.Time { return t }
}

// MemberID identifies a gym member. The id is owned by the CRUD backend.
type MemberID string

// NewMemberID trims and validates a raw member id.
func NewMemberID(raw string) (MemberID, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", NewDomainError("member", "Validate", ErrInvalidID, "member id is required")
	}
	if len(id) > 64 {
		return "", NewDomainError("member", "Validate", ErrInvalidID, "member id is too long")
	}
	return MemberID(id), nil
}

func (id MemberID) String() string { return string(id) }
