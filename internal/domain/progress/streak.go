package progress

import (
	"time"

	"github.com/Xeideverme/galpao/pkg/timeutil"
)

// Streak counts consecutive UTC calendar days with at least one check-in.
type Streak struct {
	Current     int        `json:"current"`
	Record      int        `json:"record"`
	LastCheckIn *time.Time `json:"last_checkin,omitempty"`
}

// StreakChange describes what a check-in did to the streak.
type StreakChange int

const (
	StreakStarted StreakChange = iota
	StreakUnchanged
	StreakExtended
	StreakReset
)

// Advance applies one check-in at the given instant and returns the new
// streak. Same-day repeats leave the counter alone, the next day extends it,
// a longer gap restarts at 1. A check-in dated before the last one is late
// data for a day already counted and changes nothing.
func (s Streak) Advance(at time.Time) (Streak, StreakChange) {
	day := timeutil.StartOfDay(at)

	if s.LastCheckIn == nil {
		next := Streak{Current: 1, Record: max(s.Record, 1), LastCheckIn: &day}
		return next, StreakStarted
	}

	gap := timeutil.DaysBetween(*s.LastCheckIn, day)
	switch {
	case gap <= 0:
		return s, StreakUnchanged
	case gap == 1:
		current := s.Current + 1
		return Streak{Current: current, Record: max(s.Record, current), LastCheckIn: &day}, StreakExtended
	default:
		return Streak{Current: 1, Record: max(s.Record, 1), LastCheckIn: &day}, StreakReset
	}
}
