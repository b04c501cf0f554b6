// Package timeutil holds the UTC calendar arithmetic used by streaks, period
// windows and tenure rules. Every function normalises to UTC first.
package timeutil

import "time"

// Day is the length of a calendar day in UTC.
const Day = 24 * time.Hour

// Now returns the current time in UTC.
func Now() time.Time {
	return time.Now().UTC()
}

// StartOfDay returns midnight UTC of t's calendar day.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// StartOfWeek returns Monday 00:00 UTC of t's ISO week.
func StartOfWeek(t time.Time) time.Time {
	day := StartOfDay(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// StartOfMonth returns the first instant of t's calendar month in UTC.
func StartOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of calendar-day boundaries crossed going
// from a to b. Negative when b is on an earlier day.
func DaysBetween(a, b time.Time) int {
	return int(StartOfDay(b).Sub(StartOfDay(a)) / Day)
}

// IsSameDay reports whether a and b fall on the same UTC calendar day.
func IsSameDay(a, b time.Time) bool {
	return DaysBetween(a, b) == 0
}

// ApproxMonths converts a month count into the fixed 30-day approximation
// used for tenure.
func ApproxMonths(n int) time.Duration {
	return time.Duration(n) * 30 * Day
}
