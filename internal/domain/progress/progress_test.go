package progress

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXPForLevel_Curve(t *testing.T) {
	assert.Equal(t, int64(100), XPForLevel(1))
	assert.Equal(t, int64(150), XPForLevel(2))
	assert.Equal(t, int64(225), XPForLevel(3))
	assert.Equal(t, int64(337), XPForLevel(4))
	assert.Equal(t, int64(100), XPForLevel(0), "levels below 1 use level 1")
}

func TestXPForLevel_ClampsInsteadOfOverflowing(t *testing.T) {
	assert.Equal(t, int64(math.MaxInt64), XPForLevel(10_000))
}

func TestLevelForXP(t *testing.T) {
	tests := []struct {
		name    string
		current int
		xp      int64
		want    int
	}{
		{"fresh member", 1, 0, 1},
		{"just below first threshold", 1, 99, 1},
		{"exactly on threshold", 1, 100, 2},
		{"clears two levels at once", 1, 150, 3},
		{"never demotes", 5, 0, 5},
		{"zero level treated as one", 0, 0, 1},
		{"capped at max", 1, math.MaxInt64, MaxLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LevelForXP(tt.current, tt.xp))
		})
	}
}

func TestProgressPercent(t *testing.T) {
	assert.Equal(t, 50.0, ProgressPercent(1, 50))
	assert.Equal(t, 100.0, ProgressPercent(1, 500))
	assert.Equal(t, 0.0, ProgressPercent(1, -10))
	assert.Equal(t, 33.33, ProgressPercent(2, 50))
	assert.Equal(t, 100.0, ProgressPercent(MaxLevel, 0))
}

func TestStreak_Advance(t *testing.T) {
	day := func(d, h int) time.Time { return time.Date(2026, 3, d, h, 0, 0, 0, time.UTC) }

	s, change := Streak{}.Advance(day(1, 8))
	assert.Equal(t, StreakStarted, change)
	assert.Equal(t, 1, s.Current)
	assert.Equal(t, 1, s.Record)
	require.NotNil(t, s.LastCheckIn)
	assert.Equal(t, day(1, 0), *s.LastCheckIn)

	s, change = s.Advance(day(1, 20))
	assert.Equal(t, StreakUnchanged, change)
	assert.Equal(t, 1, s.Current)

	s, change = s.Advance(day(2, 6))
	assert.Equal(t, StreakExtended, change)
	assert.Equal(t, 2, s.Current)

	s, _ = s.Advance(day(3, 6))
	assert.Equal(t, 3, s.Current)
	assert.Equal(t, 3, s.Record)

	s, change = s.Advance(day(6, 6))
	assert.Equal(t, StreakReset, change)
	assert.Equal(t, 1, s.Current)
	assert.Equal(t, 3, s.Record, "record survives a reset")
}

func TestStreak_LateCheckInIsIgnored(t *testing.T) {
	last := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	s := Streak{Current: 4, Record: 4, LastCheckIn: &last}

	next, change := s.Advance(last.AddDate(0, 0, -2))
	assert.Equal(t, StreakUnchanged, change)
	assert.Equal(t, s, next)
}

func TestAppendHistory_KeepsNewest(t *testing.T) {
	var h []HistoryEntry
	for i := 1; i <= 5; i++ {
		h = AppendHistory(h, HistoryEntry{Points: i}, 3)
	}
	require.Len(t, h, 3)
	assert.Equal(t, 3, h[0].Points)
	assert.Equal(t, 5, h[2].Points)
}

func TestMemberProgress_CloneIsDeep(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := New("m1", now)
	p.UnlockedIDs = append(p.UnlockedIDs, "a1")
	p.Streak.LastCheckIn = &now

	c := p.Clone()
	c.UnlockedIDs[0] = "changed"
	*c.Streak.LastCheckIn = now.Add(time.Hour)

	assert.True(t, p.HasUnlocked("a1"))
	assert.Equal(t, now, *p.Streak.LastCheckIn)
	assert.Contains(t, p.UnlockedSet(), "a1")
}
