package progress

import "math"

const (
	// MinLevel is the level every member starts at.
	MinLevel = 1
	// MaxLevel caps the leveling curve.
	MaxLevel = 100

	baseLevelXP = 100
	levelGrowth = 1.5
)

// XPForLevel returns the cumulative XP a member needs to leave level L:
// floor(100 × 1.5^(L-1)). Large levels clamp to math.MaxInt64 instead of
// overflowing.
func XPForLevel(level int) int64 {
	if level < MinLevel {
		level = MinLevel
	}
	threshold := math.Floor(baseLevelXP * math.Pow(levelGrowth, float64(level-1)))
	if threshold >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(threshold)
}

// LevelForXP advances from current while xp clears the threshold of the level
// being left. It never returns less than current, so a stale caller cannot
// demote anybody.
func LevelForXP(current int, xp int64) int {
	level := current
	if level < MinLevel {
		level = MinLevel
	}
	for level < MaxLevel && xp >= XPForLevel(level) {
		level++
	}
	return level
}

// ProgressPercent is xp relative to the current level's threshold, capped at 100.
func ProgressPercent(level int, xp int64) float64 {
	if level >= MaxLevel {
		return 100
	}
	threshold := XPForLevel(level)
	if threshold <= 0 {
		return 0
	}
	pct := float64(xp) / float64(threshold) * 100
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return math.Round(pct*100) / 100
}
