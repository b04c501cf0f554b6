package eventhandler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Xeideverme/galpao/internal/domain/leaderboard"
	"github.com/Xeideverme/galpao/internal/domain/shared"
)

type countingCache struct {
	mu            sync.Mutex
	invalidations int
	err           error
}

func (c *countingCache) Get(context.Context, leaderboard.Period, int) ([]leaderboard.Row, bool, error) {
	return nil, false, nil
}

func (c *countingCache) Set(context.Context, leaderboard.Period, int, []leaderboard.Row) error {
	return nil
}

func (c *countingCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidations++
	return c.err
}

func (c *countingCache) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidations
}

type fakeBus struct {
	subs map[shared.EventType]int
}

func (b *fakeBus) Subscribe(t shared.EventType, _ shared.EventHandler) error {
	b.subs[t]++
	return nil
}

func (b *fakeBus) SubscribeAll(shared.EventHandler) error { return nil }

func TestOnProgressChanged_Throttles(t *testing.T) {
	at := time.Date(2026, 4, 1, 7, 0, 0, 0, time.UTC)
	clock := func() time.Time { return at }
	cache := &countingCache{}
	h := NewOnProgressChangedHandler(cache, DefaultProgressChangedConfig(), clock, nil)
	ev := shared.NewPointsAwardedEvent("m1", 5, 5, "event:checkin", at)

	require.NoError(t, h.Handle(ev))
	require.NoError(t, h.Handle(ev))
	assert.Equal(t, 1, cache.count())

	at = at.Add(3 * time.Second)
	require.NoError(t, h.Handle(ev))
	assert.Equal(t, 2, cache.count())
}

func TestOnProgressChanged_FailureAllowsRetry(t *testing.T) {
	at := time.Date(2026, 4, 1, 7, 0, 0, 0, time.UTC)
	cache := &countingCache{err: errors.New("redis down")}
	h := NewOnProgressChangedHandler(cache, DefaultProgressChangedConfig(), shared.FixedClock(at), nil)
	ev := shared.NewPointsAwardedEvent("m1", 5, 5, "event:checkin", at)

	assert.Error(t, h.Handle(ev))
	cache.mu.Lock()
	cache.err = nil
	cache.mu.Unlock()
	assert.NoError(t, h.Handle(ev))
	assert.Equal(t, 2, cache.count())
}

func TestOnProgressChanged_TrailingInvalidationAfterWindow(t *testing.T) {
	cache := &countingCache{}
	cfg := ProgressChangedConfig{MinInterval: 50 * time.Millisecond, Timeout: time.Second}
	h := NewOnProgressChangedHandler(cache, cfg, nil, nil)
	t.Cleanup(h.Stop)
	ev := shared.NewPointsAwardedEvent("m1", 5, 5, "event:checkin", time.Now())

	require.NoError(t, h.Handle(ev))
	require.NoError(t, h.Handle(ev))
	require.NoError(t, h.Handle(ev))
	assert.Equal(t, 1, cache.count())

	assert.Eventually(t, func() bool { return cache.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return cache.count() > 2 }, 150*time.Millisecond, 10*time.Millisecond)
}

func TestOnProgressChanged_QuietWindowHasNoTrailingInvalidation(t *testing.T) {
	cache := &countingCache{}
	cfg := ProgressChangedConfig{MinInterval: 20 * time.Millisecond, Timeout: time.Second}
	h := NewOnProgressChangedHandler(cache, cfg, nil, nil)
	t.Cleanup(h.Stop)

	require.NoError(t, h.Handle(shared.NewPointsAwardedEvent("m1", 5, 5, "event:checkin", time.Now())))
	assert.Never(t, func() bool { return cache.count() > 1 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestOnProgressChanged_StopCancelsTrailingInvalidation(t *testing.T) {
	cache := &countingCache{}
	cfg := ProgressChangedConfig{MinInterval: 30 * time.Millisecond, Timeout: time.Second}
	h := NewOnProgressChangedHandler(cache, cfg, nil, nil)
	ev := shared.NewPointsAwardedEvent("m1", 5, 5, "event:checkin", time.Now())

	require.NoError(t, h.Handle(ev))
	require.NoError(t, h.Handle(ev))
	h.Stop()
	assert.Never(t, func() bool { return cache.count() > 1 }, 120*time.Millisecond, 10*time.Millisecond)
}

func TestOnProgressChanged_NilCache(t *testing.T) {
	h := NewOnProgressChangedHandler(nil, DefaultProgressChangedConfig(), nil, nil)
	assert.NoError(t, h.Handle(shared.NewPointsAwardedEvent("m1", 5, 5, "x", time.Now())))
}

func TestRegister(t *testing.T) {
	bus := &fakeBus{subs: map[shared.EventType]int{}}

	err := Register(bus,
		NewOnAchievementUnlockedHandler(nil),
		NewOnProgressChangedHandler(&countingCache{}, DefaultProgressChangedConfig(), nil, nil),
	)
	require.NoError(t, err)

	assert.Equal(t, 2, bus.subs[shared.EventAchievementUnlocked])
	assert.Equal(t, 1, bus.subs[shared.EventLevelUp])
	assert.Equal(t, 1, bus.subs[shared.EventPointsAwarded])
}

func TestAnnouncement(t *testing.T) {
	assert.Equal(t, "Parabéns! Nova conquista: Primeiro Passo", Announcement("Primeiro Passo", "common"))
	assert.Contains(t, Announcement("Lenda", "legendary"), "Incrível")
}
