package messaging

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Xeideverme/galpao/internal/domain/shared"
)

var at = time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC)

func syncBus() *InMemoryEventBus {
	return NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: false})
}

func TestInMemoryEventBus_DeliversByType(t *testing.T) {
	bus := syncBus()
	var unlocked, all int32

	require.NoError(t, bus.Subscribe(shared.EventAchievementUnlocked, func(shared.Event) error {
		atomic.AddInt32(&unlocked, 1)
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		atomic.AddInt32(&all, 1)
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewPointsAwardedEvent("m1", 5, 5, "event:checkin", at)))
	require.NoError(t, bus.Publish(shared.NewAchievementUnlockedEvent("m1", "a1", "Primeiro Passo", "common", 10, 5, at)))

	assert.Equal(t, int32(1), atomic.LoadInt32(&unlocked))
	assert.Equal(t, int32(2), atomic.LoadInt32(&all))

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.Published[shared.EventPointsAwarded])
	assert.Equal(t, int64(3), snap.Executions)
}

func TestInMemoryEventBus_HandlerErrorsAndPanicsAreContained(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("boom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("bad handler") }))

	assert.NoError(t, bus.Publish(shared.NewLevelUpEvent("m1", 1, 2, at)))
	assert.Equal(t, int64(2), bus.Metrics().Snapshot().Failures)
}

func TestInMemoryEventBus_Async(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())
	var n int32
	require.NoError(t, bus.Subscribe(shared.EventPointsAwarded, func(shared.Event) error {
		atomic.AddInt32(&n, 1)
		return nil
	}))

	for i := 0; i < 20; i++ {
		require.NoError(t, bus.Publish(shared.NewPointsAwardedEvent("m1", 5, 5, "event:checkin", at)))
	}
	bus.Wait()
	assert.Equal(t, int32(20), atomic.LoadInt32(&n))
}

func TestInMemoryEventBus_Closed(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(shared.NewLevelUpEvent("m1", 1, 2, at)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventLevelUp, func(shared.Event) error { return nil }), ErrEventBusClosed)
	assert.Error(t, bus.Subscribe(shared.EventLevelUp, nil))
}

func TestDecodeEnvelope(t *testing.T) {
	data, err := json.Marshal(eventEnvelope{
		InstanceID:  "api-1",
		EventType:   shared.EventAchievementUnlocked,
		AggregateID: "m1",
		OccurredAt:  at,
		Payload:     map[string]interface{}{"achievement_id": "a1", "points": 10},
	})
	require.NoError(t, err)

	ev, origin, err := decodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, "api-1", origin)
	assert.Equal(t, shared.EventAchievementUnlocked, ev.EventType())
	assert.Equal(t, "m1", ev.AggregateID())
	assert.True(t, at.Equal(ev.OccurredAt()))
	assert.Equal(t, "a1", ev.Payload()["achievement_id"])
	assert.Equal(t, float64(10), ev.Payload()["points"])

	_, _, err = decodeEnvelope([]byte(`{"instance_id":"x"}`))
	assert.Error(t, err)
	_, _, err = decodeEnvelope([]byte(`not json`))
	assert.Error(t, err)
}

func TestRedisEventBus_IgnoresOwnMessages(t *testing.T) {
	local := syncBus()
	b := &RedisEventBus{localBus: local, instanceID: "worker-1", logger: slog.Default()}
	var n int32
	require.NoError(t, b.SubscribeAll(func(shared.Event) error {
		atomic.AddInt32(&n, 1)
		return nil
	}))

	mine, _ := json.Marshal(eventEnvelope{InstanceID: "worker-1", EventType: shared.EventLevelUp, AggregateID: "m1"})
	theirs, _ := json.Marshal(eventEnvelope{InstanceID: "api-2", EventType: shared.EventLevelUp, AggregateID: "m1"})

	b.handleMessage(string(mine))
	b.handleMessage(string(theirs))
	b.handleMessage("garbage")

	assert.Equal(t, int32(1), atomic.LoadInt32(&n))
}
