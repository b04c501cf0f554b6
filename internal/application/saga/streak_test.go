package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Xeideverme/galpao/internal/application/criteria"
	"github.com/Xeideverme/galpao/internal/domain/achievement"
	"github.com/Xeideverme/galpao/internal/domain/activity"
	"github.com/Xeideverme/galpao/internal/domain/member"
	"github.com/Xeideverme/galpao/internal/domain/progress"
	"github.com/Xeideverme/galpao/internal/domain/shared"
	"github.com/Xeideverme/galpao/pkg/retry"
)

func checkIn(id string, at time.Time) activity.Event {
	return activity.Event{ID: id, MemberID: "m1", Kind: activity.KindCheckIn, OccurredAt: at}
}

func TestUnlockFlow_RetriedCheckInAfterStreakFailureCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := checkIn("evt-ci-1", now)

	f.store.Fail("CompareAndSwapStreak", errors.New("connection reset"))
	_, err := f.flow.Execute(ctx, ev)
	require.Error(t, err)
	var flowErr *UnlockFlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, StepUpdateStreak, flowErr.Step)
	assert.True(t, shared.IsRetryable(err))

	f.store.Fail("CompareAndSwapStreak", nil)
	res, err := f.flow.Execute(ctx, ev)
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	require.NotNil(t, res.Streak)
	assert.Equal(t, 1, res.Streak.Current)

	p, err := f.store.Progress().Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), p.TotalPoints)
	assert.Equal(t, 1, p.Streak.Current)
	assert.Equal(t, int64(1), p.TotalCheckIns)

	// a third delivery of the same id changes nothing
	res, err = f.flow.Execute(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Streak.Current)
	p, err = f.store.Progress().Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.TotalCheckIns)
	assert.Equal(t, int64(5), p.TotalPoints)

	streakEvents := 0
	for _, typ := range f.pub.types() {
		if typ == shared.EventStreakUpdated {
			streakEvents++
		}
	}
	assert.Equal(t, 1, streakEvents)
}

func TestUnlockFlow_SevenDayChainUnlocksOnSeventhDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	def := f.addDef(t, achievement.Draft{
		Name: "Semana Perfeita", Rule: achievement.NewRule(achievement.RuleConsecutiveCheckInDays, 7), Points: 50,
	})

	start := time.Date(2026, 5, 27, 7, 0, 0, 0, time.UTC)
	for day := 0; day < 7; day++ {
		morning := start.AddDate(0, 0, day)
		res, err := f.flow.Execute(ctx, checkIn(fmt.Sprintf("d%d-am", day), morning))
		require.NoError(t, err)
		assert.Equal(t, day+1, res.Streak.Current, "day %d", day)

		if day < 6 {
			assert.Empty(t, res.NewlyUnlocked, "day %d", day)
		} else {
			require.Len(t, res.NewlyUnlocked, 1)
			assert.Equal(t, def.ID, res.NewlyUnlocked[0].AchievementID)
		}

		res, err = f.flow.Execute(ctx, checkIn(fmt.Sprintf("d%d-pm", day), morning.Add(10*time.Hour)))
		require.NoError(t, err)
		assert.Equal(t, day+1, res.Streak.Current, "same-day repeat on day %d", day)
		assert.Empty(t, res.NewlyUnlocked)
	}

	p, err := f.store.Progress().Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 7, p.Streak.Current)
	assert.Equal(t, 7, p.Streak.Record)
	assert.Equal(t, int64(14), p.TotalCheckIns)
	assert.Equal(t, int64(14*5+50), p.TotalPoints)
}

func TestUnlockFlow_ConcurrentCheckInsCountEachOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	contention := retry.New(retry.WithMaxAttempts(500), retry.WithInitialDelay(time.Microsecond),
		retry.WithMaxDelay(time.Millisecond), retry.WithJitter(0.5))
	eval := criteria.NewEvaluator(f.members, f.store.Progress(), shared.FixedClock(now), nil)
	flow := NewUnlockFlowSaga(f.store.Catalog(), f.store.Unlocks(), f.store.Progress(), eval, nil,
		shared.FixedClock(now), nil, UnlockFlowConfig{ContentionRetrier: contention})

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := flow.Execute(ctx, checkIn(fmt.Sprintf("c-%d", i), now))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	p, err := f.store.Progress().Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(n), p.TotalCheckIns)
	assert.Equal(t, 1, p.Streak.Current)
	assert.Equal(t, int64(n), p.StreakVersion)
}

// staleLedger loses every streak swap.
type staleLedger struct {
	progress.Repository
	attempts int
}

func (l *staleLedger) CompareAndSwapStreak(context.Context, string, string, int64, progress.Streak) (progress.StreakSwap, error) {
	l.attempts++
	return progress.StreakStale, nil
}

func TestUnlockFlow_StreakContentionIsRetryable(t *testing.T) {
	f := newFixture(t)
	ledger := &staleLedger{Repository: f.store.Progress()}
	eval := criteria.NewEvaluator(f.members, ledger, shared.FixedClock(now), nil)
	flow := NewUnlockFlowSaga(f.store.Catalog(), f.store.Unlocks(), ledger, eval, nil, shared.FixedClock(now), nil,
		UnlockFlowConfig{ContentionRetrier: retry.New(retry.WithMaxAttempts(3), retry.WithInitialDelay(0), retry.WithJitter(0))})

	_, err := flow.Execute(context.Background(), checkIn("c-1", now))
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrStreakContention)
	assert.True(t, shared.IsRetryable(err))
	assert.Equal(t, 3, ledger.attempts)
}

func TestUnlockFlow_DuplicatePaymentDoesNotReachStreakOfThree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addDef(t, achievement.Draft{
		Name: "Pagador em Dia", Category: achievement.CategoryPayment,
		Rule: achievement.NewRule(achievement.RuleOnTimePaymentsStreak, 3), Points: 40,
	})
	paid := now.AddDate(0, 0, -2)
	f.members.AddPayment("m1", member.Payment{DueDate: now, PaidAt: &paid, Status: member.PaymentPaid})

	ev := activity.Event{ID: "pay-1", MemberID: "m1", Kind: activity.KindPayment, OccurredAt: now}
	for i := 0; i < 2; i++ {
		res, err := f.flow.Execute(ctx, ev)
		require.NoError(t, err)
		assert.Empty(t, res.NewlyUnlocked)
	}

	p, err := f.store.Progress().Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(15), p.TotalPoints)
	assert.Empty(t, p.UnlockedIDs)
}
