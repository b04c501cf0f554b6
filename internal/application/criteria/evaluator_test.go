package criteria

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Xeideverme/galpao/internal/domain/achievement"
	"github.com/Xeideverme/galpao/internal/domain/member"
	"github.com/Xeideverme/galpao/internal/domain/progress"
	"github.com/Xeideverme/galpao/internal/domain/shared"
	"github.com/Xeideverme/galpao/internal/infrastructure/persistence/memory"
)

var now = time.Date(2026, 5, 20, 15, 0, 0, 0, time.UTC)

type countingSource struct {
	*memory.MemberSource
	checkInReads atomic.Int32
}

func (c *countingSource) CountCheckIns(ctx context.Context, memberID string, since time.Time) (int64, error) {
	c.checkInReads.Add(1)
	return c.MemberSource.CountCheckIns(ctx, memberID, since)
}

func setup(t *testing.T) (*Evaluator, *countingSource, *memory.Store) {
	t.Helper()
	src := &countingSource{MemberSource: memory.NewMemberSource()}
	store := memory.NewStore(memory.WithClock(shared.FixedClock(now)))
	return NewEvaluator(src, store.Progress(), shared.FixedClock(now), nil), src, store
}

func TestEvaluator_CheckInCounts(t *testing.T) {
	ev, src, _ := setup(t)
	ctx := context.Background()

	src.AddCheckIn("m1", now.AddDate(0, -2, 0))
	src.AddCheckIn("m1", now.AddDate(0, 0, -3))
	src.AddCheckIn("m1", now)

	ok, err := ev.Satisfies(ctx, "m1", achievement.NewRule(achievement.RuleTotalCheckIns, 3))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ev.Satisfies(ctx, "m1", achievement.NewRule(achievement.RuleCheckInsThisMonth, 3))
	require.NoError(t, err)
	assert.False(t, ok, "only two check-ins fall in May")

	ok, err = ev.Satisfies(ctx, "m1", achievement.NewRule(achievement.RuleCheckInsThisMonth, 2))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluator_ScopeMemoisesReads(t *testing.T) {
	ev, src, _ := setup(t)
	ctx := context.Background()
	src.AddCheckIn("m1", now)

	scope := ev.Scope("m1", nil)
	for _, n := range []int{1, 10, 100} {
		_, err := scope.Satisfies(ctx, achievement.NewRule(achievement.RuleTotalCheckIns, n))
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), src.checkInReads.Load())
}

func TestEvaluator_WorkoutsAndReferrals(t *testing.T) {
	ev, src, _ := setup(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		src.AddWorkout("m1", now.AddDate(0, 0, -i))
	}
	src.AddMember(member.Member{ID: "m1", Name: "Ana", CreatedAt: now})
	src.AddMember(member.Member{ID: "m2", Name: "Bia", CreatedAt: now, ReferredBy: "m1"})
	src.AddMember(member.Member{ID: "m3", Name: "Caio", CreatedAt: now, ReferredBy: "m1"})

	ok, err := ev.Satisfies(ctx, "m1", achievement.NewRule(achievement.RuleTotalWorkouts, 5))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ev.Satisfies(ctx, "m1", achievement.NewRule(achievement.RuleReferralCount, 2))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ev.Satisfies(ctx, "m1", achievement.NewRule(achievement.RuleReferralCount, 3))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluator_OnTimePaymentStreak(t *testing.T) {
	ev, src, _ := setup(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		due := time.Date(2026, time.Month(i), 10, 0, 0, 0, 0, time.UTC)
		paid := due.Add(-24 * time.Hour)
		src.AddPayment("m1", member.Payment{DueDate: due, PaidAt: &paid, Status: member.PaymentPaid})
	}

	ok, err := ev.Satisfies(ctx, "m1", achievement.NewRule(achievement.RuleOnTimePaymentsStreak, 3))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ev.Satisfies(ctx, "m1", achievement.NewRule(achievement.RuleOnTimePaymentsStreak, 4))
	require.NoError(t, err)
	assert.False(t, ok, "not enough paid records")

	late := time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)
	src.AddPayment("m1", member.Payment{DueDate: time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC), PaidAt: &late, Status: member.PaymentPaid})

	ok, err = ev.Satisfies(ctx, "m1", achievement.NewRule(achievement.RuleOnTimePaymentsStreak, 3))
	require.NoError(t, err)
	assert.False(t, ok, "most recent payment was late")
}

func TestEvaluator_MonthsActiveUsesEnrollmentDate(t *testing.T) {
	ev, src, _ := setup(t)
	ctx := context.Background()

	enrolled := now.AddDate(0, 0, -95)
	src.AddMember(member.Member{ID: "m1", EnrolledAt: &enrolled, CreatedAt: now})

	ok, err := ev.Satisfies(ctx, "m1", achievement.NewRule(achievement.RuleMonthsActive, 3))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ev.Satisfies(ctx, "m1", achievement.NewRule(achievement.RuleMonthsActive, 4))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluator_StreakReadsLedger(t *testing.T) {
	ev, _, store := setup(t)
	ctx := context.Background()

	ok, err := ev.Satisfies(ctx, "m1", achievement.NewRule(achievement.RuleConsecutiveCheckInDays, 1))
	require.NoError(t, err)
	assert.False(t, ok, "no ledger yet")

	_, err = store.Progress().GetOrCreate(ctx, "m1")
	require.NoError(t, err)
	day := now
	outcome, err := store.Progress().CompareAndSwapStreak(ctx, "m1", "", 0, progress.Streak{Current: 7, Record: 7, LastCheckIn: &day})
	require.NoError(t, err)
	require.Equal(t, progress.StreakSwapped, outcome)

	ok, err = ev.Satisfies(ctx, "m1", achievement.NewRule(achievement.RuleConsecutiveCheckInDays, 7))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluator_FailsClosedWhenCollaboratorDown(t *testing.T) {
	ev, src, _ := setup(t)
	src.AddCheckIn("m1", now)
	src.SetUnavailable(true)

	ok, err := ev.Satisfies(context.Background(), "m1", achievement.NewRule(achievement.RuleTotalCheckIns, 1))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluator_SecretCodeNeverPassive(t *testing.T) {
	ev, _, _ := setup(t)
	rule, err := achievement.NewSecretRule("abc")
	require.NoError(t, err)

	ok, err := ev.Satisfies(context.Background(), "m1", rule)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluator_UnknownKind(t *testing.T) {
	ev, _, _ := setup(t)

	_, err := ev.Satisfies(context.Background(), "m1", achievement.Rule{Kind: "moon_phase", Threshold: 1})
	assert.True(t, errors.Is(err, shared.ErrUnknownRuleKind))
}
