package saga

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Xeideverme/galpao/internal/application/criteria"
	"github.com/Xeideverme/galpao/internal/domain/achievement"
	"github.com/Xeideverme/galpao/internal/domain/activity"
	"github.com/Xeideverme/galpao/internal/domain/member"
	"github.com/Xeideverme/galpao/internal/domain/shared"
	"github.com/Xeideverme/galpao/internal/infrastructure/persistence/memory"
)

var now = time.Date(2026, 6, 3, 9, 30, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}

type fixture struct {
	store   *memory.Store
	members *memory.MemberSource
	pub     *recordingPublisher
	flow    *UnlockFlowSaga
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := shared.FixedClock(now)
	store := memory.NewStore(memory.WithClock(clock))
	members := memory.NewMemberSource()
	pub := &recordingPublisher{}
	eval := criteria.NewEvaluator(members, store.Progress(), clock, nil)
	flow := NewUnlockFlowSaga(store.Catalog(), store.Unlocks(), store.Progress(), eval, pub, clock, nil, UnlockFlowConfig{})
	return &fixture{store: store, members: members, pub: pub, flow: flow}
}

func (f *fixture) addDef(t *testing.T, d achievement.Draft) *achievement.Definition {
	t.Helper()
	if d.Category == "" {
		d.Category = achievement.CategoryCheckIn
	}
	if d.Rarity == "" {
		d.Rarity = achievement.RarityCommon
	}
	def, err := achievement.NewDefinition(d, now)
	require.NoError(t, err)
	require.NoError(t, f.store.Catalog().Create(context.Background(), def))
	return def
}

func TestUnlockFlow_FirstCheckIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	def := f.addDef(t, achievement.Draft{
		Name: "Primeiro Passo", Rule: achievement.NewRule(achievement.RuleTotalCheckIns, 1), Points: 10, BonusXP: 5,
	})
	f.members.AddCheckIn("m1", now)

	res, err := f.flow.Execute(ctx, activity.Event{MemberID: "m1", Kind: activity.KindCheckIn, OccurredAt: now})
	require.NoError(t, err)

	assert.Equal(t, 15, res.PointsAdded)
	assert.Equal(t, 10, res.XPAdded)
	assert.False(t, res.Replayed)
	require.Len(t, res.NewlyUnlocked, 1)
	assert.Equal(t, def.ID, res.NewlyUnlocked[0].AchievementID)
	require.NotNil(t, res.Streak)
	assert.Equal(t, 1, res.Streak.Current)

	p, err := f.store.Progress().Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(15), p.TotalPoints)
	assert.Equal(t, int64(10), p.CurrentXP)
	assert.True(t, p.HasUnlocked(def.ID))

	assert.Equal(t, []shared.EventType{
		shared.EventPointsAwarded,
		shared.EventStreakUpdated,
		shared.EventAchievementUnlocked,
	}, f.pub.types())
}

func TestUnlockFlow_ReplayedEventIDAppliesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ev := activity.Event{ID: "evt-1", MemberID: "m1", Kind: activity.KindWorkoutCompleted, OccurredAt: now}

	_, err := f.flow.Execute(ctx, ev)
	require.NoError(t, err)
	res, err := f.flow.Execute(ctx, ev)
	require.NoError(t, err)

	assert.True(t, res.Replayed)
	assert.Zero(t, res.PointsAdded)

	p, err := f.store.Progress().Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), p.TotalPoints)
}

func TestUnlockFlow_ConcurrentEventsUnlockOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	def := f.addDef(t, achievement.Draft{
		Name: "Primeiro Treino", Category: achievement.CategoryWorkout,
		Rule: achievement.NewRule(achievement.RuleTotalWorkouts, 1), Points: 15, BonusXP: 10,
	})
	f.members.AddWorkout("m1", now)

	const n = 20
	var wg sync.WaitGroup
	results := make(chan *UnlockFlowResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.flow.Execute(ctx, activity.Event{MemberID: "m1", Kind: activity.KindWorkoutCompleted, OccurredAt: now})
			if assert.NoError(t, err) {
				results <- res
			}
		}()
	}
	wg.Wait()
	close(results)

	unlocked := 0
	for res := range results {
		unlocked += len(res.NewlyUnlocked)
	}
	assert.Equal(t, 1, unlocked)

	records, err := f.store.Unlocks().ListByMember(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, def.ID, records[0].AchievementID)

	p, err := f.store.Progress().Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(n*10+15), p.TotalPoints)
	assert.Equal(t, []string{def.ID}, p.UnlockedIDs)
}

func TestUnlockFlow_LevelGate(t *testing.T) {
	f := newFixture(t)
	f.addDef(t, achievement.Draft{
		Name: "Centurião", Rule: achievement.NewRule(achievement.RuleTotalCheckIns, 1), Points: 200, MinLevel: 10,
	})
	f.members.AddCheckIn("m1", now)

	res, err := f.flow.Execute(context.Background(), activity.Event{MemberID: "m1", Kind: activity.KindCheckIn, OccurredAt: now})
	require.NoError(t, err)
	assert.Empty(t, res.NewlyUnlocked)
}

func TestUnlockFlow_PrerequisiteWaitsForNextEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.addDef(t, achievement.Draft{
		Name: "Primeiro Passo", Rule: achievement.NewRule(achievement.RuleTotalCheckIns, 1), Points: 10,
	})
	second := f.addDef(t, achievement.Draft{
		Name: "Passo Seguinte", Rule: achievement.NewRule(achievement.RuleTotalCheckIns, 1), Points: 10,
		Prerequisites: []string{first.ID},
	})
	f.members.AddCheckIn("m1", now)

	res, err := f.flow.Execute(ctx, activity.Event{MemberID: "m1", Kind: activity.KindAssessment, OccurredAt: now})
	require.NoError(t, err)
	require.Len(t, res.NewlyUnlocked, 1)
	assert.Equal(t, first.ID, res.NewlyUnlocked[0].AchievementID)

	res, err = f.flow.Execute(ctx, activity.Event{MemberID: "m1", Kind: activity.KindAssessment, OccurredAt: now})
	require.NoError(t, err)
	require.Len(t, res.NewlyUnlocked, 1)
	assert.Equal(t, second.ID, res.NewlyUnlocked[0].AchievementID)
}

func TestUnlockFlow_LevelUpPublished(t *testing.T) {
	f := newFixture(t)
	f.addDef(t, achievement.Draft{
		Name: "Grande Salto", Rule: achievement.NewRule(achievement.RuleTotalCheckIns, 1), Points: 50, BonusXP: 200,
	})
	f.members.AddCheckIn("m1", now)

	res, err := f.flow.Execute(context.Background(), activity.Event{MemberID: "m1", Kind: activity.KindCheckIn, OccurredAt: now})
	require.NoError(t, err)
	assert.Equal(t, 1, res.LevelBefore)
	assert.Equal(t, 3, res.LevelAfter, "205 xp clears 100 and 150")
	assert.Contains(t, f.pub.types(), shared.EventLevelUp)
}

func TestUnlockFlow_UnknownKindEarnsNothingButEvaluates(t *testing.T) {
	f := newFixture(t)
	f.addDef(t, achievement.Draft{
		Name: "Embaixador", Category: achievement.CategoryReferral,
		Rule: achievement.NewRule(achievement.RuleReferralCount, 1), Points: 50,
	})
	f.members.AddMember(memberRef("m2", "m1"))

	res, err := f.flow.Execute(context.Background(), activity.Event{MemberID: "m1", Kind: "referral_signed", OccurredAt: now})
	require.NoError(t, err)
	assert.Equal(t, 50, res.PointsAdded)
	assert.Len(t, res.NewlyUnlocked, 1)
}

func TestUnlockFlow_InvalidEvent(t *testing.T) {
	f := newFixture(t)

	_, err := f.flow.Execute(context.Background(), activity.Event{Kind: activity.KindCheckIn})
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrInvalidEvent))

	var flowErr *UnlockFlowError
	require.True(t, errors.As(err, &flowErr))
	assert.Equal(t, StepApplyBaseReward, flowErr.Step)
}

func TestUnlockFlow_GrantFailureLeavesRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	def := f.addDef(t, achievement.Draft{
		Name: "Primeiro Passo", Rule: achievement.NewRule(achievement.RuleTotalCheckIns, 1), Points: 10,
	})
	f.members.AddCheckIn("m1", now)
	f.store.Fail("GrantAchievement", shared.ErrLedgerUnavailable)

	_, err := f.flow.Execute(ctx, activity.Event{MemberID: "m1", Kind: activity.KindAssessment, OccurredAt: now})
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrGrantIncomplete))
	assert.True(t, shared.IsRetryable(err))

	records, err := f.store.Unlocks().ListByMember(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, records, 1)

	p, err := f.store.Progress().Get(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, p.HasUnlocked(def.ID))
}

func TestUnlockFlow_GrantExplicit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	def := f.addDef(t, achievement.Draft{
		Name: "Mestre", Rule: achievement.NewRule(achievement.RuleTotalCheckIns, 1000), Points: 100, MinLevel: 50,
	})

	res, err := f.flow.Grant(ctx, "m1", def, achievement.SourceManual)
	require.NoError(t, err)
	assert.True(t, res.Granted)
	require.NotNil(t, res.Unlock)
	assert.Equal(t, achievement.SourceManual, res.Unlock.Source)

	res, err = f.flow.Grant(ctx, "m1", def, achievement.SourceManual)
	require.NoError(t, err)
	assert.False(t, res.Granted)

	p, err := f.store.Progress().Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), p.TotalPoints)
}

func TestUnlockFlow_GrantInactive(t *testing.T) {
	f := newFixture(t)
	def := f.addDef(t, achievement.Draft{
		Name: "Antiga", Rule: achievement.NewRule(achievement.RuleTotalCheckIns, 1), Points: 10,
	})

	_, err := f.flow.Grant(context.Background(), "m1", def.Deactivate(now), achievement.SourceManual)
	assert.True(t, errors.Is(err, shared.ErrAchievementInactive))
}

func TestEligible(t *testing.T) {
	def := &achievement.Definition{MinLevel: 3, Prerequisites: []string{"a"}}

	assert.False(t, Eligible(def, 2, map[string]struct{}{"a": {}}))
	assert.False(t, Eligible(def, 3, map[string]struct{}{}))
	assert.True(t, Eligible(def, 3, map[string]struct{}{"a": {}}))
}

func memberRef(id, referredBy string) member.Member {
	return member.Member{ID: id, Name: id, CreatedAt: now, ReferredBy: referredBy}
}
