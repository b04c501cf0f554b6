// Package saga contains the multi-step processes that coordinate the
// catalog, the ledger and the unlock records.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Xeideverme/galpao/internal/application/criteria"
	"github.com/Xeideverme/galpao/internal/domain/achievement"
	"github.com/Xeideverme/galpao/internal/domain/activity"
	"github.com/Xeideverme/galpao/internal/domain/progress"
	"github.com/Xeideverme/galpao/internal/domain/shared"
	"github.com/Xeideverme/galpao/pkg/logger"
	"github.com/Xeideverme/galpao/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// UNLOCK FLOW SAGA
// Flow: Apply Base Reward → Update Streak → Load Ledger → Evaluate Catalog →
//
//	Insert Unlocks → Grant Rewards → Recompute Level → Publish Events
//
// Every step is an atomic store operation on its own. The flow as a whole is
// not transactional; the unlock record is the source of truth and the
// reconciliation job repairs a ledger that missed a grant.
// ══════════════════════════════════════════════════════════════════════════════

// UnlockFlowStep names a step of the flow.
type UnlockFlowStep string

const (
	StepApplyBaseReward UnlockFlowStep = "apply_base_reward"
	StepUpdateStreak    UnlockFlowStep = "update_streak"
	StepLoadLedger      UnlockFlowStep = "load_ledger"
	StepEvaluate        UnlockFlowStep = "evaluate_catalog"
	StepUnlock          UnlockFlowStep = "unlock"
	StepRecomputeLevel  UnlockFlowStep = "recompute_level"
	StepPublishEvents   UnlockFlowStep = "publish_events"
	StepComplete        UnlockFlowStep = "complete"
)

// UnlockFlowResult is what a single event produced.
type UnlockFlowResult struct {
	MemberID string

	// PointsAdded counts base and achievement points granted by this call.
	PointsAdded int
	XPAdded     int
	// Replayed is true when the event id had already been applied.
	Replayed bool

	Streak      *progress.Streak
	LevelBefore int
	LevelAfter  int

	// NewlyUnlocked holds only the unlocks this invocation won.
	NewlyUnlocked []*achievement.Unlock

	ProcessedAt time.Time
}

// UnlockFlowState tracks one execution.
type UnlockFlowState struct {
	CurrentStep UnlockFlowStep
	FailedStep  UnlockFlowStep
	Event       activity.Event

	Applied       bool
	BasePoints    int
	Balance       progress.Balance
	LevelBefore   int
	Streak        *progress.Streak
	StreakChange  progress.StreakChange
	Ledger        *progress.MemberProgress
	Candidates    []*achievement.Definition
	NewlyUnlocked []*achievement.Unlock
	GrantedPoints int
	GrantedXP     int
	Error         error

	// StreakAdvanced is true when this execution counted the check-in.
	StreakAdvanced bool
}

// UnlockFlowConfig tunes store retries.
type UnlockFlowConfig struct {
	StoreRetrier      *retry.Retrier
	ContentionRetrier *retry.Retrier
}

// DefaultUnlockFlowConfig returns production retry policies.
func DefaultUnlockFlowConfig() UnlockFlowConfig {
	return UnlockFlowConfig{
		StoreRetrier:      retry.StoreRetrier(retry.WithRetryIf(IsTransient)),
		ContentionRetrier: retry.ContentionRetrier(),
	}
}

// IsTransient reports store failures worth retrying in place.
func IsTransient(err error) bool {
	return retry.IsRetryable(err) || shared.IsRetryable(err)
}

// UnlockFlowSaga is the unlock orchestrator.
type UnlockFlowSaga struct {
	catalog   achievement.Repository
	unlocks   achievement.UnlockRepository
	ledger    progress.Repository
	evaluator *criteria.Evaluator
	publisher shared.EventPublisher
	now       shared.Clock
	log       *logger.Logger

	storeRetry      *retry.Retrier
	contentionRetry *retry.Retrier
}

// NewUnlockFlowSaga wires the saga.
func NewUnlockFlowSaga(
	catalog achievement.Repository,
	unlocks achievement.UnlockRepository,
	ledger progress.Repository,
	evaluator *criteria.Evaluator,
	publisher shared.EventPublisher,
	clock shared.Clock,
	log *logger.Logger,
	config UnlockFlowConfig,
) *UnlockFlowSaga {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	if clock == nil {
		clock = shared.SystemClock
	}
	if log == nil {
		log = logger.Nop()
	}
	defaults := DefaultUnlockFlowConfig()
	if config.StoreRetrier == nil {
		config.StoreRetrier = defaults.StoreRetrier
	}
	if config.ContentionRetrier == nil {
		config.ContentionRetrier = defaults.ContentionRetrier
	}
	return &UnlockFlowSaga{
		catalog:         catalog,
		unlocks:         unlocks,
		ledger:          ledger,
		evaluator:       evaluator,
		publisher:       publisher,
		now:             clock,
		log:             log.With(logger.Component("unlock_flow")),
		storeRetry:      config.StoreRetrier,
		contentionRetry: config.ContentionRetrier,
	}
}

// Execute processes one activity event end to end.
func (s *UnlockFlowSaga) Execute(ctx context.Context, event activity.Event) (*UnlockFlowResult, error) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}
	event.OccurredAt = event.OccurredAt.UTC()

	state := &UnlockFlowState{CurrentStep: StepApplyBaseReward, Event: event}
	if err := event.Validate(); err != nil {
		state.FailedStep = StepApplyBaseReward
		return nil, s.wrapError(state, err)
	}

	if err := s.stepApplyBaseReward(ctx, state); err != nil {
		return nil, s.wrapError(state, err)
	}

	// A replayed id still runs the streak step: the reward may have committed
	// on an attempt whose streak step failed. The store counts each id once.
	if event.Kind == activity.KindCheckIn && (state.Applied || event.ID != "") {
		state.CurrentStep = StepUpdateStreak
		if err := s.stepUpdateStreak(ctx, state); err != nil {
			return nil, s.wrapError(state, err)
		}
	}

	state.CurrentStep = StepLoadLedger
	if err := s.stepLoadLedger(ctx, state); err != nil {
		return nil, s.wrapError(state, err)
	}

	state.CurrentStep = StepEvaluate
	if err := s.stepEvaluate(ctx, state); err != nil {
		return nil, s.wrapError(state, err)
	}

	state.CurrentStep = StepUnlock
	if err := s.stepUnlock(ctx, state); err != nil {
		return nil, s.wrapError(state, err)
	}

	state.CurrentStep = StepRecomputeLevel
	levelAfter, err := s.recomputeLevel(ctx, event.MemberID, state.Balance)
	if err != nil {
		state.FailedStep = StepRecomputeLevel
		return nil, s.wrapError(state, err)
	}

	state.CurrentStep = StepPublishEvents
	s.stepPublishEvents(state, levelAfter)

	state.CurrentStep = StepComplete
	return &UnlockFlowResult{
		MemberID:      event.MemberID,
		PointsAdded:   state.BasePoints + state.GrantedPoints,
		XPAdded:       state.BasePoints + state.GrantedXP,
		Replayed:      !state.Applied,
		Streak:        state.Streak,
		LevelBefore:   state.LevelBefore,
		LevelAfter:    levelAfter,
		NewlyUnlocked: state.NewlyUnlocked,
		ProcessedAt:   s.now(),
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SAGA STEPS
// ══════════════════════════════════════════════════════════════════════════════

// stepApplyBaseReward credits the fixed per-kind reward. Without an event id
// the increment is not idempotent, so it is attempted once and the caller
// owns the retry.
func (s *UnlockFlowSaga) stepApplyBaseReward(ctx context.Context, state *UnlockFlowState) error {
	ev := state.Event
	points := activity.BasePoints(ev.Kind)

	if points == 0 {
		p, err := s.ledger.GetOrCreate(ctx, ev.MemberID)
		if err != nil {
			state.FailedStep = StepApplyBaseReward
			return fmt.Errorf("load ledger: %w", err)
		}
		state.Applied = true
		state.Balance = progress.Balance{TotalPoints: p.TotalPoints, CurrentXP: p.CurrentXP, Level: p.Level}
		state.LevelBefore = p.Level
		return nil
	}

	reward := progress.Reward{Points: points, XP: points, Reason: ev.Reason(), At: ev.OccurredAt}
	apply := func(ctx context.Context) error {
		b, applied, err := s.ledger.ApplyReward(ctx, ev.MemberID, ev.ID, reward)
		if err != nil {
			return err
		}
		state.Balance, state.Applied = b, applied
		return nil
	}

	var err error
	if ev.ID != "" {
		err = s.storeRetry.Do(ctx, apply)
	} else {
		err = apply(ctx)
	}
	if err != nil {
		state.FailedStep = StepApplyBaseReward
		return shared.WrapError("progress", "ApplyReward", shared.ErrServiceUnavailable, "apply base reward", err)
	}

	state.LevelBefore = state.Balance.Level
	if state.Applied {
		state.BasePoints = points
	} else {
		s.log.Info("event already applied, skipping base reward",
			logger.MemberID(ev.MemberID), logger.String("event_id", ev.ID))
	}

	// level is recomputed after every XP mutation, not only after unlocks
	level, err := s.recomputeLevel(ctx, ev.MemberID, state.Balance)
	if err != nil {
		state.FailedStep = StepApplyBaseReward
		return err
	}
	state.Balance.Level = level
	return nil
}

// stepUpdateStreak runs the streak step under a compare-and-swap loop.
func (s *UnlockFlowSaga) stepUpdateStreak(ctx context.Context, state *UnlockFlowState) error {
	memberID, eventID := state.Event.MemberID, state.Event.ID
	err := s.contentionRetry.Do(ctx, func(ctx context.Context) error {
		p, err := s.ledger.Get(ctx, memberID)
		if err != nil {
			return retry.Permanent(err)
		}
		next, change := p.Streak.Advance(state.Event.OccurredAt)
		outcome, err := s.ledger.CompareAndSwapStreak(ctx, memberID, eventID, p.StreakVersion, next)
		if err != nil {
			return err
		}
		switch outcome {
		case progress.StreakStale:
			return retry.Retryable(shared.ErrStreakContention)
		case progress.StreakAlreadyApplied:
			current := p.Streak
			state.Streak, state.StreakChange = &current, progress.StreakUnchanged
		default:
			state.Streak, state.StreakChange = &next, change
			state.StreakAdvanced = true
		}
		return nil
	})
	if err != nil {
		state.FailedStep = StepUpdateStreak
		if errors.Is(err, shared.ErrStreakContention) {
			return shared.ErrStreakContention
		}
		return shared.WrapError("progress", "RecordCheckIn", shared.ErrServiceUnavailable, "update streak", err)
	}
	return nil
}

// stepLoadLedger loads the unlocked set and level used for gating.
func (s *UnlockFlowSaga) stepLoadLedger(ctx context.Context, state *UnlockFlowState) error {
	p, err := s.ledger.GetOrCreate(ctx, state.Event.MemberID)
	if err != nil {
		state.FailedStep = StepLoadLedger
		return shared.WrapError("progress", "Get", shared.ErrServiceUnavailable, "load ledger", err)
	}
	state.Ledger = p
	if state.Streak == nil {
		st := p.Streak
		state.Streak = &st
	}
	return nil
}

// stepEvaluate picks every active, not yet unlocked, level-eligible,
// prerequisite-satisfied definition whose rule holds now. The catalog is
// read fresh on each event.
func (s *UnlockFlowSaga) stepEvaluate(ctx context.Context, state *UnlockFlowState) error {
	defs, err := s.catalog.List(ctx, achievement.Filter{ActiveOnly: true})
	if err != nil {
		state.FailedStep = StepEvaluate
		return shared.WrapError("achievement", "List", shared.ErrServiceUnavailable, "load catalog", err)
	}

	unlocked := state.Ledger.UnlockedSet()
	scope := s.evaluator.Scope(state.Event.MemberID, state.Ledger)

	for _, def := range defs {
		if _, done := unlocked[def.ID]; done {
			continue
		}
		if !Eligible(def, state.Ledger.Level, unlocked) {
			continue
		}
		ok, err := scope.Satisfies(ctx, def.Rule)
		if err != nil {
			state.FailedStep = StepEvaluate
			return fmt.Errorf("evaluate %s: %w", def.Code, err)
		}
		if ok {
			state.Candidates = append(state.Candidates, def)
		}
	}
	return nil
}

// Eligible applies the level and prerequisite gates.
func Eligible(def *achievement.Definition, level int, unlocked map[string]struct{}) bool {
	if level < def.MinLevel {
		return false
	}
	for _, pre := range def.Prerequisites {
		if _, ok := unlocked[pre]; !ok {
			return false
		}
	}
	return true
}

// stepUnlock inserts the unlock record and grants its reward for every
// candidate. Losing the insert to a concurrent evaluation is not an error.
func (s *UnlockFlowSaga) stepUnlock(ctx context.Context, state *UnlockFlowState) error {
	for _, def := range state.Candidates {
		u, b, won, err := s.unlock(ctx, state.Event.MemberID, def, achievement.SourceEvaluation)
		if err != nil {
			state.FailedStep = StepUnlock
			return err
		}
		if !won {
			continue
		}
		state.Balance = b
		state.NewlyUnlocked = append(state.NewlyUnlocked, u)
		state.GrantedPoints += u.Points
		state.GrantedXP += u.XP
	}
	return nil
}

// unlock is the insert-if-absent then grant sequence shared by evaluation and
// explicit grants.
func (s *UnlockFlowSaga) unlock(ctx context.Context, memberID string, def *achievement.Definition, source achievement.Source) (*achievement.Unlock, progress.Balance, bool, error) {
	u := achievement.NewUnlock(memberID, def, source, s.now())

	inserted, err := retry.DoWithData(ctx, s.storeRetry, func(ctx context.Context) (bool, error) {
		return s.unlocks.TryInsertUnique(ctx, u)
	})
	if err != nil {
		return nil, progress.Balance{}, false, shared.WrapError("achievement", "Unlock", shared.ErrServiceUnavailable, "insert unlock record", err)
	}
	if !inserted {
		s.log.Debug("unlock already recorded", logger.MemberID(memberID), logger.AchievementID(def.ID))
		return nil, progress.Balance{}, false, nil
	}

	reward := progress.Reward{
		Points:        def.Points,
		XP:            def.BonusXP,
		Reason:        "achievement:" + def.Code,
		AchievementID: def.ID,
		At:            u.UnlockedAt,
	}
	var balance progress.Balance
	err = s.storeRetry.Do(ctx, func(ctx context.Context) error {
		b, _, err := s.ledger.GrantAchievement(ctx, memberID, reward)
		if err != nil {
			return err
		}
		balance = b
		return nil
	})
	if err != nil {
		s.log.Error("unlock recorded but grant failed; reconciliation will repair",
			logger.MemberID(memberID), logger.AchievementID(def.ID), logger.Err(err))
		return nil, progress.Balance{}, false, shared.WrapError("progress", "Grant", shared.ErrServiceUnavailable,
			"grant "+def.Code, errors.Join(shared.ErrGrantIncomplete, err))
	}

	s.log.Info("achievement unlocked",
		logger.MemberID(memberID), logger.AchievementID(def.ID), logger.Points(def.Points),
		logger.String("source", string(source)))
	return u, balance, true, nil
}

// recomputeLevel raises the stored level to what the balance's XP reaches.
func (s *UnlockFlowSaga) recomputeLevel(ctx context.Context, memberID string, b progress.Balance) (int, error) {
	level := progress.LevelForXP(b.Level, b.CurrentXP)
	if level <= b.Level {
		return b.Level, nil
	}
	err := s.storeRetry.Do(ctx, func(ctx context.Context) error {
		return s.ledger.RaiseLevel(ctx, memberID, level)
	})
	if err != nil {
		return b.Level, shared.WrapError("progress", "RaiseLevel", shared.ErrServiceUnavailable, "raise level", err)
	}
	return level, nil
}

// stepPublishEvents is best effort; subscribers only refresh caches and notify.
func (s *UnlockFlowSaga) stepPublishEvents(state *UnlockFlowState, levelAfter int) {
	ev := state.Event
	at := s.now()
	var events []shared.Event

	if state.BasePoints > 0 {
		events = append(events, shared.NewPointsAwardedEvent(ev.MemberID, state.BasePoints, state.BasePoints, ev.Reason(), at))
	}
	if state.StreakAdvanced {
		events = append(events, shared.NewStreakUpdatedEvent(ev.MemberID, state.Streak.Current, state.Streak.Record,
			state.StreakChange == progress.StreakReset, at))
	}
	for _, u := range state.NewlyUnlocked {
		events = append(events, shared.NewAchievementUnlockedEvent(ev.MemberID, u.AchievementID, u.Name,
			string(u.Rarity), u.Points, u.XP, at))
	}
	if levelAfter > state.LevelBefore {
		events = append(events, shared.NewLevelUpEvent(ev.MemberID, state.LevelBefore, levelAfter, at))
	}
	s.publish(events...)
}

func (s *UnlockFlowSaga) publish(events ...shared.Event) {
	for _, e := range events {
		if err := s.publisher.Publish(e); err != nil {
			s.log.Warn("publish failed", logger.String("event_type", string(e.EventType())), logger.Err(err))
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// EXPLICIT GRANTS
// ══════════════════════════════════════════════════════════════════════════════

// GrantResult reports an explicit grant.
type GrantResult struct {
	Unlock     *achievement.Unlock
	Granted    bool
	LevelAfter int
}

// Grant unlocks def for a member outside automatic evaluation: admin grants
// and secret-code redemption. Granting an achievement the member already has
// returns Granted=false.
func (s *UnlockFlowSaga) Grant(ctx context.Context, memberID string, def *achievement.Definition, source achievement.Source) (*GrantResult, error) {
	if !def.Active {
		return nil, shared.ErrAchievementInactive
	}
	p, err := s.ledger.GetOrCreate(ctx, memberID)
	if err != nil {
		return nil, shared.WrapError("progress", "Get", shared.ErrServiceUnavailable, "load ledger", err)
	}

	u, b, won, err := s.unlock(ctx, memberID, def, source)
	if err != nil {
		return nil, err
	}
	if !won {
		return &GrantResult{Granted: false, LevelAfter: p.Level}, nil
	}

	level, err := s.recomputeLevel(ctx, memberID, b)
	if err != nil {
		return nil, err
	}

	events := []shared.Event{
		shared.NewAchievementUnlockedEvent(memberID, u.AchievementID, u.Name, string(u.Rarity), u.Points, u.XP, s.now()),
	}
	if level > p.Level {
		events = append(events, shared.NewLevelUpEvent(memberID, p.Level, level, s.now()))
	}
	s.publish(events...)

	return &GrantResult{Unlock: u, Granted: true, LevelAfter: level}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// UnlockFlowError reports the step a flow failed at.
type UnlockFlowError struct {
	Step     UnlockFlowStep
	MemberID string
	Cause    error
	Message  string
}

func (e *UnlockFlowError) Error() string { return e.Message }

func (e *UnlockFlowError) Unwrap() error { return e.Cause }

func (s *UnlockFlowSaga) wrapError(state *UnlockFlowState, err error) error {
	state.Error = err
	return &UnlockFlowError{
		Step:     state.FailedStep,
		MemberID: state.Event.MemberID,
		Cause:    err,
		Message:  fmt.Sprintf("unlock flow failed at step '%s': %v", state.FailedStep, err),
	}
}
