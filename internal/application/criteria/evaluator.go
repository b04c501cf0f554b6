// Package criteria decides whether a member satisfies an achievement rule by
// reading collaborator data and the member's ledger.
package criteria

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Xeideverme/galpao/internal/domain/achievement"
	"github.com/Xeideverme/galpao/internal/domain/member"
	"github.com/Xeideverme/galpao/internal/domain/progress"
	"github.com/Xeideverme/galpao/internal/domain/shared"
	"github.com/Xeideverme/galpao/pkg/logger"
	"github.com/Xeideverme/galpao/pkg/timeutil"
)

// Evaluator maps (member, rule) to a boolean. Collaborator failures fail
// closed; an unknown rule kind is returned as an error.
type Evaluator struct {
	members member.Source
	ledger  progress.Repository
	now     shared.Clock
	log     *logger.Logger
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(members member.Source, ledger progress.Repository, clock shared.Clock, log *logger.Logger) *Evaluator {
	if clock == nil {
		clock = shared.SystemClock
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Evaluator{
		members: members,
		ledger:  ledger,
		now:     clock,
		log:     log.With(logger.Component("criteria")),
	}
}

// Satisfies evaluates a single rule with a fresh scope.
func (e *Evaluator) Satisfies(ctx context.Context, memberID string, rule achievement.Rule) (bool, error) {
	return e.Scope(memberID, nil).Satisfies(ctx, rule)
}

// Scope returns a per-pass evaluator for one member. Collaborator reads are
// memoised so evaluating the whole catalog costs one read per distinct
// query. ledger may be nil, in which case it is loaded on first use.
func (e *Evaluator) Scope(memberID string, ledger *progress.MemberProgress) *Scope {
	return &Scope{
		e:        e,
		memberID: memberID,
		ledger:   ledger,
		now:      e.now(),
		counts:   make(map[string]countResult),
	}
}

// Scope is not safe for concurrent use.
type Scope struct {
	e        *Evaluator
	memberID string
	ledger   *progress.MemberProgress
	now      time.Time

	counts   map[string]countResult
	member   *member.Member
	memberOK *bool
	payments []member.Payment
	paidN    int
	paidErr  error
}

type countResult struct {
	n   int64
	err error
}

// Satisfies evaluates rule for the scope's member.
func (s *Scope) Satisfies(ctx context.Context, rule achievement.Rule) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	n := int64(rule.Threshold)
	switch rule.Kind {
	case achievement.RuleTotalCheckIns:
		return s.atLeast(ctx, rule, "checkins:all", n, func() (int64, error) {
			return s.e.members.CountCheckIns(ctx, s.memberID, time.Time{})
		})

	case achievement.RuleConsecutiveCheckInDays:
		p, ok := s.loadLedger(ctx)
		if !ok {
			return false, nil
		}
		return int64(p.Streak.Current) >= n, nil

	case achievement.RuleCheckInsThisMonth:
		since := timeutil.StartOfMonth(s.now)
		return s.atLeast(ctx, rule, "checkins:month", n, func() (int64, error) {
			return s.e.members.CountCheckIns(ctx, s.memberID, since)
		})

	case achievement.RuleTotalWorkouts:
		return s.atLeast(ctx, rule, "workouts:all", n, func() (int64, error) {
			return s.e.members.CountWorkouts(ctx, s.memberID, time.Time{})
		})

	case achievement.RuleWorkoutsThisMonth:
		since := timeutil.StartOfMonth(s.now)
		return s.atLeast(ctx, rule, "workouts:month", n, func() (int64, error) {
			return s.e.members.CountWorkouts(ctx, s.memberID, since)
		})

	case achievement.RuleOnTimePaymentsStreak:
		paid, ok := s.paidPayments(ctx, rule, rule.Threshold)
		if !ok || len(paid) < rule.Threshold {
			return false, nil
		}
		for _, p := range paid[:rule.Threshold] {
			if !p.OnTime() {
				return false, nil
			}
		}
		return true, nil

	case achievement.RuleMonthsActive:
		m, ok := s.loadMember(ctx, rule)
		if !ok {
			return false, nil
		}
		return s.now.Sub(m.TenureStart()) >= timeutil.ApproxMonths(rule.Threshold), nil

	case achievement.RuleReferralCount:
		return s.atLeast(ctx, rule, "referrals", n, func() (int64, error) {
			return s.e.members.CountReferrals(ctx, s.memberID)
		})

	case achievement.RuleSecretCode:
		// only reachable through an explicit grant
		return false, nil

	default:
		return false, shared.WrapError("criteria", "Satisfies", shared.ErrInvalidRule,
			fmt.Sprintf("unknown rule kind %q", rule.Kind), shared.ErrUnknownRuleKind)
	}
}

func (s *Scope) atLeast(ctx context.Context, rule achievement.Rule, key string, n int64, read func() (int64, error)) (bool, error) {
	res, ok := s.counts[key]
	if !ok {
		c, err := read()
		res = countResult{n: c, err: err}
		s.counts[key] = res
		if err != nil {
			s.failClosed(rule, err)
		}
	}
	if res.err != nil {
		return false, nil
	}
	return res.n >= n, nil
}

func (s *Scope) paidPayments(ctx context.Context, rule achievement.Rule, n int) ([]member.Payment, bool) {
	if s.paidErr != nil {
		return nil, false
	}
	// a wider earlier read also answers a narrower rule
	if s.payments != nil && (s.paidN >= n || len(s.payments) < s.paidN) {
		return s.payments, true
	}
	paid, err := s.e.members.PaidPayments(ctx, s.memberID, n)
	if err != nil {
		s.paidErr = err
		s.failClosed(rule, err)
		return nil, false
	}
	s.payments, s.paidN = paid, n
	return paid, true
}

func (s *Scope) loadMember(ctx context.Context, rule achievement.Rule) (*member.Member, bool) {
	if s.memberOK != nil {
		return s.member, *s.memberOK
	}
	m, err := s.e.members.GetMember(ctx, s.memberID)
	ok := err == nil
	s.member, s.memberOK = m, &ok
	if err != nil {
		s.failClosed(rule, err)
	}
	return m, ok
}

func (s *Scope) loadLedger(ctx context.Context) (*progress.MemberProgress, bool) {
	if s.ledger != nil {
		return s.ledger, true
	}
	p, err := s.e.ledger.Get(ctx, s.memberID)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			s.e.log.Warn("ledger read failed, streak rule treated as unmet",
				logger.MemberID(s.memberID), logger.Err(err))
		}
		return nil, false
	}
	s.ledger = p
	return p, true
}

func (s *Scope) failClosed(rule achievement.Rule, err error) {
	s.e.log.Warn("collaborator read failed, rule treated as unmet",
		logger.MemberID(s.memberID),
		logger.String("rule_kind", string(rule.Kind)),
		logger.Err(err),
	)
}
