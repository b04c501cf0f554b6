package achievement

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/Xeideverme/galpao/internal/domain/shared"
)

// RuleKind is the closed set of unlock criteria. Adding a kind means adding a
// case to every switch over RuleKind, starting with the evaluator.
type RuleKind string

const (
	RuleTotalCheckIns          RuleKind = "total_checkins"
	RuleConsecutiveCheckInDays RuleKind = "consecutive_checkin_days"
	RuleCheckInsThisMonth      RuleKind = "checkins_this_month"
	RuleTotalWorkouts          RuleKind = "total_workouts"
	RuleWorkoutsThisMonth      RuleKind = "workouts_this_month"
	RuleOnTimePaymentsStreak   RuleKind = "on_time_payments_streak"
	RuleMonthsActive           RuleKind = "months_active"
	RuleReferralCount          RuleKind = "referral_count"
	RuleSecretCode             RuleKind = "secret_code"
)

// AllRuleKinds lists every kind the engine knows how to evaluate.
var AllRuleKinds = []RuleKind{
	RuleTotalCheckIns,
	RuleConsecutiveCheckInDays,
	RuleCheckInsThisMonth,
	RuleTotalWorkouts,
	RuleWorkoutsThisMonth,
	RuleOnTimePaymentsStreak,
	RuleMonthsActive,
	RuleReferralCount,
	RuleSecretCode,
}

// criterio.tipo values from the legacy catalog
var ruleKindAliases = map[string]RuleKind{
	"checkins_total":        RuleTotalCheckIns,
	"checkins_consecutivos": RuleConsecutiveCheckInDays,
	"checkins_mes":          RuleCheckInsThisMonth,
	"treinos_total":         RuleTotalWorkouts,
	"treinos_mes":           RuleWorkoutsThisMonth,
	"pagamentos_dia":        RuleOnTimePaymentsStreak,
	"meses_ativo":           RuleMonthsActive,
	"indicacoes":            RuleReferralCount,
	"easter_egg":            RuleSecretCode,
}

// ParseRuleKind resolves a canonical kind or a legacy alias. Anything else is
// an ErrUnknownRuleKind.
func ParseRuleKind(s string) (RuleKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, k := range AllRuleKinds {
		if string(k) == s {
			return k, nil
		}
	}
	if k, ok := ruleKindAliases[s]; ok {
		return k, nil
	}
	return "", shared.WrapError("achievement", "ParseRule", shared.ErrInvalidRule,
		fmt.Sprintf("unknown rule kind %q", s), shared.ErrUnknownRuleKind)
}

// Rule is the tagged unlock criterion. Threshold carries n for every kind
// except secret_code, which carries a bcrypt hash of the code instead.
type Rule struct {
	Kind       RuleKind `json:"kind"`
	Threshold  int      `json:"threshold,omitempty"`
	SecretHash string   `json:"-"`
}

// NewRule builds a threshold rule.
func NewRule(kind RuleKind, threshold int) Rule {
	return Rule{Kind: kind, Threshold: threshold}
}

// NewSecretRule hashes the code. Codes compare case-insensitively.
func NewSecretRule(code string) (Rule, error) {
	code = normalizeCode(code)
	if code == "" {
		return Rule{}, shared.NewDomainError("achievement", "ParseRule", shared.ErrInvalidRule, "secret code is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return Rule{}, shared.WrapError("achievement", "ParseRule", shared.ErrInvalidRule, "hash secret code", err)
	}
	return Rule{Kind: RuleSecretCode, SecretHash: string(hash)}, nil
}

// MatchesCode reports whether code unlocks a secret_code rule.
func (r Rule) MatchesCode(code string) bool {
	if r.Kind != RuleSecretCode || r.SecretHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(r.SecretHash), []byte(normalizeCode(code))) == nil
}

// Validate rejects unknown kinds and missing payloads.
func (r Rule) Validate() error {
	switch r.Kind {
	case RuleTotalCheckIns, RuleConsecutiveCheckInDays, RuleCheckInsThisMonth,
		RuleTotalWorkouts, RuleWorkoutsThisMonth, RuleOnTimePaymentsStreak,
		RuleMonthsActive, RuleReferralCount:
		if r.Threshold < 1 {
			return shared.NewDomainError("achievement", "Validate", shared.ErrInvalidRule,
				fmt.Sprintf("rule %s needs a threshold of at least 1", r.Kind))
		}
		return nil
	case RuleSecretCode:
		if r.SecretHash == "" {
			return shared.NewDomainError("achievement", "Validate", shared.ErrInvalidRule, "secret_code rule needs a code")
		}
		return nil
	default:
		return shared.WrapError("achievement", "Validate", shared.ErrInvalidRule,
			fmt.Sprintf("unknown rule kind %q", r.Kind), shared.ErrUnknownRuleKind)
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
