package achievement

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Xeideverme/galpao/internal/domain/shared"
)

var testNow = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

func validDraft() Draft {
	return Draft{
		Name:     "Primeiro Passo",
		Category: CategoryCheckIn,
		Rarity:   RarityCommon,
		Rule:     NewRule(RuleTotalCheckIns, 1),
		Points:   10,
		BonusXP:  5,
		Visible:  true,
	}
}

func TestNewDefinition_Defaults(t *testing.T) {
	def, err := NewDefinition(validDraft(), testNow)
	require.NoError(t, err)

	assert.NotEmpty(t, def.ID)
	assert.Equal(t, "primeiro-passo", def.Code)
	assert.Equal(t, 1, def.MinLevel)
	assert.Equal(t, 1, def.Version)
	assert.True(t, def.Active)
	assert.Equal(t, testNow, def.CreatedAt)
	assert.Empty(t, def.Prerequisites)
}

func TestNewDefinition_RejectsOutOfRangePoints(t *testing.T) {
	d := validDraft()
	d.Points = 1001

	_, err := NewDefinition(d, testNow)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrValueOutOfRange))
	assert.Contains(t, err.Error(), "points must be at most 1000")
}

func TestNewDefinition_RejectsMissingName(t *testing.T) {
	d := validDraft()
	d.Name = "  "

	_, err := NewDefinition(d, testNow)
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
}

func TestNewDefinition_RejectsZeroThreshold(t *testing.T) {
	d := validDraft()
	d.Rule = NewRule(RuleTotalWorkouts, 0)

	_, err := NewDefinition(d, testNow)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrInvalidRule))
}

func TestNewDefinition_DedupesPrerequisites(t *testing.T) {
	d := validDraft()
	d.Prerequisites = []string{"a", " a ", "", "b"}

	def, err := NewDefinition(d, testNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, def.Prerequisites)
}

func TestDefinition_ApplyBumpsVersion(t *testing.T) {
	def, err := NewDefinition(validDraft(), testNow)
	require.NoError(t, err)

	name := "Primeiro Check-in"
	points := 20
	next, err := def.Apply(Patch{Name: &name, Points: &points}, testNow.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 2, next.Version)
	assert.Equal(t, "primeiro-check-in", next.Code)
	assert.Equal(t, 20, next.Points)
	assert.Equal(t, 1, def.Version, "receiver untouched")
	assert.Equal(t, 10, def.Points)
}

func TestDefinition_ApplyRejectsSelfPrerequisite(t *testing.T) {
	def, err := NewDefinition(validDraft(), testNow)
	require.NoError(t, err)

	_, err = def.Apply(Patch{Prerequisites: []string{def.ID}, SetPrereqs: true}, testNow)
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
}

func TestDefinition_Deactivate(t *testing.T) {
	def, err := NewDefinition(validDraft(), testNow)
	require.NoError(t, err)

	off := def.Deactivate(testNow)
	assert.False(t, off.Active)
	assert.Equal(t, 2, off.Version)
	assert.True(t, def.Active)
}

func TestPatch_IsEmpty(t *testing.T) {
	assert.True(t, Patch{}.IsEmpty())
	visible := false
	assert.False(t, Patch{Visible: &visible}.IsEmpty())
	assert.False(t, Patch{ClearDiscount: true}.IsEmpty())
}

func TestParseRuleKind(t *testing.T) {
	k, err := ParseRuleKind("checkins_consecutivos")
	require.NoError(t, err)
	assert.Equal(t, RuleConsecutiveCheckInDays, k)

	k, err = ParseRuleKind(" TOTAL_WORKOUTS ")
	require.NoError(t, err)
	assert.Equal(t, RuleTotalWorkouts, k)

	_, err = ParseRuleKind("moon_phase")
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrUnknownRuleKind))
	assert.True(t, shared.IsValidation(err))
}

func TestRule_ValidateUnknownKind(t *testing.T) {
	err := Rule{Kind: "moon_phase", Threshold: 3}.Validate()
	assert.True(t, errors.Is(err, shared.ErrUnknownRuleKind))
}

func TestSecretRule_MatchesCodeCaseInsensitive(t *testing.T) {
	r, err := NewSecretRule("Galpao2026")
	require.NoError(t, err)
	assert.NotContains(t, r.SecretHash, "GALPAO2026")

	assert.True(t, r.MatchesCode("galpao2026"))
	assert.True(t, r.MatchesCode("  GALPAO2026 "))
	assert.False(t, r.MatchesCode("other"))
	assert.False(t, NewRule(RuleTotalCheckIns, 1).MatchesCode("galpao2026"))

	_, err = NewSecretRule(" ")
	assert.True(t, errors.Is(err, shared.ErrInvalidRule))
}

func TestParseCategoryAndRarity_Aliases(t *testing.T) {
	c, err := ParseCategory("Treino")
	require.NoError(t, err)
	assert.Equal(t, CategoryWorkout, c)

	r, err := ParseRarity("lendário")
	require.NoError(t, err)
	assert.Equal(t, RarityLegendary, r)
	assert.Greater(t, RarityLegendary.Rank(), RarityEpic.Rank())

	_, err = ParseCategory("yoga")
	assert.True(t, shared.IsValidation(err))
}

func TestDefaultCatalog(t *testing.T) {
	defs, err := DefaultCatalog("", testNow)
	require.NoError(t, err)
	require.Len(t, defs, len(defaultCatalog)+1)

	codes := make(map[string]bool, len(defs))
	for _, d := range defs {
		assert.False(t, codes[d.Code], "duplicate code %s", d.Code)
		codes[d.Code] = true
		assert.NoError(t, d.Validate())
	}

	secret := defs[len(defs)-1]
	assert.Equal(t, RuleSecretCode, secret.Rule.Kind)
	assert.False(t, secret.Visible)
	assert.True(t, secret.Rule.MatchesCode(DefaultSecretCode))
}
