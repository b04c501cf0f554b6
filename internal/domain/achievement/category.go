package achievement

import (
	"strings"

	"github.com/Xeideverme/galpao/internal/domain/shared"
)

// Category groups achievements by the activity they reward.
type Category string

const (
	CategoryCheckIn  Category = "checkin"
	CategoryWorkout  Category = "workout"
	CategoryPayment  Category = "payment"
	CategoryTenure   Category = "tenure"
	CategoryReferral Category = "referral"
	CategorySpecial  Category = "special"
)

// legacy Portuguese labels used by the admin panel and older catalog exports
var categoryAliases = map[string]Category{
	"treino":      CategoryWorkout,
	"pagamento":   CategoryPayment,
	"permanencia": CategoryTenure,
	"social":      CategoryReferral,
	"especial":    CategorySpecial,
}

// ParseCategory accepts canonical names and the legacy aliases.
func ParseCategory(s string) (Category, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch c := Category(s); c {
	case CategoryCheckIn, CategoryWorkout, CategoryPayment, CategoryTenure, CategoryReferral, CategorySpecial:
		return c, nil
	}
	if c, ok := categoryAliases[s]; ok {
		return c, nil
	}
	return "", shared.NewDomainError("achievement", "ParseCategory", shared.ErrInvalidInput, "unknown category: "+s)
}

// Rarity is an ordered tier from common to legendary.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityUncommon  Rarity = "uncommon"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

var rarityRank = map[Rarity]int{
	RarityCommon:    1,
	RarityUncommon:  2,
	RarityRare:      3,
	RarityEpic:      4,
	RarityLegendary: 5,
}

var rarityAliases = map[string]Rarity{
	"comum":    RarityCommon,
	"incomum":  RarityUncommon,
	"raro":     RarityRare,
	"epico":    RarityEpic,
	"épico":    RarityEpic,
	"lendario": RarityLegendary,
	"lendário": RarityLegendary,
}

// Rank orders rarities; unknown values rank 0.
func (r Rarity) Rank() int {
	return rarityRank[r]
}

// ParseRarity accepts canonical names and the legacy aliases.
func ParseRarity(s string) (Rarity, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if _, ok := rarityRank[Rarity(s)]; ok {
		return Rarity(s), nil
	}
	if r, ok := rarityAliases[s]; ok {
		return r, nil
	}
	return "", shared.NewDomainError("achievement", "ParseRarity", shared.ErrInvalidInput, "unknown rarity: "+s)
}
