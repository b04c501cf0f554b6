// Package achievement holds the administrator-owned catalog: definitions,
// their unlock rules and the append-only unlock records.
package achievement

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/Xeideverme/galpao/internal/domain/shared"
)

// Definition is one catalog entry. Edits bump Version; nothing is ever
// hard-deleted.
type Definition struct {
	ID          string   `json:"id"`
	Code        string   `json:"code" validate:"required,max=120"`
	Name        string   `json:"name" validate:"required,max=120"`
	Description string   `json:"description" validate:"max=500"`
	Icon        string   `json:"icon" validate:"max=16"`
	Category    Category `json:"category" validate:"required,oneof=checkin workout payment tenure referral special"`
	Rarity      Rarity   `json:"rarity" validate:"required,oneof=common uncommon rare epic legendary"`
	Rule        Rule     `json:"rule"`

	Points          int      `json:"points" validate:"min=1,max=1000"`
	BonusXP         int      `json:"bonus_xp" validate:"min=0"`
	DiscountPercent *float64 `json:"discount_percent,omitempty" validate:"omitempty,min=0,max=100"`
	RewardItem      string   `json:"reward_item,omitempty" validate:"max=200"`

	MinLevel      int      `json:"min_level" validate:"min=1,max=100"`
	Prerequisites []string `json:"prerequisites" validate:"dive,required"`

	Active       bool `json:"active"`
	Visible      bool `json:"visible"`
	DisplayOrder int  `json:"display_order"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Draft is the administrator input for a new definition.
type Draft struct {
	Name            string
	Description     string
	Icon            string
	Category        Category
	Rarity          Rarity
	Rule            Rule
	Points          int
	BonusXP         int
	DiscountPercent *float64
	RewardItem      string
	MinLevel        int
	Prerequisites   []string
	Visible         bool
	DisplayOrder    int
}

// NewDefinition builds and validates an active definition at version 1.
func NewDefinition(d Draft, now time.Time) (*Definition, error) {
	def := &Definition{
		ID:              uuid.NewString(),
		Code:            CodeFor(d.Name),
		Name:            strings.TrimSpace(d.Name),
		Description:     strings.TrimSpace(d.Description),
		Icon:            d.Icon,
		Category:        d.Category,
		Rarity:          d.Rarity,
		Rule:            d.Rule,
		Points:          d.Points,
		BonusXP:         d.BonusXP,
		DiscountPercent: d.DiscountPercent,
		RewardItem:      strings.TrimSpace(d.RewardItem),
		MinLevel:        d.MinLevel,
		Prerequisites:   dedupe(d.Prerequisites),
		Active:          true,
		Visible:         d.Visible,
		DisplayOrder:    d.DisplayOrder,
		Version:         1,
		CreatedAt:       now.UTC(),
		UpdatedAt:       now.UTC(),
	}
	if def.MinLevel == 0 {
		def.MinLevel = 1
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// CodeFor derives the URL-safe catalog code from a display name.
func CodeFor(name string) string {
	return slug.Make(strings.TrimSpace(name))
}

// Validate checks field ranges and the rule payload.
func (d *Definition) Validate() error {
	if err := validateStruct(d); err != nil {
		return err
	}
	if slices.Contains(d.Prerequisites, d.ID) {
		return shared.NewDomainError("achievement", "Validate", shared.ErrValidation, "an achievement cannot require itself")
	}
	return d.Rule.Validate()
}

// Reward returns the points and XP granted on unlock.
func (d *Definition) Reward() (points, xp int) {
	return d.Points, d.BonusXP
}

// Patch carries the fields an administrator may change. Nil fields are left
// alone. Edits never touch existing unlocks.
type Patch struct {
	Name            *string
	Description     *string
	Icon            *string
	Category        *Category
	Rarity          *Rarity
	Rule            *Rule
	Points          *int
	BonusXP         *int
	DiscountPercent *float64
	ClearDiscount   bool
	RewardItem      *string
	MinLevel        *int
	Prerequisites   []string
	SetPrereqs      bool
	Active          *bool
	Visible         *bool
	DisplayOrder    *int
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Name == nil && p.Description == nil && p.Icon == nil && p.Category == nil &&
		p.Rarity == nil && p.Rule == nil && p.Points == nil && p.BonusXP == nil &&
		p.DiscountPercent == nil && !p.ClearDiscount && p.RewardItem == nil &&
		p.MinLevel == nil && !p.SetPrereqs && p.Active == nil && p.Visible == nil &&
		p.DisplayOrder == nil
}

// Apply returns a validated copy with the patch applied and Version bumped.
// The receiver is left untouched so a failed validation leaves no trace.
func (d *Definition) Apply(p Patch, now time.Time) (*Definition, error) {
	next := d.Clone()
	if p.Name != nil {
		next.Name = strings.TrimSpace(*p.Name)
		next.Code = CodeFor(next.Name)
	}
	if p.Description != nil {
		next.Description = strings.TrimSpace(*p.Description)
	}
	if p.Icon != nil {
		next.Icon = *p.Icon
	}
	if p.Category != nil {
		next.Category = *p.Category
	}
	if p.Rarity != nil {
		next.Rarity = *p.Rarity
	}
	if p.Rule != nil {
		next.Rule = *p.Rule
	}
	if p.Points != nil {
		next.Points = *p.Points
	}
	if p.BonusXP != nil {
		next.BonusXP = *p.BonusXP
	}
	if p.ClearDiscount {
		next.DiscountPercent = nil
	} else if p.DiscountPercent != nil {
		v := *p.DiscountPercent
		next.DiscountPercent = &v
	}
	if p.RewardItem != nil {
		next.RewardItem = strings.TrimSpace(*p.RewardItem)
	}
	if p.MinLevel != nil {
		next.MinLevel = *p.MinLevel
	}
	if p.SetPrereqs {
		next.Prerequisites = dedupe(p.Prerequisites)
	}
	if p.Active != nil {
		next.Active = *p.Active
	}
	if p.Visible != nil {
		next.Visible = *p.Visible
	}
	if p.DisplayOrder != nil {
		next.DisplayOrder = *p.DisplayOrder
	}

	if err := next.Validate(); err != nil {
		return nil, err
	}
	next.Version = d.Version + 1
	next.UpdatedAt = now.UTC()
	return next, nil
}

// Deactivate soft-deletes the definition.
func (d *Definition) Deactivate(now time.Time) *Definition {
	next := d.Clone()
	next.Active = false
	next.Version = d.Version + 1
	next.UpdatedAt = now.UTC()
	return next
}

// Clone returns a deep copy.
func (d *Definition) Clone() *Definition {
	c := *d
	c.Prerequisites = slices.Clone(d.Prerequisites)
	if d.DiscountPercent != nil {
		v := *d.DiscountPercent
		c.DiscountPercent = &v
	}
	return &c
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
