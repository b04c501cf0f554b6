package command

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/Xeideverme/galpao/internal/domain/achievement"
	"github.com/Xeideverme/galpao/internal/domain/shared"
	"github.com/Xeideverme/galpao/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MANAGE CATALOG COMMANDS
// Administrator-owned create, edit and deactivate. Edits never re-evaluate
// unlocks that already happened.
// ══════════════════════════════════════════════════════════════════════════════

// CreateAchievementCommand is the admin input for a new achievement.
type CreateAchievementCommand struct {
	Name            string
	Description     string
	Icon            string
	Category        string
	Rarity          string
	RuleKind        string
	Threshold       int
	SecretCode      string
	Points          int
	BonusXP         int
	DiscountPercent *float64
	RewardItem      string
	MinLevel        int
	Prerequisites   []string
	// Visible defaults to true.
	Visible      *bool
	DisplayOrder int
}

// UpdateAchievementCommand edits an existing achievement. Nil fields are
// left unchanged.
type UpdateAchievementCommand struct {
	ID              string
	Name            *string
	Description     *string
	Icon            *string
	Category        *string
	Rarity          *string
	RuleKind        *string
	Threshold       *int
	SecretCode      *string
	Points          *int
	BonusXP         *int
	DiscountPercent *float64
	ClearDiscount   bool
	RewardItem      *string
	MinLevel        *int
	Prerequisites   *[]string
	Active          *bool
	Visible         *bool
	DisplayOrder    *int
}

// CatalogHandler handles catalog administration.
type CatalogHandler struct {
	repo      achievement.Repository
	publisher shared.EventPublisher
	now       shared.Clock
	log       *logger.Logger
}

// NewCatalogHandler creates a CatalogHandler.
func NewCatalogHandler(repo achievement.Repository, publisher shared.EventPublisher, clock shared.Clock, log *logger.Logger) *CatalogHandler {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	if clock == nil {
		clock = shared.SystemClock
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CatalogHandler{repo: repo, publisher: publisher, now: clock, log: log.With(logger.Component("catalog"))}
}

// Create validates and stores a new definition.
func (h *CatalogHandler) Create(ctx context.Context, cmd CreateAchievementCommand) (*achievement.Definition, error) {
	category, err := achievement.ParseCategory(cmd.Category)
	if err != nil {
		return nil, err
	}
	rarity := achievement.RarityCommon
	if cmd.Rarity != "" {
		if rarity, err = achievement.ParseRarity(cmd.Rarity); err != nil {
			return nil, err
		}
	}
	rule, err := buildRule(cmd.RuleKind, cmd.Threshold, cmd.SecretCode)
	if err != nil {
		return nil, err
	}

	visible := true
	if cmd.Visible != nil {
		visible = *cmd.Visible
	}
	def, err := achievement.NewDefinition(achievement.Draft{
		Name:            cmd.Name,
		Description:     cmd.Description,
		Icon:            cmd.Icon,
		Category:        category,
		Rarity:          rarity,
		Rule:            rule,
		Points:          cmd.Points,
		BonusXP:         cmd.BonusXP,
		DiscountPercent: cmd.DiscountPercent,
		RewardItem:      cmd.RewardItem,
		MinLevel:        cmd.MinLevel,
		Prerequisites:   cmd.Prerequisites,
		Visible:         visible,
		DisplayOrder:    cmd.DisplayOrder,
	}, h.now())
	if err != nil {
		return nil, err
	}

	if err := h.checkPrerequisites(ctx, def); err != nil {
		return nil, err
	}
	if _, err := h.repo.GetByCode(ctx, def.Code); err == nil {
		return nil, shared.ErrAchievementCodeTaken
	} else if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	if err := h.repo.Create(ctx, def); err != nil {
		return nil, err
	}

	h.log.Info("achievement created", logger.AchievementID(def.ID), logger.String("code", def.Code))
	h.publish(def, "created")
	return def, nil
}

// Update applies an administrative edit and bumps the version.
func (h *CatalogHandler) Update(ctx context.Context, cmd UpdateAchievementCommand) (*achievement.Definition, error) {
	current, err := h.repo.GetByID(ctx, cmd.ID)
	if err != nil {
		return nil, err
	}

	patch, err := h.toPatch(current, cmd)
	if err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return current, nil
	}

	next, err := current.Apply(patch, h.now())
	if err != nil {
		return nil, err
	}
	if patch.SetPrereqs {
		if err := h.checkPrerequisites(ctx, next); err != nil {
			return nil, err
		}
	}
	if next.Code != current.Code {
		if other, err := h.repo.GetByCode(ctx, next.Code); err == nil && other.ID != next.ID {
			return nil, shared.ErrAchievementCodeTaken
		}
	}

	if err := h.repo.Update(ctx, next); err != nil {
		return nil, err
	}

	h.log.Info("achievement updated", logger.AchievementID(next.ID), logger.Int("version", next.Version))
	h.publish(next, "updated")
	return next, nil
}

// Deactivate soft-deletes an achievement. Deactivating twice is a no-op.
func (h *CatalogHandler) Deactivate(ctx context.Context, id string) (*achievement.Definition, error) {
	current, err := h.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Active {
		return current, nil
	}

	next := current.Deactivate(h.now())
	if err := h.repo.Update(ctx, next); err != nil {
		return nil, err
	}

	h.log.Info("achievement deactivated", logger.AchievementID(next.ID))
	h.publish(next, "deactivated")
	return next, nil
}

func (h *CatalogHandler) checkPrerequisites(ctx context.Context, def *achievement.Definition) error {
	for _, id := range def.Prerequisites {
		if _, err := h.repo.GetByID(ctx, id); err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return shared.WrapError("achievement", "Validate", shared.ErrValidation,
					fmt.Sprintf("prerequisite %s does not exist", id), shared.ErrPrerequisiteMissing)
			}
			return err
		}
	}
	return h.checkPrerequisiteCycle(ctx, def)
}

// checkPrerequisiteCycle walks the prerequisite graph as it would look with
// def stored and rejects any path leading back to def.
func (h *CatalogHandler) checkPrerequisiteCycle(ctx context.Context, def *achievement.Definition) error {
	visited := map[string]bool{def.ID: true}
	stack := slices.Clone(def.Prerequisites)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == def.ID {
			return shared.WrapError("achievement", "Validate", shared.ErrValidation,
				fmt.Sprintf("prerequisite chain of %s leads back to it", def.ID), shared.ErrPrerequisiteCycle)
		}
		if visited[id] {
			continue
		}
		visited[id] = true

		dep, err := h.repo.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				continue
			}
			return err
		}
		stack = append(stack, dep.Prerequisites...)
	}
	return nil
}

func (h *CatalogHandler) toPatch(current *achievement.Definition, cmd UpdateAchievementCommand) (achievement.Patch, error) {
	p := achievement.Patch{
		Name:            cmd.Name,
		Description:     cmd.Description,
		Icon:            cmd.Icon,
		Points:          cmd.Points,
		BonusXP:         cmd.BonusXP,
		DiscountPercent: cmd.DiscountPercent,
		ClearDiscount:   cmd.ClearDiscount,
		RewardItem:      cmd.RewardItem,
		MinLevel:        cmd.MinLevel,
		Active:          cmd.Active,
		Visible:         cmd.Visible,
		DisplayOrder:    cmd.DisplayOrder,
	}
	if cmd.Category != nil {
		c, err := achievement.ParseCategory(*cmd.Category)
		if err != nil {
			return p, err
		}
		p.Category = &c
	}
	if cmd.Rarity != nil {
		r, err := achievement.ParseRarity(*cmd.Rarity)
		if err != nil {
			return p, err
		}
		p.Rarity = &r
	}
	if cmd.Prerequisites != nil {
		p.Prerequisites = *cmd.Prerequisites
		p.SetPrereqs = true
	}

	if cmd.RuleKind != nil || cmd.Threshold != nil || cmd.SecretCode != nil {
		kind := string(current.Rule.Kind)
		if cmd.RuleKind != nil {
			kind = *cmd.RuleKind
		}
		threshold := current.Rule.Threshold
		if cmd.Threshold != nil {
			threshold = *cmd.Threshold
		}
		code := ""
		if cmd.SecretCode != nil {
			code = *cmd.SecretCode
		}

		var rule achievement.Rule
		parsed, err := achievement.ParseRuleKind(kind)
		if err != nil {
			return p, err
		}
		if parsed == achievement.RuleSecretCode && code == "" && current.Rule.Kind == achievement.RuleSecretCode {
			rule = current.Rule
		} else if rule, err = buildRule(kind, threshold, code); err != nil {
			return p, err
		}
		p.Rule = &rule
	}
	return p, nil
}

func (h *CatalogHandler) publish(def *achievement.Definition, change string) {
	if err := h.publisher.Publish(shared.NewCatalogChangedEvent(def.ID, def.Version, change, h.now())); err != nil {
		h.log.Warn("publish failed", logger.AchievementID(def.ID), logger.Err(err))
	}
}

func buildRule(kind string, threshold int, secretCode string) (achievement.Rule, error) {
	k, err := achievement.ParseRuleKind(kind)
	if err != nil {
		return achievement.Rule{}, err
	}
	if k == achievement.RuleSecretCode {
		return achievement.NewSecretRule(secretCode)
	}
	rule := achievement.NewRule(k, threshold)
	return rule, rule.Validate()
}
