package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/Xeideverme/galpao/internal/application/command"
	"github.com/Xeideverme/galpao/internal/application/query"
	"github.com/Xeideverme/galpao/internal/domain/achievement"
	"github.com/Xeideverme/galpao/internal/domain/leaderboard"
	"github.com/Xeideverme/galpao/internal/domain/progress"
	"github.com/Xeideverme/galpao/internal/domain/shared"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// bind decodes the JSON body into dst and runs its validate tags.
func bind(c *fiber.Ctx, dst any) error {
	if err := json.Unmarshal(c.Body(), dst); err != nil {
		return shared.WrapError("http", "Bind", shared.ErrInvalidInput, "malformed JSON body", err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return shared.NewDomainError("http", "Bind", shared.ErrValidation, achievement.FormatValidationErrors(verrs))
		}
		return shared.WrapError("http", "Bind", shared.ErrValidation, "invalid request", err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(c *fiber.Ctx) error {
	if s.deps.HealthChecker == nil {
		return c.JSON(fiber.Map{"healthy": true, "timestamp": time.Now().UTC()})
	}
	status := s.deps.HealthChecker.Check(c.UserContext())
	code := fiber.StatusOK
	if !status.Healthy {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(status)
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENTS
// ══════════════════════════════════════════════════════════════════════════════

type submitEventRequest struct {
	ID         string         `json:"id" validate:"omitempty,max=128"`
	MemberID   string         `json:"member_id" validate:"required"`
	Kind       string         `json:"kind" validate:"required,max=64"`
	Payload    map[string]any `json:"payload"`
	OccurredAt *time.Time     `json:"occurred_at"`
}

type submitEventResponse struct {
	MemberID      string                `json:"member_id"`
	PointsAdded   int                   `json:"points_added"`
	XPAdded       int                   `json:"xp_added"`
	Replayed      bool                  `json:"replayed"`
	Level         int                   `json:"level"`
	LeveledUp     bool                  `json:"leveled_up"`
	Streak        *progress.Streak      `json:"streak,omitempty"`
	NewlyUnlocked []*achievement.Unlock `json:"newly_unlocked"`
	ProcessedAt   time.Time             `json:"processed_at"`
}

func (s *Server) handleSubmitEvent(c *fiber.Ctx) error {
	var req submitEventRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	cmd := command.SubmitEventCommand{
		EventID:  req.ID,
		MemberID: req.MemberID,
		Kind:     req.Kind,
		Payload:  req.Payload,
	}
	if req.OccurredAt != nil {
		cmd.OccurredAt = *req.OccurredAt
	}

	res, err := s.deps.SubmitEvent.Handle(c.UserContext(), cmd)
	if err != nil {
		return err
	}
	return c.JSON(submitEventResponse{
		MemberID:      res.MemberID,
		PointsAdded:   res.PointsAdded,
		XPAdded:       res.XPAdded,
		Replayed:      res.Replayed,
		Level:         res.Level,
		LeveledUp:     res.LeveledUp,
		Streak:        res.Streak,
		NewlyUnlocked: res.NewlyUnlocked,
		ProcessedAt:   res.ProcessedAt,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

type createAchievementRequest struct {
	Name            string   `json:"name" validate:"required"`
	Description     string   `json:"description"`
	Icon            string   `json:"icon"`
	Category        string   `json:"category" validate:"required"`
	Rarity          string   `json:"rarity"`
	RuleKind        string   `json:"rule_kind" validate:"required"`
	Threshold       int      `json:"threshold"`
	SecretCode      string   `json:"secret_code"`
	Points          int      `json:"points"`
	BonusXP         int      `json:"bonus_xp"`
	DiscountPercent *float64 `json:"discount_percent"`
	RewardItem      string   `json:"reward_item"`
	MinLevel        int      `json:"min_level"`
	Prerequisites   []string `json:"prerequisites"`
	Visible         *bool    `json:"visible"`
	DisplayOrder    int      `json:"display_order"`
}

type updateAchievementRequest struct {
	Name            *string   `json:"name"`
	Description     *string   `json:"description"`
	Icon            *string   `json:"icon"`
	Category        *string   `json:"category"`
	Rarity          *string   `json:"rarity"`
	RuleKind        *string   `json:"rule_kind"`
	Threshold       *int      `json:"threshold"`
	SecretCode      *string   `json:"secret_code"`
	Points          *int      `json:"points"`
	BonusXP         *int      `json:"bonus_xp"`
	DiscountPercent *float64  `json:"discount_percent"`
	ClearDiscount   bool      `json:"clear_discount"`
	RewardItem      *string   `json:"reward_item"`
	MinLevel        *int      `json:"min_level"`
	Prerequisites   *[]string `json:"prerequisites"`
	Active          *bool     `json:"active"`
	Visible         *bool     `json:"visible"`
	DisplayOrder    *int      `json:"display_order"`
}

func (s *Server) handleListCatalog(c *fiber.Ctx) error {
	defs, err := s.deps.GetCatalog.Handle(c.UserContext(), query.GetCatalogQuery{
		Category:        c.Query("categoria"),
		Rarity:          c.Query("raridade"),
		VisibleOnly:     c.QueryBool("visiveis_apenas", false),
		IncludeInactive: c.QueryBool("incluir_inativas", false),
	})
	if err != nil {
		return err
	}
	if defs == nil {
		defs = []*achievement.Definition{}
	}
	return c.JSON(defs)
}

func (s *Server) handleCreateAchievement(c *fiber.Ctx) error {
	var req createAchievementRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	def, err := s.deps.Catalog.Create(c.UserContext(), command.CreateAchievementCommand{
		Name:            req.Name,
		Description:     req.Description,
		Icon:            req.Icon,
		Category:        req.Category,
		Rarity:          req.Rarity,
		RuleKind:        req.RuleKind,
		Threshold:       req.Threshold,
		SecretCode:      req.SecretCode,
		Points:          req.Points,
		BonusXP:         req.BonusXP,
		DiscountPercent: req.DiscountPercent,
		RewardItem:      req.RewardItem,
		MinLevel:        req.MinLevel,
		Prerequisites:   req.Prerequisites,
		Visible:         req.Visible,
		DisplayOrder:    req.DisplayOrder,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(def)
}

func (s *Server) handleUpdateAchievement(c *fiber.Ctx) error {
	var req updateAchievementRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	def, err := s.deps.Catalog.Update(c.UserContext(), command.UpdateAchievementCommand{
		ID:              c.Params("id"),
		Name:            req.Name,
		Description:     req.Description,
		Icon:            req.Icon,
		Category:        req.Category,
		Rarity:          req.Rarity,
		RuleKind:        req.RuleKind,
		Threshold:       req.Threshold,
		SecretCode:      req.SecretCode,
		Points:          req.Points,
		BonusXP:         req.BonusXP,
		DiscountPercent: req.DiscountPercent,
		ClearDiscount:   req.ClearDiscount,
		RewardItem:      req.RewardItem,
		MinLevel:        req.MinLevel,
		Prerequisites:   req.Prerequisites,
		Active:          req.Active,
		Visible:         req.Visible,
		DisplayOrder:    req.DisplayOrder,
	})
	if err != nil {
		return err
	}
	return c.JSON(def)
}

func (s *Server) handleDeactivateAchievement(c *fiber.Ctx) error {
	def, err := s.deps.Catalog.Deactivate(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(def)
}

// ══════════════════════════════════════════════════════════════════════════════
// MEMBER
// ══════════════════════════════════════════════════════════════════════════════

type grantResponse struct {
	MemberID string                `json:"member_id"`
	Unlocked []*achievement.Unlock `json:"unlocked"`
	Level    int                   `json:"level"`
}

func (s *Server) handleGetProgress(c *fiber.Ctx) error {
	view, err := s.deps.GetProgress.Handle(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(view)
}

func (s *Server) handleListUnlocks(c *fiber.Ctx) error {
	unlocks, err := s.deps.ListUnlocks.Handle(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(nonNilUnlocks(unlocks))
}

func (s *Server) handlePendingNotifications(c *fiber.Ctx) error {
	unlocks, err := s.deps.PendingNotifications.Handle(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(nonNilUnlocks(unlocks))
}

// handleMarkSeen accepts a bare JSON array of achievement ids, which is what
// the web client posts, or {"achievement_ids": [...]}.
func (s *Server) handleMarkSeen(c *fiber.Ctx) error {
	ids, err := parseIDList(c.Body())
	if err != nil {
		return err
	}
	n, err := s.deps.MarkSeen.Handle(c.UserContext(), command.MarkSeenCommand{
		MemberID:       c.Params("id"),
		AchievementIDs: ids,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"marked": n})
}

func parseIDList(body []byte) ([]string, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	var ids []string
	if body[0] == '[' {
		if err := json.Unmarshal(body, &ids); err != nil {
			return nil, shared.WrapError("http", "Bind", shared.ErrInvalidInput, "expected a JSON array of achievement ids", err)
		}
		return ids, nil
	}
	var wrapped struct {
		AchievementIDs []string `json:"achievement_ids"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, shared.WrapError("http", "Bind", shared.ErrInvalidInput, "expected a JSON array of achievement ids", err)
	}
	return wrapped.AchievementIDs, nil
}

func (s *Server) handleRedeemCode(c *fiber.Ctx) error {
	var req struct {
		Code string `json:"code" validate:"required,max=200"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := s.deps.Grant.RedeemCode(c.UserContext(), command.RedeemCodeCommand{
		MemberID: c.Params("id"),
		Code:     req.Code,
	})
	if err != nil {
		return err
	}
	return c.JSON(grantResponse{MemberID: res.MemberID, Unlocked: res.Unlocked, Level: res.Level})
}

func (s *Server) handleGrant(c *fiber.Ctx) error {
	res, err := s.deps.Grant.Grant(c.UserContext(), command.GrantAchievementCommand{
		MemberID:      c.Params("id"),
		AchievementID: c.Params("achievementId"),
	})
	if err != nil {
		return err
	}
	return c.JSON(grantResponse{MemberID: res.MemberID, Unlocked: res.Unlocked, Level: res.Level})
}

func nonNilUnlocks(u []*achievement.Unlock) []*achievement.Unlock {
	if u == nil {
		return []*achievement.Unlock{}
	}
	return u
}

// ══════════════════════════════════════════════════════════════════════════════
// RANKING & STATISTICS
// ══════════════════════════════════════════════════════════════════════════════

type rankingResponse struct {
	Period      leaderboard.Period `json:"period"`
	Ranking     []leaderboard.Row  `json:"ranking"`
	Cached      bool               `json:"cached"`
	GeneratedAt time.Time          `json:"generated_at"`
}

func (s *Server) handleLeaderboard(c *fiber.Ctx) error {
	view, err := s.deps.GetLeaderboard.Handle(c.UserContext(), query.GetLeaderboardQuery{
		Period: c.Query("periodo"),
		Limit:  c.QueryInt("limite", leaderboard.DefaultLimit),
	})
	if err != nil {
		return err
	}
	rows := view.Rows
	if rows == nil {
		rows = []leaderboard.Row{}
	}
	return c.JSON(rankingResponse{
		Period:      view.Period,
		Ranking:     rows,
		Cached:      view.Cached,
		GeneratedAt: view.GeneratedAt,
	})
}

func (s *Server) handleStatistics(c *fiber.Ctx) error {
	stats, err := s.deps.GetStatistics.Handle(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(stats)
}
