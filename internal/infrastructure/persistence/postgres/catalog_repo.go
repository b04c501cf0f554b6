package postgres

import (
	"context"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/Xeideverme/galpao/internal/domain/achievement"
	"github.com/Xeideverme/galpao/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// CatalogRepository implements achievement.Repository.
type CatalogRepository struct {
	conn *Connection
}

// NewCatalogRepository creates a new CatalogRepository.
func NewCatalogRepository(conn *Connection) *CatalogRepository {
	return &CatalogRepository{conn: conn}
}

var _ achievement.Repository = (*CatalogRepository)(nil)

const definitionColumns = `
	id, code, name, description, icon, category, rarity,
	rule_kind, rule_threshold, secret_hash,
	points, bonus_xp, discount_percent, reward_item,
	min_level, prerequisites, active, visible, display_order,
	version, created_at, updated_at`

// Create inserts a new definition. A taken code is ErrAchievementCodeTaken.
func (r *CatalogRepository) Create(ctx context.Context, def *achievement.Definition) error {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	query := `INSERT INTO achievement_definitions (` + definitionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`

	_, err := r.conn.Pool().Exec(ctx, query,
		def.ID, def.Code, def.Name, def.Description, def.Icon, string(def.Category), string(def.Rarity),
		string(def.Rule.Kind), def.Rule.Threshold, def.Rule.SecretHash,
		def.Points, def.BonusXP, def.DiscountPercent, def.RewardItem,
		def.MinLevel, nonNil(def.Prerequisites), def.Active, def.Visible, def.DisplayOrder,
		def.Version, def.CreatedAt, def.UpdatedAt,
	)
	if IsUniqueViolation(err) {
		return shared.ErrAchievementCodeTaken
	}
	return classify("achievement", "Create", err)
}

// Update writes def when the stored version is def.Version-1.
func (r *CatalogRepository) Update(ctx context.Context, def *achievement.Definition) error {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE achievement_definitions SET
			code = $2, name = $3, description = $4, icon = $5, category = $6, rarity = $7,
			rule_kind = $8, rule_threshold = $9, secret_hash = $10,
			points = $11, bonus_xp = $12, discount_percent = $13, reward_item = $14,
			min_level = $15, prerequisites = $16, active = $17, visible = $18, display_order = $19,
			version = $20, updated_at = $21
		WHERE id = $1 AND version = $20 - 1`

	tag, err := r.conn.Pool().Exec(ctx, query,
		def.ID, def.Code, def.Name, def.Description, def.Icon, string(def.Category), string(def.Rarity),
		string(def.Rule.Kind), def.Rule.Threshold, def.Rule.SecretHash,
		def.Points, def.BonusXP, def.DiscountPercent, def.RewardItem,
		def.MinLevel, nonNil(def.Prerequisites), def.Active, def.Visible, def.DisplayOrder,
		def.Version, def.UpdatedAt,
	)
	if IsUniqueViolation(err) {
		return shared.ErrAchievementCodeTaken
	}
	if err != nil {
		return classify("achievement", "Update", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, def.ID); err != nil {
			return err
		}
		return shared.ErrCatalogEditConflict
	}
	return nil
}

func (r *CatalogRepository) GetByID(ctx context.Context, id string) (*achievement.Definition, error) {
	return r.getOne(ctx, "id::text = $1", id)
}

func (r *CatalogRepository) GetByCode(ctx context.Context, code string) (*achievement.Definition, error) {
	return r.getOne(ctx, "code = $1", code)
}

func (r *CatalogRepository) getOne(ctx context.Context, where string, arg string) (*achievement.Definition, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	row := r.conn.Pool().QueryRow(ctx, `SELECT `+definitionColumns+` FROM achievement_definitions WHERE `+where, arg)
	def, err := scanDefinition(row)
	if IsNoRows(err) {
		return nil, shared.ErrAchievementNotFound
	}
	if err != nil {
		return nil, classify("achievement", "Get", err)
	}
	return def, nil
}

// List applies the filter in SQL and orders by display order then name.
func (r *CatalogRepository) List(ctx context.Context, f achievement.Filter) ([]*achievement.Definition, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	var (
		conds []string
		args  []interface{}
	)
	if f.Category != "" {
		args = append(args, string(f.Category))
		conds = append(conds, "category = $"+strconv.Itoa(len(args)))
	}
	if f.Rarity != "" {
		args = append(args, string(f.Rarity))
		conds = append(conds, "rarity = $"+strconv.Itoa(len(args)))
	}
	if f.VisibleOnly {
		conds = append(conds, "visible")
	}
	if f.ActiveOnly {
		conds = append(conds, "active")
	}

	query := `SELECT ` + definitionColumns + ` FROM achievement_definitions`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY display_order, name"

	rows, err := r.conn.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, classify("achievement", "List", err)
	}
	defer rows.Close()

	defs := make([]*achievement.Definition, 0)
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, classify("achievement", "List", err)
		}
		defs = append(defs, def)
	}
	return defs, classify("achievement", "List", rows.Err())
}

func scanDefinition(row pgx.Row) (*achievement.Definition, error) {
	var (
		def                    achievement.Definition
		category, rarity, kind string
	)
	err := row.Scan(
		&def.ID, &def.Code, &def.Name, &def.Description, &def.Icon, &category, &rarity,
		&kind, &def.Rule.Threshold, &def.Rule.SecretHash,
		&def.Points, &def.BonusXP, &def.DiscountPercent, &def.RewardItem,
		&def.MinLevel, &def.Prerequisites, &def.Active, &def.Visible, &def.DisplayOrder,
		&def.Version, &def.CreatedAt, &def.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	def.Category = achievement.Category(category)
	def.Rarity = achievement.Rarity(rarity)
	def.Rule.Kind = achievement.RuleKind(kind)
	if def.Prerequisites == nil {
		def.Prerequisites = []string{}
	}
	return &def, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
