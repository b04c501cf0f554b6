package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Xeideverme/galpao/internal/domain/achievement"
)

// UnlockRepository implements achievement.UnlockRepository. The
// (member_id, achievement_id) primary key is what makes concurrent
// evaluations produce a single record.
type UnlockRepository struct {
	conn *Connection
}

// NewUnlockRepository creates a new UnlockRepository.
func NewUnlockRepository(conn *Connection) *UnlockRepository {
	return &UnlockRepository{conn: conn}
}

var _ achievement.UnlockRepository = (*UnlockRepository)(nil)

const unlockColumns = `id, member_id, achievement_id, name, icon, rarity, points, xp, source, unlocked_at, seen, seen_at`

func (r *UnlockRepository) TryInsertUnique(ctx context.Context, u *achievement.Unlock) (bool, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	tag, err := r.conn.Pool().Exec(ctx, `
		INSERT INTO achievement_unlocks (`+unlockColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (member_id, achievement_id) DO NOTHING`,
		u.ID, u.MemberID, u.AchievementID, u.Name, u.Icon, string(u.Rarity),
		u.Points, u.XP, string(u.Source), u.UnlockedAt, u.Seen, u.SeenAt,
	)
	if err != nil {
		return false, classify("achievement", "Unlock", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *UnlockRepository) ListByMember(ctx context.Context, memberID string) ([]*achievement.Unlock, error) {
	return r.list(ctx, `WHERE member_id = $1`, memberID)
}

func (r *UnlockRepository) ListUnseen(ctx context.Context, memberID string) ([]*achievement.Unlock, error) {
	return r.list(ctx, `WHERE member_id = $1 AND NOT seen`, memberID)
}

func (r *UnlockRepository) list(ctx context.Context, where, memberID string) ([]*achievement.Unlock, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := r.conn.Pool().Query(ctx,
		`SELECT `+unlockColumns+` FROM achievement_unlocks `+where+` ORDER BY unlocked_at DESC`, memberID)
	if err != nil {
		return nil, classify("achievement", "ListUnlocks", err)
	}
	defer rows.Close()

	out := make([]*achievement.Unlock, 0)
	for rows.Next() {
		u, err := scanUnlock(rows)
		if err != nil {
			return nil, classify("achievement", "ListUnlocks", err)
		}
		out = append(out, u)
	}
	return out, classify("achievement", "ListUnlocks", rows.Err())
}

// MarkSeen flags unseen records and returns how many changed.
func (r *UnlockRepository) MarkSeen(ctx context.Context, memberID string, achievementIDs []string, at time.Time) (int, error) {
	if len(achievementIDs) == 0 {
		return 0, nil
	}
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	tag, err := r.conn.Pool().Exec(ctx, `
		UPDATE achievement_unlocks SET seen = TRUE, seen_at = $3
		WHERE member_id = $1 AND achievement_id::text = ANY($2::text[]) AND NOT seen`,
		memberID, achievementIDs, at.UTC(),
	)
	if err != nil {
		return 0, classify("achievement", "MarkSeen", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *UnlockRepository) CountAll(ctx context.Context) (int64, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	var n int64
	if err := r.conn.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM achievement_unlocks`).Scan(&n); err != nil {
		return 0, classify("achievement", "CountUnlocks", err)
	}
	return n, nil
}

func scanUnlock(row pgx.Row) (*achievement.Unlock, error) {
	var (
		u              achievement.Unlock
		rarity, source string
	)
	err := row.Scan(
		&u.ID, &u.MemberID, &u.AchievementID, &u.Name, &u.Icon, &rarity,
		&u.Points, &u.XP, &source, &u.UnlockedAt, &u.Seen, &u.SeenAt,
	)
	if err != nil {
		return nil, err
	}
	u.Rarity = achievement.Rarity(rarity)
	u.Source = achievement.Source(source)
	u.UnlockedAt = u.UnlockedAt.UTC()
	return &u, nil
}
