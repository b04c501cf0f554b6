package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Xeideverme/galpao/internal/domain/progress"
	"github.com/Xeideverme/galpao/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY
// Every write below is one statement (or one statement plus the processed
// event insert, in the same transaction). Nothing is read into Go, changed
// and written back.
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements progress.Repository.
type ProgressRepository struct {
	conn        *Connection
	historySize int
}

// NewProgressRepository creates a ProgressRepository that keeps the newest
// historySize history entries per member.
func NewProgressRepository(conn *Connection, historySize int) *ProgressRepository {
	if historySize <= 0 {
		historySize = progress.DefaultHistorySize
	}
	return &ProgressRepository{conn: conn, historySize: historySize}
}

var _ progress.Repository = (*ProgressRepository)(nil)

const progressColumns = `
	member_id, total_points, points_this_month, points_this_week,
	level, current_xp, unlocked_ids, unlocked_total, unlocked_this_month,
	history, streak_current, streak_record, last_checkin, streak_version,
	total_checkins, created_at, updated_at`

// creditSQL adds $2 points and $3 XP, appends the $4 history entry and trims
// the ring to the newest $5 entries.
const creditSQL = `
	total_points = total_points + $2,
	points_this_month = points_this_month + $2,
	points_this_week = points_this_week + $2,
	current_xp = current_xp + $3,
	history = (
		SELECT COALESCE(jsonb_agg(t.e ORDER BY t.ord), '[]'::jsonb)
		FROM (
			SELECT e, ord
			FROM jsonb_array_elements(member_progress.history || jsonb_build_array($4::jsonb)) WITH ORDINALITY AS h(e, ord)
			ORDER BY ord DESC
			LIMIT $5
		) t
	),
	updated_at = NOW()`

const ensureLedgerSQL = `INSERT INTO member_progress (member_id) VALUES ($1) ON CONFLICT (member_id) DO NOTHING`

func (r *ProgressRepository) Get(ctx context.Context, memberID string) (*progress.MemberProgress, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()
	return r.get(ctx, r.conn.Pool(), memberID)
}

func (r *ProgressRepository) get(ctx context.Context, q Querier, memberID string) (*progress.MemberProgress, error) {
	row := q.QueryRow(ctx, `SELECT `+progressColumns+` FROM member_progress WHERE member_id = $1`, memberID)
	p, err := scanProgress(row)
	if IsNoRows(err) {
		return nil, shared.ErrProgressNotFound
	}
	if err != nil {
		return nil, classify("progress", "Get", err)
	}
	return p, nil
}

// GetOrCreate inserts the default ledger if missing and returns it.
func (r *ProgressRepository) GetOrCreate(ctx context.Context, memberID string) (*progress.MemberProgress, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	if _, err := r.conn.Pool().Exec(ctx, ensureLedgerSQL, memberID); err != nil {
		return nil, classify("progress", "Create", err)
	}
	return r.get(ctx, r.conn.Pool(), memberID)
}

// ApplyReward credits the reward. With an event id, the processed_events
// insert and the credit commit together, so a replay applies nothing.
func (r *ProgressRepository) ApplyReward(ctx context.Context, memberID, eventID string, rw progress.Reward) (progress.Balance, bool, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	entry, err := json.Marshal(rw.Entry())
	if err != nil {
		return progress.Balance{}, false, fmt.Errorf("marshal history entry: %w", err)
	}

	var (
		b       progress.Balance
		applied bool
	)
	err = r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, ensureLedgerSQL, memberID); err != nil {
			return err
		}
		if eventID != "" {
			tag, err := tx.Exec(ctx,
				`INSERT INTO processed_events (event_id, member_id) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING`,
				eventID, memberID)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				b, err = balance(ctx, tx, memberID)
				return err
			}
		}

		applied = true
		return tx.QueryRow(ctx,
			`UPDATE member_progress SET `+creditSQL+` WHERE member_id = $1 RETURNING total_points, current_xp, level`,
			memberID, rw.Points, rw.XP, entry, r.historySize,
		).Scan(&b.TotalPoints, &b.CurrentXP, &b.Level)
	})
	if err != nil {
		return progress.Balance{}, false, classify("progress", "ApplyReward", err)
	}
	return b, applied, nil
}

// GrantAchievement adds the id and its reward in one statement guarded by
// "id not yet in the set".
func (r *ProgressRepository) GrantAchievement(ctx context.Context, memberID string, rw progress.Reward) (progress.Balance, bool, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	entry, err := json.Marshal(rw.Entry())
	if err != nil {
		return progress.Balance{}, false, fmt.Errorf("marshal history entry: %w", err)
	}

	pool := r.conn.Pool()
	if _, err := pool.Exec(ctx, ensureLedgerSQL, memberID); err != nil {
		return progress.Balance{}, false, classify("progress", "Grant", err)
	}

	var b progress.Balance
	err = pool.QueryRow(ctx, `
		UPDATE member_progress SET
			unlocked_ids = array_append(unlocked_ids, $6),
			unlocked_total = unlocked_total + 1,
			unlocked_this_month = unlocked_this_month + 1,
			`+creditSQL+`
		WHERE member_id = $1 AND NOT ($6 = ANY(unlocked_ids))
		RETURNING total_points, current_xp, level`,
		memberID, rw.Points, rw.XP, entry, r.historySize, rw.AchievementID,
	).Scan(&b.TotalPoints, &b.CurrentXP, &b.Level)

	if IsNoRows(err) {
		b, err = balance(ctx, pool, memberID)
		if err != nil {
			return progress.Balance{}, false, classify("progress", "Grant", err)
		}
		return b, false, nil
	}
	if err != nil {
		return progress.Balance{}, false, classify("progress", "Grant", err)
	}
	return b, true, nil
}

const swapStreakSQL = `
	UPDATE member_progress SET
		streak_current = $3,
		streak_record = $4,
		last_checkin = $5,
		streak_version = streak_version + 1,
		total_checkins = total_checkins + 1,
		updated_at = NOW()
	WHERE member_id = $1 AND streak_version = $2`

// errStaleStreak rolls back the event marker when the version moved.
var errStaleStreak = errors.New("stale streak version")

// CompareAndSwapStreak flips the event's streak_applied marker and swaps the
// streak in one transaction. The marker is upserted so a check-in whose
// reward row is missing still counts once.
func (r *ProgressRepository) CompareAndSwapStreak(ctx context.Context, memberID, eventID string, expected int64, s progress.Streak) (progress.StreakSwap, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	if eventID == "" {
		tag, err := r.conn.Pool().Exec(ctx, swapStreakSQL, memberID, expected, s.Current, s.Record, s.LastCheckIn)
		if err != nil {
			return progress.StreakStale, classify("progress", "RecordCheckIn", err)
		}
		if tag.RowsAffected() == 1 {
			return progress.StreakSwapped, nil
		}
		return progress.StreakStale, r.exists(ctx, memberID)
	}

	outcome := progress.StreakSwapped
	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO processed_events (event_id, member_id, streak_applied) VALUES ($1, $2, TRUE)
			ON CONFLICT (event_id) DO UPDATE SET streak_applied = TRUE
			WHERE NOT processed_events.streak_applied`,
			eventID, memberID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			outcome = progress.StreakAlreadyApplied
			return nil
		}

		tag, err = tx.Exec(ctx, swapStreakSQL, memberID, expected, s.Current, s.Record, s.LastCheckIn)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errStaleStreak
		}
		return nil
	})
	if errors.Is(err, errStaleStreak) {
		return progress.StreakStale, r.exists(ctx, memberID)
	}
	if err != nil {
		return progress.StreakStale, classify("progress", "RecordCheckIn", err)
	}
	return outcome, nil
}

// RaiseLevel never lowers the stored level.
func (r *ProgressRepository) RaiseLevel(ctx context.Context, memberID string, level int) error {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	tag, err := r.conn.Pool().Exec(ctx, `
		UPDATE member_progress SET
			level = GREATEST(level, $2),
			updated_at = CASE WHEN level < $2 THEN NOW() ELSE updated_at END
		WHERE member_id = $1`,
		memberID, level,
	)
	if err != nil {
		return classify("progress", "RaiseLevel", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrProgressNotFound
	}
	return nil
}

// Both unlock counters shrink with the set and never go negative.
const removeUnlockedSQL = `
	UPDATE member_progress SET
		unlocked_ids = array_remove(unlocked_ids, $2),
		unlocked_total = GREATEST(unlocked_total - 1, 0),
		unlocked_this_month = GREATEST(unlocked_this_month - 1, 0),
		updated_at = NOW()
	WHERE member_id = $1 AND $2 = ANY(unlocked_ids)`

func (r *ProgressRepository) RemoveUnlocked(ctx context.Context, memberID, achievementID string) (bool, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	tag, err := r.conn.Pool().Exec(ctx, removeUnlockedSQL, memberID, achievementID)
	if err != nil {
		return false, classify("progress", "RemoveUnlocked", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ProgressRepository) ListMemberIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 500
	}
	rows, err := r.conn.Pool().Query(ctx,
		`SELECT member_id FROM member_progress WHERE member_id > $1 ORDER BY member_id LIMIT $2`,
		afterID, limit)
	if err != nil {
		return nil, classify("progress", "ListMembers", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, classify("progress", "ListMembers", err)
	}
	return ids, nil
}

func (r *ProgressRepository) Participation(ctx context.Context) (progress.Participation, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	var out progress.Participation
	err := r.conn.Pool().QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(total_points), 0) FROM member_progress WHERE total_points > 0`,
	).Scan(&out.Members, &out.TotalPoints)
	if err != nil {
		return progress.Participation{}, classify("progress", "Participation", err)
	}
	return out, nil
}

func (r *ProgressRepository) exists(ctx context.Context, memberID string) error {
	var one int
	err := r.conn.Pool().QueryRow(ctx, `SELECT 1 FROM member_progress WHERE member_id = $1`, memberID).Scan(&one)
	if IsNoRows(err) {
		return shared.ErrProgressNotFound
	}
	return classify("progress", "Get", err)
}

func balance(ctx context.Context, q Querier, memberID string) (progress.Balance, error) {
	var b progress.Balance
	err := q.QueryRow(ctx,
		`SELECT total_points, current_xp, level FROM member_progress WHERE member_id = $1`, memberID,
	).Scan(&b.TotalPoints, &b.CurrentXP, &b.Level)
	return b, err
}

func scanProgress(row pgx.Row) (*progress.MemberProgress, error) {
	var (
		p           progress.MemberProgress
		history     []byte
		lastCheckIn *time.Time
	)
	err := row.Scan(
		&p.MemberID, &p.TotalPoints, &p.PointsThisMonth, &p.PointsThisWeek,
		&p.Level, &p.CurrentXP, &p.UnlockedIDs, &p.UnlockedTotal, &p.UnlockedThisMonth,
		&history, &p.Streak.Current, &p.Streak.Record, &lastCheckIn, &p.StreakVersion,
		&p.TotalCheckIns, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(history, &p.History); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if lastCheckIn != nil {
		t := lastCheckIn.UTC()
		p.Streak.LastCheckIn = &t
	}
	if p.UnlockedIDs == nil {
		p.UnlockedIDs = []string{}
	}
	if p.History == nil {
		p.History = []progress.HistoryEntry{}
	}
	return &p, nil
}
