package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION SUPPORT
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator applies embedded migrations in version order.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a migrator with the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "schema_migrations",
	}
}

// EnsureMigrationTable creates the migration tracking table if it doesn't exist.
func (m *Migrator) EnsureMigrationTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName)

	if _, err := m.conn.Pool().Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.conn.Pool().Query(ctx, fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt time.Time
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = appliedAt
	}
	return applied, rows.Err()
}

// Migrate applies all pending migrations, each in its own transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		err := m.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}
			_, err := tx.Exec(ctx, fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName), mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: version %d: %w", ErrMigrationFailed, mig.Version, err)
		}
	}
	return nil
}

// Rollback rolls back the last applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	last := 0
	for v := range applied {
		last = max(last, v)
	}
	if last == 0 {
		return nil
	}

	var mig *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == last {
			mig = &m.migrations[i]
			break
		}
	}
	if mig == nil || mig.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, last)
	}

	return m.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, mig.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", last, err)
		}
		_, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName), last)
		return err
	})
}

// Status returns every embedded migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Migration, len(m.migrations))
	copy(out, m.migrations)
	for i := range out {
		if at, ok := applied[out[i].Version]; ok {
			out[i].IsApplied = true
			out[i].AppliedAt = at
		}
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EMBEDDED MIGRATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_catalog", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_ledger", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_unlocks", UpSQL: migration003Up, DownSQL: migration003Down},
		{Version: 4, Name: "processed_events_streak_applied", UpSQL: migration004Up, DownSQL: migration004Down},
	}
}

const migration001Up = `
CREATE TABLE IF NOT EXISTS achievement_definitions (
    id UUID PRIMARY KEY,
    code VARCHAR(120) NOT NULL UNIQUE,
    name VARCHAR(120) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    icon VARCHAR(16) NOT NULL DEFAULT '',
    category VARCHAR(20) NOT NULL,
    rarity VARCHAR(20) NOT NULL,

    rule_kind VARCHAR(40) NOT NULL,
    rule_threshold INTEGER NOT NULL DEFAULT 0,
    secret_hash TEXT NOT NULL DEFAULT '',

    points INTEGER NOT NULL,
    bonus_xp INTEGER NOT NULL DEFAULT 0,
    discount_percent NUMERIC(5,2),
    reward_item VARCHAR(200) NOT NULL DEFAULT '',

    min_level INTEGER NOT NULL DEFAULT 1,
    prerequisites TEXT[] NOT NULL DEFAULT '{}',

    active BOOLEAN NOT NULL DEFAULT TRUE,
    visible BOOLEAN NOT NULL DEFAULT TRUE,
    display_order INTEGER NOT NULL DEFAULT 0,

    version INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_points CHECK (points BETWEEN 1 AND 1000),
    CONSTRAINT valid_min_level CHECK (min_level BETWEEN 1 AND 100)
);

CREATE INDEX IF NOT EXISTS idx_achievement_definitions_order ON achievement_definitions(display_order, name);
CREATE INDEX IF NOT EXISTS idx_achievement_definitions_active ON achievement_definitions(active) WHERE active;
`

const migration001Down = `
DROP TABLE IF EXISTS achievement_definitions;
`

const migration002Up = `
CREATE TABLE IF NOT EXISTS member_progress (
    member_id VARCHAR(128) PRIMARY KEY,

    total_points BIGINT NOT NULL DEFAULT 0,
    points_this_month BIGINT NOT NULL DEFAULT 0,
    points_this_week BIGINT NOT NULL DEFAULT 0,

    level INTEGER NOT NULL DEFAULT 1,
    current_xp BIGINT NOT NULL DEFAULT 0,

    unlocked_ids TEXT[] NOT NULL DEFAULT '{}',
    unlocked_total INTEGER NOT NULL DEFAULT 0,
    unlocked_this_month INTEGER NOT NULL DEFAULT 0,

    -- oldest first, trimmed to the ring size on every append
    history JSONB NOT NULL DEFAULT '[]',

    streak_current INTEGER NOT NULL DEFAULT 0,
    streak_record INTEGER NOT NULL DEFAULT 0,
    last_checkin TIMESTAMP WITH TIME ZONE,
    streak_version BIGINT NOT NULL DEFAULT 0,
    total_checkins BIGINT NOT NULL DEFAULT 0,

    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_level CHECK (level BETWEEN 1 AND 100)
);

CREATE INDEX IF NOT EXISTS idx_member_progress_total ON member_progress(total_points DESC, created_at ASC);
CREATE INDEX IF NOT EXISTS idx_member_progress_month ON member_progress(points_this_month DESC, created_at ASC);
CREATE INDEX IF NOT EXISTS idx_member_progress_week ON member_progress(points_this_week DESC, created_at ASC);

CREATE TABLE IF NOT EXISTS processed_events (
    event_id VARCHAR(128) PRIMARY KEY,
    member_id VARCHAR(128) NOT NULL,
    processed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_processed_events_at ON processed_events(processed_at);
`

const migration002Down = `
DROP TABLE IF EXISTS processed_events;
DROP TABLE IF EXISTS member_progress;
`

const migration003Up = `
CREATE TABLE IF NOT EXISTS achievement_unlocks (
    member_id VARCHAR(128) NOT NULL,
    achievement_id UUID NOT NULL REFERENCES achievement_definitions(id),
    id UUID NOT NULL UNIQUE,
    name VARCHAR(120) NOT NULL,
    icon VARCHAR(16) NOT NULL DEFAULT '',
    rarity VARCHAR(20) NOT NULL,
    points INTEGER NOT NULL,
    xp INTEGER NOT NULL DEFAULT 0,
    source VARCHAR(20) NOT NULL,
    unlocked_at TIMESTAMP WITH TIME ZONE NOT NULL,
    seen BOOLEAN NOT NULL DEFAULT FALSE,
    seen_at TIMESTAMP WITH TIME ZONE,

    PRIMARY KEY (member_id, achievement_id)
);

CREATE INDEX IF NOT EXISTS idx_achievement_unlocks_member ON achievement_unlocks(member_id, unlocked_at DESC);
CREATE INDEX IF NOT EXISTS idx_achievement_unlocks_unseen ON achievement_unlocks(member_id) WHERE NOT seen;
`

const migration003Down = `
DROP TABLE IF EXISTS achievement_unlocks;
`

// Rows written before this migration belong to check-ins whose streak step
// already ran, so they start out applied.
const migration004Up = `
ALTER TABLE processed_events ADD COLUMN IF NOT EXISTS streak_applied BOOLEAN NOT NULL DEFAULT TRUE;
ALTER TABLE processed_events ALTER COLUMN streak_applied SET DEFAULT FALSE;
`

const migration004Down = `
ALTER TABLE processed_events DROP COLUMN IF EXISTS streak_applied;
`
