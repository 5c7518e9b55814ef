package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// migrationLockID keys the advisory lock that serializes migrations when
// the CLI and the worker start together.
const migrationLockID = 0x636c7370 // "clsp"

// Migration is one schema step.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
}

// Migrations returns the schema steps in version order.
func Migrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_classes_students", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_log_entries", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_rewards", UpSQL: migration003Up, DownSQL: migration003Down},
	}
}

// Migrator applies Migrations and records them in schema_migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
}

// NewMigrator creates a migrator over the built-in migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn, migrations: Migrations()}
}

// Migrate applies every pending migration in a single transaction.
// It returns the versions applied by this call.
func (m *Migrator) Migrate(ctx context.Context) ([]int, error) {
	var applied []int
	err := m.conn.withTx(ctx, writeTx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
			return fmt.Errorf("lock: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version INTEGER PRIMARY KEY,
				name TEXT NOT NULL,
				applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			)`); err != nil {
			return fmt.Errorf("create schema_migrations: %w", err)
		}

		done, err := appliedVersions(ctx, tx)
		if err != nil {
			return err
		}
		for _, mig := range m.migrations {
			if _, ok := done[mig.Version]; ok {
				continue
			}
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("version %d (%s): %w", mig.Version, mig.Name, err)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
				mig.Version, mig.Name); err != nil {
				return fmt.Errorf("record version %d: %w", mig.Version, err)
			}
			applied = append(applied, mig.Version)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}
	return applied, nil
}

// Status returns every known migration with AppliedAt set for the applied
// ones.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	out := make([]Migration, len(m.migrations))
	copy(out, m.migrations)

	err := m.conn.withTx(ctx, snapshotTx, func(tx pgx.Tx) error {
		done, err := appliedVersions(ctx, tx)
		if err != nil {
			return err
		}
		for i := range out {
			out[i].AppliedAt = done[out[i].Version]
		}
		return nil
	})
	return out, err
}

func appliedVersions(ctx context.Context, tx pgx.Tx) (map[int]time.Time, error) {
	rows, err := tx.Query(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	done := make(map[int]time.Time)
	for rows.Next() {
		var (
			version int
			at      time.Time
		)
		if err := rows.Scan(&version, &at); err != nil {
			return nil, err
		}
		done[version] = at
	}
	return done, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE CLASSES AND STUDENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS classes (
    id VARCHAR(64) PRIMARY KEY,
    name VARCHAR(200) NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS students (
    class_id VARCHAR(64) NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
    id VARCHAR(64) NOT NULL,
    number INTEGER NOT NULL,
    name VARCHAR(100) NOT NULL,
    group_label VARCHAR(100) NOT NULL DEFAULT '',
    discipline INTEGER NOT NULL DEFAULT 0,
    hygiene INTEGER NOT NULL DEFAULT 0,
    academic INTEGER NOT NULL DEFAULT 0,
    other INTEGER NOT NULL DEFAULT 0,
    currency INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (class_id, id),
    CONSTRAINT unique_student_number UNIQUE (class_id, number),
    CONSTRAINT valid_number CHECK (number > 0),
    CONSTRAINT valid_balances CHECK (
        discipline >= 0 AND hygiene >= 0 AND academic >= 0 AND other >= 0 AND currency >= 0
    )
);

CREATE INDEX IF NOT EXISTS idx_students_class_group ON students(class_id, group_label);
`

const migration001Down = `
DROP TABLE IF EXISTS students;
DROP TABLE IF EXISTS classes;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE LOG ENTRIES
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS log_entries (
    class_id VARCHAR(64) NOT NULL,
    id VARCHAR(64) NOT NULL,
    seq BIGINT NOT NULL,
    student_id VARCHAR(64) NOT NULL,
    category VARCHAR(20) NOT NULL,
    delta INTEGER NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    item_id VARCHAR(64) NOT NULL DEFAULT '',
    operator VARCHAR(100) NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL,

    PRIMARY KEY (class_id, id),
    FOREIGN KEY (class_id, student_id) REFERENCES students(class_id, id) ON DELETE CASCADE,
    CONSTRAINT valid_category CHECK (category IN ('discipline', 'hygiene', 'academic', 'other')),
    CONSTRAINT nonzero_delta CHECK (delta <> 0)
);

CREATE INDEX IF NOT EXISTS idx_log_entries_class_seq ON log_entries(class_id, seq);
CREATE INDEX IF NOT EXISTS idx_log_entries_class_created ON log_entries(class_id, created_at DESC);
`

const migration002Down = `
DROP TABLE IF EXISTS log_entries;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE REWARDS AND EXCHANGES
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS rewards (
    class_id VARCHAR(64) NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
    id VARCHAR(64) NOT NULL,
    name VARCHAR(100) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    cost INTEGER NOT NULL,
    stock INTEGER NOT NULL,
    exchange_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (class_id, id),
    CONSTRAINT valid_cost CHECK (cost > 0),
    CONSTRAINT valid_stock CHECK (stock >= 0)
);

-- Exchanges keep the names they were made under; no FK to students or rewards.
CREATE TABLE IF NOT EXISTS exchanges (
    class_id VARCHAR(64) NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
    id VARCHAR(64) NOT NULL,
    seq BIGINT NOT NULL,
    student_id VARCHAR(64) NOT NULL,
    student_name VARCHAR(100) NOT NULL,
    student_number INTEGER NOT NULL,
    reward_id VARCHAR(64) NOT NULL,
    reward_name VARCHAR(100) NOT NULL,
    cost INTEGER NOT NULL,
    operator VARCHAR(100) NOT NULL,
    at TIMESTAMP WITH TIME ZONE NOT NULL,

    PRIMARY KEY (class_id, id)
);

CREATE INDEX IF NOT EXISTS idx_exchanges_class_seq ON exchanges(class_id, seq);
`

const migration003Down = `
DROP TABLE IF EXISTS exchanges;
DROP TABLE IF EXISTS rewards;
`
