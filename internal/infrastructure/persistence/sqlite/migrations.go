package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// migration is one schema step, applied at most once per database file.
type migration struct {
	Version    int
	Name       string
	Statements []string
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "create_classes_students",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS classes (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				created_at INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS students (
				class_id TEXT NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
				id TEXT NOT NULL,
				number INTEGER NOT NULL CHECK (number > 0),
				name TEXT NOT NULL,
				group_label TEXT NOT NULL DEFAULT '',
				discipline INTEGER NOT NULL DEFAULT 0 CHECK (discipline >= 0),
				hygiene INTEGER NOT NULL DEFAULT 0 CHECK (hygiene >= 0),
				academic INTEGER NOT NULL DEFAULT 0 CHECK (academic >= 0),
				other INTEGER NOT NULL DEFAULT 0 CHECK (other >= 0),
				currency INTEGER NOT NULL DEFAULT 0 CHECK (currency >= 0),
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL,
				PRIMARY KEY (class_id, id),
				UNIQUE (class_id, number)
			)`,
		},
	},
	{
		Version: 2,
		Name:    "create_log_entries",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS log_entries (
				class_id TEXT NOT NULL,
				id TEXT NOT NULL,
				seq INTEGER NOT NULL,
				student_id TEXT NOT NULL,
				category TEXT NOT NULL CHECK (category IN ('discipline', 'hygiene', 'academic', 'other')),
				delta INTEGER NOT NULL,
				reason TEXT NOT NULL DEFAULT '',
				item_id TEXT NOT NULL DEFAULT '',
				operator TEXT NOT NULL,
				created_at INTEGER NOT NULL,
				PRIMARY KEY (class_id, id),
				FOREIGN KEY (class_id, student_id) REFERENCES students(class_id, id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_log_entries_class_seq ON log_entries (class_id, seq)`,
		},
	},
	{
		Version: 3,
		Name:    "create_rewards",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS rewards (
				class_id TEXT NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
				id TEXT NOT NULL,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				cost INTEGER NOT NULL CHECK (cost > 0),
				stock INTEGER NOT NULL CHECK (stock >= 0),
				exchange_count INTEGER NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL,
				PRIMARY KEY (class_id, id)
			)`,
			// Exchanges outlive the student and the reward they mention.
			`CREATE TABLE IF NOT EXISTS exchanges (
				class_id TEXT NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
				id TEXT NOT NULL,
				seq INTEGER NOT NULL,
				student_id TEXT NOT NULL,
				student_name TEXT NOT NULL,
				student_number INTEGER NOT NULL,
				reward_id TEXT NOT NULL,
				reward_name TEXT NOT NULL,
				cost INTEGER NOT NULL,
				operator TEXT NOT NULL,
				at INTEGER NOT NULL,
				PRIMARY KEY (class_id, id)
			)`,
		},
	},
}

// migrate applies pending migrations, each in its own transaction.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("query applied migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan migration row: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
		m.Version, m.Name, toMillis(time.Now()),
	); err != nil {
		return err
	}
	return tx.Commit()
}
