// Package sqlite is the single-file classroom store used by the CLI.
// Every Save rewrites the class inside one transaction, so a reader never
// sees a half-written class.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/classpoints/classpoints-hub/internal/domain/classroom"
	"github.com/classpoints/classpoints-hub/internal/domain/ledger"
	"github.com/classpoints/classpoints-hub/internal/domain/points"
	"github.com/classpoints/classpoints-hub/internal/domain/reward"
	"github.com/classpoints/classpoints-hub/internal/domain/shared"
	"github.com/classpoints/classpoints-hub/internal/domain/student"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store persists classroom snapshots in SQLite.
type Store struct {
	db *sql.DB
}

var _ classroom.Repository = (*Store)(nil)

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// Open opens (or creates) the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite: storage path is required")
	}

	pragmas := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	var dsn string
	if path == MemoryPath {
		dsn = "file::memory:?" + pragmas
	} else {
		dsn = "file:" + filepath.Clean(path) + "?" + pragmas + "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One writer at a time; an in-memory database also lives on a
	// single connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an already-migrated handle.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return classify("Ping", s.db.PingContext(ctx))
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// Load reads one class.
func (s *Store) Load(ctx context.Context, id string) (classroom.Snapshot, error) {
	var snap classroom.Snapshot

	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM classes WHERE id = ?`, id,
	).Scan(&snap.Info.ID, &snap.Info.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, shared.ErrClassNotFound
	}
	if err != nil {
		return snap, classify("Load", err)
	}
	snap.Info.CreatedAt = fromMillis(created)

	if snap.Ledger.Students, err = s.loadStudents(ctx, id); err != nil {
		return snap, classify("Load", err)
	}
	if snap.Ledger.Entries, err = s.loadEntries(ctx, id); err != nil {
		return snap, classify("Load", err)
	}
	if snap.Rewards.Rewards, err = s.loadRewards(ctx, id); err != nil {
		return snap, classify("Load", err)
	}
	if snap.Rewards.Exchanges, err = s.loadExchanges(ctx, id); err != nil {
		return snap, classify("Load", err)
	}
	return snap, nil
}

func (s *Store) loadStudents(ctx context.Context, classID string) ([]student.Student, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, number, name, group_label, discipline, hygiene, academic, other,
		       currency, created_at, updated_at
		FROM students WHERE class_id = ? ORDER BY number`, classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []student.Student
	for rows.Next() {
		var st student.Student
		var d, h, a, o int
		var created, updated int64
		if err := rows.Scan(&st.ID, &st.Number, &st.Name, &st.Group, &d, &h, &a, &o,
			&st.Currency, &created, &updated); err != nil {
			return nil, err
		}
		st.Balances = points.NewBalances(d, h, a, o)
		st.CreatedAt = fromMillis(created)
		st.UpdatedAt = fromMillis(updated)
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) loadEntries(ctx context.Context, classID string) ([]ledger.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, student_id, category, delta, reason, item_id, operator, created_at
		FROM log_entries WHERE class_id = ? ORDER BY seq`, classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.LogEntry
	for rows.Next() {
		var e ledger.LogEntry
		var created int64
		if err := rows.Scan(&e.ID, &e.Seq, &e.StudentID, &e.Category, &e.Delta,
			&e.Reason, &e.ItemID, &e.Operator, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = fromMillis(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) loadRewards(ctx context.Context, classID string) ([]reward.Reward, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, cost, stock, exchange_count, created_at
		FROM rewards WHERE class_id = ? ORDER BY cost, name`, classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reward.Reward
	for rows.Next() {
		var r reward.Reward
		var created int64
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.Cost, &r.Stock,
			&r.ExchangeCount, &created); err != nil {
			return nil, err
		}
		r.CreatedAt = fromMillis(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) loadExchanges(ctx context.Context, classID string) ([]reward.Exchange, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, student_id, student_name, student_number, reward_id, reward_name,
		       cost, operator, at
		FROM exchanges WHERE class_id = ? ORDER BY seq`, classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reward.Exchange
	for rows.Next() {
		var x reward.Exchange
		var at int64
		if err := rows.Scan(&x.ID, &x.StudentID, &x.StudentName, &x.StudentNumber,
			&x.RewardID, &x.RewardName, &x.Cost, &x.Operator, &at); err != nil {
			return nil, err
		}
		x.At = fromMillis(at)
		out = append(out, x)
	}
	return out, rows.Err()
}

// Save replaces the stored class with snap.
func (s *Store) Save(ctx context.Context, snap classroom.Snapshot) error {
	return classify("Save", s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO classes (id, name, created_at) VALUES (?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET name = excluded.name`,
			snap.Info.ID, snap.Info.Name, toMillis(snap.Info.CreatedAt),
		); err != nil {
			return fmt.Errorf("upsert class: %w", err)
		}
		if err := deleteChildren(ctx, tx, snap.Info.ID); err != nil {
			return err
		}
		return insertSnapshot(ctx, tx, snap)
	}))
}

// deleteChildren removes everything a class owns. Log entries go first
// because they reference students.
func deleteChildren(ctx context.Context, tx *sql.Tx, classID string) error {
	for _, table := range []string{"log_entries", "exchanges", "rewards", "students"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE class_id = ?", classID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

func insertSnapshot(ctx context.Context, tx *sql.Tx, snap classroom.Snapshot) error {
	classID := snap.Info.ID

	stStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO students (class_id, id, number, name, group_label, discipline, hygiene,
		                      academic, other, currency, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stStmt.Close()
	for _, st := range snap.Ledger.Students {
		b := st.Balances
		if _, err := stStmt.ExecContext(ctx, classID, st.ID, int(st.Number), st.Name, st.Group,
			b.Get(points.Discipline), b.Get(points.Hygiene), b.Get(points.Academic), b.Get(points.Other),
			st.Currency, toMillis(st.CreatedAt), toMillis(st.UpdatedAt),
		); err != nil {
			return fmt.Errorf("insert student %s: %w", st.ID, err)
		}
	}

	enStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO log_entries (class_id, id, seq, student_id, category, delta, reason,
		                         item_id, operator, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer enStmt.Close()
	for _, e := range snap.Ledger.Entries {
		if _, err := enStmt.ExecContext(ctx, classID, e.ID, e.Seq, e.StudentID, string(e.Category),
			e.Delta, e.Reason, e.ItemID, e.Operator, toMillis(e.CreatedAt),
		); err != nil {
			return fmt.Errorf("insert log entry %s: %w", e.ID, err)
		}
	}

	rwStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rewards (class_id, id, name, description, cost, stock, exchange_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer rwStmt.Close()
	for _, r := range snap.Rewards.Rewards {
		if _, err := rwStmt.ExecContext(ctx, classID, r.ID, r.Name, r.Description, r.Cost, r.Stock,
			r.ExchangeCount, toMillis(r.CreatedAt),
		); err != nil {
			return fmt.Errorf("insert reward %s: %w", r.ID, err)
		}
	}

	exStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO exchanges (class_id, id, seq, student_id, student_name, student_number,
		                       reward_id, reward_name, cost, operator, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer exStmt.Close()
	for i, x := range snap.Rewards.Exchanges {
		if _, err := exStmt.ExecContext(ctx, classID, x.ID, i+1, x.StudentID, x.StudentName,
			int(x.StudentNumber), x.RewardID, x.RewardName, x.Cost, x.Operator, toMillis(x.At),
		); err != nil {
			return fmt.Errorf("insert exchange %s: %w", x.ID, err)
		}
	}
	return nil
}

// List returns every stored class ordered by id.
func (s *Store) List(ctx context.Context) ([]classroom.Info, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM classes ORDER BY id`)
	if err != nil {
		return nil, classify("List", err)
	}
	defer rows.Close()

	var out []classroom.Info
	for rows.Next() {
		var info classroom.Info
		var created int64
		if err := rows.Scan(&info.ID, &info.Name, &created); err != nil {
			return nil, classify("List", err)
		}
		info.CreatedAt = fromMillis(created)
		out = append(out, info)
	}
	return out, classify("List", rows.Err())
}

// Delete removes a class and everything it owns.
func (s *Store) Delete(ctx context.Context, id string) error {
	return classify("Delete", s.withTx(ctx, func(tx *sql.Tx) error {
		if err := deleteChildren(ctx, tx, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM classes WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return shared.ErrClassNotFound
		}
		return nil
	}))
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// classify maps driver failures onto the shared error kinds. Domain
// errors pass through untouched.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *shared.DomainError
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return shared.WrapError("sqlite", op, shared.ErrTimeout, "operation timed out", err)
	case isBusy(err):
		return shared.WrapError("sqlite", op, shared.ErrStorageUnavailable, "database is busy", err)
	case isConstraint(err):
		return shared.WrapError("sqlite", op, shared.ErrInvalidArgument, "constraint violated", err)
	}
	return fmt.Errorf("sqlite: %s: %w", strings.ToLower(op), err)
}

func isBusy(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			return true
		}
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "database is locked") || strings.Contains(message, "sqlite_busy")
}

func isConstraint(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xff == sqlite3lib.SQLITE_CONSTRAINT
	}
	return strings.Contains(strings.ToLower(err.Error()), "constraint failed")
}
