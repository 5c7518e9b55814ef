package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/classpoints/classpoints-hub/internal/domain/classroom"
	"github.com/classpoints/classpoints-hub/internal/domain/ledger"
	"github.com/classpoints/classpoints-hub/internal/domain/points"
	"github.com/classpoints/classpoints-hub/internal/domain/reward"
	"github.com/classpoints/classpoints-hub/internal/domain/shared"
	"github.com/classpoints/classpoints-hub/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLASSROOM REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ClassroomRepository implements classroom.Repository for PostgreSQL.
type ClassroomRepository struct {
	conn *Connection
}

var _ classroom.Repository = (*ClassroomRepository)(nil)

// NewClassroomRepository creates a new ClassroomRepository.
func NewClassroomRepository(conn *Connection) *ClassroomRepository {
	return &ClassroomRepository{conn: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// Load
// ─────────────────────────────────────────────────────────────────────────────

// Load reads a class with its students, log, rewards and exchanges. All
// reads share one repeatable-read transaction.
func (r *ClassroomRepository) Load(ctx context.Context, id string) (classroom.Snapshot, error) {
	var snap classroom.Snapshot

	err := r.conn.withTx(ctx, snapshotTx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `SELECT id, name, created_at FROM classes WHERE id = $1`, id).
			Scan(&snap.Info.ID, &snap.Info.Name, &snap.Info.CreatedAt)
		if IsNoRows(err) {
			return shared.ErrClassNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load class: %w", err)
		}
		snap.Info.CreatedAt = snap.Info.CreatedAt.UTC()

		if snap.Ledger.Students, err = loadStudents(ctx, tx, id); err != nil {
			return err
		}
		if snap.Ledger.Entries, err = loadEntries(ctx, tx, id); err != nil {
			return err
		}
		if snap.Rewards.Rewards, err = loadRewards(ctx, tx, id); err != nil {
			return err
		}
		snap.Rewards.Exchanges, err = loadExchanges(ctx, tx, id)
		return err
	})
	if err != nil {
		return classroom.Snapshot{}, classify("Load", err)
	}
	return snap, nil
}

func loadStudents(ctx context.Context, q Querier, classID string) ([]student.Student, error) {
	rows, err := q.Query(ctx, `
		SELECT id, number, name, group_label, discipline, hygiene, academic, other,
		       currency, created_at, updated_at
		FROM students
		WHERE class_id = $1
		ORDER BY number
	`, classID)
	if err != nil {
		return nil, fmt.Errorf("failed to query students: %w", err)
	}
	defer rows.Close()

	var out []student.Student
	for rows.Next() {
		var s student.Student
		var number, d, h, a, o int
		if err := rows.Scan(&s.ID, &number, &s.Name, &s.Group, &d, &h, &a, &o,
			&s.Currency, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan student: %w", err)
		}
		s.Number = student.Number(number)
		s.Balances = points.NewBalances(d, h, a, o)
		s.CreatedAt = s.CreatedAt.UTC()
		s.UpdatedAt = s.UpdatedAt.UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

func loadEntries(ctx context.Context, q Querier, classID string) ([]ledger.LogEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT id, seq, student_id, category, delta, reason, item_id, operator, created_at
		FROM log_entries
		WHERE class_id = $1
		ORDER BY seq
	`, classID)
	if err != nil {
		return nil, fmt.Errorf("failed to query log entries: %w", err)
	}
	defer rows.Close()

	var out []ledger.LogEntry
	for rows.Next() {
		var e ledger.LogEntry
		var category string
		if err := rows.Scan(&e.ID, &e.Seq, &e.StudentID, &category, &e.Delta,
			&e.Reason, &e.ItemID, &e.Operator, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		e.Category = points.Category(category)
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func loadRewards(ctx context.Context, q Querier, classID string) ([]reward.Reward, error) {
	rows, err := q.Query(ctx, `
		SELECT id, name, description, cost, stock, exchange_count, created_at
		FROM rewards
		WHERE class_id = $1
		ORDER BY cost, name
	`, classID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rewards: %w", err)
	}
	defer rows.Close()

	var out []reward.Reward
	for rows.Next() {
		var rw reward.Reward
		if err := rows.Scan(&rw.ID, &rw.Name, &rw.Description, &rw.Cost, &rw.Stock,
			&rw.ExchangeCount, &rw.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reward: %w", err)
		}
		rw.CreatedAt = rw.CreatedAt.UTC()
		out = append(out, rw)
	}
	return out, rows.Err()
}

func loadExchanges(ctx context.Context, q Querier, classID string) ([]reward.Exchange, error) {
	rows, err := q.Query(ctx, `
		SELECT id, student_id, student_name, student_number, reward_id, reward_name,
		       cost, operator, at
		FROM exchanges
		WHERE class_id = $1
		ORDER BY seq
	`, classID)
	if err != nil {
		return nil, fmt.Errorf("failed to query exchanges: %w", err)
	}
	defer rows.Close()

	var out []reward.Exchange
	for rows.Next() {
		var x reward.Exchange
		var number int
		if err := rows.Scan(&x.ID, &x.StudentID, &x.StudentName, &number, &x.RewardID,
			&x.RewardName, &x.Cost, &x.Operator, &x.At); err != nil {
			return nil, fmt.Errorf("failed to scan exchange: %w", err)
		}
		x.StudentNumber = student.Number(number)
		x.At = x.At.UTC()
		out = append(out, x)
	}
	return out, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Save / Delete
// ─────────────────────────────────────────────────────────────────────────────

// Save replaces the stored class with snap in one transaction.
func (r *ClassroomRepository) Save(ctx context.Context, snap classroom.Snapshot) error {
	err := r.conn.withTx(ctx, writeTx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO classes (id, name, created_at) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
		`, snap.Info.ID, snap.Info.Name, snap.Info.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to upsert class: %w", err)
		}
		if err := deleteChildren(ctx, tx, snap.Info.ID); err != nil {
			return err
		}
		return sendBatch(ctx, tx, snapshotBatch(snap))
	})
	return classify("Save", err)
}

// deleteChildren clears the rows owned by a class; log entries first
// because they reference students.
func deleteChildren(ctx context.Context, tx pgx.Tx, classID string) error {
	for _, table := range []string{"log_entries", "exchanges", "rewards", "students"} {
		if _, err := tx.Exec(ctx, "DELETE FROM "+table+" WHERE class_id = $1", classID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// snapshotBatch queues one insert per row of snap, students before log
// entries so the foreign keys resolve.
func snapshotBatch(snap classroom.Snapshot) *pgx.Batch {
	classID := snap.Info.ID
	batch := &pgx.Batch{}

	for _, s := range snap.Ledger.Students {
		b := s.Balances
		batch.Queue(`
			INSERT INTO students (class_id, id, number, name, group_label, discipline, hygiene,
			                      academic, other, currency, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`,
			classID, s.ID, int(s.Number), s.Name, s.Group,
			b.Get(points.Discipline), b.Get(points.Hygiene), b.Get(points.Academic), b.Get(points.Other),
			s.Currency, s.CreatedAt, s.UpdatedAt,
		)
	}
	for _, e := range snap.Ledger.Entries {
		batch.Queue(`
			INSERT INTO log_entries (class_id, id, seq, student_id, category, delta, reason,
			                         item_id, operator, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`,
			classID, e.ID, e.Seq, e.StudentID, string(e.Category), e.Delta,
			e.Reason, e.ItemID, e.Operator, e.CreatedAt,
		)
	}
	for _, rw := range snap.Rewards.Rewards {
		batch.Queue(`
			INSERT INTO rewards (class_id, id, name, description, cost, stock, exchange_count, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
			classID, rw.ID, rw.Name, rw.Description, rw.Cost, rw.Stock, rw.ExchangeCount, rw.CreatedAt,
		)
	}
	for i, x := range snap.Rewards.Exchanges {
		batch.Queue(`
			INSERT INTO exchanges (class_id, id, seq, student_id, student_name, student_number,
			                       reward_id, reward_name, cost, operator, at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`,
			classID, x.ID, i+1, x.StudentID, x.StudentName, int(x.StudentNumber),
			x.RewardID, x.RewardName, x.Cost, x.Operator, x.At,
		)
	}
	return batch
}

func sendBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("failed to insert row %d: %w", i, err)
		}
	}
	return br.Close()
}

// List returns every stored class ordered by id.
func (r *ClassroomRepository) List(ctx context.Context) ([]classroom.Info, error) {
	rows, err := r.conn.Query(ctx, `SELECT id, name, created_at FROM classes ORDER BY id`)
	if err != nil {
		return nil, classify("List", err)
	}
	defer rows.Close()

	var out []classroom.Info
	for rows.Next() {
		var info classroom.Info
		if err := rows.Scan(&info.ID, &info.Name, &info.CreatedAt); err != nil {
			return nil, classify("List", err)
		}
		info.CreatedAt = info.CreatedAt.UTC()
		out = append(out, info)
	}
	return out, classify("List", rows.Err())
}

// Delete removes a class; students, log entries, rewards and exchanges
// cascade.
func (r *ClassroomRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.conn.Exec(ctx, `DELETE FROM classes WHERE id = $1`, id)
	if err != nil {
		return classify("Delete", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrClassNotFound
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Error mapping
// ─────────────────────────────────────────────────────────────────────────────

// classify maps driver failures onto the shared error kinds.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *shared.DomainError
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return shared.WrapError("postgres", op, shared.ErrTimeout, "operation timed out", err)
	case errors.Is(err, ErrConnectionClosed), errors.Is(err, ErrTransactionFailed), IsSerializationFailure(err):
		return shared.WrapError("postgres", op, shared.ErrStorageUnavailable, "storage unavailable", err)
	case IsUniqueViolation(err), IsForeignKeyViolation(err), IsCheckViolation(err):
		return shared.WrapError("postgres", op, shared.ErrInvalidArgument, "constraint violated", err)
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}
