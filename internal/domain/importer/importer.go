// Package importer reconciles tabular student rows against a class ledger.
//
// Rows are keyed by student number. A row either carries a per-category
// breakdown or a single aggregate total that is redistributed across the
// categories. Existing students are overwritten or skipped according to
// the conflict policy. The importer never deletes students and never
// writes point log entries.
package importer

import (
	"fmt"

	"github.com/classpoints/classpoints-hub/internal/domain/ledger"
	"github.com/classpoints/classpoints-hub/internal/domain/points"
	"github.com/classpoints/classpoints-hub/internal/domain/shared"
	"github.com/classpoints/classpoints-hub/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// ROWS
// ══════════════════════════════════════════════════════════════════════════════

// Row is one already-parsed input line.
type Row struct {
	// Line is the 1-based source line, used only for reporting.
	Line int

	Number   int
	Name     string
	Group    string
	Balances points.Balances
	Total    int

	// Err is a parse failure reported by the row source. Such a row is
	// counted as failed without touching the ledger.
	Err error
}

// Resolve returns the balances the row should end up with.
// A non-zero breakdown wins; otherwise a positive total is redistributed.
func (r Row) Resolve() points.Balances {
	if !r.Balances.IsZero() {
		return r.Balances
	}
	return points.Redistribute(r.Total)
}

// Validate rejects rows that can never be applied.
func (r Row) Validate() error {
	if r.Err != nil {
		return r.Err
	}
	if r.Number <= 0 {
		return shared.ErrInvalidStudentNumber
	}
	if r.Balances.HasNegative() || r.Total < 0 {
		return shared.ErrInvalidStudentBalance
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RESULT
// ══════════════════════════════════════════════════════════════════════════════

// RowOutcome reports what happened to one row.
type RowOutcome struct {
	Line      int
	Number    int
	StudentID string
	Outcome   Outcome
	Err       error
}

// Outcome classifies a row.
type Outcome string

const (
	Created Outcome = "created"
	Updated Outcome = "updated"
	Skipped Outcome = "skipped"
	Failed  Outcome = "failed"
)

// Result aggregates one import run.
type Result struct {
	Created int
	Updated int
	Skipped int
	Failed  int
	Rows    []RowOutcome
}

// Touched reports whether any student was created or updated.
func (r Result) Touched() bool {
	return r.Created+r.Updated > 0
}

func (r *Result) record(o RowOutcome) {
	switch o.Outcome {
	case Created:
		r.Created++
	case Updated:
		r.Updated++
	case Skipped:
		r.Skipped++
	case Failed:
		r.Failed++
	}
	r.Rows = append(r.Rows, o)
}

// ══════════════════════════════════════════════════════════════════════════════
// IMPORT
// ══════════════════════════════════════════════════════════════════════════════

// Target is the part of the ledger the importer writes through.
type Target interface {
	UpsertByNumber(p student.Profile, b points.Balances, policy ledger.ConflictPolicy) (ledger.UpsertOutcome, *student.Student, error)
}

// Import applies rows in order. Each row is one atomic upsert; a bad row
// is recorded as failed and the run continues. A later row that repeats
// the number of an earlier one sees the earlier row as existing.
//
// The error is non-nil only for an unknown policy, before any row runs.
func Import(target Target, rows []Row, policy ledger.ConflictPolicy) (Result, error) {
	if !policy.IsValid() {
		return Result{}, shared.ErrInvalidConflictPolicy
	}

	res := Result{Rows: make([]RowOutcome, 0, len(rows))}
	for _, row := range rows {
		res.record(apply(target, row, policy))
	}
	return res, nil
}

func apply(target Target, row Row, policy ledger.ConflictPolicy) RowOutcome {
	out := RowOutcome{Line: row.Line, Number: row.Number}

	if err := row.Validate(); err != nil {
		out.Outcome, out.Err = Failed, err
		return out
	}

	profile := student.Profile{
		Number: student.Number(row.Number),
		Name:   row.Name,
		Group:  row.Group,
	}
	upserted, s, err := target.UpsertByNumber(profile, row.Resolve(), policy)
	if err != nil {
		out.Outcome = Failed
		out.Err = shared.WrapError("import", "Apply", shared.ErrInvalidArgument,
			fmt.Sprintf("row %d", row.Line), err)
		return out
	}
	out.StudentID = s.ID

	switch upserted {
	case ledger.OutcomeCreated:
		out.Outcome = Created
	case ledger.OutcomeUpdated:
		out.Outcome = Updated
	case ledger.OutcomeSkipped:
		out.Outcome = Skipped
		out.Err = shared.ErrRowSkipped
	}
	return out
}
