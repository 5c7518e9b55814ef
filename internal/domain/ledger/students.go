package ledger

import (
	"github.com/classpoints/classpoints-hub/internal/domain/points"
	"github.com/classpoints/classpoints-hub/internal/domain/shared"
	"github.com/classpoints/classpoints-hub/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// AddStudent creates a student with zero balances.
func (l *Ledger) AddStudent(p student.Profile) (*student.Student, error) {
	p = p.Normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, taken := l.byNumber[p.Number]; taken {
		return nil, shared.ErrStudentNumberTaken
	}
	s, err := l.createLocked(p, points.Balances{}, 0)
	if err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// UpdateProfile edits number, name and group. Balances are untouched.
func (l *Ledger) UpdateProfile(studentID string, p student.Profile) (*student.Student, error) {
	p = p.Normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.students[studentID]
	if !ok {
		return nil, shared.ErrStudentNotFound
	}
	if owner, taken := l.byNumber[p.Number]; taken && owner != studentID {
		return nil, shared.ErrStudentNumberTaken
	}

	delete(l.byNumber, s.Number)
	s.ApplyProfile(p, l.now())
	l.byNumber[s.Number] = s.ID
	return s.Clone(), nil
}

// DeleteStudent removes the student and every log entry it owns.
// It returns the number of removed entries.
func (l *Ledger) DeleteStudent(studentID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.students[studentID]
	if !ok {
		return 0, shared.ErrStudentNotFound
	}
	delete(l.students, studentID)
	delete(l.byNumber, s.Number)

	kept := l.entries[:0]
	removed := 0
	for _, e := range l.entries {
		if e.StudentID == studentID {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	// Clear the tail so removed entries are not retained by the backing array.
	for i := len(kept); i < len(l.entries); i++ {
		l.entries[i] = LogEntry{}
	}
	l.entries = kept
	return removed, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// UPSERT BY NUMBER
// ══════════════════════════════════════════════════════════════════════════════

// ConflictPolicy decides what happens when a student number already exists.
type ConflictPolicy string

const (
	SkipExisting     ConflictPolicy = "skip"
	OverrideExisting ConflictPolicy = "override"
)

// IsValid reports whether p is a known policy.
func (p ConflictPolicy) IsValid() bool {
	return p == SkipExisting || p == OverrideExisting
}

// UpsertOutcome tells what UpsertByNumber did.
type UpsertOutcome string

const (
	OutcomeCreated UpsertOutcome = "created"
	OutcomeUpdated UpsertOutcome = "updated"
	OutcomeSkipped UpsertOutcome = "skipped"
)

// UpsertByNumber creates or overwrites the student keyed by p.Number as
// one atomic step.
//
// A new student gets the given balances and currency equal to their sum.
// With OverrideExisting an existing student gets the new profile and
// balances, and currency is reset to the new sum, discarding prior spend.
// With SkipExisting the existing student is left untouched.
// No log entries are written either way.
func (l *Ledger) UpsertByNumber(p student.Profile, b points.Balances, policy ConflictPolicy) (UpsertOutcome, *student.Student, error) {
	if !policy.IsValid() {
		return "", nil, shared.ErrInvalidConflictPolicy
	}
	p = p.Normalize()
	if err := p.Validate(); err != nil {
		return "", nil, err
	}
	if b.HasNegative() {
		return "", nil, shared.ErrInvalidStudentBalance
	}
	if b.Overflows() {
		return "", nil, shared.ErrStudentBalanceTooBig
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	id, exists := l.byNumber[p.Number]
	if !exists {
		s, err := l.createLocked(p, b, b.Total())
		if err != nil {
			return "", nil, err
		}
		return OutcomeCreated, s.Clone(), nil
	}

	s := l.students[id]
	if policy == SkipExisting {
		return OutcomeSkipped, s.Clone(), nil
	}

	s.ApplyProfile(p, l.now())
	s.Balances = b
	s.Currency = b.Total()
	return OutcomeUpdated, s.Clone(), nil
}

func (l *Ledger) createLocked(p student.Profile, b points.Balances, currency int) (*student.Student, error) {
	s, err := student.NewStudent(student.NewStudentParams{
		ID:       l.newID(),
		Profile:  p,
		Balances: b,
		Currency: currency,
		Now:      l.now(),
	})
	if err != nil {
		return nil, err
	}
	l.students[s.ID] = s
	l.byNumber[s.Number] = s.ID
	return s, nil
}
