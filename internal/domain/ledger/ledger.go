// Package ledger owns the students of one class, their category and
// currency balances, and the append-only adjustment log.
//
// A Ledger is a single mutual-exclusion domain. Every mutation runs under
// the write lock as one read-modify-write step, so balances can never go
// negative even with concurrent callers. Reads take the read lock and
// return copies, never pointers into ledger state.
package ledger

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/classpoints/classpoints-hub/internal/domain/shared"
	"github.com/classpoints/classpoints-hub/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// Ledger is the in-memory state machine of one class.
type Ledger struct {
	mu sync.RWMutex

	classID  string
	students map[string]*student.Student
	byNumber map[student.Number]string
	entries  []LogEntry
	seq      int64

	now   func() time.Time
	newID func() string
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithIDGenerator overrides id generation for students and log entries.
func WithIDGenerator(gen func() string) Option {
	return func(l *Ledger) { l.newID = gen }
}

// New creates an empty ledger for a class.
func New(classID string, opts ...Option) *Ledger {
	l := &Ledger{
		classID:  classID,
		students: make(map[string]*student.Student),
		byNumber: make(map[student.Number]string),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ClassID returns the owning class id.
func (l *Ledger) ClassID() string {
	return l.classID
}

// ──────────────────────────────────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────────────────────────────────

// Get returns a copy of the student.
func (l *Ledger) Get(studentID string) (*student.Student, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s, ok := l.students[studentID]
	if !ok {
		return nil, shared.ErrStudentNotFound
	}
	return s.Clone(), nil
}

// GetByNumber returns a copy of the student with the given number.
func (l *Ledger) GetByNumber(n student.Number) (*student.Student, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	id, ok := l.byNumber[n]
	if !ok {
		return nil, shared.ErrStudentNotFound
	}
	return l.students[id].Clone(), nil
}

// List returns copies of all students ordered by student number.
func (l *Ledger) List() []*student.Student {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.listLocked()
}

func (l *Ledger) listLocked() []*student.Student {
	out := make([]*student.Student, 0, len(l.students))
	for _, s := range l.students {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// Len returns the number of students.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.students)
}

// Logs returns the entries of one student, newest first.
// An unknown student yields an empty list.
func (l *Ledger) Logs(studentID string) []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]LogEntry, 0)
	for _, e := range l.entries {
		if e.StudentID == studentID {
			out = append(out, e)
		}
	}
	SortNewestFirst(out)
	return out
}

// ClassLogs returns every entry of the class, newest first.
func (l *Ledger) ClassLogs() []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)
	SortNewestFirst(out)
	return out
}

// Groups returns the distinct non-empty group labels in ascending order.
func (l *Ledger) Groups() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, s := range l.students {
		if s.HasGroup() {
			seen[s.Group] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// View returns students and log entries observed under one read lock.
// Reports are computed from a View so they never mix two states.
func (l *Ledger) View() View {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := make([]LogEntry, len(l.entries))
	copy(entries, l.entries)
	return View{
		ClassID:  l.classID,
		Students: l.listLocked(),
		Entries:  entries,
	}
}

// View is a consistent read-only copy of ledger state.
// Students are ordered by number; entries are in append order.
type View struct {
	ClassID  string
	Students []*student.Student
	Entries  []LogEntry
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers (caller holds the write lock)
// ──────────────────────────────────────────────────────────────────────────────

func (l *Ledger) appendEntry(e LogEntry) LogEntry {
	l.seq++
	e.ID = l.newID()
	e.Seq = l.seq
	l.entries = append(l.entries, e)
	return e
}
