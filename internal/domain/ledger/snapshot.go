package ledger

import (
	"fmt"

	"github.com/classpoints/classpoints-hub/internal/domain/shared"
	"github.com/classpoints/classpoints-hub/internal/domain/student"
)

// Snapshot is the persisted shape of a ledger. Entries are in append order.
type Snapshot struct {
	Students []student.Student `json:"students"`
	Entries  []LogEntry        `json:"entries"`
}

// Snapshot copies the ledger state under the read lock.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snap := Snapshot{
		Students: make([]student.Student, 0, len(l.students)),
		Entries:  make([]LogEntry, len(l.entries)),
	}
	for _, s := range l.listLocked() {
		snap.Students = append(snap.Students, *s)
	}
	copy(snap.Entries, l.entries)
	return snap
}

// Restore builds a ledger from a snapshot after checking its invariants.
func Restore(classID string, snap Snapshot, opts ...Option) (*Ledger, error) {
	l := New(classID, opts...)

	for i := range snap.Students {
		s := snap.Students[i]
		if err := s.Validate(); err != nil {
			return nil, shared.WrapError("ledger", "Restore", shared.ErrInvalidArgument,
				fmt.Sprintf("student %q", s.ID), err)
		}
		if _, dup := l.students[s.ID]; dup {
			return nil, shared.Errorf("ledger", "Restore", shared.ErrAlreadyExists, "duplicate student id %q", s.ID)
		}
		if _, dup := l.byNumber[s.Number]; dup {
			return nil, shared.Errorf("ledger", "Restore", shared.ErrAlreadyExists, "duplicate student number %d", s.Number)
		}
		l.students[s.ID] = &s
		l.byNumber[s.Number] = s.ID
	}

	l.entries = make([]LogEntry, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		if _, ok := l.students[e.StudentID]; !ok {
			return nil, shared.Errorf("ledger", "Restore", shared.ErrNotFound,
				"log entry %q references unknown student %q", e.ID, e.StudentID)
		}
		switch {
		case e.Seq == 0:
			l.seq++
			e.Seq = l.seq
		case e.Seq > l.seq:
			l.seq = e.Seq
		}
		l.entries = append(l.entries, e)
	}
	return l, nil
}
