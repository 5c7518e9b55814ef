package query

import (
	"context"

	"github.com/classpoints/classpoints-hub/internal/domain/classroom"
	"github.com/classpoints/classpoints-hub/internal/domain/ledger"
	"github.com/classpoints/classpoints-hub/internal/domain/reward"
	"github.com/classpoints/classpoints-hub/internal/domain/shared"
	"github.com/classpoints/classpoints-hub/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT LOGS
// ══════════════════════════════════════════════════════════════════════════════

// StudentLogsQuery asks for log entries, newest first. An empty StudentID
// returns the whole class log.
type StudentLogsQuery struct {
	ClassID   string
	StudentID string

	// Limit truncates the list when positive.
	Limit int
}

// StudentLogsHandler handles StudentLogsQuery.
type StudentLogsHandler struct {
	deps Deps
}

// NewStudentLogsHandler creates a handler.
func NewStudentLogsHandler(deps Deps) *StudentLogsHandler {
	return &StudentLogsHandler{deps: deps.withDefaults("student_logs")}
}

// Handle executes the query. An unknown student yields an empty list.
func (h *StudentLogsHandler) Handle(ctx context.Context, q StudentLogsQuery) ([]ledger.LogEntry, error) {
	if err := requireClassID(q.ClassID); err != nil {
		return nil, err
	}
	class, err := h.deps.Registry.Open(ctx, q.ClassID)
	if err != nil {
		return nil, err
	}

	var entries []ledger.LogEntry
	if q.StudentID == "" {
		entries = class.Ledger.ClassLogs()
	} else {
		entries = class.Ledger.Logs(q.StudentID)
	}
	if q.Limit > 0 && len(entries) > q.Limit {
		entries = entries[:q.Limit]
	}
	return entries, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT LIST
// ══════════════════════════════════════════════════════════════════════════════

// ListStudentsQuery lists students by number, optionally filtered by group.
type ListStudentsQuery struct {
	ClassID string
	Group   string
}

// ListStudentsResult carries the students and every known group label.
type ListStudentsResult struct {
	Students []student.Student
	Groups   []string
}

// ListStudentsHandler handles ListStudentsQuery.
type ListStudentsHandler struct {
	deps Deps
}

// NewListStudentsHandler creates a handler.
func NewListStudentsHandler(deps Deps) *ListStudentsHandler {
	return &ListStudentsHandler{deps: deps.withDefaults("list_students")}
}

// Handle executes the query.
func (h *ListStudentsHandler) Handle(ctx context.Context, q ListStudentsQuery) (*ListStudentsResult, error) {
	if err := requireClassID(q.ClassID); err != nil {
		return nil, err
	}
	class, err := h.deps.Registry.Open(ctx, q.ClassID)
	if err != nil {
		return nil, err
	}

	group := student.NormalizeText(q.Group)
	res := &ListStudentsResult{Groups: class.Ledger.Groups()}
	for _, s := range class.Ledger.List() {
		if group != "" && s.Group != group {
			continue
		}
		res.Students = append(res.Students, *s)
	}
	return res, nil
}

// FindStudentQuery resolves a student by number.
type FindStudentQuery struct {
	ClassID string
	Number  student.Number
}

// FindStudentHandler handles FindStudentQuery. The CLI addresses students
// by their class number; the ledger keys them by id.
type FindStudentHandler struct {
	deps Deps
}

// NewFindStudentHandler creates a handler.
func NewFindStudentHandler(deps Deps) *FindStudentHandler {
	return &FindStudentHandler{deps: deps.withDefaults("find_student")}
}

// Handle executes the query.
func (h *FindStudentHandler) Handle(ctx context.Context, q FindStudentQuery) (*student.Student, error) {
	if err := requireClassID(q.ClassID); err != nil {
		return nil, err
	}
	if q.Number <= 0 {
		return nil, shared.ErrInvalidStudentNumber
	}
	class, err := h.deps.Registry.Open(ctx, q.ClassID)
	if err != nil {
		return nil, err
	}
	return class.Ledger.GetByNumber(q.Number)
}

// ══════════════════════════════════════════════════════════════════════════════
// REWARDS
// ══════════════════════════════════════════════════════════════════════════════

// RewardsQuery asks for the catalogue and the exchange history.
type RewardsQuery struct {
	ClassID string
}

// RewardsResult holds rewards by cost and exchanges newest first.
type RewardsResult struct {
	Rewards   []reward.Reward
	Exchanges []reward.Exchange
}

// RewardsHandler handles RewardsQuery.
type RewardsHandler struct {
	deps Deps
}

// NewRewardsHandler creates a handler.
func NewRewardsHandler(deps Deps) *RewardsHandler {
	return &RewardsHandler{deps: deps.withDefaults("rewards")}
}

// Handle executes the query.
func (h *RewardsHandler) Handle(ctx context.Context, q RewardsQuery) (*RewardsResult, error) {
	if err := requireClassID(q.ClassID); err != nil {
		return nil, err
	}
	class, err := h.deps.Registry.Open(ctx, q.ClassID)
	if err != nil {
		return nil, err
	}
	return &RewardsResult{Rewards: class.Rewards.List(), Exchanges: class.Rewards.Exchanges()}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CLASSES
// ══════════════════════════════════════════════════════════════════════════════

// ListClassesHandler lists stored classes.
type ListClassesHandler struct {
	deps Deps
}

// NewListClassesHandler creates a handler.
func NewListClassesHandler(deps Deps) *ListClassesHandler {
	return &ListClassesHandler{deps: deps.withDefaults("list_classes")}
}

// Handle returns every stored class ordered by id.
func (h *ListClassesHandler) Handle(ctx context.Context) ([]classroom.Info, error) {
	return h.deps.Registry.List(ctx)
}
