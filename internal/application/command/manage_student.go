package command

import (
	"context"

	"github.com/classpoints/classpoints-hub/internal/domain/shared"
	"github.com/classpoints/classpoints-hub/internal/domain/student"
	"github.com/classpoints/classpoints-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SAVE STUDENT COMMAND
// Adds a student or edits an existing profile. Balances are never touched.
// ══════════════════════════════════════════════════════════════════════════════

// SaveStudentCommand creates a student when StudentID is empty and edits
// the profile otherwise.
type SaveStudentCommand struct {
	ClassID   string
	StudentID string
	Profile   student.Profile
}

// Validate checks the class id. The profile is validated by the ledger.
func (c SaveStudentCommand) Validate() error {
	return requireClassID(c.ClassID)
}

// SaveStudentResult contains the saved student.
type SaveStudentResult struct {
	Student student.Student
	Created bool
}

// SaveStudentHandler handles SaveStudentCommand.
type SaveStudentHandler struct {
	deps Deps
}

// NewSaveStudentHandler creates a handler.
func NewSaveStudentHandler(deps Deps) *SaveStudentHandler {
	return &SaveStudentHandler{deps: deps.withDefaults("save_student")}
}

// Handle executes the command.
func (h *SaveStudentHandler) Handle(ctx context.Context, cmd SaveStudentCommand) (*SaveStudentResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	class, err := h.deps.Registry.Open(ctx, cmd.ClassID)
	if err != nil {
		return nil, err
	}

	var (
		s       *student.Student
		created = cmd.StudentID == ""
	)
	if created {
		s, err = class.Ledger.AddStudent(cmd.Profile)
	} else {
		s, err = class.Ledger.UpdateProfile(cmd.StudentID, cmd.Profile)
	}
	if err != nil {
		return nil, err
	}

	if err := h.deps.commit(ctx, cmd.ClassID, shared.NewStudentSavedEvent(cmd.ClassID, s.ID, created)); err != nil {
		return nil, err
	}

	h.deps.Logger.Info("student saved",
		logger.ClassID(cmd.ClassID),
		logger.StudentID(s.ID),
		logger.StudentNumber(int(s.Number)),
		logger.Bool("created", created),
	)
	return &SaveStudentResult{Student: *s, Created: created}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// DELETE STUDENT COMMAND
// Removes a student and cascades its log entries.
// ══════════════════════════════════════════════════════════════════════════════

// DeleteStudentCommand identifies the student to remove.
type DeleteStudentCommand struct {
	ClassID   string
	StudentID string
}

// Validate checks the identifiers.
func (c DeleteStudentCommand) Validate() error {
	if err := requireClassID(c.ClassID); err != nil {
		return err
	}
	return requireStudentID("DeleteStudent", c.StudentID)
}

// DeleteStudentResult reports how many log entries went with the student.
type DeleteStudentResult struct {
	StudentID      string
	RemovedEntries int
}

// DeleteStudentHandler handles DeleteStudentCommand.
type DeleteStudentHandler struct {
	deps Deps
}

// NewDeleteStudentHandler creates a handler.
func NewDeleteStudentHandler(deps Deps) *DeleteStudentHandler {
	return &DeleteStudentHandler{deps: deps.withDefaults("delete_student")}
}

// Handle executes the command.
func (h *DeleteStudentHandler) Handle(ctx context.Context, cmd DeleteStudentCommand) (*DeleteStudentResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	class, err := h.deps.Registry.Open(ctx, cmd.ClassID)
	if err != nil {
		return nil, err
	}

	removed, err := class.Ledger.DeleteStudent(cmd.StudentID)
	if err != nil {
		return nil, err
	}

	event := shared.NewStudentDeletedEvent(cmd.ClassID, cmd.StudentID, removed)
	if err := h.deps.commit(ctx, cmd.ClassID, event); err != nil {
		return nil, err
	}

	h.deps.Logger.Info("student deleted",
		logger.ClassID(cmd.ClassID),
		logger.StudentID(cmd.StudentID),
		logger.Int("removed_entries", removed),
	)
	return &DeleteStudentResult{StudentID: cmd.StudentID, RemovedEntries: removed}, nil
}
