package command

import (
	"context"

	"github.com/classpoints/classpoints-hub/internal/domain/importer"
	"github.com/classpoints/classpoints-hub/internal/domain/ledger"
	"github.com/classpoints/classpoints-hub/internal/domain/shared"
	"github.com/classpoints/classpoints-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// IMPORT STUDENTS COMMAND
// Reconciles parsed roster rows into a class by student number.
// ══════════════════════════════════════════════════════════════════════════════

// ImportStudentsCommand contains parsed rows and the conflict policy.
type ImportStudentsCommand struct {
	ClassID string
	Rows    []importer.Row
	Policy  ledger.ConflictPolicy
}

// Validate checks the class id and the policy.
func (c ImportStudentsCommand) Validate() error {
	if err := requireClassID(c.ClassID); err != nil {
		return err
	}
	if !c.Policy.IsValid() {
		return shared.ErrInvalidConflictPolicy
	}
	return nil
}

// ImportStudentsResult carries the per-row outcomes.
type ImportStudentsResult struct {
	importer.Result
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// ImportStudentsHandler handles ImportStudentsCommand.
type ImportStudentsHandler struct {
	deps Deps
}

// NewImportStudentsHandler creates a handler.
func NewImportStudentsHandler(deps Deps) *ImportStudentsHandler {
	return &ImportStudentsHandler{deps: deps.withDefaults("import_students")}
}

// Handle executes the command. Bad rows never abort the import.
func (h *ImportStudentsHandler) Handle(ctx context.Context, cmd ImportStudentsCommand) (*ImportStudentsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	class, err := h.deps.Registry.Open(ctx, cmd.ClassID)
	if err != nil {
		return nil, err
	}

	res, err := importer.Import(class.Ledger, cmd.Rows, cmd.Policy)
	if err != nil {
		return nil, err
	}

	h.deps.Metrics.RecordImportRows(string(importer.Created), res.Created)
	h.deps.Metrics.RecordImportRows(string(importer.Updated), res.Updated)
	h.deps.Metrics.RecordImportRows(string(importer.Skipped), res.Skipped)
	h.deps.Metrics.RecordImportRows(string(importer.Failed), res.Failed)

	for _, row := range res.Rows {
		if row.Outcome == importer.Failed {
			h.deps.Logger.Warn("import row rejected",
				logger.ClassID(cmd.ClassID),
				logger.Int("line", row.Line),
				logger.StudentNumber(row.Number),
				logger.Err(row.Err),
			)
		}
	}

	if res.Touched() {
		event := shared.NewStudentsImportedEvent(cmd.ClassID, res.Created, res.Updated, res.Skipped, res.Failed)
		if err := h.deps.commit(ctx, cmd.ClassID, event); err != nil {
			return nil, err
		}
	}

	h.deps.Logger.Info("students imported",
		logger.ClassID(cmd.ClassID),
		logger.String("policy", string(cmd.Policy)),
		logger.Int("created", res.Created),
		logger.Int("updated", res.Updated),
		logger.Int("skipped", res.Skipped),
		logger.Int("failed", res.Failed),
	)
	return &ImportStudentsResult{Result: res}, nil
}
