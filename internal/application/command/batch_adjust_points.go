package command

import (
	"context"

	"github.com/classpoints/classpoints-hub/internal/domain/ledger"
	"github.com/classpoints/classpoints-hub/internal/domain/points"
	"github.com/classpoints/classpoints-hub/internal/domain/shared"
	"github.com/classpoints/classpoints-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// BATCH ADJUST POINTS COMMAND
// Applies one adjustment to many students. Each student succeeds or fails on
// its own; there is no batch-level rollback.
// ══════════════════════════════════════════════════════════════════════════════

// BatchAdjustPointsCommand contains the data for a batch adjustment.
type BatchAdjustPointsCommand struct {
	ClassID    string
	StudentIDs []string

	// AllStudents targets every student currently in the class and
	// ignores StudentIDs.
	AllStudents bool

	AdjustmentSpec
}

// Validate checks the identifiers.
func (c BatchAdjustPointsCommand) Validate() error {
	if err := requireClassID(c.ClassID); err != nil {
		return err
	}
	if !c.AllStudents && len(c.StudentIDs) == 0 {
		return shared.NewDomainError("command", "BatchAdjustPoints", shared.ErrEmptyValue, "at least one student is required")
	}
	return nil
}

// BatchOutcome is the result for one student.
type BatchOutcome struct {
	StudentID     string
	Effective     int
	CurrencyDelta int
	Entry         *ledger.LogEntry
	Err           error
}

// BatchAdjustPointsResult summarizes a batch.
type BatchAdjustPointsResult struct {
	Category  points.Category
	Direction points.Direction
	Items     []BatchOutcome

	// Requested counts distinct students.
	Requested int
	Applied   int
	Failed    int
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// BatchAdjustPointsHandler handles BatchAdjustPointsCommand.
type BatchAdjustPointsHandler struct {
	deps  Deps
	items points.ItemSet
}

// NewBatchAdjustPointsHandler creates a handler.
func NewBatchAdjustPointsHandler(deps Deps, items points.ItemSet) *BatchAdjustPointsHandler {
	return &BatchAdjustPointsHandler{deps: deps.withDefaults("batch_adjust_points"), items: items}
}

// Handle executes the command. The error is non-nil only when the shared
// parameters are invalid, the class cannot be opened or the checkpoint
// fails; per-student failures are reported in the result.
func (h *BatchAdjustPointsHandler) Handle(ctx context.Context, cmd BatchAdjustPointsCommand) (*BatchAdjustPointsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	tmpl, err := cmd.resolve(h.items)
	if err != nil {
		return nil, err
	}

	class, err := h.deps.Registry.Open(ctx, cmd.ClassID)
	if err != nil {
		return nil, err
	}

	ids := cmd.StudentIDs
	if cmd.AllStudents {
		students := class.Ledger.List()
		ids = make([]string, 0, len(students))
		for _, s := range students {
			ids = append(ids, s.ID)
		}
	}

	batch, err := class.Ledger.ApplyBatchAdjustment(ids, tmpl)
	if err != nil {
		return nil, err
	}

	result := &BatchAdjustPointsResult{
		Category:  tmpl.Category,
		Direction: tmpl.Direction,
		Items:     make([]BatchOutcome, 0, len(batch.Items)),
		Requested: batch.Requested,
		Applied:   batch.Applied,
		Failed:    batch.Failed,
	}
	events := make([]shared.Event, 0, batch.Applied)

	for _, it := range batch.Items {
		out := BatchOutcome{StudentID: it.StudentID, Err: it.Err}
		if it.Err != nil {
			h.deps.Logger.Warn("batch item failed",
				logger.ClassID(cmd.ClassID),
				logger.StudentID(it.StudentID),
				logger.Err(it.Err),
			)
			result.Items = append(result.Items, out)
			continue
		}

		out.Effective = it.Result.Effective
		out.CurrencyDelta = it.Result.CurrencyDelta
		out.Entry = it.Result.Entry
		result.Items = append(result.Items, out)

		h.deps.Metrics.RecordAdjustment(tmpl.Category.String(), tmpl.Direction.String(), it.Result.Effective)
		if it.Result.Applied() {
			events = append(events, shared.NewPointsAdjustedEvent(
				cmd.ClassID, it.StudentID, tmpl.Category.String(), it.Result.Entry.Delta, tmpl.Operator))
		}
	}

	if batch.Applied > 0 {
		if err := h.deps.commit(ctx, cmd.ClassID, events...); err != nil {
			return nil, err
		}
	}

	h.deps.Logger.Info("batch adjustment applied",
		logger.ClassID(cmd.ClassID),
		logger.Category(tmpl.Category.String()),
		logger.String("direction", tmpl.Direction.String()),
		logger.Int("requested", batch.Requested),
		logger.Int("applied", batch.Applied),
		logger.Int("failed", batch.Failed),
		logger.Operator(tmpl.Operator),
	)
	return result, nil
}
