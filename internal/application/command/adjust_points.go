package command

import (
	"context"

	"github.com/classpoints/classpoints-hub/internal/domain/ledger"
	"github.com/classpoints/classpoints-hub/internal/domain/points"
	"github.com/classpoints/classpoints-hub/internal/domain/shared"
	"github.com/classpoints/classpoints-hub/internal/domain/student"
	"github.com/classpoints/classpoints-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADJUST POINTS COMMAND
// Credits or debits one category of one student. Debits clamp at zero.
// ══════════════════════════════════════════════════════════════════════════════

// AdjustPointsCommand contains the data for a single adjustment.
type AdjustPointsCommand struct {
	ClassID   string
	StudentID string
	AdjustmentSpec
}

// Validate checks the identifiers. Category, amount and direction are
// checked after preset resolution.
func (c AdjustPointsCommand) Validate() error {
	if err := requireClassID(c.ClassID); err != nil {
		return err
	}
	return requireStudentID("AdjustPoints", c.StudentID)
}

// AdjustPointsResult reports what the adjustment actually did.
type AdjustPointsResult struct {
	Student student.Student

	Category  points.Category
	Direction points.Direction
	Requested int
	Effective int

	// CurrencyDelta is the signed change of exchange credit.
	CurrencyDelta int

	// Entry is nil when a debit found nothing to remove.
	Entry *ledger.LogEntry
}

// Applied reports whether the balance moved.
func (r AdjustPointsResult) Applied() bool {
	return r.Effective > 0
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// AdjustPointsHandler handles AdjustPointsCommand.
type AdjustPointsHandler struct {
	deps  Deps
	items points.ItemSet
}

// NewAdjustPointsHandler creates a handler. items may be nil when no
// presets are configured.
func NewAdjustPointsHandler(deps Deps, items points.ItemSet) *AdjustPointsHandler {
	return &AdjustPointsHandler{deps: deps.withDefaults("adjust_points"), items: items}
}

// Handle executes the command.
func (h *AdjustPointsHandler) Handle(ctx context.Context, cmd AdjustPointsCommand) (*AdjustPointsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	adj, err := cmd.resolve(h.items)
	if err != nil {
		return nil, err
	}
	adj.StudentID = cmd.StudentID

	class, err := h.deps.Registry.Open(ctx, cmd.ClassID)
	if err != nil {
		return nil, err
	}
	res, err := class.Ledger.ApplyAdjustment(adj)
	if err != nil {
		return nil, err
	}
	h.deps.Metrics.RecordAdjustment(adj.Category.String(), adj.Direction.String(), res.Effective)

	result := &AdjustPointsResult{
		Student:       *res.Student,
		Category:      adj.Category,
		Direction:     adj.Direction,
		Requested:     res.Requested,
		Effective:     res.Effective,
		CurrencyDelta: res.CurrencyDelta,
		Entry:         res.Entry,
	}
	if !res.Applied() {
		h.deps.Logger.Debug("debit found empty balance",
			logger.ClassID(cmd.ClassID),
			logger.StudentID(cmd.StudentID),
			logger.Category(adj.Category.String()),
		)
		return result, nil
	}

	event := shared.NewPointsAdjustedEvent(cmd.ClassID, cmd.StudentID, adj.Category.String(), res.Entry.Delta, adj.Operator)
	if err := h.deps.commit(ctx, cmd.ClassID, event); err != nil {
		return nil, err
	}

	h.deps.Logger.Info("points adjusted",
		logger.ClassID(cmd.ClassID),
		logger.StudentID(cmd.StudentID),
		logger.Category(adj.Category.String()),
		logger.Points(res.Entry.Delta),
		logger.Operator(adj.Operator),
	)
	return result, nil
}
