package query

import (
	"context"

	"github.com/classpoints/classpoints-hub/internal/domain/sampler"
	"github.com/classpoints/classpoints-hub/internal/domain/student"
	"github.com/classpoints/classpoints-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// DRAW STUDENTS QUERY
// Picks distinct students uniformly at random. Nothing is recorded on the
// ledger, so this is a query even though it is not deterministic.
// ══════════════════════════════════════════════════════════════════════════════

// DrawRecorder counts draws. *metrics.Collector satisfies it.
type DrawRecorder interface {
	RecordDraw()
}

// DrawStudentsQuery asks for Count distinct students, optionally from one group.
type DrawStudentsQuery struct {
	ClassID string
	Count   int
	Group   string
}

// DrawStudentsHandler handles DrawStudentsQuery.
type DrawStudentsHandler struct {
	deps     Deps
	sampler  *sampler.Sampler
	recorder DrawRecorder
}

// NewDrawStudentsHandler creates a handler. recorder may be nil.
func NewDrawStudentsHandler(deps Deps, s *sampler.Sampler, recorder DrawRecorder) *DrawStudentsHandler {
	return &DrawStudentsHandler{deps: deps.withDefaults("draw_students"), sampler: s, recorder: recorder}
}

// Handle returns the drawn students. Fewer than Count are returned when the
// pool is smaller.
func (h *DrawStudentsHandler) Handle(ctx context.Context, q DrawStudentsQuery) ([]student.Student, error) {
	if err := requireClassID(q.ClassID); err != nil {
		return nil, err
	}
	class, err := h.deps.Registry.Open(ctx, q.ClassID)
	if err != nil {
		return nil, err
	}

	picked, err := h.sampler.Draw(class.Ledger.List(), sampler.Request{Count: q.Count, Group: q.Group})
	if err != nil {
		return nil, err
	}
	if h.recorder != nil {
		h.recorder.RecordDraw()
	}

	out := make([]student.Student, len(picked))
	for i, s := range picked {
		out[i] = *s
	}
	h.deps.Logger.Debug("students drawn",
		logger.ClassID(q.ClassID),
		logger.Count(len(out)),
		logger.String("group", q.Group),
	)
	return out, nil
}
