package ledger

import (
	"strings"

	"github.com/classpoints/classpoints-hub/internal/domain/points"
	"github.com/classpoints/classpoints-hub/internal/domain/shared"
	"github.com/classpoints/classpoints-hub/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// SINGLE ADJUSTMENT
// ══════════════════════════════════════════════════════════════════════════════

// Adjustment is a requested point change for one student.
type Adjustment struct {
	StudentID string
	Category  points.Category
	Amount    int
	Direction points.Direction
	Reason    string
	ItemID    string
	Operator  string
}

// Validate checks everything except student existence.
func (a Adjustment) Validate() error {
	if !a.Category.IsValid() {
		return shared.ErrInvalidCategory
	}
	if !a.Direction.IsValid() {
		return shared.ErrInvalidDirection
	}
	if a.Amount <= 0 {
		return shared.ErrInvalidAmount
	}
	if strings.TrimSpace(a.Operator) == "" {
		return shared.ErrMissingOperator
	}
	return nil
}

// AdjustmentResult describes what an adjustment actually did.
type AdjustmentResult struct {
	// Student is the updated snapshot.
	Student *student.Student

	Requested int

	// Effective is the amount applied to the category balance, always >= 0.
	Effective int

	// CurrencyDelta is the signed change of exchange credit.
	CurrencyDelta int

	// Entry is nil when nothing changed.
	Entry *LogEntry
}

// Applied reports whether the balance actually moved.
func (r AdjustmentResult) Applied() bool {
	return r.Effective > 0
}

// ApplyAdjustment credits or debits one category of one student.
//
// Credit adds the amount to the category and to currency, and fails with
// ErrPointsOverflow when the student's total would leave the int range. Debit removes
// min(amount, balance) from the category and at most that much from
// currency, clamping both at zero. A debit with nothing to remove changes
// nothing and writes no log entry.
func (l *Ledger) ApplyAdjustment(adj Adjustment) (AdjustmentResult, error) {
	if err := adj.Validate(); err != nil {
		return AdjustmentResult{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.applyLocked(adj)
}

func (l *Ledger) applyLocked(adj Adjustment) (AdjustmentResult, error) {
	s, ok := l.students[adj.StudentID]
	if !ok {
		return AdjustmentResult{}, shared.ErrStudentNotFound
	}

	res := AdjustmentResult{Requested: adj.Amount}
	balance := s.Balances.Get(adj.Category)

	switch adj.Direction {
	case points.Credit:
		if !points.CanAdd(s.Balances.Total(), adj.Amount) || !points.CanAdd(s.Currency, adj.Amount) {
			return AdjustmentResult{}, shared.ErrPointsOverflow
		}
		res.Effective = adj.Amount
		res.CurrencyDelta = adj.Amount
	case points.Debit:
		res.Effective = min(adj.Amount, balance)
		res.CurrencyDelta = -min(res.Effective, s.Currency)
	}

	if res.Effective == 0 {
		res.Student = s.Clone()
		return res, nil
	}

	now := l.now()
	s.Balances = s.Balances.Set(adj.Category, balance+adj.Direction.Sign()*res.Effective)
	s.Currency += res.CurrencyDelta
	s.UpdatedAt = now

	entry := l.appendEntry(LogEntry{
		StudentID: s.ID,
		Category:  adj.Category,
		Delta:     adj.Direction.Sign() * res.Effective,
		Reason:    strings.TrimSpace(adj.Reason),
		ItemID:    adj.ItemID,
		Operator:  adj.Operator,
		CreatedAt: now,
	})
	res.Entry = &entry
	res.Student = s.Clone()
	return res, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// BATCH ADJUSTMENT
// ══════════════════════════════════════════════════════════════════════════════

// BatchItem is the outcome for one student of a batch.
type BatchItem struct {
	StudentID string
	Result    AdjustmentResult
	Err       error
}

// BatchResult collects per-student outcomes in request order.
type BatchResult struct {
	Items []BatchItem

	// Requested is the number of distinct student ids in the request.
	Requested int

	// Applied counts students whose balance actually moved.
	Applied int

	// Failed counts students that returned an error.
	Failed int
}

// ApplyBatchAdjustment applies the same adjustment to each student
// independently. Duplicate ids are applied once. A failing student does
// not stop the batch and earlier students are not rolled back.
//
// The returned error is non-nil only when the shared parameters are
// invalid, in which case no student is touched.
func (l *Ledger) ApplyBatchAdjustment(studentIDs []string, tmpl Adjustment) (BatchResult, error) {
	if err := tmpl.Validate(); err != nil {
		return BatchResult{}, err
	}

	seen := make(map[string]struct{}, len(studentIDs))
	ids := make([]string, 0, len(studentIDs))
	for _, id := range studentIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	result := BatchResult{Items: make([]BatchItem, 0, len(ids)), Requested: len(ids)}
	for _, id := range ids {
		adj := tmpl
		adj.StudentID = id

		l.mu.Lock()
		res, err := l.applyLocked(adj)
		l.mu.Unlock()

		item := BatchItem{StudentID: id, Result: res, Err: err}
		switch {
		case err != nil:
			result.Failed++
		case res.Applied():
			result.Applied++
		}
		result.Items = append(result.Items, item)
	}
	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CURRENCY
// ══════════════════════════════════════════════════════════════════════════════

// DebitCurrency spends exchange credit without touching category balances.
// It returns the amount actually removed. With requireFull a short balance
// fails with ErrCurrencyShort and nothing changes; otherwise the debit
// clamps at zero.
func (l *Ledger) DebitCurrency(studentID string, amount int, requireFull bool) (int, *student.Student, error) {
	if amount <= 0 {
		return 0, nil, shared.ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.students[studentID]
	if !ok {
		return 0, nil, shared.ErrStudentNotFound
	}
	if requireFull && s.Currency < amount {
		return 0, s.Clone(), shared.ErrCurrencyShort
	}

	taken := min(amount, s.Currency)
	if taken > 0 {
		s.Currency -= taken
		s.UpdatedAt = l.now()
	}
	return taken, s.Clone(), nil
}
