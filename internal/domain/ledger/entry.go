package ledger

import (
	"sort"
	"time"

	"github.com/classpoints/classpoints-hub/internal/domain/points"
)

// LogEntry is one immutable record of an applied point change.
// Delta is the effective change, negative for debits.
type LogEntry struct {
	ID        string          `json:"id"`
	StudentID string          `json:"student_id"`
	Category  points.Category `json:"category"`
	Delta     int             `json:"delta"`
	Reason    string          `json:"reason,omitempty"`
	ItemID    string          `json:"item_id,omitempty"`
	Operator  string          `json:"operator"`
	CreatedAt time.Time       `json:"created_at"`

	// Seq orders entries that share a timestamp. Assigned by the ledger.
	Seq int64 `json:"seq"`
}

// Direction derives the adjustment direction from the sign of Delta.
func (e LogEntry) Direction() points.Direction {
	if e.Delta < 0 {
		return points.Debit
	}
	return points.Credit
}

// Magnitude returns |Delta|.
func (e LogEntry) Magnitude() int {
	if e.Delta < 0 {
		return -e.Delta
	}
	return e.Delta
}

// SortNewestFirst orders entries by CreatedAt descending, then Seq descending.
func SortNewestFirst(entries []LogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return entries[i].Seq > entries[j].Seq
	})
}
