package report

import (
	"sort"

	"github.com/classpoints/classpoints-hub/internal/domain/ledger"
	"github.com/classpoints/classpoints-hub/internal/domain/points"
	"github.com/classpoints/classpoints-hub/internal/domain/student"
)

// PodiumSize is the number of positions tagged for presentation.
const PodiumSize = 3

// RankingEntry is one student in the ranking.
type RankingEntry struct {
	// Position is the strict 1-based place after tie-breaking.
	Position int `json:"position"`

	// Rank is shared among equal totals (1, 2, 2, 4).
	Rank int `json:"rank"`

	StudentID string          `json:"student_id"`
	Number    student.Number  `json:"number"`
	Name      string          `json:"name"`
	Group     string          `json:"group,omitempty"`
	Total     int             `json:"total"`
	Balances  points.Balances `json:"balances"`
	Podium    bool            `json:"podium"`
}

// Rank orders students by total points descending, then student number
// ascending, so equal totals always resolve the same way.
func Rank(v ledger.View) []RankingEntry {
	out := make([]RankingEntry, 0, len(v.Students))
	for _, s := range v.Students {
		out = append(out, RankingEntry{
			StudentID: s.ID,
			Number:    s.Number,
			Name:      s.Name,
			Group:     s.Group,
			Total:     s.Total(),
			Balances:  s.Balances,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Number < out[j].Number
	})

	for i := range out {
		out[i].Position = i + 1
		if i > 0 && out[i].Total == out[i-1].Total {
			out[i].Rank = out[i-1].Rank
		} else {
			out[i].Rank = i + 1
		}
		out[i].Podium = out[i].Position <= PodiumSize
	}
	return out
}
