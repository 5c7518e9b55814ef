package report

import (
	"sort"

	"github.com/classpoints/classpoints-hub/internal/domain/ledger"
	"github.com/classpoints/classpoints-hub/internal/domain/points"
)

// UngroupedLabel is the partition label for students without a group.
const UngroupedLabel = "ungrouped"

// GroupLine is the rollup of one group partition.
type GroupLine struct {
	Label         string          `json:"label"`
	StudentCount  int             `json:"student_count"`
	TotalPoints   int             `json:"total_points"`
	AveragePoints float64         `json:"average_points"`
	ByCategory    points.Balances `json:"by_category"`
}

// SummarizeGroups partitions students by group label. Every student lands
// in exactly one partition. Partitions are ordered by total points
// descending, then label ascending.
func SummarizeGroups(v ledger.View) []GroupLine {
	index := make(map[string]int)
	out := make([]GroupLine, 0)

	for _, s := range v.Students {
		label := s.Group
		if label == "" {
			label = UngroupedLabel
		}
		i, ok := index[label]
		if !ok {
			i = len(out)
			index[label] = i
			out = append(out, GroupLine{Label: label})
		}
		g := &out[i]
		g.StudentCount++
		g.TotalPoints += s.Total()
		g.ByCategory = g.ByCategory.Add(s.Balances)
	}

	for i := range out {
		out[i].AveragePoints = float64(out[i].TotalPoints) / float64(out[i].StudentCount)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalPoints != out[j].TotalPoints {
			return out[i].TotalPoints > out[j].TotalPoints
		}
		return out[i].Label < out[j].Label
	})
	return out
}
