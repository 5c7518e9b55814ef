// Package report derives read-only views from a ledger.View: category
// totals, group rollups, daily trends, rankings and roster exports.
//
// Every function here is pure. Nothing is cached; callers recompute from
// a fresh view whenever they need current numbers.
package report

import (
	"github.com/classpoints/classpoints-hub/internal/domain/ledger"
	"github.com/classpoints/classpoints-hub/internal/domain/points"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATEGORY SUMMARY
// ══════════════════════════════════════════════════════════════════════════════

// CategoryLine is the rollup of one category.
type CategoryLine struct {
	Category points.Category `json:"category"`

	// Balance is the sum of current balances over all students.
	Balance int `json:"balance"`

	// Added sums positive log deltas; Subtracted sums |negative deltas|.
	Added      int `json:"added"`
	Subtracted int `json:"subtracted"`
}

// CategorySummary is the class-wide category rollup.
type CategorySummary struct {
	Categories []CategoryLine `json:"categories"`
	Total      int            `json:"total"`
	Added      int            `json:"added"`
	Subtracted int            `json:"subtracted"`
}

// Line returns the line of c.
func (s CategorySummary) Line(c points.Category) CategoryLine {
	for _, l := range s.Categories {
		if l.Category == c {
			return l
		}
	}
	return CategoryLine{Category: c}
}

// SummarizeCategories computes per-category balances and log activity.
// Total always equals the sum of every student's four balances.
func SummarizeCategories(v ledger.View) CategorySummary {
	var balances points.Balances
	for _, s := range v.Students {
		balances = balances.Add(s.Balances)
	}

	var added, subtracted points.Balances
	for _, e := range v.Entries {
		i := e.Category.Index()
		if i < 0 {
			continue
		}
		if e.Direction() == points.Credit {
			added[i] += e.Magnitude()
		} else {
			subtracted[i] += e.Magnitude()
		}
	}

	out := CategorySummary{Categories: make([]CategoryLine, 0, points.NumCategories)}
	for i, c := range points.Categories() {
		out.Categories = append(out.Categories, CategoryLine{
			Category:   c,
			Balance:    balances[i],
			Added:      added[i],
			Subtracted: subtracted[i],
		})
	}
	out.Total = balances.Total()
	out.Added = added.Total()
	out.Subtracted = subtracted.Total()
	return out
}
