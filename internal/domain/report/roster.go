package report

import (
	"sort"
	"strconv"

	"github.com/classpoints/classpoints-hub/internal/domain/ledger"
	"github.com/classpoints/classpoints-hub/internal/domain/points"
)

// RosterHeader names the export columns. The importer accepts the same order.
var RosterHeader = []string{"number", "name", "group", "discipline", "hygiene", "academic", "other", "total"}

// RosterRow is one exported student.
type RosterRow struct {
	Number   int
	Name     string
	Group    string
	Balances points.Balances
	Total    int
}

// Record renders the row in RosterHeader order.
func (r RosterRow) Record() []string {
	rec := make([]string, 0, len(RosterHeader))
	rec = append(rec, strconv.Itoa(r.Number), r.Name, r.Group)
	for _, v := range r.Balances {
		rec = append(rec, strconv.Itoa(v))
	}
	return append(rec, strconv.Itoa(r.Total))
}

// ExportRoster lists every student ordered by student number.
func ExportRoster(v ledger.View) []RosterRow {
	out := make([]RosterRow, 0, len(v.Students))
	for _, s := range v.Students {
		out = append(out, RosterRow{
			Number:   int(s.Number),
			Name:     s.Name,
			Group:    s.Group,
			Balances: s.Balances,
			Total:    s.Total(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}
