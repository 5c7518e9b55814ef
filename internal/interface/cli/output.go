package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/classpoints/classpoints-hub/internal/domain/points"
	"github.com/classpoints/classpoints-hub/internal/domain/shared"
	"github.com/classpoints/classpoints-hub/internal/domain/student"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func row(w io.Writer, cells ...any) {
	parts := make([]string, len(cells))
	for i, c := range cells {
		parts[i] = fmt.Sprint(c)
	}
	fmt.Fprintln(w, strings.Join(parts, "\t"))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// categoryHeader returns the four category names in canonical order.
func categoryHeader() []any {
	cats := points.Categories()
	out := make([]any, len(cats))
	for i, c := range cats {
		out[i] = strings.ToUpper(c.String())
	}
	return out
}

func balanceCells(b points.Balances) []any {
	out := make([]any, points.NumCategories)
	for i, v := range b {
		out[i] = v
	}
	return out
}

func signed(n int) string {
	if n > 0 {
		return "+" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func parseNumber(s string) (student.Number, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0, shared.WrapError("cli", "parseNumber", shared.ErrInvalidArgument,
			fmt.Sprintf("%q is not a student number", s), shared.ErrInvalidStudentNumber)
	}
	return student.Number(n), nil
}

// studentView is the JSON shape of a student.
type studentView struct {
	ID       string         `json:"id"`
	Number   int            `json:"number"`
	Name     string         `json:"name"`
	Group    string         `json:"group,omitempty"`
	Balances map[string]int `json:"balances"`
	Total    int            `json:"total"`
	Currency int            `json:"currency"`
}

func viewStudent(st student.Student) studentView {
	balances := make(map[string]int, points.NumCategories)
	for c, v := range st.Balances.Map() {
		balances[c.String()] = v
	}
	return studentView{
		ID:       st.ID,
		Number:   int(st.Number),
		Name:     st.Name,
		Group:    st.Group,
		Balances: balances,
		Total:    st.Total(),
		Currency: st.Currency,
	}
}

func printStudents(w io.Writer, students []student.Student) error {
	tw := newTable(w)
	header := append([]any{"NO", "NAME", "GROUP"}, categoryHeader()...)
	row(tw, append(header, "TOTAL", "CURRENCY")...)
	for _, st := range students {
		cells := append([]any{st.Number, st.Name, dash(st.Group)}, balanceCells(st.Balances)...)
		row(tw, append(cells, st.Total(), st.Currency)...)
	}
	return tw.Flush()
}
