// Package rowsource reads roster files into importer rows and writes
// exported rosters back out in the same layout.
//
// A roster is CSV with an optional header. With a header, columns are
// matched by name and may appear in any order; without one, the columns
// follow report.RosterHeader. Comma, semicolon and tab delimiters are
// detected from the first line, and a UTF-8 byte order mark is dropped.
package rowsource

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/classpoints/classpoints-hub/internal/domain/importer"
	"github.com/classpoints/classpoints-hub/internal/domain/points"
	"github.com/classpoints/classpoints-hub/internal/domain/report"
	"github.com/classpoints/classpoints-hub/internal/domain/shared"
)

var (
	// ErrEmptyInput is returned when the file has no records at all.
	ErrEmptyInput = errors.New("rowsource: input is empty")

	// ErrMissingColumn is returned when a header lacks a required column.
	ErrMissingColumn = errors.New("rowsource: required column missing")
)

// Options tunes ReadCSV.
type Options struct {
	// Comma overrides delimiter detection when non-zero.
	Comma rune
}

// column aliases, compared after lowercasing and dropping spaces,
// underscores and dashes.
var aliases = map[string]string{
	"number":        "number",
	"no":            "number",
	"studentnumber": "number",
	"studentno":     "number",
	"name":          "name",
	"studentname":   "name",
	"group":         "group",
	"team":          "group",
	"discipline":    string(points.Discipline),
	"hygiene":       string(points.Hygiene),
	"academic":      string(points.Academic),
	"other":         string(points.Other),
	"total":         "total",
	"points":        "total",
}

type layout struct {
	number, name, group, total int
	categories                 [points.NumCategories]int
}

func positional() layout {
	l := layout{number: 0, name: 1, group: 2, total: 7}
	for i := range l.categories {
		l.categories[i] = 3 + i
	}
	return l
}

func fromHeader(header []string) (layout, error) {
	l := layout{number: -1, name: -1, group: -1, total: -1}
	for i := range l.categories {
		l.categories[i] = -1
	}
	for i, h := range header {
		key := strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.ToLower(strings.TrimSpace(h)))
		switch col := aliases[key]; col {
		case "number":
			l.number = i
		case "name":
			l.name = i
		case "group":
			l.group = i
		case "total":
			l.total = i
		case "":
		default:
			if idx := points.Category(col).Index(); idx >= 0 {
				l.categories[idx] = i
			}
		}
	}
	if l.number < 0 {
		return l, fmt.Errorf("%w: number", ErrMissingColumn)
	}
	if l.name < 0 {
		return l, fmt.Errorf("%w: name", ErrMissingColumn)
	}
	return l, nil
}

// isHeader reports whether the first record names columns rather than
// carrying a student number.
func isHeader(rec []string) bool {
	if len(rec) == 0 {
		return false
	}
	_, err := strconv.Atoi(strings.TrimSpace(rec[0]))
	return err != nil
}

// ReadCSV parses a roster. Cells that do not parse produce a row with Err
// set so the importer can count it as failed; only an unreadable file
// fails the whole read.
func ReadCSV(r io.Reader, opts Options) ([]importer.Row, error) {
	data, err := io.ReadAll(transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())))
	if err != nil {
		return nil, fmt.Errorf("rowsource: read: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyInput
	}

	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comma = opts.Comma
	if cr.Comma == 0 {
		cr.Comma = detectComma(data)
	}

	type record struct {
		fields []string
		line   int
	}
	var records []record
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("rowsource: parse: %w", err)
		}
		line, _ := cr.FieldPos(0)
		records = append(records, record{fields: rec, line: line})
	}
	if len(records) == 0 {
		return nil, ErrEmptyInput
	}

	cols := positional()
	if isHeader(records[0].fields) {
		if cols, err = fromHeader(records[0].fields); err != nil {
			return nil, err
		}
		records = records[1:]
	}

	rows := make([]importer.Row, 0, len(records))
	for _, rec := range records {
		rows = append(rows, parseRecord(rec.fields, cols, rec.line))
	}
	return rows, nil
}

func parseRecord(rec []string, cols layout, line int) importer.Row {
	row := importer.Row{Line: line}
	cell := func(i int) string {
		if i < 0 || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	fail := func(column, value string) importer.Row {
		row.Err = shared.NewDomainError("rowsource", "ReadCSV", shared.ErrInvalidArgument,
			fmt.Sprintf("line %d: %s %q is not a whole number", line, column, value))
		return row
	}

	number, err := strconv.Atoi(cell(cols.number))
	if err != nil {
		return fail("number", cell(cols.number))
	}
	row.Number = number
	row.Name = cell(cols.name)
	row.Group = cell(cols.group)

	for i, c := range points.Categories() {
		v, ok := optionalInt(cell(cols.categories[i]))
		if !ok {
			return fail(string(c), cell(cols.categories[i]))
		}
		row.Balances[i] = v
	}
	total, ok := optionalInt(cell(cols.total))
	if !ok {
		return fail("total", cell(cols.total))
	}
	row.Total = total
	return row
}

func optionalInt(s string) (int, bool) {
	if s == "" {
		return 0, true
	}
	v, err := strconv.Atoi(s)
	return v, err == nil
}

func detectComma(data []byte) rune {
	firstLine := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		firstLine = data[:i]
	}
	best, bestCount := ',', 0
	for _, c := range []rune{',', ';', '\t'} {
		if n := bytes.Count(firstLine, []byte(string(c))); n > bestCount {
			best, bestCount = c, n
		}
	}
	return best
}

// WriteCSV writes a header and one record per roster row, in the layout
// ReadCSV reads back.
func WriteCSV(w io.Writer, rows []report.RosterRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(report.RosterHeader); err != nil {
		return fmt.Errorf("rowsource: write header: %w", err)
	}
	for _, r := range rows {
		if err := cw.Write(r.Record()); err != nil {
			return fmt.Errorf("rowsource: write row %d: %w", r.Number, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
