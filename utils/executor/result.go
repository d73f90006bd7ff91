package executor

import (
	"strings"

	"github.com/kris-hansen/sheetsmith/utils/plan"
	"github.com/kris-hansen/sheetsmith/utils/sheet"
)

// Outcome values. Skipped and invalid outcomes carry a reason suffix.
const (
	OutcomeApplied = "applied"
	OutcomeSkipped = "skipped"
	OutcomeInvalid = "invalid"
)

// Outcome records what happened to one plan step
type Outcome struct {
	Index       int       `json:"index" yaml:"index"`
	Kind        plan.Kind `json:"kind" yaml:"kind"`
	Target      string    `json:"target,omitempty" yaml:"target,omitempty"`
	Outcome     string    `json:"outcome" yaml:"outcome"`
	Detail      string    `json:"detail,omitempty" yaml:"detail,omitempty"`
	RowsRemoved int       `json:"rows_removed,omitempty" yaml:"rows_removed,omitempty"`
	Warnings    int       `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Warning is a per-cell problem. The cell is left empty.
type Warning struct {
	Row     int    `json:"row" yaml:"row"` // 1-based data row of the raw sheet
	Column  string `json:"column" yaml:"column"`
	Step    int    `json:"step" yaml:"step"`
	Message string `json:"message" yaml:"message"`
	Err     error  `json:"-" yaml:"-"`
}

// Result is the output of one execution. Rows follow the ideal column order.
type Result struct {
	Header      []string
	Types       []sheet.Type // column types used when writing the workbook
	Declared    []sheet.Type // column types of the ideal template
	Rows        [][]string
	Outcomes    []Outcome
	Warnings    []Warning
	RowsIn      int
	RowsRemoved int
}

// Counts tallies outcomes as applied, skipped and invalid
func (r *Result) Counts() (applied, skipped, invalid int) {
	for _, o := range r.Outcomes {
		switch {
		case o.Outcome == OutcomeApplied:
			applied++
		case strings.HasPrefix(o.Outcome, OutcomeSkipped):
			skipped++
		case strings.HasPrefix(o.Outcome, OutcomeInvalid):
			invalid++
		}
	}
	return applied, skipped, invalid
}

// FilledColumns lists, in order, the columns with at least one non-empty cell
func (r *Result) FilledColumns() []string {
	var out []string
	for i, h := range r.Header {
		if r.columnFilled(i) {
			out = append(out, h)
		}
	}
	return out
}

// EmptyColumns lists, in order, the columns with no value at all
func (r *Result) EmptyColumns() []string {
	var out []string
	for i, h := range r.Header {
		if !r.columnFilled(i) {
			out = append(out, h)
		}
	}
	return out
}

// FillRate is the fraction of required columns holding at least one value.
// An empty required list means every column. Names that are not output
// columns count as empty.
func (r *Result) FillRate(required []string) float64 {
	cols := required
	if len(cols) == 0 {
		cols = r.Header
	}
	if len(cols) == 0 {
		return 0
	}
	index := make(map[string]int, len(r.Header))
	for i, h := range r.Header {
		index[h] = i
	}
	filled := 0
	for _, c := range cols {
		if i, ok := index[c]; ok && r.columnFilled(i) {
			filled++
		}
	}
	return float64(filled) / float64(len(cols))
}

// TypeConformance is the fraction of non-empty cells in numeric and date
// template columns whose value fits the column type. It is 1 when no such
// cells exist.
func (r *Result) TypeConformance() float64 {
	total, ok := 0, 0
	for c, t := range r.Declared {
		if t != sheet.TypeNumeric && t != sheet.TypeDate {
			continue
		}
		for _, row := range r.Rows {
			if sheet.IsEmpty(row[c]) {
				continue
			}
			total++
			if sheet.Conforms(row[c], t) {
				ok++
			}
		}
	}
	if total == 0 {
		return 1
	}
	return float64(ok) / float64(total)
}

func (r *Result) columnFilled(i int) bool {
	for _, row := range r.Rows {
		if !sheet.IsEmpty(row[i]) {
			return true
		}
	}
	return false
}
