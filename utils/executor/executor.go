// Package executor applies validated plan steps to a raw sheet, producing
// rows in the ideal column order. Execution never fails: problems are
// reported as step outcomes and per-cell warnings.
package executor

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/kris-hansen/sheetsmith/utils/pipelineerr"
	"github.com/kris-hansen/sheetsmith/utils/plan"
	"github.com/kris-hansen/sheetsmith/utils/sheet"
)

// Execute runs the usable steps of v against raw. Row filters run first in
// plan order; then, per ideal column, the first step targeting it fills it.
// Later steps for the same column are skipped.
func Execute(v *plan.Validated, raw *sheet.Sheet, ideal sheet.Schema) *Result {
	x := &execution{
		raw:    raw,
		index:  raw.ColumnIndex(),
		ideal:  ideal,
		result: &Result{Header: ideal.Names(), Declared: ideal.Types(), RowsIn: len(raw.Rows)},
	}
	x.result.Types = make([]sheet.Type, len(x.result.Header))
	for c, t := range x.result.Declared {
		x.result.Types[c] = writtenType(t)
	}

	var columnSteps []plan.Checked
	if v != nil {
		for _, c := range v.Steps {
			if !c.Valid() {
				x.outcome(c, c.Spec.Kind, c.Spec.Target, OutcomeInvalid+":"+c.Reason, "")
				continue
			}
			if _, ok := c.Step.(plan.FilterRows); !ok {
				columnSteps = append(columnSteps, c)
			}
		}
	}

	kept := x.filter(v)
	x.result.Rows = make([][]string, len(kept))
	for i := range kept {
		x.result.Rows[i] = make([]string, len(x.result.Header))
	}

	claimed := make(map[string]int)
	for _, c := range columnSteps {
		target := c.Step.TargetColumn()
		if first, ok := claimed[target]; ok {
			x.outcome(c, c.Step.Kind(), target, OutcomeSkipped+":duplicate-target",
				fmt.Sprintf("column already filled by step %d", first))
			continue
		}
		claimed[target] = c.Index
		x.apply(c, kept)
	}

	sort.SliceStable(x.result.Outcomes, func(i, j int) bool {
		return x.result.Outcomes[i].Index < x.result.Outcomes[j].Index
	})
	return x.result
}

type execution struct {
	raw    *sheet.Sheet
	index  map[string]int
	ideal  sheet.Schema
	result *Result
}

func (x *execution) outcome(c plan.Checked, kind plan.Kind, target, status, detail string) *Outcome {
	x.result.Outcomes = append(x.result.Outcomes, Outcome{
		Index:   c.Index,
		Kind:    kind,
		Target:  target,
		Outcome: status,
		Detail:  detail,
	})
	return &x.result.Outcomes[len(x.result.Outcomes)-1]
}

func (x *execution) warn(step int, row int, column string, err error) {
	err = pipelineerr.Wrap(pipelineerr.ErrCell, fmt.Sprintf("row %d, %s", row, column), err)
	x.result.Warnings = append(x.result.Warnings, Warning{
		Row:     row,
		Column:  column,
		Step:    step,
		Message: err.Error(),
		Err:     err,
	})
}

func (x *execution) cell(row []string, column string) string {
	if i, ok := x.index[column]; ok {
		return row[i]
	}
	return ""
}

// filter returns the raw row numbers (0-based) that survive every row filter
func (x *execution) filter(v *plan.Validated) []int {
	kept := make([]int, len(x.raw.Rows))
	for i := range kept {
		kept[i] = i
	}
	for _, c := range v.Usable() {
		f, ok := c.Step.(plan.FilterRows)
		if !ok {
			continue
		}
		before := len(x.result.Warnings)
		next := kept[:0:0]
		for _, r := range kept {
			row := x.raw.Rows[r]
			keep, err := f.Expr.Test(func(col string) string { return x.cell(row, col) })
			if err != nil {
				// rows are only dropped on a definite false
				if !errors.Is(err, plan.ErrEmptyOperand) {
					x.warn(c.Index, r+1, "", err)
				}
				keep = true
			}
			if keep {
				next = append(next, r)
			}
		}
		removed := len(kept) - len(next)
		kept = next
		x.result.RowsRemoved += removed

		o := x.outcome(c, plan.KindFilterRows, "", OutcomeApplied,
			fmt.Sprintf("%s; removed %d of %d rows", plan.Describe(f), removed, removed+len(kept)))
		o.RowsRemoved = removed
		o.Warnings = len(x.result.Warnings) - before
	}
	return kept
}

func (x *execution) apply(c plan.Checked, kept []int) {
	col := x.ideal.Index(c.Step.TargetColumn())
	target := x.ideal.Columns[col]
	before := len(x.result.Warnings)

	fill := x.cellFunc(c.Step, target)
	for out, r := range kept {
		v, err := fill(x.raw.Rows[r])
		if err != nil {
			x.warn(c.Index, r+1, target.Name, err)
			v = ""
		}
		x.result.Rows[out][col] = v
	}

	x.result.Types[col] = producedType(c.Step, target)

	o := x.outcome(c, c.Step.Kind(), target.Name, OutcomeApplied, plan.Describe(c.Step))
	o.Warnings = len(x.result.Warnings) - before
}

// cellFunc returns the per-row computation for a column step. A nil error
// with an empty string leaves the cell empty without a warning.
func (x *execution) cellFunc(step plan.Step, target sheet.Column) func(row []string) (string, error) {
	switch s := step.(type) {
	case plan.MapColumn:
		return func(row []string) (string, error) {
			v := x.cell(row, s.Source)
			if sheet.IsEmpty(v) {
				return "", nil
			}
			if s.Round {
				f, err := sheet.ParseNumber(v)
				if err != nil {
					return "", err
				}
				return sheet.FormatNumber(sheet.Round(f, s.Decimals)), nil
			}
			return sheet.Coerce(v, target.Type)
		}

	case plan.ApplyFormula:
		return func(row []string) (string, error) {
			v, err := s.Expr.Eval(func(col string) string { return x.cell(row, col) })
			if errors.Is(err, plan.ErrEmptyOperand) {
				return "", nil
			}
			if err != nil {
				return "", err
			}
			return sheet.Coerce(v, target.Type)
		}

	case plan.ConstantFill:
		return func([]string) (string, error) { return s.Value, nil }

	case plan.UnitConvert:
		return func(row []string) (string, error) {
			v := x.cell(row, s.Source)
			if sheet.IsEmpty(v) {
				return "", nil
			}
			f, err := sheet.ParseNumber(v)
			if err != nil {
				return "", err
			}
			out := f*s.Factor + s.Offset
			if !sheet.Finite(out) {
				return "", fmt.Errorf("%w: %s converts to a non-finite number", plan.ErrEvaluation, v)
			}
			return sheet.FormatNumber(out), nil
		}

	case plan.Lookup:
		folded := make(map[string]string, len(s.Table))
		for _, k := range plan.SortedKeys(s.Table) {
			fk := foldKey(k)
			if _, dup := folded[fk]; !dup {
				folded[fk] = s.Table[k]
			}
		}
		return func(row []string) (string, error) {
			key := x.cell(row, s.Key)
			if sheet.IsEmpty(key) {
				return "", nil
			}
			if v, ok := s.Table[key]; ok {
				return v, nil
			}
			if v, ok := folded[foldKey(key)]; ok {
				return v, nil
			}
			return "", fmt.Errorf("no mapping for key %q", key)
		}

	case plan.Concat:
		return func(row []string) (string, error) {
			parts := make([]string, 0, len(s.Sources))
			for _, src := range s.Sources {
				if p := strings.TrimSpace(x.cell(row, src)); p != "" {
					parts = append(parts, p)
				}
			}
			return strings.Join(parts, s.Separator), nil
		}

	case plan.DatePart:
		return func(row []string) (string, error) {
			v := x.cell(row, s.Source)
			if sheet.IsEmpty(v) {
				return "", nil
			}
			d, err := sheet.ParseDate(v)
			if err != nil {
				return "", err
			}
			switch s.Part {
			case plan.PartCalendarYear:
				return strconv.Itoa(d.Year()), nil
			case plan.PartFiscalYear:
				fy := d.Year()
				if d.Month() >= 7 {
					fy++
				}
				return strconv.Itoa(fy), nil
			default:
				return d.Format(sheet.ISODate), nil
			}
		}
	}

	return func([]string) (string, error) {
		return "", fmt.Errorf("unsupported step %T", step)
	}
}

func foldKey(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}

// writtenType is how a template column is written when no step fills it or
// the step keeps the declared type. Undeclared columns are text.
func writtenType(t sheet.Type) sheet.Type {
	if t == sheet.TypeUnknown || t == "" {
		return sheet.TypeText
	}
	return t
}

// producedType is the type a step's values are written as. Declared template
// types win since values were coerced to them. Otherwise only steps that
// compute numbers or dates produce them; copied values stay text so that
// codes such as "00123" keep their leading zeros.
func producedType(step plan.Step, target sheet.Column) sheet.Type {
	if target.Type != sheet.TypeUnknown && target.Type != "" {
		return target.Type
	}
	switch s := step.(type) {
	case plan.UnitConvert:
		return sheet.TypeNumeric
	case plan.MapColumn:
		if s.Round {
			return sheet.TypeNumeric
		}
	case plan.ApplyFormula:
		if s.Expr.Numeric() {
			return sheet.TypeNumeric
		}
	case plan.DatePart:
		if s.Part == plan.PartDate {
			return sheet.TypeDate
		}
		return sheet.TypeNumeric
	}
	return sheet.TypeText
}
