package plan

import (
	"fmt"
	"strings"

	"github.com/kris-hansen/sheetsmith/utils/pipelineerr"
	"github.com/kris-hansen/sheetsmith/utils/sheet"
)

// Validate checks every step against the ideal and raw schemas. Steps that
// fail are kept with a reason and never run; the rest of the plan stays
// usable. tables may be nil when no catalogue is available.
func Validate(p *Plan, ideal, raw sheet.Schema, tables TableResolver) *Validated {
	v := &Validated{Status: StatusValid}
	if p == nil {
		v.Status = StatusNoUsableSteps
		return v
	}

	for i, spec := range p.Steps {
		step, reason := check(spec, ideal, raw, tables)
		v.Steps = append(v.Steps, Checked{Index: i, Spec: spec, Step: step, Reason: reason})
	}

	valid, invalid := v.Counts()
	switch {
	case valid == 0:
		v.Status = StatusNoUsableSteps
	case invalid > 0:
		v.Status = StatusPartial
	}
	return v
}

// ParseAndValidate runs Parse then Validate. The error is ErrMalformedPlan
// when nothing could be parsed and ErrNoUsableSteps when every step was
// rejected; in the latter case the Validated result is still returned so the
// rejections can be logged.
func ParseAndValidate(text string, ideal, raw sheet.Schema, tables TableResolver) (*Plan, *Validated, error) {
	p, err := Parse(text)
	if err != nil {
		return nil, &Validated{Status: StatusMalformed}, err
	}
	v := Validate(p, ideal, raw, tables)
	if v.Status == StatusNoUsableSteps {
		return p, v, pipelineerr.New(pipelineerr.ErrNoUsableSteps, "validate plan", "%d proposed steps, none usable", len(p.Steps))
	}
	return p, v, nil
}

func check(s StepSpec, ideal, raw sheet.Schema, tables TableResolver) (Step, string) {
	if s.malformed != "" {
		return nil, "malformed-step"
	}
	if s.Kind == "" {
		return nil, "missing-kind"
	}

	if s.Kind != KindFilterRows {
		if strings.TrimSpace(s.Target) == "" {
			return nil, "missing-target"
		}
		if !ideal.Has(s.Target) {
			return nil, "unknown-target:" + s.Target
		}
	}

	switch s.Kind {
	case KindMapColumn:
		if reason := needSource(s.Source, raw); reason != "" {
			return nil, reason
		}
		step := MapColumn{Source: s.Source, Target: s.Target}
		if s.Decimals != nil {
			if *s.Decimals < 0 {
				return nil, "negative-decimals"
			}
			step.Decimals, step.Round = *s.Decimals, true
		}
		return step, ""

	case KindApplyFormula:
		expr, reason := compileFor(s.Expression, raw)
		if reason != "" {
			return nil, reason
		}
		return ApplyFormula{Target: s.Target, Expr: expr}, ""

	case KindFilterRows:
		expr, reason := compileFor(s.Expression, raw)
		if reason != "" {
			return nil, reason
		}
		return FilterRows{Expr: expr}, ""

	case KindConstantFill:
		if s.Value == nil {
			return nil, "missing-value"
		}
		return ConstantFill{Target: s.Target, Value: string(*s.Value)}, ""

	case KindUnitConvert:
		source := s.Source
		if source == "" {
			source = s.Target
		}
		if reason := needSource(source, raw); reason != "" {
			return nil, reason
		}
		if s.Factor == nil {
			return nil, "missing-factor"
		}
		if *s.Factor == 0 {
			return nil, "zero-factor"
		}
		return UnitConvert{Target: s.Target, Source: source, Factor: *s.Factor, Offset: s.Offset, Unit: s.Unit}, ""

	case KindLookup:
		key := s.Key
		if key == "" {
			key = s.Source
		}
		if reason := needSource(key, raw); reason != "" {
			return nil, reason
		}
		if s.Table == nil {
			return nil, "missing-table"
		}
		step := Lookup{Target: s.Target, Key: key, Table: s.Table.Entries}
		if s.Table.Entries == nil {
			table, ok := resolve(tables, s.Table.Name)
			if !ok {
				return nil, "unknown-table:" + s.Table.Name
			}
			step.TableName, step.Table = s.Table.Name, table
		}
		if len(step.Table) == 0 {
			return nil, "empty-table"
		}
		return step, ""

	case KindConcat:
		sources := s.Sources
		if len(sources) == 0 && s.Source != "" {
			sources = []string{s.Source}
		}
		if len(sources) == 0 {
			return nil, "missing-source"
		}
		for _, src := range sources {
			if reason := needSource(src, raw); reason != "" {
				return nil, reason
			}
		}
		sep := " "
		if s.Separator != nil {
			sep = *s.Separator
		}
		return Concat{Target: s.Target, Sources: sources, Separator: sep}, ""

	case KindDatePart:
		if reason := needSource(s.Source, raw); reason != "" {
			return nil, reason
		}
		part := DatePartKind(strings.ToLower(strings.TrimSpace(s.Part)))
		if part == "" {
			part = PartDate
		}
		switch part {
		case PartDate, PartCalendarYear, PartFiscalYear:
		default:
			return nil, "bad-part:" + s.Part
		}
		return DatePart{Target: s.Target, Source: s.Source, Part: part}, ""
	}

	name := s.Op
	if name == "" {
		name = string(s.Kind)
	}
	return nil, "unknown-kind:" + name
}

func needSource(name string, raw sheet.Schema) string {
	if strings.TrimSpace(name) == "" {
		return "missing-source"
	}
	if !raw.Has(name) {
		return "unknown-source:" + name
	}
	return ""
}

func compileFor(src string, raw sheet.Schema) (*Expr, string) {
	if strings.TrimSpace(src) == "" {
		return nil, "missing-expression"
	}
	expr, err := Compile(src)
	if err != nil {
		return nil, "bad-expression"
	}
	for _, c := range expr.Columns() {
		if !raw.Has(c) {
			return nil, "unknown-column-in-expression:" + c
		}
	}
	return expr, ""
}

func resolve(tables TableResolver, name string) (map[string]string, bool) {
	if tables == nil || name == "" {
		return nil, false
	}
	return tables.Table(name)
}

// Describe renders a one-line summary of a step for logs
func Describe(s Step) string {
	switch st := s.(type) {
	case MapColumn:
		if st.Round {
			return fmt.Sprintf("%s -> %s (%d decimals)", st.Source, st.Target, st.Decimals)
		}
		return fmt.Sprintf("%s -> %s", st.Source, st.Target)
	case ApplyFormula:
		return fmt.Sprintf("%s = %s", st.Target, st.Expr)
	case ConstantFill:
		return fmt.Sprintf("%s = %q", st.Target, st.Value)
	case UnitConvert:
		d := fmt.Sprintf("%s -> %s (x%s", st.Source, st.Target, sheet.FormatNumber(st.Factor))
		if st.Offset != 0 {
			d += fmt.Sprintf(" %+g", st.Offset)
		}
		if st.Unit != "" {
			d += ", " + st.Unit
		}
		return d + ")"
	case Lookup:
		table := st.TableName
		if table == "" {
			table = fmt.Sprintf("inline, %d entries", len(st.Table))
		}
		return fmt.Sprintf("%s -> %s via %s", st.Key, st.Target, table)
	case Concat:
		return fmt.Sprintf("%s -> %s joined by %q", strings.Join(st.Sources, " + "), st.Target, st.Separator)
	case DatePart:
		return fmt.Sprintf("%s -> %s (%s)", st.Source, st.Target, st.Part)
	case FilterRows:
		return fmt.Sprintf("keep rows where %s", st.Expr)
	default:
		return ""
	}
}
