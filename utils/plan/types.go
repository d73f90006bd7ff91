// Package plan parses and validates the transformation plans drafted by the
// language model. A parsed Plan is the wire form; Validate turns it into typed
// steps that the executor can run.
package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Kind names a step operation
type Kind string

const (
	KindMapColumn    Kind = "map_column"
	KindApplyFormula Kind = "apply_formula"
	KindConstantFill Kind = "constant_fill"
	KindUnitConvert  Kind = "unit_convert"
	KindLookup       Kind = "lookup"
	KindConcat       Kind = "concat"
	KindDatePart     Kind = "date_part"
	KindFilterRows   Kind = "filter_rows"
)

// Status summarises what became of the proposed plan
type Status string

const (
	StatusValid         Status = "valid"
	StatusPartial       Status = "partial"
	StatusMalformed     Status = "malformed"
	StatusNoUsableSteps Status = "no-usable-steps"
	StatusUnavailable   Status = "unavailable"
)

// Plan is an ordered list of steps as proposed. It is never edited after
// parsing.
type Plan struct {
	Steps []StepSpec `json:"steps"`
	Notes []string   `json:"notes,omitempty"`
}

// StepSpec is the wire form of one step. Only the fields relevant to Kind are
// set.
type StepSpec struct {
	Kind       Kind     `json:"kind"`
	Op         string   `json:"op,omitempty"` // legacy op name the kind was derived from
	Target     string   `json:"target,omitempty"`
	Source     string   `json:"source,omitempty"`
	Sources    []string `json:"sources,omitempty"`
	Separator  *string  `json:"separator,omitempty"`
	Decimals   *int     `json:"decimals,omitempty"`
	Expression string   `json:"expression,omitempty"`
	Value      *Scalar  `json:"value,omitempty"`
	Factor     *float64 `json:"factor,omitempty"`
	Offset     float64  `json:"offset,omitempty"`
	Unit       string   `json:"unit,omitempty"`
	Key        string   `json:"key,omitempty"`
	Table      *Table   `json:"table,omitempty"`
	Part       string   `json:"part,omitempty"`

	// malformed is set when the step object itself could not be decoded
	malformed string
}

// Scalar is a JSON string, number or boolean held as its text form.
type Scalar string

func (s *Scalar) UnmarshalJSON(data []byte) error {
	v, err := scalarText(data)
	if err != nil {
		return err
	}
	*s = Scalar(v)
	return nil
}

func scalarText(data []byte) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return "", fmt.Errorf("empty value")
	}
	switch data[0] {
	case '"':
		var str string
		err := json.Unmarshal(data, &str)
		return str, err
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	case 'n':
		return "", nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return "", fmt.Errorf("value must be a string, number or boolean")
		}
		return n.String(), nil
	}
}

// Table is a lookup table reference: either the name of a catalogue table or
// inline key/value entries.
type Table struct {
	Name    string
	Entries map[string]string
}

func (t *Table) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &t.Name)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("table must be a name or an object: %w", err)
	}
	t.Entries = make(map[string]string, len(raw))
	for k, v := range raw {
		s, err := scalarText(v)
		if err != nil {
			return fmt.Errorf("table entry %q: %w", k, err)
		}
		t.Entries[k] = s
	}
	return nil
}

func (t Table) MarshalJSON() ([]byte, error) {
	if t.Entries == nil {
		return json.Marshal(t.Name)
	}
	return json.Marshal(t.Entries)
}

// TableResolver supplies named lookup tables
type TableResolver interface {
	Table(name string) (map[string]string, bool)
}

// Step is a validated, typed plan step. Executors dispatch on the concrete
// type.
type Step interface {
	Kind() Kind
	// TargetColumn is the ideal column the step writes, "" for row filters.
	TargetColumn() string
}

type MapColumn struct {
	Source   string
	Target   string
	Decimals int
	Round    bool
}

type ApplyFormula struct {
	Target string
	Expr   *Expr
}

type ConstantFill struct {
	Target string
	Value  string
}

type UnitConvert struct {
	Target string
	Source string
	Factor float64
	Offset float64
	Unit   string
}

type Lookup struct {
	Target    string
	Key       string
	TableName string // empty for inline tables
	Table     map[string]string
}

type Concat struct {
	Target    string
	Sources   []string
	Separator string
}

// DatePartKind selects what DatePart extracts
type DatePartKind string

const (
	PartDate         DatePartKind = "date"
	PartCalendarYear DatePartKind = "calendar_year"
	PartFiscalYear   DatePartKind = "fiscal_year" // July to June, named by the year it ends
)

type DatePart struct {
	Target string
	Source string
	Part   DatePartKind
}

// FilterRows keeps the rows for which Expr is true.
type FilterRows struct {
	Expr *Expr
}

func (MapColumn) Kind() Kind    { return KindMapColumn }
func (ApplyFormula) Kind() Kind { return KindApplyFormula }
func (ConstantFill) Kind() Kind { return KindConstantFill }
func (UnitConvert) Kind() Kind  { return KindUnitConvert }
func (Lookup) Kind() Kind       { return KindLookup }
func (Concat) Kind() Kind       { return KindConcat }
func (DatePart) Kind() Kind     { return KindDatePart }
func (FilterRows) Kind() Kind   { return KindFilterRows }

func (s MapColumn) TargetColumn() string    { return s.Target }
func (s ApplyFormula) TargetColumn() string { return s.Target }
func (s ConstantFill) TargetColumn() string { return s.Target }
func (s UnitConvert) TargetColumn() string  { return s.Target }
func (s Lookup) TargetColumn() string       { return s.Target }
func (s Concat) TargetColumn() string       { return s.Target }
func (s DatePart) TargetColumn() string     { return s.Target }
func (FilterRows) TargetColumn() string     { return "" }

// Checked is one proposed step after validation. Step is nil when Reason is
// set.
type Checked struct {
	Index  int
	Spec   StepSpec
	Step   Step
	Reason string
}

// Valid reports whether the step passed validation
func (c Checked) Valid() bool { return c.Step != nil }

// Validated is the outcome of validating a whole plan
type Validated struct {
	Status Status
	Steps  []Checked
}

// Usable returns the valid steps in plan order
func (v *Validated) Usable() []Checked {
	if v == nil {
		return nil
	}
	var out []Checked
	for _, c := range v.Steps {
		if c.Valid() {
			out = append(out, c)
		}
	}
	return out
}

// Counts returns the number of valid and invalid steps
func (v *Validated) Counts() (valid, invalid int) {
	if v == nil {
		return 0, 0
	}
	for _, c := range v.Steps {
		if c.Valid() {
			valid++
		} else {
			invalid++
		}
	}
	return valid, invalid
}

// SortedKeys returns the keys of a lookup table in a stable order
func SortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
