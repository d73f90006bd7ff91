// Package sheet loads tabular files, infers their schema and writes filled
// spreadsheets.
package sheet

import (
	"fmt"
	"strings"
)

// Type is the inferred value type of a column
type Type string

const (
	TypeNumeric Type = "numeric"
	TypeDate    Type = "date"
	TypeText    Type = "text"
	TypeUnknown Type = "unknown"
)

// DefaultSampleSize is the number of non-empty values inspected per column.
const DefaultSampleSize = 20

// Column describes one column of a sheet
type Column struct {
	Name    string   `json:"name" yaml:"name"`
	Type    Type     `json:"type" yaml:"type"`
	Samples []string `json:"samples,omitempty" yaml:"samples,omitempty"`
}

// Schema is the ordered column list of a sheet. It is never mutated after
// Inspect returns it.
type Schema struct {
	Columns []Column `json:"columns" yaml:"columns"`
}

// Names returns the column names in order
func (s Schema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Index returns the position of the named column or -1
func (s Schema) Index(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Has reports whether the schema contains the named column
func (s Schema) Has(name string) bool {
	return s.Index(name) >= 0
}

// Lookup returns the named column
func (s Schema) Lookup(name string) (Column, bool) {
	if i := s.Index(name); i >= 0 {
		return s.Columns[i], true
	}
	return Column{}, false
}

// Types returns the column types in order
func (s Schema) Types() []Type {
	types := make([]Type, len(s.Columns))
	for i, c := range s.Columns {
		types[i] = c.Type
	}
	return types
}

// Sheet is a loaded table: a header row plus data rows of equal width.
type Sheet struct {
	Name   string
	Header []string
	Rows   [][]string
}

// NewSheet builds a sheet from a header and rows, normalising the header and
// padding or truncating rows to the header width.
func NewSheet(name string, header []string, rows [][]string) *Sheet {
	h := uniqueHeader(header)
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		row := make([]string, len(h))
		copy(row, r)
		out = append(out, row)
	}
	return &Sheet{Name: name, Header: h, Rows: out}
}

// ColumnIndex maps header names to positions
func (s *Sheet) ColumnIndex() map[string]int {
	idx := make(map[string]int, len(s.Header))
	for i, h := range s.Header {
		idx[h] = i
	}
	return idx
}

// Column returns all values of the named column
func (s *Sheet) Column(name string) ([]string, error) {
	i, ok := s.ColumnIndex()[name]
	if !ok {
		return nil, fmt.Errorf("column %q not found", name)
	}
	vals := make([]string, len(s.Rows))
	for r, row := range s.Rows {
		vals[r] = row[i]
	}
	return vals, nil
}

// uniqueHeader trims names, names blank headers after their position and
// suffixes repeats with .1, .2 so that every column is addressable.
func uniqueHeader(header []string) []string {
	out := make([]string, len(header))
	used := make(map[string]bool, len(header))
	for i, h := range header {
		base := strings.TrimSpace(h)
		if base == "" {
			base = fmt.Sprintf("Unnamed: %d", i)
		}
		name := base
		for n := 1; used[name]; n++ {
			name = fmt.Sprintf("%s.%d", base, n)
		}
		used[name] = true
		out[i] = name
	}
	return out
}

// Inspect derives the schema of s from at most sampleSize non-empty values per
// column.
func Inspect(s *Sheet, sampleSize int) Schema {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	cols := make([]Column, len(s.Header))
	for i, name := range s.Header {
		var samples []string
		for _, row := range s.Rows {
			v := strings.TrimSpace(row[i])
			if v == "" {
				continue
			}
			samples = append(samples, v)
			if len(samples) == sampleSize {
				break
			}
		}
		cols[i] = Column{Name: name, Type: InferType(samples), Samples: samples}
	}
	return Schema{Columns: cols}
}

// InferType classifies a sample: numeric if every value parses as a number,
// date if every value parses as a date, text otherwise, unknown when empty.
func InferType(samples []string) Type {
	if len(samples) == 0 {
		return TypeUnknown
	}
	numeric, date := true, true
	for _, v := range samples {
		if numeric {
			if _, err := ParseNumber(v); err != nil {
				numeric = false
			}
		}
		if date {
			if _, err := ParseDate(v); err != nil {
				date = false
			}
		}
		if !numeric && !date {
			return TypeText
		}
	}
	if numeric {
		return TypeNumeric
	}
	return TypeDate
}
