package sheet

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

const defaultSheetName = "Sheet1"

// EncodeXLSX renders header and rows as a single-sheet workbook. Cells of
// numeric columns that parse as numbers are stored as numbers; everything
// else is stored as text.
func EncodeXLSX(sheetName string, header []string, types []Type, rows [][]string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	name := safeSheetName(sheetName)
	if name != defaultSheetName {
		if err := f.SetSheetName(defaultSheetName, name); err != nil {
			return nil, fmt.Errorf("naming sheet %q: %w", name, err)
		}
	}

	sw, err := f.NewStreamWriter(name)
	if err != nil {
		return nil, fmt.Errorf("opening sheet writer: %w", err)
	}

	headerCells := make([]interface{}, len(header))
	for i, h := range header {
		headerCells[i] = h
	}
	if err := sw.SetRow("A1", headerCells); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}

	for r, row := range rows {
		cells := make([]interface{}, len(header))
		for c := range header {
			var v string
			if c < len(row) {
				v = row[c]
			}
			cells[c] = cellValue(v, typeAt(types, c))
		}
		ref, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return nil, err
		}
		if err := sw.SetRow(ref, cells); err != nil {
			return nil, fmt.Errorf("writing row %d: %w", r+1, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return nil, fmt.Errorf("flushing sheet: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encoding workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func cellValue(v string, t Type) interface{} {
	if IsEmpty(v) {
		return nil
	}
	if t == TypeNumeric {
		if f, err := ParseNumber(v); err == nil {
			return f
		}
	}
	return v
}

func typeAt(types []Type, i int) Type {
	if i < len(types) {
		return types[i]
	}
	return TypeUnknown
}

// safeSheetName applies Excel's naming limits: at most 31 characters and none
// of : \ / ? * [ ].
func safeSheetName(name string) string {
	name = strings.TrimSpace(strings.Map(func(r rune) rune {
		if strings.ContainsRune(`:\/?*[]`, r) {
			return '_'
		}
		return r
	}, name))
	if name == "" {
		return defaultSheetName
	}
	if r := []rune(name); len(r) > 31 {
		name = string(r[:31])
	}
	return name
}
