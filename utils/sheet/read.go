package sheet

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kris-hansen/sheetsmith/utils/pipelineerr"
	"github.com/xuri/excelize/v2"
)

// Format identifies a tabular file encoding
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
)

var zipMagic = []byte("PK\x03\x04")

// FormatFromName picks a format from a file extension. Unknown extensions
// return "" so that the caller can sniff the content.
func FormatFromName(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		return FormatXLSX
	case ".csv":
		return FormatCSV
	case ".tsv", ".tab":
		return FormatTSV
	default:
		return ""
	}
}

// Load opens a tabular file. The first non-blank row is the header.
func Load(path string) (*Sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.ErrInput, "open "+filepath.Base(path), err)
	}
	defer f.Close()

	s, err := Read(f, FormatFromName(path))
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.ErrUnreadableFile, "read "+filepath.Base(path), err)
	}
	return s, nil
}

// Read decodes a table from r. An empty format is resolved by sniffing for
// the zip signature of an xlsx workbook.
func Read(r io.Reader, format Format) (*Sheet, error) {
	br := bufio.NewReader(r)
	if format == "" {
		head, _ := br.Peek(len(zipMagic))
		if bytes.Equal(head, zipMagic) {
			format = FormatXLSX
		} else {
			format = FormatCSV
		}
	}

	var (
		name string
		rows [][]string
		err  error
	)
	switch format {
	case FormatXLSX:
		name, rows, err = readXLSX(br)
	case FormatCSV:
		name = "Sheet1"
		rows, err = readDelimited(br, ',')
	case FormatTSV:
		name = "Sheet1"
		rows, err = readDelimited(br, '\t')
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
	if err != nil {
		return nil, err
	}

	rows = dropBlankRows(rows)
	if len(rows) == 0 {
		return nil, errors.New("no header row")
	}
	header := rows[0]
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	return NewSheet(name, header, rows[1:]), nil
}

// readXLSX reads the first sheet. Cells are taken as Excel formats them
// except dates, which become ISO text, and numbers, which keep the stored
// precision instead of the displayed rounding.
func readXLSX(r io.Reader) (string, [][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return "", nil, fmt.Errorf("not a readable workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", nil, errors.New("workbook has no sheets")
	}
	name := sheets[0]
	shown, err := f.GetRows(name)
	if err != nil {
		return "", nil, fmt.Errorf("reading sheet %q: %w", name, err)
	}
	rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return "", nil, fmt.Errorf("reading sheet %q: %w", name, err)
	}

	cells := &xlsxCells{f: f, sheet: name, dateStyles: make(map[int]bool)}
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		cells.date1904 = *props.Date1904
	}
	for i, row := range rows {
		for j, v := range row {
			var display string
			if i < len(shown) && j < len(shown[i]) {
				display = shown[i][j]
			}
			row[j] = cells.value(i, j, v, display)
		}
	}
	return name, rows, nil
}

type xlsxCells struct {
	f          *excelize.File
	sheet      string
	date1904   bool
	dateStyles map[int]bool // style index -> has a date number format
}

func (x *xlsxCells) value(row, col int, raw, shown string) string {
	if raw == shown {
		return raw
	}
	serial, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return shown
	}
	if x.isDate(row, col) {
		t, err := excelize.ExcelDateToTime(serial, x.date1904)
		if err != nil {
			return shown
		}
		return formatDateTime(t)
	}
	// booleans and time-of-day cells have numeric storage too
	if _, err := ParseNumber(shown); err != nil {
		return shown
	}
	return FormatNumber(serial)
}

func (x *xlsxCells) isDate(row, col int) bool {
	ref, err := excelize.CoordinatesToCellName(col+1, row+1)
	if err != nil {
		return false
	}
	idx, err := x.f.GetCellStyle(x.sheet, ref)
	if err != nil {
		return false
	}
	if v, ok := x.dateStyles[idx]; ok {
		return v
	}
	st, err := x.f.GetStyle(idx)
	v := err == nil && isDateFormat(st.NumFmt, st.CustomNumFmt)
	x.dateStyles[idx] = v
	return v
}

// isDateFormat recognises the built-in date formats and custom codes with a
// day or year part. Time-only formats are not dates.
func isDateFormat(id int, custom *string) bool {
	if custom != nil && *custom != "" {
		return isDateCode(*custom)
	}
	switch {
	case id >= 14 && id <= 17, id == 22:
		return true
	case id >= 27 && id <= 31, id == 36, id >= 50 && id <= 54, id == 57, id == 58:
		return true
	}
	return false
}

func isDateCode(code string) bool {
	if i := strings.IndexByte(code, ';'); i >= 0 {
		code = code[:i]
	}
	var b strings.Builder
	quoted, bracket := false, false
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case c == '"':
			quoted = !quoted
		case quoted:
		case c == '[':
			bracket = true
		case c == ']':
			bracket = false
		case bracket:
		case c == '\\':
			i++
		default:
			b.WriteByte(c)
		}
	}
	plain := strings.ToLower(b.String())
	return strings.ContainsAny(plain, "yd") && plain != "general"
}

func formatDateTime(t time.Time) string {
	t = t.Round(time.Second)
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
		return t.Format(ISODate)
	}
	return t.Format(ISODateTime)
}

func readDelimited(r io.Reader, comma rune) ([][]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(data) || bytes.IndexByte(data, 0) >= 0 {
		return nil, errors.New("content is not delimited text")
	}
	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("not valid delimited text: %w", err)
	}
	return rows, nil
}

func dropBlankRows(rows [][]string) [][]string {
	out := rows[:0]
	for _, row := range rows {
		for _, v := range row {
			if !IsEmpty(v) {
				out = append(out, row)
				break
			}
		}
	}
	return out
}
