package sheet

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kris-hansen/sheetsmith/utils/pipelineerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestInferType(t *testing.T) {
	tests := []struct {
		name    string
		samples []string
		want    Type
	}{
		{"no samples", nil, TypeUnknown},
		{"integers", []string{"1", "22", "-3"}, TypeNumeric},
		{"currency", []string{"$1,200.50", "(15.00)", "3%"}, TypeNumeric},
		{"iso dates", []string{"2024-07-01", "2023-12-31"}, TypeDate},
		{"mixed date layouts", []string{"07/01/2024", "Jan 2, 2023"}, TypeDate},
		{"words", []string{"Gold", "Hybrid"}, TypeText},
		{"mostly numbers", []string{"1", "2", "n/a"}, TypeText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferType(tt.samples))
		})
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"42", 42, false},
		{" 1,234.5 ", 1234.5, false},
		{"$99", 99, false},
		{"-€3.25", -3.25, false},
		{"(12.50)", -12.5, false},
		{"15%", 0.15, false},
		{"abc", 0, true},
		{"", 0, true},
		{"NaN", 0, true},
		{"0x10", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseNumber(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNotNumeric)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestCoerce(t *testing.T) {
	v, err := Coerce("1,000", TypeNumeric)
	require.NoError(t, err)
	assert.Equal(t, "1000", v)

	v, err = Coerce("7/4/2024", TypeDate)
	require.NoError(t, err)
	assert.Equal(t, "2024-07-04", v)

	v, err = Coerce("  ", TypeNumeric)
	require.NoError(t, err)
	assert.Equal(t, "", v)

	v, err = Coerce("anything", TypeUnknown)
	require.NoError(t, err)
	assert.Equal(t, "anything", v)

	_, err = Coerce("soon", TypeDate)
	assert.ErrorIs(t, err, ErrNotDate)
}

func TestFormatNumberSuppressesFloatNoise(t *testing.T) {
	assert.Equal(t, "0.3", FormatNumber(0.1+0.2))
	assert.Equal(t, "1500", FormatNumber(1.5e3))
	assert.Equal(t, "0", FormatNumber(-0.0000000001))
	assert.Equal(t, "12.35", FormatNumber(Round(12.346, 2)))
}

func TestReadCSVNormalisesHeader(t *testing.T) {
	in := "\ufeffName,,Name,Qty\nalpha,x,beta,1\n,,,\ngamma,y,delta\n"
	s, err := Read(strings.NewReader(in), FormatCSV)
	require.NoError(t, err)

	assert.Equal(t, []string{"Name", "Unnamed: 1", "Name.1", "Qty"}, s.Header)
	require.Len(t, s.Rows, 2, "blank rows are dropped")
	assert.Equal(t, []string{"gamma", "y", "delta", ""}, s.Rows[1], "short rows are padded")
}

func TestReadRejectsBinaryAsCSV(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte{0x25, 0x50, 0x44, 0x46, 0x00, 0xff}), "")
	assert.Error(t, err)
}

func TestLoadUnreadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a workbook"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, pipelineerr.ErrUnreadableFile))
	assert.True(t, errors.Is(err, pipelineerr.ErrInput))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.csv"))
	assert.ErrorIs(t, err, pipelineerr.ErrInput)
}

func TestXLSXRoundTrip(t *testing.T) {
	header := []string{"ID", "Quantity", "Published"}
	types := []Type{TypeText, TypeNumeric, TypeDate}
	rows := [][]string{
		{"P-1", "3", "2024-07-01"},
		{"P-2", "", "2024-08-15"},
	}

	data, err := EncodeXLSX("Ideal: Q3/2024", header, types, rows)
	require.NoError(t, err)

	s, err := Read(bytes.NewReader(data), "")
	require.NoError(t, err)
	assert.Equal(t, "Ideal_ Q3_2024", s.Name)
	assert.Equal(t, header, s.Header)
	require.Len(t, s.Rows, 2)
	assert.Equal(t, "P-1", s.Rows[0][0])
	assert.Equal(t, "3", s.Rows[0][1])
	assert.Equal(t, "", s.Rows[1][1])
	assert.Equal(t, "2024-08-15", s.Rows[1][2])
}

// workbook writes an export the way Excel stores it: dates as styled serials
func workbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	const sh = "Sheet1"

	require.NoError(t, f.SetSheetRow(sh, "A1", &[]interface{}{"ASAP Pub Date", "Accepted", "Code", "Price", "Open", "Clock"}))
	require.NoError(t, f.SetCellValue(sh, "A2", time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC)))
	require.NoError(t, f.SetCellValue(sh, "A3", time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)))
	shortDate, err := f.NewStyle(&excelize.Style{NumFmt: 15}) // d-mmm-yy
	require.NoError(t, err)
	require.NoError(t, f.SetCellStyle(sh, "A3", "A3", shortDate))

	code := `yyyy/mm/dd;@`
	custom, err := f.NewStyle(&excelize.Style{CustomNumFmt: &code})
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue(sh, "B2", time.Date(2024, 7, 4, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, f.SetCellStyle(sh, "B2", "B2", custom))

	require.NoError(t, f.SetCellStr(sh, "C2", "00123"))

	money, err := f.NewStyle(&excelize.Style{NumFmt: 4}) // #,##0.00
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue(sh, "D2", 2999.999))
	require.NoError(t, f.SetCellStyle(sh, "D2", "D2", money))

	require.NoError(t, f.SetCellValue(sh, "E2", true))

	clock, err := f.NewStyle(&excelize.Style{NumFmt: 20}) // h:mm
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue(sh, "F2", 0.4375))
	require.NoError(t, f.SetCellStyle(sh, "F2", "F2", clock))

	var buf bytes.Buffer
	_, err = f.WriteTo(&buf)
	require.NoError(t, err)
	return buf.Bytes()
}

func TestReadXLSXCellValues(t *testing.T) {
	s, err := Read(bytes.NewReader(workbook(t)), FormatXLSX)
	require.NoError(t, err)

	require.Len(t, s.Rows, 2)
	assert.Equal(t, []string{"2024-03-05 10:30:00", "2024-07-04", "00123", "2999.999", "TRUE", "10:30"}, s.Rows[0])
	assert.Equal(t, "2023-12-01", s.Rows[1][0])

	schema := Inspect(s, 0)
	assert.Equal(t, TypeDate, schema.Columns[0].Type)
	assert.Equal(t, TypeDate, schema.Columns[1].Type)
	assert.Equal(t, TypeNumeric, schema.Columns[3].Type)
}

func TestParseDateSpreadsheetLayouts(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"3/5/24 10:30", "2024-03-05"},
		{"1-Dec-23", "2023-12-01"},
		{"2024-03-05 10:30:00", "2024-03-05"},
		{"2024-03-05 10:30", "2024-03-05"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := ParseDate(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Format(ISODate))
		})
	}
}

func TestIsDateFormat(t *testing.T) {
	code := func(s string) *string { return &s }
	tests := []struct {
		name   string
		id     int
		custom *string
		want   bool
	}{
		{"general", 0, nil, false},
		{"m/d/yyyy", 14, nil, true},
		{"m/d/yy h:mm", 22, nil, true},
		{"h:mm is a time", 20, nil, false},
		{"money", 4, nil, false},
		{"custom date", 164, code("dd.mm.yyyy"), true},
		{"custom elapsed time", 164, code("[h]:mm"), false},
		{"quoted text is ignored", 164, code(`0.0 "days"`), false},
		{"locale prefix", 164, code("[$-409]mmmm d, yyyy"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isDateFormat(tt.id, tt.custom))
		})
	}
}

func TestRoundAndFormatNumberStayFinite(t *testing.T) {
	assert.Equal(t, 2.5, Round(2.5, 400))
	assert.Equal(t, 1e308, Round(1e308, 2))
	big, err := ParseNumber(FormatNumber(1e308))
	require.NoError(t, err)
	assert.Equal(t, 1e308, big)
	assert.False(t, Finite(math.Inf(1)))
	assert.False(t, Finite(math.NaN()))
	assert.True(t, Finite(1e308))
}

func TestInspect(t *testing.T) {
	s := NewSheet("raw", []string{"Pub_ID", "Qty", "UnitPrice", "Notes"}, [][]string{
		{"A1", "2", "9.99", ""},
		{"A2", "5", "19.50", ""},
		{"A3", "", "4", ""},
	})

	schema := Inspect(s, 2)
	require.Len(t, schema.Columns, 4)
	assert.Equal(t, []string{"Pub_ID", "Qty", "UnitPrice", "Notes"}, schema.Names())
	assert.Equal(t, []Type{TypeText, TypeNumeric, TypeNumeric, TypeUnknown}, schema.Types())
	assert.Equal(t, []string{"A1", "A2"}, schema.Columns[0].Samples, "sample size is bounded")
	assert.True(t, schema.Has("Qty"))
	assert.Equal(t, -1, schema.Index("Price"))
}
