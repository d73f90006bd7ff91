package sheet

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotNumeric = errors.New("not numeric")
	ErrNotDate    = errors.New("not a date")
)

// ISODate is the canonical layout for date cells in output sheets.
const ISODate = "2006-01-02"

// ISODateTime is used for date cells that carry a time of day
const ISODateTime = "2006-01-02 15:04:05"

var dateLayouts = []string{
	ISODate,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"1/2/06",
	"01-02-06",
	"1-2-06",
	"01-02-2006",
	"02-Jan-2006",
	"2-Jan-2006",
	"02-Jan-06",
	"02 Jan 2006",
	"2 Jan 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 2 2006",
	"1/2/2006 15:04",
	"1/2/2006 15:04:05",
	"2006-01-02 15:04",
	"1/2/06 15:04",
	"1/2/06 15:04:05",
	"2-Jan-06",
	"2 Jan 06",
}

// IsEmpty reports whether a cell carries no value.
func IsEmpty(v string) bool {
	return strings.TrimSpace(v) == ""
}

// ParseNumber accepts plain numbers plus common spreadsheet decorations:
// thousands separators, a leading currency symbol, a trailing percent sign
// and accounting-style parentheses for negatives.
func ParseNumber(v string) (float64, error) {
	s := strings.TrimSpace(v)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrNotNumeric)
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	percent := false
	if strings.HasSuffix(s, "%") {
		percent = true
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	}
	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = strings.TrimSpace(s[1:])
	}
	for _, sym := range []string{"$", "€", "£", "¥"} {
		s = strings.TrimPrefix(s, sym)
	}
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || s == "" {
		return 0, fmt.Errorf("%w: %q", ErrNotNumeric, v)
	}
	// ParseFloat takes hex floats and underscores, spreadsheets do not
	if strings.ContainsAny(s, "xXpP_") {
		return 0, fmt.Errorf("%w: %q", ErrNotNumeric, v)
	}
	if percent {
		f /= 100
	}
	if negative {
		f = -f
	}
	return f, nil
}

// ParseDate tries the known layouts in order.
func ParseDate(v string) (time.Time, error) {
	s := strings.TrimSpace(v)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrNotDate)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrNotDate, v)
}

// FormatNumber renders f without exponent, trimmed to nine decimals so that
// binary float noise never reaches an output cell.
func FormatNumber(f float64) string {
	r := f
	if math.Abs(f) < 1e15 {
		r = math.Round(f*1e9) / 1e9
	}
	if r == 0 {
		r = 0 // drop negative zero
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}

// Round rounds half away from zero to the given number of decimals. Beyond
// the precision of a float64 the value is returned unchanged.
func Round(f float64, decimals int) float64 {
	if decimals > maxDecimals {
		return f
	}
	p := math.Pow(10, float64(decimals))
	if r := math.Round(f*p) / p; !math.IsNaN(r) && !math.IsInf(r, 0) {
		return r
	}
	return f
}

const maxDecimals = 15

// Finite reports whether f can be written to a cell
func Finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Coerce converts v to the canonical text form of t. Empty input stays empty.
// Text and unknown columns take the value verbatim.
func Coerce(v string, t Type) (string, error) {
	if IsEmpty(v) {
		return "", nil
	}
	switch t {
	case TypeNumeric:
		f, err := ParseNumber(v)
		if err != nil {
			return "", err
		}
		return FormatNumber(f), nil
	case TypeDate:
		d, err := ParseDate(v)
		if err != nil {
			return "", err
		}
		return d.Format(ISODate), nil
	default:
		return v, nil
	}
}

// Conforms reports whether a non-empty value already fits type t.
func Conforms(v string, t Type) bool {
	switch t {
	case TypeNumeric:
		_, err := ParseNumber(v)
		return err == nil
	case TypeDate:
		_, err := ParseDate(v)
		return err == nil
	default:
		return true
	}
}
