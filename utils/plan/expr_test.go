package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rowOf(m map[string]string) Row {
	return func(c string) string { return m[c] }
}

func TestExprEval(t *testing.T) {
	row := rowOf(map[string]string{
		"Qty":        "3",
		"UnitPrice":  "$2.50",
		"First":      " Ada ",
		"Last":       "Lovelace",
		"Pub Date":   "2024-08-15",
		"Code":       "G",
		"Blank":      "",
		"Unnamed: 1": "x",
	})

	tests := []struct {
		expr string
		want string
	}{
		{"UnitPrice", "$2.50"},
		{"Qty * UnitPrice", "7.5"},
		{"Qty + 1 * 2", "5"},
		{"(Qty + 1) * 2", "8"},
		{"-Qty", "-3"},
		{"Qty / 4", "0.75"},
		{"round(UnitPrice / 3, 2)", "0.83"},
		{"abs(0 - Qty)", "3"},
		{"trim(First) & \" \" & Last", "Ada Lovelace"},
		{"upper(Code)", "G"},
		{"lower('ABC')", "abc"},
		{"year([Pub Date])", "2024"},
		{"year(`Pub Date`) + 1", "2025"},
		{`if(Code = "G", "Gold", "Hybrid")`, "Gold"},
		{`if(Code == "H" or Qty >= 3, "yes", "no")`, "yes"},
		{`if(not (Qty > 2), "small", "big")`, "big"},
		{`if(Qty <> 3 && true, 1, 0)`, "0"},
		{"coalesce(Blank, [Unnamed: 1])", "x"},
		{"Qty > 10", "false"},
		{`"10" < "9"`, "false"},
		{`"b" > "a"`, "true"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			e, err := Compile(tt.expr)
			require.NoError(t, err)
			got, err := e.Eval(row)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExprEvalErrors(t *testing.T) {
	row := rowOf(map[string]string{"Qty": "3", "Name": "widget", "Zero": "0", "Blank": ""})

	e, err := Compile("Qty / Zero")
	require.NoError(t, err)
	_, err = e.Eval(row)
	assert.ErrorIs(t, err, ErrEvaluation)

	e, err = Compile("Name * 2")
	require.NoError(t, err)
	_, err = e.Eval(row)
	assert.ErrorIs(t, err, ErrEvaluation)

	e, err = Compile("Blank * 2")
	require.NoError(t, err)
	_, err = e.Eval(row)
	assert.ErrorIs(t, err, ErrEmptyOperand)

	e, err = Compile("year(Name)")
	require.NoError(t, err)
	_, err = e.Eval(row)
	assert.ErrorIs(t, err, ErrEvaluation)
}

func TestCompileErrors(t *testing.T) {
	for _, src := range []string{
		"",
		"Qty +",
		"(Qty",
		"[Unclosed",
		"[]",
		`"open`,
		"Qty ? 1",
		"if(Qty, 1)",
		"nosuch(Qty)",
		"Qty Qty",
		"and",
	} {
		_, err := Compile(src)
		assert.Error(t, err, src)
	}
}

func TestExprColumns(t *testing.T) {
	e, err := Compile(`if([Unit Price] > 0, [Unit Price] * Qty, Fallback)`)
	require.NoError(t, err)
	assert.Equal(t, []string{"Unit Price", "Qty", "Fallback"}, e.Columns())
}

func TestExprTest(t *testing.T) {
	e, err := Compile(`Status != "void" and Qty > 0`)
	require.NoError(t, err)

	keep, err := e.Test(rowOf(map[string]string{"Status": "paid", "Qty": "2"}))
	require.NoError(t, err)
	assert.True(t, keep)

	keep, err = e.Test(rowOf(map[string]string{"Status": "void", "Qty": "2"}))
	require.NoError(t, err)
	assert.False(t, keep)

	truthyCol, err := Compile("Flag")
	require.NoError(t, err)
	for val, want := range map[string]bool{"TRUE": true, "0": false, "": false, "yes": true, "false": false} {
		got, err := truthyCol.Test(rowOf(map[string]string{"Flag": val}))
		require.NoError(t, err)
		assert.Equal(t, want, got, val)
	}
}
