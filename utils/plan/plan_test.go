package plan

import (
	"errors"
	"testing"

	"github.com/kris-hansen/sheetsmith/utils/pipelineerr"
	"github.com/kris-hansen/sheetsmith/utils/sheet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func schema(names ...string) sheet.Schema {
	cols := make([]sheet.Column, len(names))
	for i, n := range names {
		cols[i] = sheet.Column{Name: n, Type: sheet.TypeText}
	}
	return sheet.Schema{Columns: cols}
}

type tableMap map[string]map[string]string

func (t tableMap) Table(name string) (map[string]string, bool) {
	m, ok := t[name]
	return m, ok
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{
			name: "json fence wins over earlier braces",
			in:   "Use {curly} notation.\n```json\n{\"steps\": []}\n```\ntrailing",
			want: `{"steps": []}`,
			ok:   true,
		},
		{
			name: "untagged fence",
			in:   "Here:\n```\n{\"mappings\": []}\n```",
			want: `{"mappings": []}`,
			ok:   true,
		},
		{
			name: "single line json fence",
			in:   "```json {\"steps\":[]}```",
			want: `{"steps":[]}`,
			ok:   true,
		},
		{
			name: "first brace to last brace",
			in:   `Sure! {"steps": [{"kind": "constant_fill"}]} Hope that helps.`,
			want: `{"steps": [{"kind": "constant_fill"}]}`,
			ok:   true,
		},
		{
			name: "no object",
			in:   "I cannot help with that.",
			ok:   false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSON(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParseMalformed(t *testing.T) {
	for _, in := range []string{"no json here", "{not json}", `{"steps": "all of them"}`} {
		_, err := Parse(in)
		require.Error(t, err, in)
		assert.ErrorIs(t, err, pipelineerr.ErrMalformedPlan)
		assert.ErrorIs(t, err, pipelineerr.ErrInvalidPlan)
	}
}

func TestParseLegacyMappings(t *testing.T) {
	in := `{"mappings": [
		{"op":"copy", "source":"Manuscript DOI", "target":"Article DOI"},
		{"op":"numeric_copy", "source":"Retail Price", "target":"APC"},
		{"op":"fill_const", "value":"ACS", "target":"Agreement"},
		{"op":"fiscal_year_july_june", "source":"ASAP Pub Date", "target":"Fiscal Year"},
		{"op":"concat", "sources":["First","Last"], "target":"Author Name"}
	], "notes": "assumed ACS"}`

	p, err := Parse(in)
	require.NoError(t, err)
	require.Len(t, p.Steps, 5)
	assert.Equal(t, []string{"assumed ACS"}, p.Notes)

	assert.Equal(t, KindMapColumn, p.Steps[0].Kind)
	assert.Equal(t, "copy", p.Steps[0].Op)
	assert.Nil(t, p.Steps[0].Decimals)

	assert.Equal(t, KindMapColumn, p.Steps[1].Kind)
	require.NotNil(t, p.Steps[1].Decimals)
	assert.Equal(t, 2, *p.Steps[1].Decimals)

	assert.Equal(t, KindConstantFill, p.Steps[2].Kind)
	assert.Equal(t, Scalar("ACS"), *p.Steps[2].Value)

	assert.Equal(t, KindDatePart, p.Steps[3].Kind)
	assert.Equal(t, string(PartFiscalYear), p.Steps[3].Part)

	assert.Equal(t, KindConcat, p.Steps[4].Kind)
	assert.Empty(t, p.Steps[4].Op)
}

func TestParseScalarValuesAndInlineTables(t *testing.T) {
	in := `{"steps": [
		{"kind":"constant_fill", "target":"Year", "value": 2024},
		{"kind":"lookup", "target":"OA", "key":"Code", "table": {"G": "Gold", "H": "Hybrid", "X": 1}},
		{"kind":"lookup", "target":"OA", "key":"Code", "table": "oa_types"},
		{"kind":"map_column", "decimals": "two"}
	]}`

	p, err := Parse(in)
	require.NoError(t, err)
	require.Len(t, p.Steps, 4)
	assert.Equal(t, Scalar("2024"), *p.Steps[0].Value)
	assert.Equal(t, map[string]string{"G": "Gold", "H": "Hybrid", "X": "1"}, p.Steps[1].Table.Entries)
	assert.Equal(t, "oa_types", p.Steps[2].Table.Name)
	assert.NotEmpty(t, p.Steps[3].malformed, "undecodable steps are kept but flagged")
}

func TestValidate(t *testing.T) {
	ideal := schema("ID", "Quantity", "Price", "OA", "Year", "Author")
	raw := schema("Pub_ID", "Qty", "UnitPrice", "Code", "Date", "First", "Last")
	tables := tableMap{"oa_types": {"G": "Gold"}, "empty": {}}

	tests := []struct {
		name   string
		step   string
		reason string
	}{
		{"map column", `{"kind":"map_column","source":"Pub_ID","target":"ID"}`, ""},
		{"unknown target", `{"kind":"map_column","source":"Pub_ID","target":"Identifier"}`, "unknown-target:Identifier"},
		{"missing target", `{"kind":"map_column","source":"Pub_ID"}`, "missing-target"},
		{"unknown source", `{"kind":"map_column","source":"PubID","target":"ID"}`, "unknown-source:PubID"},
		{"negative decimals", `{"kind":"map_column","source":"Qty","target":"Quantity","decimals":-1}`, "negative-decimals"},
		{"formula", `{"kind":"apply_formula","target":"Price","expression":"[UnitPrice] * Qty"}`, ""},
		{"formula unknown column", `{"kind":"apply_formula","target":"Price","expression":"Cost * Qty"}`, "unknown-column-in-expression:Cost"},
		{"formula syntax", `{"kind":"apply_formula","target":"Price","expression":"UnitPrice *"}`, "bad-expression"},
		{"formula unknown function", `{"kind":"apply_formula","target":"Price","expression":"sqrt(UnitPrice)"}`, "bad-expression"},
		{"constant", `{"kind":"constant_fill","target":"OA","value":"Gold"}`, ""},
		{"constant without value", `{"kind":"constant_fill","target":"OA"}`, "missing-value"},
		{"unit convert defaults source to target", `{"kind":"unit_convert","target":"Price","factor":0.01,"unit":"USD"}`, "unknown-source:Price"},
		{"unit convert", `{"kind":"unit_convert","target":"Price","source":"UnitPrice","factor":0.01}`, ""},
		{"unit convert zero factor", `{"kind":"unit_convert","target":"Price","source":"UnitPrice","factor":0}`, "zero-factor"},
		{"lookup catalogue table", `{"kind":"lookup","target":"OA","key":"Code","table":"oa_types"}`, ""},
		{"lookup inline", `{"kind":"lookup","target":"OA","key":"Code","table":{"H":"Hybrid"}}`, ""},
		{"lookup unknown table", `{"kind":"lookup","target":"OA","key":"Code","table":"nope"}`, "unknown-table:nope"},
		{"lookup empty table", `{"kind":"lookup","target":"OA","key":"Code","table":"empty"}`, "empty-table"},
		{"concat", `{"kind":"concat","target":"Author","sources":["First","Last"]}`, ""},
		{"concat unknown", `{"kind":"concat","target":"Author","sources":["First","Middle"]}`, "unknown-source:Middle"},
		{"date part", `{"kind":"date_part","target":"Year","source":"Date","part":"calendar_year"}`, ""},
		{"date part bad", `{"kind":"date_part","target":"Year","source":"Date","part":"quarter"}`, "bad-part:quarter"},
		{"filter", `{"kind":"filter_rows","expression":"Qty > 0"}`, ""},
		{"filter unknown column", `{"kind":"filter_rows","expression":"Status = \"ok\""}`, "unknown-column-in-expression:Status"},
		{"unknown legacy op", `{"op":"split","source":"Pub_ID","target":"ID"}`, "unknown-kind:split"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse(`{"steps":[` + tt.step + `]}`)
			require.NoError(t, err)
			v := Validate(p, ideal, raw, tables)
			require.Len(t, v.Steps, 1)
			assert.Equal(t, tt.reason, v.Steps[0].Reason)
			assert.Equal(t, tt.reason == "", v.Steps[0].Valid())
		})
	}
}

func TestValidateStatus(t *testing.T) {
	ideal := schema("ID", "Quantity")
	raw := schema("Pub_ID", "Qty")

	_, v, err := ParseAndValidate(`{"steps":[
		{"kind":"map_column","source":"Pub_ID","target":"ID"},
		{"kind":"map_column","source":"Nope","target":"Quantity"}
	]}`, ideal, raw, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, v.Status)
	valid, invalid := v.Counts()
	assert.Equal(t, 1, valid)
	assert.Equal(t, 1, invalid)
	require.Len(t, v.Usable(), 1)
	assert.Equal(t, 0, v.Usable()[0].Index)

	_, v, err = ParseAndValidate(`{"steps":[{"kind":"teleport","target":"ID"}]}`, ideal, raw, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, pipelineerr.ErrNoUsableSteps))
	assert.Equal(t, StatusNoUsableSteps, v.Status)
	assert.Len(t, v.Steps, 1, "rejected steps stay visible")

	_, v, err = ParseAndValidate("the model rambled", ideal, raw, nil)
	assert.ErrorIs(t, err, pipelineerr.ErrMalformedPlan)
	assert.Equal(t, StatusMalformed, v.Status)
}

func TestDescribe(t *testing.T) {
	expr, err := Compile("Qty * 2")
	require.NoError(t, err)

	assert.Equal(t, "Retail Price -> APC (2 decimals)", Describe(MapColumn{Source: "Retail Price", Target: "APC", Decimals: 2, Round: true}))
	assert.Equal(t, "Total = Qty * 2", Describe(ApplyFormula{Target: "Total", Expr: expr}))
	assert.Equal(t, "Cents -> Price (x0.01, USD)", Describe(UnitConvert{Source: "Cents", Target: "Price", Factor: 0.01, Unit: "USD"}))
	assert.Equal(t, "keep rows where Qty * 2", Describe(FilterRows{Expr: expr}))
}
