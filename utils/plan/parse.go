package plan

import (
	"encoding/json"
	"strings"

	"github.com/kris-hansen/sheetsmith/utils/pipelineerr"
)

// legacyOps maps op names of the older "mappings" plan format, and the
// canonical kind names, onto step kinds.
var legacyOps = map[string]struct {
	kind     Kind
	part     DatePartKind
	decimals int // default decimals, -1 for none
}{
	"copy":                  {KindMapColumn, "", -1},
	"numeric_copy":          {KindMapColumn, "", 2},
	"fill_const":            {KindConstantFill, "", -1},
	"date_copy":             {KindDatePart, PartDate, -1},
	"calendar_year":         {KindDatePart, PartCalendarYear, -1},
	"fiscal_year_july_june": {KindDatePart, PartFiscalYear, -1},
	"formula":               {KindApplyFormula, "", -1},
	"filter":                {KindFilterRows, "", -1},

	string(KindMapColumn):    {KindMapColumn, "", -1},
	string(KindApplyFormula): {KindApplyFormula, "", -1},
	string(KindConstantFill): {KindConstantFill, "", -1},
	string(KindUnitConvert):  {KindUnitConvert, "", -1},
	string(KindLookup):       {KindLookup, "", -1},
	string(KindConcat):       {KindConcat, "", -1},
	string(KindDatePart):     {KindDatePart, "", -1},
	string(KindFilterRows):   {KindFilterRows, "", -1},
}

// rawStep accepts the field spellings models tend to produce
type rawStep struct {
	StepSpec
	Type      string `json:"type"`
	Formula   string `json:"formula"`
	Condition string `json:"condition"`
}

// Parse extracts the JSON object from model output and decodes it. Both the
// {"steps": [...]} and the legacy {"mappings": [...]} layouts are accepted. A
// step object that cannot be decoded is kept as a malformed step so that the
// rest of the plan can still be used.
func Parse(text string) (*Plan, error) {
	body, ok := ExtractJSON(text)
	if !ok {
		return nil, pipelineerr.New(pipelineerr.ErrMalformedPlan, "parse plan", "no JSON object in proposal")
	}

	var wire struct {
		Steps    []json.RawMessage `json:"steps"`
		Mappings []json.RawMessage `json:"mappings"`
		Notes    json.RawMessage   `json:"notes"`
	}
	if err := json.Unmarshal([]byte(body), &wire); err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.ErrMalformedPlan, "parse plan", err)
	}

	p := &Plan{Notes: decodeNotes(wire.Notes)}
	for _, item := range append(wire.Steps, wire.Mappings...) {
		p.Steps = append(p.Steps, decodeStep(item))
	}
	return p, nil
}

func decodeStep(data json.RawMessage) StepSpec {
	var r rawStep
	if err := json.Unmarshal(data, &r); err != nil {
		return StepSpec{malformed: err.Error()}
	}
	s := r.StepSpec
	if s.Expression == "" {
		s.Expression = firstNonEmpty(r.Formula, r.Condition)
	}

	name := strings.ToLower(strings.TrimSpace(firstNonEmpty(string(s.Kind), s.Op, r.Type)))
	op, ok := legacyOps[name]
	if !ok {
		s.Kind = Kind(name)
		return s
	}
	s.Kind = op.kind
	if name != string(op.kind) {
		s.Op = name
	} else {
		s.Op = ""
	}
	if op.part != "" && s.Part == "" {
		s.Part = string(op.part)
	}
	if op.decimals >= 0 && s.Decimals == nil {
		d := op.decimals
		s.Decimals = &d
	}
	return s
}

// decodeNotes accepts a list of strings or a single string
func decodeNotes(data json.RawMessage) []string {
	if len(data) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		return list
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil && one != "" {
		return []string{one}
	}
	return nil
}

// ExtractJSON finds the plan object in model output. It prefers a ```json
// fence, then any other fence holding an object, then the span from the first
// '{' to the last '}'.
func ExtractJSON(text string) (string, bool) {
	blocks := fences(text)
	for _, f := range blocks {
		if f.info == "json" && isObject(f.body) {
			return f.body, true
		}
	}
	for _, f := range blocks {
		if isObject(f.body) {
			return f.body, true
		}
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return "", false
	}
	return text[start : end+1], true
}

type fence struct {
	info string
	body string
}

func fences(text string) []fence {
	var out []fence
	for {
		start := strings.Index(text, "```")
		if start < 0 {
			return out
		}
		text = text[start+3:]
		end := strings.Index(text, "```")
		if end < 0 {
			return out
		}
		block := text[:end]
		text = text[end+3:]

		var info string
		if nl := strings.IndexByte(block, '\n'); nl >= 0 {
			info = strings.ToLower(strings.TrimSpace(block[:nl]))
			block = block[nl+1:]
		} else if trimmed := strings.TrimSpace(block); strings.HasPrefix(strings.ToLower(trimmed), "json") {
			info, block = "json", trimmed[len("json"):]
		}
		out = append(out, fence{info: info, body: strings.TrimSpace(block)})
	}
}

func isObject(s string) bool {
	return strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
