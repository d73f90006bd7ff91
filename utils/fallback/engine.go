package fallback

import (
	"strings"
	"unicode"

	"github.com/kris-hansen/sheetsmith/utils/executor"
	"github.com/kris-hansen/sheetsmith/utils/plan"
	"github.com/kris-hansen/sheetsmith/utils/sheet"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize reduces a column name to a comparison key: NFKC, case folded,
// runs of anything but letters and digits collapsed to one space.
func Normalize(name string) string {
	// Casers keep state, so each call gets its own
	s := cases.Fold().String(norm.NFKC.String(name))
	var b strings.Builder
	space := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			space = false
			continue
		}
		space = true
	}
	return b.String()
}

// Engine compiles catalogue rules into plans. It reads only the two schemas,
// so the same inputs always give the same plan.
type Engine struct {
	cat *Catalogue
}

// New returns an engine over cat
func New(cat *Catalogue) *Engine {
	return &Engine{cat: cat}
}

// Catalogue returns the rule set in use
func (e *Engine) Catalogue() *Catalogue { return e.cat }

// Version identifies the rule set in logs and summaries
func (e *Engine) Version() string { return e.cat.Version }

// Plan compiles the rules that apply to these schemas. Each ideal column gets
// at most one step: the first matching rule in catalogue order.
func (e *Engine) Plan(ideal, raw sheet.Schema) *plan.Plan {
	c := &compiler{
		raw:     indexNames(raw.Names()),
		ideal:   indexNames(ideal.Names()),
		claimed: make(map[string]bool),
		plan:    &plan.Plan{},
	}

	for _, r := range e.cat.Constants {
		if target, ok := c.target(r.Target); ok {
			v := plan.Scalar(r.Value)
			c.add(plan.StepSpec{Kind: plan.KindConstantFill, Target: target, Value: &v})
		}
	}
	for _, r := range e.cat.Synonyms {
		if target, ok := c.target(r.Target); ok {
			if src, ok := c.source(r.Sources); ok {
				c.add(plan.StepSpec{Kind: plan.KindMapColumn, Target: target, Source: src})
			}
		}
	}
	for _, r := range e.cat.Concats {
		target, ok := c.target(r.Target)
		if !ok {
			continue
		}
		var sources []string
		for _, name := range r.Sources {
			if src, ok := c.source([]string{name}); ok {
				sources = append(sources, src)
			}
		}
		if len(sources) == len(r.Sources) && len(sources) > 0 {
			sep := r.Separator
			c.add(plan.StepSpec{Kind: plan.KindConcat, Target: target, Sources: sources, Separator: &sep})
		}
	}
	for _, r := range e.cat.Dates {
		src, ok := c.source(r.Sources)
		if !ok {
			continue
		}
		for _, t := range r.Targets {
			if target, ok := c.target(t.Target); ok {
				c.add(plan.StepSpec{Kind: plan.KindDatePart, Target: target, Source: src, Part: string(t.Part)})
			}
		}
	}
	for _, r := range e.cat.Numeric {
		if target, ok := c.target(r.Target); ok {
			if src, ok := c.source(r.Sources); ok {
				d := r.Decimals
				c.add(plan.StepSpec{Kind: plan.KindMapColumn, Target: target, Source: src, Decimals: &d})
			}
		}
	}
	for _, r := range e.cat.Units {
		if target, ok := c.target(r.Target); ok {
			if src, ok := c.source(r.Sources); ok {
				f := r.Factor
				c.add(plan.StepSpec{Kind: plan.KindUnitConvert, Target: target, Source: src, Factor: &f, Offset: r.Offset, Unit: r.Unit})
			}
		}
	}
	for _, r := range e.cat.Lookups {
		if target, ok := c.target(r.Target); ok {
			if key, ok := c.source(r.Keys); ok {
				c.add(plan.StepSpec{Kind: plan.KindLookup, Target: target, Key: key, Table: &plan.Table{Name: r.Table}})
			}
		}
	}
	if e.cat.ExactNames {
		for _, name := range ideal.Names() {
			if c.claimed[name] {
				continue
			}
			if src, ok := c.source([]string{name}); ok {
				c.add(plan.StepSpec{Kind: plan.KindMapColumn, Target: name, Source: src})
			}
		}
	}
	return c.plan
}

// Run compiles and executes the fallback plan
func (e *Engine) Run(raw *sheet.Sheet, ideal, rawSchema sheet.Schema) (*plan.Validated, *executor.Result) {
	v := plan.Validate(e.Plan(ideal, rawSchema), ideal, rawSchema, e.cat)
	return v, executor.Execute(v, raw, ideal)
}

type compiler struct {
	raw     map[string]string // normalised -> actual name
	ideal   map[string]string
	claimed map[string]bool
	plan    *plan.Plan
}

// target resolves an ideal column that no earlier rule has claimed
func (c *compiler) target(name string) (string, bool) {
	actual, ok := c.ideal[Normalize(name)]
	if !ok || c.claimed[actual] {
		return "", false
	}
	return actual, true
}

// source returns the first candidate present in the raw sheet
func (c *compiler) source(candidates []string) (string, bool) {
	for _, name := range candidates {
		if actual, ok := c.raw[Normalize(name)]; ok {
			return actual, true
		}
	}
	return "", false
}

func (c *compiler) add(s plan.StepSpec) {
	c.claimed[s.Target] = true
	c.plan.Steps = append(c.plan.Steps, s)
}

// indexNames keys names by their normalised form. The first of several
// names with the same key wins.
func indexNames(names []string) map[string]string {
	idx := make(map[string]string, len(names))
	for _, n := range names {
		k := Normalize(n)
		if k == "" {
			continue
		}
		if _, dup := idx[k]; !dup {
			idx[k] = n
		}
	}
	return idx
}
