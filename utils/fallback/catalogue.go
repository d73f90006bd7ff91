// Package fallback holds the deterministic rule catalogue used when the
// proposed plan is missing, unusable or worse than the rules.
package fallback

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/kris-hansen/sheetsmith/utils/plan"
	"gopkg.in/yaml.v3"
)

//go:embed catalogue.yaml
var builtinCatalogue []byte

// Catalogue is a versioned rule set. It is loaded once and never modified.
type Catalogue struct {
	Version    string                       `yaml:"version"`
	Name       string                       `yaml:"name"`
	Constants  []ConstantRule               `yaml:"constants"`
	Synonyms   []SynonymRule                `yaml:"synonyms"`
	Concats    []ConcatRule                 `yaml:"concat"`
	Dates      []DateRule                   `yaml:"dates"`
	Numeric    []NumericRule                `yaml:"numeric"`
	Units      []UnitRule                   `yaml:"units"`
	Lookups    []LookupRule                 `yaml:"lookups"`
	Tables     map[string]map[string]string `yaml:"tables"`
	ExactNames bool                         `yaml:"exact_names"`
}

// ConstantRule fills target with the same value on every row
type ConstantRule struct {
	Target string `yaml:"target"`
	Value  string `yaml:"value"`
}

// SynonymRule copies the first raw column present among sources
type SynonymRule struct {
	Target  string   `yaml:"target"`
	Sources []string `yaml:"sources"`
}

// ConcatRule joins sources when all of them are present
type ConcatRule struct {
	Target    string   `yaml:"target"`
	Sources   []string `yaml:"sources"`
	Separator string   `yaml:"separator"`
}

// DateRule derives several targets from the first date column present
type DateRule struct {
	Sources []string `yaml:"sources"`
	Targets []struct {
		Target string            `yaml:"target"`
		Part   plan.DatePartKind `yaml:"part"`
	} `yaml:"targets"`
}

// NumericRule copies a number rounded to Decimals
type NumericRule struct {
	Target   string   `yaml:"target"`
	Sources  []string `yaml:"sources"`
	Decimals int      `yaml:"decimals"`
}

// UnitRule converts value*Factor + Offset
type UnitRule struct {
	Target  string   `yaml:"target"`
	Sources []string `yaml:"sources"`
	Factor  float64  `yaml:"factor"`
	Offset  float64  `yaml:"offset"`
	Unit    string   `yaml:"unit"`
}

// LookupRule maps a key column through a named table
type LookupRule struct {
	Target string   `yaml:"target"`
	Keys   []string `yaml:"keys"`
	Table  string   `yaml:"table"`
}

// Table implements plan.TableResolver
func (c *Catalogue) Table(name string) (map[string]string, bool) {
	t, ok := c.Tables[name]
	return t, ok
}

// TableNames lists the lookup tables in sorted order
func (c *Catalogue) TableNames() []string {
	names := make([]string, 0, len(c.Tables))
	for n := range c.Tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Parse decodes and checks a catalogue
func Parse(data []byte) (*Catalogue, error) {
	var c Catalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("error parsing catalogue: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalogue) validate() error {
	var problems []string
	if strings.TrimSpace(c.Version) == "" {
		problems = append(problems, "version is required")
	}
	for i, r := range c.Units {
		if r.Factor == 0 {
			problems = append(problems, fmt.Sprintf("units[%d] (%s): factor cannot be zero", i, r.Target))
		}
	}
	for i, r := range c.Numeric {
		if r.Decimals < 0 {
			problems = append(problems, fmt.Sprintf("numeric[%d] (%s): decimals cannot be negative", i, r.Target))
		}
	}
	for i, r := range c.Lookups {
		if len(c.Tables[r.Table]) == 0 {
			problems = append(problems, fmt.Sprintf("lookups[%d] (%s): table %q is missing or empty", i, r.Target, r.Table))
		}
	}
	for i, r := range c.Dates {
		for _, t := range r.Targets {
			switch t.Part {
			case plan.PartDate, plan.PartCalendarYear, plan.PartFiscalYear:
			default:
				problems = append(problems, fmt.Sprintf("dates[%d] (%s): unknown part %q", i, t.Target, t.Part))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid catalogue: %s", strings.Join(problems, "; "))
	}
	return nil
}

var (
	builtinOnce sync.Once
	builtin     *Catalogue
	builtinErr  error
)

// Builtin returns the catalogue compiled into the binary
func Builtin() (*Catalogue, error) {
	builtinOnce.Do(func() {
		builtin, builtinErr = Parse(builtinCatalogue)
	})
	return builtin, builtinErr
}

// Load reads a catalogue file, or returns the built-in one when path is empty
func Load(path string) (*Catalogue, error) {
	if path == "" {
		return Builtin()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading catalogue %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// BuiltinSource returns the embedded catalogue text
func BuiltinSource() []byte {
	return builtinCatalogue
}
