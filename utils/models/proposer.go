package models

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kris-hansen/sheetsmith/utils/config"
	"github.com/kris-hansen/sheetsmith/utils/pipelineerr"
	"github.com/kris-hansen/sheetsmith/utils/sheet"
)

// DefaultMaxInstructionChars caps the instructions quoted into the prompt
const DefaultMaxInstructionChars = 4000

// promptSamples is how many sample values per column the prompt shows
const promptSamples = 3

const planGuide = `You are a data standardization planner. Read the instructions and produce a JSON plan
describing how to fill the IDEAL columns from the RAW columns. Respond with ONLY the JSON object.

Plan format:
{
  "steps": [
    {"kind":"map_column", "source":"<raw col>", "target":"<ideal col>", "decimals":2},
    {"kind":"apply_formula", "target":"<ideal col>", "expression":"[Qty] * [Unit Price]"},
    {"kind":"constant_fill", "target":"<ideal col>", "value":"<constant>"},
    {"kind":"unit_convert", "source":"<raw col>", "target":"<ideal col>", "factor":0.01, "offset":0, "unit":"USD"},
    {"kind":"lookup", "key":"<raw col>", "target":"<ideal col>", "table":{"<raw value>":"<ideal value>"}},
    {"kind":"concat", "sources":["<raw col A>","<raw col B>"], "separator":" ", "target":"<ideal col>"},
    {"kind":"date_part", "source":"<raw date col>", "target":"<ideal col>", "part":"date|calendar_year|fiscal_year"},
    {"kind":"filter_rows", "expression":"[Status] != \"cancelled\""}
  ],
  "notes": ["short notes about assumptions or skipped rules"]
}

Rules:
- Use only column names listed below, spelled exactly.
- At most one step per ideal column. Leave a column out when nothing fits.
- "decimals" is optional and only applies to numeric columns.
- Expressions may use numbers, "strings", [Column Name] references, + - * /, & for
  concatenation, = != < <= > >=, and/or/not, parentheses and if(cond, a, b).
- fiscal_year is the July-June fiscal year (year + 1 from July onwards).
- Use filter_rows only when the instructions ask to drop rows.
`

// TruncateRunes shortens s to at most limit characters without splitting a
// multi-byte character. A limit of zero or less leaves s unchanged.
func TruncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

// BuildPrompt renders the proposal prompt. The same inputs always produce the
// same bytes.
func BuildPrompt(instructions string, ideal, raw sheet.Schema, maxInstructionChars int) string {
	var b strings.Builder
	b.WriteString(planGuide)

	b.WriteString("\nRAW COLUMNS:\n")
	writeColumns(&b, raw)
	b.WriteString("\nIDEAL COLUMNS:\n")
	writeColumns(&b, ideal)

	b.WriteString("\nINSTRUCTIONS (verbatim):\n")
	b.WriteString(TruncateRunes(strings.TrimSpace(instructions), maxInstructionChars))
	b.WriteString("\n")
	return b.String()
}

func writeColumns(b *strings.Builder, s sheet.Schema) {
	if len(s.Columns) == 0 {
		b.WriteString("- (none)\n")
		return
	}
	for _, c := range s.Columns {
		fmt.Fprintf(b, "- %q (%s)", c.Name, c.Type)
		samples := c.Samples
		if len(samples) > promptSamples {
			samples = samples[:promptSamples]
		}
		if len(samples) > 0 {
			quoted := make([]string, len(samples))
			for i, v := range samples {
				quoted[i] = fmt.Sprintf("%q", TruncateRunes(v, 60))
			}
			fmt.Fprintf(b, " e.g. %s", strings.Join(quoted, ", "))
		}
		b.WriteString("\n")
	}
}

// Proposal is what one proposer call produced
type Proposal struct {
	Provider string
	Model    string
	Prompt   string
	Response string
	Duration time.Duration
}

// Proposer asks a local model for a transformation plan, once per job
type Proposer struct {
	provider            Provider
	model               string
	timeout             time.Duration
	maxInstructionChars int
}

// NewProposer wraps provider. A nil provider makes every proposal unavailable.
func NewProposer(provider Provider, model string, timeout time.Duration, maxInstructionChars int) *Proposer {
	if maxInstructionChars <= 0 {
		maxInstructionChars = DefaultMaxInstructionChars
	}
	return &Proposer{
		provider:            provider,
		model:               model,
		timeout:             timeout,
		maxInstructionChars: maxInstructionChars,
	}
}

// NewProposerFromConfig builds the provider named in cfg and wraps it
func NewProposerFromConfig(cfg config.ProposerConfig, httpClient *http.Client) (*Proposer, error) {
	provider, err := NewProvider(cfg, httpClient)
	if err != nil {
		return nil, err
	}
	return NewProposer(provider, cfg.Model, cfg.Timeout(), cfg.MaxInstructionChars), nil
}

// Enabled reports whether a model provider is configured
func (p *Proposer) Enabled() bool {
	return p != nil && p.provider != nil
}

// Describe names the provider and model for logs
func (p *Proposer) Describe() string {
	if !p.Enabled() {
		return config.ProviderNone
	}
	return p.provider.Name() + "/" + p.model
}

// Check verifies that the configured model is being served
func (p *Proposer) Check(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	return p.provider.CheckModel(ctx, p.model)
}

// Propose sends the prompt exactly once. Failures, timeouts and empty answers
// all come back as ErrProposalUnavailable. The returned Proposal is never nil
// so callers can keep the prompt for the audit trail.
func (p *Proposer) Propose(ctx context.Context, instructions string, ideal, raw sheet.Schema) (*Proposal, error) {
	const op = "propose plan"

	if !p.Enabled() {
		return &Proposal{}, pipelineerr.New(pipelineerr.ErrProposalUnavailable, op, "no model provider configured")
	}

	prop := &Proposal{
		Provider: p.provider.Name(),
		Model:    p.model,
		Prompt:   BuildPrompt(instructions, ideal, raw, p.maxInstructionChars),
	}

	callCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	config.VerboseLog("Requesting plan from %s", p.Describe())
	start := time.Now()
	resp, err := p.provider.SendPrompt(callCtx, p.model, prop.Prompt)
	prop.Duration = time.Since(start)
	if err != nil {
		if callCtx.Err() != nil && ctx.Err() == nil {
			return prop, pipelineerr.New(pipelineerr.ErrProposalUnavailable, op, "no answer from %s within %s", p.Describe(), p.timeout)
		}
		return prop, pipelineerr.Wrap(pipelineerr.ErrProposalUnavailable, op, err)
	}

	prop.Response = resp
	if strings.TrimSpace(resp) == "" {
		return prop, pipelineerr.New(pipelineerr.ErrProposalUnavailable, op, "%s returned an empty response", p.Describe())
	}
	return prop, nil
}
