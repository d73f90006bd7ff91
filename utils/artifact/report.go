package artifact

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/kris-hansen/sheetsmith/utils/executor"
	"github.com/kris-hansen/sheetsmith/utils/plan"
)

// Engine values: which result was written
const (
	EnginePlan     = "plan"
	EngineFallback = "fallback"
)

// StepCounts tallies step outcomes of the written result
type StepCounts struct {
	Applied int `json:"applied" yaml:"applied"`
	Skipped int `json:"skipped" yaml:"skipped"`
	Invalid int `json:"invalid" yaml:"invalid"`
}

// FillRates are the gate inputs. Plan is absent when no plan was executed.
type FillRates struct {
	Plan     *float64 `json:"plan" yaml:"plan"`
	Fallback float64  `json:"fallback" yaml:"fallback"`
	Margin   float64  `json:"prefer_plan_margin" yaml:"prefer_plan_margin"`
}

// Summary is the machine-readable outcome of a job. It holds no timestamps so
// identical inputs give identical bytes.
type Summary struct {
	JobID            string      `json:"job_id"`
	Engine           string      `json:"engine"`
	PlanStatus       plan.Status `json:"plan_status"`
	ProposalError    string      `json:"proposal_error,omitempty"`
	GateReason       string      `json:"gate_reason"`
	FillRates        FillRates   `json:"fill_rates"`
	TypeConformance  float64     `json:"type_conformance"`
	ColumnsFilled    []string    `json:"columns_filled"`
	ColumnsEmpty     []string    `json:"columns_empty"`
	Steps            StepCounts  `json:"steps"`
	Warnings         int         `json:"warnings"`
	RowsRaw          int         `json:"rows_raw"`
	RowsIdeal        int         `json:"rows_ideal"`
	RowsRemoved      int         `json:"rows_removed"`
	CatalogueVersion string      `json:"catalogue_version"`
	OutputDigest     string      `json:"output_digest"`
}

// GateRecord explains the engine choice in the log
type GateRecord struct {
	PlanFillRate     *float64 `yaml:"plan_fill_rate"`
	FallbackFillRate float64  `yaml:"fallback_fill_rate"`
	Margin           float64  `yaml:"prefer_plan_margin"`
	TypeConformance  *float64 `yaml:"plan_type_conformance,omitempty"`
	Reason           string   `yaml:"reason"`
}

// StepEntry is one plan step as the log shows it
type StepEntry struct {
	Index       int       `yaml:"index"`
	Kind        plan.Kind `yaml:"kind"`
	Target      string    `yaml:"target,omitempty"`
	Outcome     string    `yaml:"outcome"`
	Detail      string    `yaml:"detail,omitempty"`
	RowsRemoved int       `yaml:"rows_removed,omitempty"`
	Warnings    int       `yaml:"warnings,omitempty"`
}

// TransformLog is the human-readable audit trail written as YAML
type TransformLog struct {
	JobID              string             `yaml:"job_id"`
	Engine             string             `yaml:"engine"`
	PlanStatus         plan.Status        `yaml:"plan_status"`
	Proposer           string             `yaml:"proposer"`
	ProposalError      string             `yaml:"proposal_error,omitempty"`
	CatalogueVersion   string             `yaml:"catalogue_version"`
	Gate               GateRecord         `yaml:"gate"`
	Notes              []string           `yaml:"notes,omitempty"`
	Steps              []StepEntry        `yaml:"steps"`
	Filters            []string           `yaml:"filters,omitempty"`
	Warnings           []executor.Warning `yaml:"warnings,omitempty"`
	DiscardedPlanSteps []StepEntry        `yaml:"discarded_plan_steps,omitempty"`
}

func stepEntries(outcomes []executor.Outcome) []StepEntry {
	if len(outcomes) == 0 {
		return nil
	}
	out := make([]StepEntry, len(outcomes))
	for i, o := range outcomes {
		out[i] = StepEntry{
			Index:       o.Index,
			Kind:        o.Kind,
			Target:      o.Target,
			Outcome:     o.Outcome,
			Detail:      o.Detail,
			RowsRemoved: o.RowsRemoved,
			Warnings:    o.Warnings,
		}
	}
	return out
}

func filterNotes(outcomes []executor.Outcome) []string {
	var notes []string
	for _, o := range outcomes {
		if o.Kind == plan.KindFilterRows && o.Outcome == executor.OutcomeApplied {
			notes = append(notes, fmt.Sprintf("step %d: %s", o.Index, o.Detail))
		}
	}
	return notes
}

// Digest fingerprints the written table: header, column types and cells. The
// workbook bytes are not hashed because the container carries its own
// metadata.
func Digest(r *executor.Result) string {
	d := xxhash.New()
	const unitSep, recordSep = "\x1f", "\x1e"
	write := func(cells []string) {
		for _, c := range cells {
			d.WriteString(c)
			d.WriteString(unitSep)
		}
		d.WriteString(recordSep)
	}
	write(r.Header)
	types := make([]string, len(r.Types))
	for i, t := range r.Types {
		types[i] = string(t)
	}
	write(types)
	for _, row := range r.Rows {
		write(row)
	}
	return fmt.Sprintf("xxh64:%016x", d.Sum64())
}
