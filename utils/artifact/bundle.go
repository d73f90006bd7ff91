package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/kris-hansen/sheetsmith/utils/executor"
	"github.com/kris-hansen/sheetsmith/utils/fileutil"
	"github.com/kris-hansen/sheetsmith/utils/pipelineerr"
	"github.com/kris-hansen/sheetsmith/utils/plan"
	"github.com/kris-hansen/sheetsmith/utils/sheet"
	"gopkg.in/yaml.v3"
)

// Input is everything the writer needs from a finished job
type Input struct {
	JobID            string
	SheetName        string // first sheet of the ideal template
	Engine           string
	PlanStatus       plan.Status
	Proposer         string
	ProposalError    string
	CatalogueVersion string
	Notes            []string
	Gate             GateRecord
	Result           *executor.Result // the result that is written
	Discarded        *executor.Result // the plan result when fallback won
}

// Bundle holds the encoded artifacts of one job
type Bundle struct {
	Summary Summary
	Log     TransformLog
	files   map[Kind][]byte
}

// Build renders all three artifacts in memory
func Build(in Input) (*Bundle, error) {
	const op = "build artifacts"
	if in.Result == nil {
		return nil, pipelineerr.New(pipelineerr.ErrWrite, op, "no result to write")
	}
	res := in.Result

	applied, skipped, invalid := res.Counts()
	b := &Bundle{
		Summary: Summary{
			JobID:         in.JobID,
			Engine:        in.Engine,
			PlanStatus:    in.PlanStatus,
			ProposalError: in.ProposalError,
			GateReason:    in.Gate.Reason,
			FillRates: FillRates{
				Plan:     in.Gate.PlanFillRate,
				Fallback: in.Gate.FallbackFillRate,
				Margin:   in.Gate.Margin,
			},
			TypeConformance:  res.TypeConformance(),
			ColumnsFilled:    nonNil(res.FilledColumns()),
			ColumnsEmpty:     nonNil(res.EmptyColumns()),
			Steps:            StepCounts{Applied: applied, Skipped: skipped, Invalid: invalid},
			Warnings:         len(res.Warnings),
			RowsRaw:          res.RowsIn,
			RowsIdeal:        len(res.Rows),
			RowsRemoved:      res.RowsRemoved,
			CatalogueVersion: in.CatalogueVersion,
			OutputDigest:     Digest(res),
		},
		Log: TransformLog{
			JobID:            in.JobID,
			Engine:           in.Engine,
			PlanStatus:       in.PlanStatus,
			Proposer:         in.Proposer,
			ProposalError:    in.ProposalError,
			CatalogueVersion: in.CatalogueVersion,
			Gate:             in.Gate,
			Notes:            in.Notes,
			Steps:            nonNilSteps(stepEntries(res.Outcomes)),
			Filters:          filterNotes(res.Outcomes),
			Warnings:         res.Warnings,
		},
		files: make(map[Kind][]byte, 3),
	}
	if in.Discarded != nil {
		b.Log.DiscardedPlanSteps = stepEntries(in.Discarded.Outcomes)
	}

	xlsx, err := sheet.EncodeXLSX(in.SheetName, res.Header, res.Types, res.Rows)
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.ErrWrite, op, err)
	}
	b.files[KindIdeal] = xlsx

	var logBuf bytes.Buffer
	enc := yaml.NewEncoder(&logBuf)
	enc.SetIndent(2)
	if err := enc.Encode(b.Log); err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.ErrWrite, op, fmt.Errorf("error encoding transform log: %w", err))
	}
	if err := enc.Close(); err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.ErrWrite, op, err)
	}
	b.files[KindLog] = logBuf.Bytes()

	summary, err := json.MarshalIndent(b.Summary, "", "  ")
	if err != nil {
		return nil, pipelineerr.Wrap(pipelineerr.ErrWrite, op, fmt.Errorf("error encoding summary: %w", err))
	}
	b.files[KindSummary] = append(summary, '\n')

	return b, nil
}

// Bytes returns the encoded artifact
func (b *Bundle) Bytes(k Kind) []byte {
	return b.files[k]
}

// WriteDir writes every artifact into dir, each file written once. The first
// failure stops the write; the caller discards dir.
func (b *Bundle) WriteDir(dir string) error {
	for _, k := range Kinds() {
		data, ok := b.files[k]
		if !ok {
			return pipelineerr.New(pipelineerr.ErrWrite, "write artifacts", "artifact %s was not built", k)
		}
		if _, err := fileutil.WriteOnce(filepath.Join(dir, k.FileName()), bytes.NewReader(data)); err != nil {
			return pipelineerr.Wrap(pipelineerr.ErrWrite, "write "+k.FileName(), err)
		}
	}
	return nil
}

var errNoSummary = errors.New("summary is empty")

// ReadSummary decodes the summary bytes of a published job
func ReadSummary(data []byte) (*Summary, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errNoSummary
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("error parsing summary: %w", err)
	}
	return &s, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilSteps(s []StepEntry) []StepEntry {
	if s == nil {
		return []StepEntry{}
	}
	return s
}
