package display

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kris-hansen/sheetsmith/utils/artifact"
	"github.com/kris-hansen/sheetsmith/utils/plan"
	"github.com/kris-hansen/sheetsmith/utils/processor"
	"github.com/stretchr/testify/assert"
)

func plain() *Styler {
	return NewStyler(&StyleConfig{UseColors: false, UseUnicode: false})
}

func TestRate(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{0, ".......... 0.00"},
		{0.5, "#####..... 0.50"},
		{2.0 / 3.0, "#######... 0.67"},
		{1, "########## 1.00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, plain().Rate(tt.rate))
	}
}

func TestJobReportReady(t *testing.T) {
	rate := 1.0
	job := &processor.Job{ID: "3f1c2d9e-8a4b-4c6d-9e0f-1a2b3c4d5e6f", Status: processor.StateReady, Source: "plan"}
	summary := &artifact.Summary{
		Engine:       artifact.EnginePlan,
		PlanStatus:   plan.StatusValid,
		FillRates:    artifact.FillRates{Plan: &rate, Fallback: 0.25},
		ColumnsEmpty: []string{"Notes"},
		Warnings:     2,
		RowsRaw:      10,
		RowsIdeal:    9,
		RowsRemoved:  1,
	}

	out := plain().JobReport("raw.csv", job, summary, "out/raw/ideal_filled.xlsx")
	for _, want := range []string{
		"raw.csv  [OK] ready",
		job.ID,
		"plan (plan valid)",
		"########## 1.00",
		"###....... 0.25",
		"10 raw -> 9 written",
		"Notes",
		"out/raw/ideal_filled.xlsx",
	} {
		assert.Contains(t, out, want)
	}
	assert.True(t, strings.HasPrefix(out, "+"), "ascii border")
}

func TestJobReportFailed(t *testing.T) {
	job := &processor.Job{ID: "x", Status: processor.StateFailed, Reason: "job cancelled before it was finalized"}
	out := plain().JobReport("raw.csv", job, nil, "")
	assert.Contains(t, out, "[FAIL] failed")
	assert.Contains(t, out, "job cancelled before it was finalized")
	assert.NotContains(t, out, "engine")
}

func TestSpinnerSilentWithoutTerminal(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner(&buf)
	s.Start("Standardizing")
	s.Stop()
	s.Stop()
	assert.Empty(t, buf.String())
	assert.False(t, IsTerminal(&buf))
}
