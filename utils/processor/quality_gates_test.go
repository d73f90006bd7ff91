package processor

import (
	"testing"

	"github.com/kris-hansen/sheetsmith/utils/artifact"
	"github.com/kris-hansen/sheetsmith/utils/config"
	"github.com/kris-hansen/sheetsmith/utils/executor"
	"github.com/kris-hansen/sheetsmith/utils/sheet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// result builds a three-column output table
func result(declared []sheet.Type, rows ...[]string) *executor.Result {
	header := []string{"ID", "Quantity", "Price"}
	return &executor.Result{Header: header, Types: declared, Declared: declared, Rows: rows}
}

func TestRunQualityGates(t *testing.T) {
	text := []sheet.Type{sheet.TypeText, sheet.TypeText, sheet.TypeText}
	numeric := []sheet.Type{sheet.TypeText, sheet.TypeNumeric, sheet.TypeNumeric}

	tests := []struct {
		name       string
		gates      []QualityGate
		required   []string
		margin     float64
		plan       *executor.Result
		fallback   *executor.Result
		wantEngine string
		wantReason string
	}{
		{
			name:       "no plan",
			gates:      []QualityGate{NewFillRateGate(nil, 0)},
			plan:       nil,
			fallback:   result(text, []string{"a", "", ""}),
			wantEngine: artifact.EngineFallback,
			wantReason: "no usable plan",
		},
		{
			name:       "tie favours plan",
			gates:      []QualityGate{NewFillRateGate(nil, 0)},
			plan:       result(text, []string{"a", "1", ""}),
			fallback:   result(text, []string{"", "1", "2"}),
			wantEngine: artifact.EnginePlan,
			wantReason: "plan fill rate 0.67",
		},
		{
			name:       "fallback fills more",
			gates:      []QualityGate{NewFillRateGate(nil, 0)},
			plan:       result(text, []string{"a", "", ""}),
			fallback:   result(text, []string{"a", "1", "2"}),
			wantEngine: artifact.EngineFallback,
			wantReason: "fill-rate: plan fill rate 0.33",
		},
		{
			name:       "margin keeps plan",
			gates:      []QualityGate{NewFillRateGate(nil, 0.4)},
			margin:     0.4,
			plan:       result(text, []string{"a", "1", ""}),
			fallback:   result(text, []string{"a", "1", "2"}),
			wantEngine: artifact.EnginePlan,
		},
		{
			name:       "required columns only",
			gates:      []QualityGate{NewFillRateGate([]string{"ID"}, 0)},
			required:   []string{"ID"},
			plan:       result(text, []string{"a", "", ""}),
			fallback:   result(text, []string{"a", "1", "2"}),
			wantEngine: artifact.EnginePlan,
		},
		{
			name:       "type conformance rejects",
			gates:      []QualityGate{NewFillRateGate(nil, 0), NewTypeConformanceGate(0.9)},
			plan:       result(numeric, []string{"a", "two", "9.99"}, []string{"b", "three", "1"}),
			fallback:   result(numeric, []string{"a", "", ""}),
			wantEngine: artifact.EngineFallback,
			wantReason: "type-conformance: type conformance 0.50 below minimum 0.90",
		},
		{
			name:       "no gates",
			plan:       result(text, []string{"", "", ""}),
			fallback:   result(text, []string{"a", "1", "2"}),
			wantEngine: artifact.EnginePlan,
			wantReason: "no quality gates configured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := RunQualityGates(tt.gates, tt.required, tt.margin, tt.plan, tt.fallback)
			assert.Equal(t, tt.wantEngine, d.Engine)
			if tt.wantReason != "" {
				assert.Contains(t, d.Reason, tt.wantReason)
			}
			assert.Equal(t, d.Reason, d.Record.Reason)
			assert.Equal(t, tt.margin, d.Record.Margin)
			if tt.plan == nil {
				assert.Nil(t, d.Record.PlanFillRate)
			} else {
				require.NotNil(t, d.Record.PlanFillRate)
			}
		})
	}
}

func TestGatesFromConfig(t *testing.T) {
	cfg := config.Default().Pipeline
	cfg.MinTypeConformance = 0
	gates := GatesFromConfig(cfg)
	require.Len(t, gates, 1)
	assert.Equal(t, "fill-rate", gates[0].Name())

	cfg.MinTypeConformance = 0.8
	gates = GatesFromConfig(cfg)
	require.Len(t, gates, 2)
	assert.Equal(t, "type-conformance", gates[1].Name())
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
		want bool
	}{
		{StateReceived, StatePlanning, true},
		{StatePlanning, StateExecuting, true},
		{StateExecuting, StateGated, true},
		{StateGated, StateFinalized, true},
		{StateFinalized, StateReady, true},
		{StateReceived, StateExecuting, false},
		{StatePlanning, StateReady, false},
		{StateGated, StatePlanning, false},
		{StateReceived, StateFailed, true},
		{StateFinalized, StateFailed, true},
		{StateReady, StateFailed, false},
		{StateFailed, StatePlanning, false},
		{StateFailed, StateFailed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}

	j := &Job{ID: "x", Status: StateReceived}
	require.NoError(t, j.transition(StatePlanning))
	assert.False(t, j.Updated.IsZero())
	assert.Error(t, j.transition(StateReady))
	assert.Equal(t, StatePlanning, j.Status)
}
