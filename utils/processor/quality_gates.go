package processor

import (
	"fmt"

	"github.com/kris-hansen/sheetsmith/utils/artifact"
	"github.com/kris-hansen/sheetsmith/utils/config"
	"github.com/kris-hansen/sheetsmith/utils/executor"
)

// QualityGate is the interface that all quality gates must implement. A gate
// looks at the plan result next to the fallback result and decides whether
// the plan may be written.
type QualityGate interface {
	Name() string
	Check(planResult, fallbackResult *executor.Result) *QualityGateResult
}

// QualityGateResult represents the result of running a quality gate
type QualityGateResult struct {
	GateName string                 `json:"gate_name" yaml:"gate_name"`
	Passed   bool                   `json:"passed" yaml:"passed"`
	Message  string                 `json:"message" yaml:"message"`
	Details  map[string]interface{} `json:"details,omitempty" yaml:"details,omitempty"`
}

// FillRateGate passes when the plan fills at least as many required columns
// as the fallback, after adding the configured margin. Ties favour the plan.
type FillRateGate struct {
	required []string
	margin   float64
}

// NewFillRateGate creates the fill-rate comparison gate
func NewFillRateGate(required []string, margin float64) *FillRateGate {
	return &FillRateGate{required: required, margin: margin}
}

func (g *FillRateGate) Name() string {
	return "fill-rate"
}

func (g *FillRateGate) Check(planResult, fallbackResult *executor.Result) *QualityGateResult {
	planRate := planResult.FillRate(g.required)
	fallbackRate := fallbackResult.FillRate(g.required)

	result := &QualityGateResult{
		GateName: g.Name(),
		Passed:   planRate+g.margin >= fallbackRate,
		Details: map[string]interface{}{
			"plan":     planRate,
			"fallback": fallbackRate,
			"margin":   g.margin,
		},
	}
	if result.Passed {
		result.Message = fmt.Sprintf("plan fill rate %.2f (+%.2f margin) >= fallback %.2f", planRate, g.margin, fallbackRate)
	} else {
		result.Message = fmt.Sprintf("plan fill rate %.2f (+%.2f margin) < fallback %.2f", planRate, g.margin, fallbackRate)
	}
	return result
}

// TypeConformanceGate rejects a plan whose numeric and date cells too often
// fail to match the template column types
type TypeConformanceGate struct {
	min float64
}

// NewTypeConformanceGate creates the conformance gate. A minimum of zero
// always passes.
func NewTypeConformanceGate(min float64) *TypeConformanceGate {
	return &TypeConformanceGate{min: min}
}

func (g *TypeConformanceGate) Name() string {
	return "type-conformance"
}

func (g *TypeConformanceGate) Check(planResult, _ *executor.Result) *QualityGateResult {
	rate := planResult.TypeConformance()
	result := &QualityGateResult{
		GateName: g.Name(),
		Passed:   rate >= g.min,
		Details:  map[string]interface{}{"conformance": rate, "minimum": g.min},
	}
	if result.Passed {
		result.Message = fmt.Sprintf("type conformance %.2f >= %.2f", rate, g.min)
	} else {
		result.Message = fmt.Sprintf("type conformance %.2f below minimum %.2f", rate, g.min)
	}
	return result
}

// GatesFromConfig builds the gates the pipeline settings ask for
func GatesFromConfig(cfg config.PipelineConfig) []QualityGate {
	gates := []QualityGate{NewFillRateGate(cfg.RequiredColumns, cfg.PreferPlanMargin)}
	if cfg.MinTypeConformance > 0 {
		gates = append(gates, NewTypeConformanceGate(cfg.MinTypeConformance))
	}
	return gates
}

// Decision is the gate verdict for one job
type Decision struct {
	Engine  string
	Reason  string
	Results []QualityGateResult
	Record  artifact.GateRecord
}

// RunQualityGates picks the result to write. Without a plan result the
// fallback wins outright; otherwise the first failing gate sends the job to
// the fallback.
func RunQualityGates(gates []QualityGate, required []string, margin float64, planResult, fallbackResult *executor.Result) Decision {
	d := Decision{
		Record: artifact.GateRecord{
			FallbackFillRate: fallbackResult.FillRate(required),
			Margin:           margin,
		},
	}

	if planResult == nil {
		d.Engine = artifact.EngineFallback
		d.Reason = "no usable plan"
		d.Record.Reason = d.Reason
		return d
	}

	planRate := planResult.FillRate(required)
	conformance := planResult.TypeConformance()
	d.Record.PlanFillRate = &planRate
	d.Record.TypeConformance = &conformance

	d.Engine = artifact.EnginePlan
	d.Reason = "no quality gates configured"
	for _, gate := range gates {
		result := gate.Check(planResult, fallbackResult)
		d.Results = append(d.Results, *result)
		config.DebugLog("[Gate] %s passed=%v: %s", result.GateName, result.Passed, result.Message)
		if !result.Passed {
			d.Engine = artifact.EngineFallback
			d.Reason = result.GateName + ": " + result.Message
			break
		}
		d.Reason = result.Message
	}
	d.Record.Reason = d.Reason
	return d
}
