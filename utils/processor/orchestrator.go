package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/kris-hansen/sheetsmith/utils/artifact"
	"github.com/kris-hansen/sheetsmith/utils/config"
	"github.com/kris-hansen/sheetsmith/utils/executor"
	"github.com/kris-hansen/sheetsmith/utils/fallback"
	"github.com/kris-hansen/sheetsmith/utils/instructions"
	"github.com/kris-hansen/sheetsmith/utils/jobstore"
	"github.com/kris-hansen/sheetsmith/utils/models"
	"github.com/kris-hansen/sheetsmith/utils/pipelineerr"
	"github.com/kris-hansen/sheetsmith/utils/plan"
	"github.com/kris-hansen/sheetsmith/utils/sheet"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrJobFailed is returned when finalizing a job that has already failed
var ErrJobFailed = errors.New("job failed")

// Upload is one submitted file
type Upload struct {
	Name string
	Body io.Reader
}

// Submission carries the three files of a job
type Submission struct {
	Ideal        Upload
	Raw          Upload
	Instructions Upload
}

// Options configures an Orchestrator
type Options struct {
	Store    *jobstore.Store
	Proposer *models.Proposer // nil sends every job to the fallback rules
	Fallback *fallback.Engine
	Pipeline config.PipelineConfig
	Logger   *zap.Logger
}

// Orchestrator drives jobs through their lifecycle. Jobs are independent;
// the only shared state is the job registry and the immutable catalogue.
type Orchestrator struct {
	store    *jobstore.Store
	proposer *models.Proposer
	fallback *fallback.Engine
	pipeline config.PipelineConfig
	gates    []QualityGate
	log      *zap.Logger
	slots    chan struct{}

	mu   sync.Mutex
	jobs map[string]*jobEntry
}

type jobEntry struct {
	run sync.Mutex // held for the whole of a finalize
	mu  sync.Mutex
	job Job
}

func (e *jobEntry) snapshot() Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job
}

func (e *jobEntry) update(fn func(j *Job) error) (Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := fn(&e.job)
	return e.job, err
}

// New creates an orchestrator and loads the jobs already on disk
func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, errors.New("job store is required")
	}
	if opts.Fallback == nil {
		return nil, errors.New("fallback engine is required")
	}
	if opts.Logger == nil {
		opts.Logger = config.Logger()
	}
	if opts.Pipeline.IOTimeoutSeconds <= 0 {
		opts.Pipeline.IOTimeoutSeconds = config.Default().Pipeline.IOTimeoutSeconds
	}
	workers := opts.Pipeline.MaxConcurrentJobs
	if workers <= 0 {
		workers = 1
	}

	o := &Orchestrator{
		store:    opts.Store,
		proposer: opts.Proposer,
		fallback: opts.Fallback,
		pipeline: opts.Pipeline,
		gates:    GatesFromConfig(opts.Pipeline),
		log:      opts.Logger,
		slots:    make(chan struct{}, workers),
		jobs:     make(map[string]*jobEntry),
	}
	if err := o.recoverJobs(); err != nil {
		return nil, err
	}
	return o, nil
}

// recoverJobs registers the jobs found in the store. A job caught mid-run by
// a restart cannot resume and is marked failed, unless its artifacts were
// already published.
func (o *Orchestrator) recoverJobs() error {
	ids, err := o.store.List()
	if err != nil {
		return fmt.Errorf("error listing jobs: %w", err)
	}
	for _, id := range ids {
		var j Job
		if err := o.store.LoadState(id, &j); err != nil || j.ID != id {
			o.log.Warn("skipping job without a readable record", zap.String("job_id", id), zap.Error(err))
			continue
		}
		before := j.Status
		switch {
		case j.Status == StateFinalized && o.store.Published(id):
			j.Status = StateReady
		case j.Status == StateReady && !o.store.Published(id):
			j.Status = StateFailed
			j.Reason = "published artifacts are missing"
		case !j.Status.Terminal() && j.Status != StateReceived:
			j.Status = StateFailed
			j.Reason = "interrupted at " + string(before) + " by a restart"
		}
		if j.Status != before {
			j.Updated = time.Now().UTC()
			if err := o.store.SaveState(id, j); err != nil {
				o.log.Warn("could not update recovered job", zap.String("job_id", id), zap.Error(err))
			}
		}
		o.jobs[id] = &jobEntry{job: j}
	}
	if len(ids) > 0 {
		o.log.Info("recovered jobs", zap.Int("count", len(o.jobs)))
	}
	return nil
}

// Submit stores the three uploads of a new job and returns it in the received
// state
func (o *Orchestrator) Submit(ctx context.Context, sub Submission) (*Job, error) {
	const op = "submit job"
	uploads := []struct {
		role jobstore.Role
		up   Upload
		slot *string
	}{
		{jobstore.RoleIdeal, sub.Ideal, nil},
		{jobstore.RoleRaw, sub.Raw, nil},
		{jobstore.RoleInstructions, sub.Instructions, nil},
	}
	for _, u := range uploads {
		if u.up.Body == nil || u.up.Name == "" {
			return nil, pipelineerr.New(pipelineerr.ErrInput, op, "missing %s file", u.role)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := jobstore.NewID()
	if _, err := o.store.Create(id); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	e := &jobEntry{job: Job{ID: id, Status: StateReceived, Created: now, Updated: now}}
	uploads[0].slot = &e.job.Inputs.Ideal
	uploads[1].slot = &e.job.Inputs.Raw
	uploads[2].slot = &e.job.Inputs.Instructions

	o.mu.Lock()
	o.jobs[id] = e
	o.mu.Unlock()

	log := o.log.With(zap.String("job_id", id))
	for _, u := range uploads {
		path, err := o.store.SaveUpload(id, u.role, u.up.Name, u.up.Body)
		if err != nil {
			return o.fail(e, log, err)
		}
		e.mu.Lock()
		*u.slot = filepath.Base(path)
		e.mu.Unlock()
	}
	if err := o.store.SaveState(id, e.snapshot()); err != nil {
		return o.fail(e, log, err)
	}

	log.Info("job received", zap.String("stage", string(StateReceived)))
	j := e.snapshot()
	return &j, nil
}

// Process submits and finalizes a job in one call
func (o *Orchestrator) Process(ctx context.Context, sub Submission) (*Job, error) {
	j, err := o.Submit(ctx, sub)
	if err != nil {
		return j, err
	}
	return o.Finalize(ctx, j.ID)
}

// Finalize runs the pipeline for a received job. A ready job is returned as
// is without recomputation. Calls for the same job are serialized.
func (o *Orchestrator) Finalize(ctx context.Context, id string) (*Job, error) {
	e, err := o.entry(id)
	if err != nil {
		return nil, err
	}
	e.run.Lock()
	defer e.run.Unlock()

	j := e.snapshot()
	switch j.Status {
	case StateReady:
		config.DebugLog("Job %s already finalized, returning stored artifacts", id)
		return &j, nil
	case StateFailed:
		return &j, fmt.Errorf("%w: %s", ErrJobFailed, j.Reason)
	case StateReceived:
	default:
		return &j, fmt.Errorf("job %s is %s", id, j.Status)
	}

	log := o.log.With(zap.String("job_id", id))
	select {
	case o.slots <- struct{}{}:
		defer func() { <-o.slots }()
	case <-ctx.Done():
		return o.fail(e, log, ctx.Err())
	}
	return o.run(ctx, e, log)
}

// Job returns a copy of the job record
func (o *Orchestrator) Job(id string) (*Job, error) {
	e, err := o.entry(id)
	if err != nil {
		return nil, err
	}
	j := e.snapshot()
	return &j, nil
}

// Artifact returns one published artifact of a ready job
func (o *Orchestrator) Artifact(id string, kind artifact.Kind) ([]byte, error) {
	e, err := o.entry(id)
	if err != nil {
		return nil, err
	}
	if j := e.snapshot(); j.Status != StateReady {
		return nil, pipelineerr.New(pipelineerr.ErrNotReady, "download", "job %s is %s", id, j.Status)
	}
	return o.store.ReadArtifact(id, kind.FileName())
}

// Summary decodes the published summary of a ready job
func (o *Orchestrator) Summary(id string) (*artifact.Summary, error) {
	data, err := o.Artifact(id, artifact.KindSummary)
	if err != nil {
		return nil, err
	}
	return artifact.ReadSummary(data)
}

func (o *Orchestrator) entry(id string) (*jobEntry, error) {
	o.mu.Lock()
	e, ok := o.jobs[id]
	o.mu.Unlock()
	if !ok {
		return nil, pipelineerr.New(pipelineerr.ErrNotFound, "job", "unknown job %q", id)
	}
	return e, nil
}

func (o *Orchestrator) run(ctx context.Context, e *jobEntry, log *zap.Logger) (*Job, error) {
	start := time.Now()
	id := e.snapshot().ID
	dir, err := o.store.JobDir(id)
	if err != nil {
		return o.fail(e, log, err)
	}
	if err := o.advance(e, StatePlanning); err != nil {
		return o.fail(e, log, err)
	}
	inputs := e.snapshot().Inputs

	raw, ideal, err := o.inspect(ctx, filepath.Join(dir, inputs.Raw), filepath.Join(dir, inputs.Ideal))
	if err != nil {
		return o.fail(e, log, err)
	}
	rawSchema := sheet.Inspect(raw, o.pipeline.SampleSize)
	idealSchema := sheet.Inspect(ideal, o.pipeline.SampleSize)
	log.Info("inputs inspected",
		zap.String("stage", string(StatePlanning)),
		zap.Int("raw_rows", len(raw.Rows)),
		zap.Int("raw_columns", len(rawSchema.Columns)),
		zap.Int("ideal_columns", len(idealSchema.Columns)))

	text := instructions.Extract(filepath.Join(dir, inputs.Instructions))
	if err := o.store.WriteOnce(id, jobstore.InstructionsText, []byte(text)); err != nil {
		return o.fail(e, log, err)
	}

	validated, notes, proposalErr, err := o.proposePlan(ctx, id, text, idealSchema, rawSchema, log)
	if err != nil {
		return o.fail(e, log, err)
	}

	if err := o.advance(e, StateExecuting); err != nil {
		return o.fail(e, log, err)
	}
	var planResult *executor.Result
	if len(validated.Usable()) > 0 {
		planResult = executor.Execute(validated, raw, idealSchema)
	}
	_, fallbackResult := o.fallback.Run(raw, idealSchema, rawSchema)
	if err := ctx.Err(); err != nil {
		return o.fail(e, log, err)
	}

	if err := o.advance(e, StateGated); err != nil {
		return o.fail(e, log, err)
	}
	decision := RunQualityGates(o.gates, o.pipeline.RequiredColumns, o.pipeline.PreferPlanMargin, planResult, fallbackResult)
	log.Info("engine chosen",
		zap.String("stage", string(StateGated)),
		zap.String("engine", decision.Engine),
		zap.String("plan_status", string(validated.Status)),
		zap.String("reason", decision.Reason))
	if _, err := e.update(func(j *Job) error {
		j.Source = decision.Engine
		j.PlanStatus = string(validated.Status)
		return nil
	}); err != nil {
		return o.fail(e, log, err)
	}

	if err := o.advance(e, StateFinalized); err != nil {
		return o.fail(e, log, err)
	}
	chosen, discarded := planResult, (*executor.Result)(nil)
	if decision.Engine == artifact.EngineFallback {
		chosen, discarded = fallbackResult, planResult
	}
	bundle, err := artifact.Build(artifact.Input{
		JobID:            id,
		SheetName:        ideal.Name,
		Engine:           decision.Engine,
		PlanStatus:       validated.Status,
		Proposer:         o.proposer.Describe(),
		ProposalError:    proposalErr,
		CatalogueVersion: o.fallback.Version(),
		Notes:            notes,
		Gate:             decision.Record,
		Result:           chosen,
		Discarded:        discarded,
	})
	if err != nil {
		return o.fail(e, log, err)
	}
	if err := o.publish(ctx, id, bundle); err != nil {
		return o.fail(e, log, err)
	}

	if err := o.advance(e, StateReady); err != nil {
		return o.fail(e, log, err)
	}
	log.Info("job ready",
		zap.String("stage", string(StateReady)),
		zap.String("engine", decision.Engine),
		zap.Int("rows", len(chosen.Rows)),
		zap.Int("warnings", len(chosen.Warnings)),
		zap.String("output_digest", bundle.Summary.OutputDigest),
		zap.Duration("elapsed", time.Since(start)))
	j := e.snapshot()
	return &j, nil
}

// inspect loads both sheets in parallel under the I/O timeout
func (o *Orchestrator) inspect(ctx context.Context, rawPath, idealPath string) (raw, ideal *sheet.Sheet, err error) {
	ioCtx, cancel := context.WithTimeout(ctx, o.pipeline.IOTimeout())
	defer cancel()

	g, gctx := errgroup.WithContext(ioCtx)
	g.Go(func() error {
		var err error
		raw, err = loadSheet(gctx, rawPath)
		return err
	})
	g.Go(func() error {
		var err error
		ideal, err = loadSheet(gctx, idealPath)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return raw, ideal, nil
}

func loadSheet(ctx context.Context, path string) (*sheet.Sheet, error) {
	type loaded struct {
		s   *sheet.Sheet
		err error
	}
	ch := make(chan loaded, 1)
	go func() {
		s, err := sheet.Load(path)
		ch <- loaded{s, err}
	}()
	select {
	case l := <-ch:
		return l.s, l.err
	case <-ctx.Done():
		return nil, pipelineerr.Wrap(pipelineerr.ErrInput, "read "+filepath.Base(path), ctx.Err())
	}
}

// planRecord is the audit copy of the validated plan
type planRecord struct {
	Status plan.Status      `json:"status"`
	Steps  []planRecordStep `json:"steps"`
	Notes  []string         `json:"notes,omitempty"`
}

type planRecordStep struct {
	Index  int           `json:"index"`
	Step   plan.StepSpec `json:"step"`
	Valid  bool          `json:"valid"`
	Reason string        `json:"reason,omitempty"`
}

// proposePlan asks for a proposal once and validates it. Only a cancelled job or a
// failed write is returned as an error; every proposal problem ends in a
// Validated value with no usable steps.
func (o *Orchestrator) proposePlan(ctx context.Context, id, text string, ideal, raw sheet.Schema, log *zap.Logger) (*plan.Validated, []string, string, error) {
	var (
		validated   *plan.Validated
		notes       []string
		proposalErr string
	)

	proposal, perr := o.proposer.Propose(ctx, text, ideal, raw)
	if err := ctx.Err(); err != nil {
		return nil, nil, "", err
	}
	if proposal.Response != "" {
		if err := o.store.WriteOnce(id, jobstore.PlanRaw, []byte(proposal.Response)); err != nil {
			return nil, nil, "", err
		}
	}

	if perr != nil {
		proposalErr = perr.Error()
		validated = &plan.Validated{Status: plan.StatusUnavailable}
		log.Warn("plan proposal unavailable, using fallback rules",
			zap.String("stage", string(StatePlanning)), zap.Error(perr))
	} else {
		p, v, verr := plan.ParseAndValidate(proposal.Response, ideal, raw, o.fallback.Catalogue())
		validated = v
		if p != nil {
			notes = p.Notes
		}
		valid, invalid := v.Counts()
		if verr != nil {
			log.Warn("proposed plan rejected", zap.String("stage", string(StatePlanning)),
				zap.String("plan_status", string(v.Status)), zap.Error(verr))
		} else {
			log.Info("plan validated", zap.String("stage", string(StatePlanning)),
				zap.String("plan_status", string(v.Status)),
				zap.Int("valid_steps", valid), zap.Int("invalid_steps", invalid),
				zap.Duration("proposal_time", proposal.Duration))
		}
	}

	record := planRecord{Status: validated.Status, Steps: []planRecordStep{}, Notes: notes}
	for _, c := range validated.Steps {
		record.Steps = append(record.Steps, planRecordStep{Index: c.Index, Step: c.Spec, Valid: c.Valid(), Reason: c.Reason})
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return nil, nil, "", fmt.Errorf("error encoding plan record: %w", err)
	}
	if err := o.store.WriteOnce(id, jobstore.PlanJSON, append(data, '\n')); err != nil {
		return nil, nil, "", err
	}
	return validated, notes, proposalErr, nil
}

// publish stages the artifacts and renames them into place. Nothing is
// published when any write fails or the job is cancelled first.
func (o *Orchestrator) publish(ctx context.Context, id string, b *artifact.Bundle) error {
	staging, err := o.store.Stage(id)
	if err != nil {
		return err
	}
	if err := b.WriteDir(staging); err != nil {
		o.store.Discard(staging)
		return err
	}
	if err := ctx.Err(); err != nil {
		o.store.Discard(staging)
		return err
	}
	if err := o.store.Publish(id, staging); err != nil {
		o.store.Discard(staging)
		return err
	}
	return nil
}

// advance moves the job forward and persists the record
func (o *Orchestrator) advance(e *jobEntry, to State) error {
	j, err := e.update(func(j *Job) error { return j.transition(to) })
	if err != nil {
		return err
	}
	return o.store.SaveState(j.ID, j)
}

// fail records the failure reason and persists the failed state. Working
// files are left in place for audit.
func (o *Orchestrator) fail(e *jobEntry, log *zap.Logger, cause error) (*Job, error) {
	stage := e.snapshot().Status
	reason := pipelineerr.Reason(cause)
	j, terr := e.update(func(j *Job) error {
		if err := j.transition(StateFailed); err != nil {
			return err
		}
		j.Reason = reason
		return nil
	})
	if terr == nil {
		if err := o.store.SaveState(j.ID, j); err != nil {
			log.Error("could not persist failed job", zap.Error(err))
		}
	}
	log.Error("job failed", zap.String("stage", string(stage)), zap.String("reason", reason), zap.Error(cause))
	return &j, cause
}
