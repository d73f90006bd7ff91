package processor

import (
	"fmt"
	"time"
)

// State is a job lifecycle state
type State string

const (
	StateReceived  State = "received"
	StatePlanning  State = "planning"
	StateExecuting State = "executing"
	StateGated     State = "gated"
	StateFinalized State = "finalized"
	StateReady     State = "ready"
	StateFailed    State = "failed"
)

// next lists the forward transitions; every non-terminal state may also fail
var next = map[State]State{
	StateReceived:  StatePlanning,
	StatePlanning:  StateExecuting,
	StateExecuting: StateGated,
	StateGated:     StateFinalized,
	StateFinalized: StateReady,
}

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == StateReady || s == StateFailed
}

// CanTransition reports whether s may move to to
func (s State) CanTransition(to State) bool {
	if s.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return next[s] == to
}

// Inputs are the upload slot names inside the job directory
type Inputs struct {
	Ideal        string `yaml:"ideal" json:"ideal"`
	Raw          string `yaml:"raw" json:"raw"`
	Instructions string `yaml:"instructions" json:"instructions"`
}

// Job is the persisted record of one standardization request
type Job struct {
	ID         string    `yaml:"id" json:"jobId"`
	Status     State     `yaml:"status" json:"status"`
	Inputs     Inputs    `yaml:"inputs" json:"inputs"`
	Source     string    `yaml:"source,omitempty" json:"source,omitempty"` // plan or fallback, once gated
	PlanStatus string    `yaml:"plan_status,omitempty" json:"planStatus,omitempty"`
	Reason     string    `yaml:"reason,omitempty" json:"reason,omitempty"`
	Created    time.Time `yaml:"created" json:"created"`
	Updated    time.Time `yaml:"updated" json:"updated"`
}

// transition moves the job to a new state
func (j *Job) transition(to State) error {
	if !j.Status.CanTransition(to) {
		return fmt.Errorf("job %s: invalid transition %s -> %s", j.ID, j.Status, to)
	}
	j.Status = to
	j.Updated = time.Now().UTC()
	return nil
}
