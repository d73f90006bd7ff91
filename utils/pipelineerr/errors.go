package pipelineerr

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Only ErrInput and ErrWrite end a job; the others degrade to a
// lesser result.
var (
	ErrInput               = errors.New("input error")
	ErrProposalUnavailable = errors.New("plan proposal unavailable")
	ErrInvalidPlan         = errors.New("invalid plan")
	ErrCell                = errors.New("cell error")
	ErrWrite               = errors.New("write error")

	ErrMalformedPlan = fmt.Errorf("%w: malformed", ErrInvalidPlan)
	ErrNoUsableSteps = fmt.Errorf("%w: no usable steps", ErrInvalidPlan)

	ErrUnreadableFile = fmt.Errorf("%w: unreadable file", ErrInput)

	ErrNotFound = errors.New("not found")
	ErrNotReady = fmt.Errorf("%w: job not ready", ErrNotFound)
)

// PipelineError attaches the failing operation to an error kind.
type PipelineError struct {
	Kind error
	Op   string
	Err  error
}

func (e *PipelineError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PipelineError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Wrap returns nil when err is nil.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &PipelineError{Kind: kind, Op: op, Err: err}
}

// New builds a PipelineError from a formatted message.
func New(kind error, op, format string, args ...any) error {
	return &PipelineError{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// IsFatal reports whether err must move a job to the failed state. A
// proposal that timed out is not fatal even though it wraps a context error.
func IsFatal(err error) bool {
	if errors.Is(err, ErrProposalUnavailable) || errors.Is(err, ErrInvalidPlan) || errors.Is(err, ErrCell) {
		return false
	}
	return errors.Is(err, ErrInput) ||
		errors.Is(err, ErrWrite) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Reason renders the single human-readable line shown for a failed job.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "job cancelled before it was finalized"
	case errors.Is(err, ErrUnreadableFile):
		return "an input file could not be read as a spreadsheet: " + rootCause(err)
	case errors.Is(err, ErrInput):
		return "an input file is missing or unreadable: " + rootCause(err)
	case errors.Is(err, ErrWrite):
		return "the output files could not be written: " + rootCause(err)
	default:
		return err.Error()
	}
}

func rootCause(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) && pe.Err != nil {
		return pe.Err.Error()
	}
	return err.Error()
}
