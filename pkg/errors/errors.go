// Package errors defines the error structure of the recording pipeline.
//
// The collector core has no recoverable errors: invariant violations
// panic. What can fail is the pipeline around it — loading configuration,
// persisting a pause record, archiving or pruning a report — and a failure
// there must not disturb a pause, only cost one record. So every pipeline
// error identifies the pause it belongs to and the stage it failed in,
// and the policy logs it and moves on.
package errors

import (
	"errors"
	"fmt"
)

// Stage is the recording-pipeline step an error occurred in.
type Stage string

// Pipeline stages, in data-flow order.
const (
	StageConfig  Stage = "config"  // loading or validating configuration
	StageRecord  Stage = "record"  // persisting a pause record
	StageArchive Stage = "archive" // archiving a pause report
	StagePrune   Stage = "prune"   // pruning old reports
)

// PauseError is a recording-pipeline failure attributed to one pause.
// PauseSeq 0 means the error is not tied to a particular pause (for
// example a configuration failure before the first pause).
type PauseError struct {
	Stage    Stage
	PauseSeq uint64
	Err      error
}

// Error implements the error interface.
func (e *PauseError) Error() string {
	if e.PauseSeq == 0 {
		return fmt.Sprintf("recording pipeline, %s stage: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("recording pause %d, %s stage: %v", e.PauseSeq, e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *PauseError) Unwrap() error {
	return e.Err
}

// AtStage attributes err to a pipeline stage and pause. Returns nil for a
// nil err, so call sites can wrap unconditionally.
func AtStage(stage Stage, pauseSeq uint64, err error) error {
	if err == nil {
		return nil
	}
	return &PauseError{Stage: stage, PauseSeq: pauseSeq, Err: err}
}

// StageOf reports which pipeline stage err failed in, if it carries one.
func StageOf(err error) (Stage, bool) {
	var pe *PauseError
	if errors.As(err, &pe) {
		return pe.Stage, true
	}
	return "", false
}

// PauseOf reports which pause err belongs to, if it carries one.
func PauseOf(err error) (uint64, bool) {
	var pe *PauseError
	if errors.As(err, &pe) && pe.PauseSeq != 0 {
		return pe.PauseSeq, true
	}
	return 0, false
}
