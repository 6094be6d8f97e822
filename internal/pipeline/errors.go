package pipeline

import (
	"errors"
	"fmt"
)

// Stage names a step of the per-record state machine.
type Stage string

const (
	StageFetch   Stage = "fetch"
	StageBuild   Stage = "build"
	StagePreRun  Stage = "pre-run"
	StageRun     Stage = "run"
	StageCollect Stage = "collect"
	StagePostRun Stage = "post-run"
)

var (
	// ErrAttrExists is returned when an attribute is set twice.
	ErrAttrExists = errors.New("attribute already set")

	// ErrNoRecordDir is returned by context file helpers when the campaign
	// has no artifact directory.
	ErrNoRecordDir = errors.New("no record directory")
)

// StageError records which stage of a run failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// FailedStage returns the stage carried by err, or "" if err is not a
// StageError.
func FailedStage(err error) Stage {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage
	}
	return ""
}
