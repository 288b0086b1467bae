package scheduler

import (
	"errors"
	"fmt"
)

var ErrAlreadyRunning = errors.New("scheduler already running")

// Stage names where a task fault happened.
type Stage string

const (
	StagePredicate Stage = "predicate"
	StageLock      Stage = "lock"
	StageDispatch  Stage = "dispatch"
	StageRelease   Stage = "release"
)

// TaskError is an internal fault for one definition. It never stops the loop.
type TaskError struct {
	Command string
	Stage   Stage
	Err     error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %q: %s: %v", e.Command, e.Stage, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

func taskErr(def *Definition, stage Stage, err error) *TaskError {
	return &TaskError{Command: def.Command, Stage: stage, Err: err}
}

func panicErr(v any) error {
	if err, ok := v.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", v)
}
