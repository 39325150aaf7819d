package scheduler

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSchedule     = errors.New("invalid schedule")
	ErrOverlapSkipped      = errors.New("previous run still in progress")
	ErrShutdownInterrupted = errors.New("interrupted by shutdown")
	ErrUnknownCommand      = errors.New("unknown command")
	ErrNoQueue             = errors.New("no job queue configured")
)

// InvalidScheduleError rejects one rule at registration. It matches
// ErrInvalidSchedule under errors.Is.
type InvalidScheduleError struct {
	Rule string
	Err  error
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("schedule %q: %v", e.Rule, e.Err)
}

func (e *InvalidScheduleError) Unwrap() error { return e.Err }

func (e *InvalidScheduleError) Is(target error) bool { return target == ErrInvalidSchedule }

// InvocationError is a failed run. It is recorded on the rule and never
// returned to the runner loop.
type InvocationError struct {
	Rule     string
	ExitCode int
	Err      error
}

func (e *InvocationError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("task %q exited with code %d: %v", e.Rule, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("task %q failed: %v", e.Rule, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }
