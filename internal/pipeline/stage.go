package pipeline

import (
	"context"
	"time"
)

// Stage is one step of the frame pipeline.
type Stage interface {
	ID() StageID
	// EstimatedDuration is a scheduling hint only.
	EstimatedDuration() time.Duration
	// Plan decides, without side effects, whether the stage runs for pc.
	Plan(pc *Context) Action
}

// RunFunc executes a planned stage. Any error other than cancellation is
// recorded as a failed result.
type RunFunc func(ctx context.Context) (any, error)

// Action is a stage's decision for one run: skip with a reason, or run.
type Action struct {
	run    RunFunc
	reason string
}

// Skip declines to run. No result is recorded for the stage.
func Skip(reason string) Action {
	return Action{reason: reason}
}

// Run schedules fn.
func Run(fn RunFunc) Action {
	return Action{run: fn}
}

// Skipped reports whether the action is a skip.
func (a Action) Skipped() bool { return a.run == nil }

// Reason returns the skip reason.
func (a Action) Reason() string { return a.reason }
