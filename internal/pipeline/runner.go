package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/koizumiiiii/Baketa-sub009/internal/errors"
	"github.com/koizumiiiii/Baketa-sub009/internal/frame"
	"github.com/koizumiiiii/Baketa-sub009/internal/trace"
)

// Outcome describes what happened to one stage in one run.
type Outcome struct {
	Stage   StageID
	Skipped bool
	Reason  string
	Success bool
	Elapsed time.Duration
	Err     error
}

// Observer is notified after every stage decision. Implementations must not block.
type Observer interface {
	ObserveStage(ctx context.Context, pc *Context, o Outcome)
}

// Runner sequences stages over frames.
type Runner struct {
	stages    []Stage
	observers []Observer
}

// NewRunner orders stages by id. Two stages may not share an id.
func NewRunner(stages []Stage, observers ...Observer) (*Runner, error) {
	sorted := slices.Clone(stages)
	slices.SortStableFunc(sorted, func(a, b Stage) int { return int(a.ID()) - int(b.ID()) })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].ID() == sorted[i-1].ID() {
			return nil, apperrors.Newf(apperrors.InvalidArgument, "duplicate stage %s", sorted[i].ID())
		}
	}
	return &Runner{stages: sorted, observers: observers}, nil
}

// Run processes f through every stage and returns the run's results. Only
// cancellation aborts a run; it is returned as ctx's error along with the
// partial Context.
func (r *Runner) Run(ctx context.Context, f *frame.Captured) (*Context, error) {
	pc := NewContext(f, uuid.NewString())
	ctx = trace.WithRun(ctx, pc.RunID, pc.ContextID())
	ctx, span := trace.StartSpan(ctx, "pipeline.run")
	defer func() {
		span.End()
		trace.Logger(ctx).Debug("pipeline run complete", "span", span, "results", len(pc.Results()))
	}()

	for _, s := range r.stages {
		if err := ctx.Err(); err != nil {
			return pc, err
		}

		action := s.Plan(pc)
		if action.Skipped() {
			trace.Logger(ctx).Debug("stage skipped", "stage", s.ID(), "reason", action.Reason())
			r.notify(ctx, pc, Outcome{Stage: s.ID(), Skipped: true, Reason: action.Reason()})
			continue
		}

		res := execute(ctx, s.ID(), action.run)
		if err := ctx.Err(); err != nil && isCancellation(res.Err) {
			return pc, err
		}
		if err := pc.Record(res); err != nil {
			trace.Logger(ctx).Warn("stage result dropped", "stage", s.ID(), "error", err)
		}
		if !res.Success {
			trace.Logger(ctx).Warn("stage failed", "stage", s.ID(), "error", res.Err)
		}
		r.notify(ctx, pc, Outcome{Stage: s.ID(), Success: res.Success, Elapsed: res.Elapsed, Err: res.Err})
	}
	return pc, nil
}

func (r *Runner) notify(ctx context.Context, pc *Context, o Outcome) {
	for _, obs := range r.observers {
		obs.ObserveStage(ctx, pc, o)
	}
}

// execute runs fn, converting errors and panics into a failed result.
func execute(ctx context.Context, id StageID, fn RunFunc) (res Result) {
	start := time.Now()
	res.Stage = id
	defer func() {
		if p := recover(); p != nil {
			res.Success = false
			res.Payload = nil
			res.Err = apperrors.New(apperrors.Internal, fmt.Sprintf("stage %s panicked: %v", id, p))
		}
		res.Elapsed = time.Since(start)
	}()

	payload, err := fn(ctx)
	res.Payload = payload
	res.Success = err == nil
	res.Err = err
	return res
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		apperrors.IsCode(err, apperrors.Cancelled) || apperrors.IsCode(err, apperrors.Timeout)
}
