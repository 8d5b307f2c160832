// Package pipeline runs the per-frame stage sequence. Each stage makes one
// decision per run (skip or run) and its result becomes visible to later
// stages through the run's Context.
package pipeline

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/koizumiiiii/Baketa-sub009/internal/frame"
)

// StageID identifies a stage. Stages run in ascending order.
type StageID int

const (
	ImageChangeDetection StageID = iota + 1
	OcrExecution
	TextChangeDetection
	TranslationExecution
)

func (s StageID) String() string {
	switch s {
	case ImageChangeDetection:
		return "image_change_detection"
	case OcrExecution:
		return "ocr_execution"
	case TextChangeDetection:
		return "text_change_detection"
	case TranslationExecution:
		return "translation_execution"
	default:
		return "unknown"
	}
}

// ErrDuplicateResult is returned when a stage records a second result in one run.
var ErrDuplicateResult = errors.New("pipeline: result already recorded for stage")

// Result is what one executed stage produced.
type Result struct {
	Stage   StageID
	Success bool
	Payload any
	Elapsed time.Duration
	Err     error
}

// ErrorMessage returns the error text, or "" for a successful result.
func (r Result) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Context is the state of one run over one frame. Results are append-only
// and discarded with the Context when the run completes.
type Context struct {
	Frame *frame.Captured
	RunID string

	mu      sync.RWMutex
	results map[StageID]Result
}

// NewContext creates the run state for f.
func NewContext(f *frame.Captured, runID string) *Context {
	return &Context{Frame: f, RunID: runID, results: make(map[StageID]Result)}
}

// ContextID is the logical session the frame belongs to.
func (c *Context) ContextID() string {
	if c.Frame == nil {
		return ""
	}
	return c.Frame.ContextID
}

// Record stores r. A stage may record at most once per run.
func (c *Context) Record(r Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.results[r.Stage]; ok {
		return ErrDuplicateResult
	}
	c.results[r.Stage] = r
	return nil
}

// Result returns the recorded result for id, if any.
func (c *Context) Result(id StageID) (Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.results[id]
	return r, ok
}

// Results returns every recorded result in stage order.
func (c *Context) Results() []Result {
	c.mu.RLock()
	out := make([]Result, 0, len(c.results))
	for _, r := range c.results {
		out = append(out, r)
	}
	c.mu.RUnlock()
	slices.SortFunc(out, func(a, b Result) int { return int(a.Stage) - int(b.Stage) })
	return out
}

// ResultAs returns the payload of a successful result for id as T. It
// reports false when the stage was skipped, failed, or produced another type;
// callers treat that as "assume changed".
func ResultAs[T any](c *Context, id StageID) (T, bool) {
	var zero T
	r, ok := c.Result(id)
	if !ok || !r.Success {
		return zero, false
	}
	v, ok := r.Payload.(T)
	return v, ok
}
