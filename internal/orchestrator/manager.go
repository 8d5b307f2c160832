package orchestrator

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koizumiiiii/Baketa-sub009/internal/frame"
	"github.com/koizumiiiii/Baketa-sub009/internal/observe"
	"github.com/koizumiiiii/Baketa-sub009/internal/pipeline"
	"github.com/koizumiiiii/Baketa-sub009/internal/syncx"
	"github.com/koizumiiiii/Baketa-sub009/internal/trace"
)

// Pipeline runs one frame through every stage.
type Pipeline interface {
	Run(ctx context.Context, f *frame.Captured) (*pipeline.Context, error)
}

// Forgetter drops per-context state when a context ends.
type Forgetter interface {
	Forget(contextID string)
}

// ContextState is what the manager remembers about one context between runs.
type ContextState struct {
	ContextID       string            `json:"context_id"`
	WindowID        string            `json:"window_id"`
	PreviousText    string            `json:"previous_text"`
	PreviousRegions []image.Rectangle `json:"previous_regions"`
	LastTranslation string            `json:"last_translation,omitempty"`
	Runs            int               `json:"runs"`
	LastRunAt       time.Time         `json:"last_run_at"`
}

// Manager owns the per-context workers and state.
type Manager struct {
	runner    Pipeline
	metrics   *observe.Metrics
	forgetter []Forgetter
	workers   *syncx.KeyedWorkers

	mu     sync.RWMutex
	states map[string]*ContextState
}

// New creates a manager. forget is called for every context that ends.
func New(runner Pipeline, metrics *observe.Metrics, forget ...Forgetter) *Manager {
	return &Manager{
		runner:    runner,
		metrics:   metrics,
		forgetter: forget,
		workers:   syncx.NewKeyedWorkers(WorkerQueueSize),
		states:    make(map[string]*ContextState),
	}
}

// Process runs img through the pipeline on contextID's worker and waits for
// the result. Ownership of the caller's reference on img passes to Process.
func (m *Manager) Process(ctx context.Context, img *frame.Image, contextID, windowID string) (*pipeline.Context, error) {
	var (
		pc    *pipeline.Context
		state atomic.Int32 // 0 queued, 1 started, 2 abandoned
	)
	run := m.job(img, contextID, windowID, func(c *pipeline.Context) { pc = c })
	err := m.workers.Do(ctx, contextID, func(ctx context.Context) error {
		if !state.CompareAndSwap(0, 1) {
			return ctx.Err()
		}
		return run(ctx)
	})
	if err != nil {
		if state.CompareAndSwap(0, 2) {
			img.Release()
		}
		return nil, err
	}
	return pc, nil
}

// TryProcess queues img on contextID's worker without waiting. It reports
// false, releasing img, when the worker already has a frame queued. A queued
// frame discarded by End or Close is released too.
func (m *Manager) TryProcess(ctx context.Context, img *frame.Image, contextID, windowID string) bool {
	if m.workers.TrySubmit(ctx, contextID, m.job(img, contextID, windowID, nil), img.Release) {
		return true
	}
	img.Release()
	return false
}

func (m *Manager) job(img *frame.Image, contextID, windowID string, done func(*pipeline.Context)) func(context.Context) error {
	return func(ctx context.Context) error {
		defer img.Release()

		ctx, cancel := context.WithTimeout(ctx, RunTimeout)
		defer cancel()

		f := m.captured(img, contextID, windowID)
		pc, err := m.runner.Run(ctx, f)
		if done != nil {
			done(pc)
		}
		if err != nil {
			trace.Logger(ctx).Debug("pipeline run aborted", "context_id", contextID, "error", err)
			return err
		}
		m.update(contextID, pc)
		return nil
	}
}

// captured builds the frame, carrying the context's previous text and regions.
func (m *Manager) captured(img *frame.Image, contextID, windowID string) *frame.Captured {
	m.mu.Lock()
	st, ok := m.states[contextID]
	if !ok {
		st = &ContextState{ContextID: contextID}
		m.states[contextID] = st
		m.metrics.ContextStarted(context.Background())
	}
	st.WindowID = windowID
	f := &frame.Captured{
		Image:           img,
		Rect:            img.Bounds(),
		WindowID:        windowID,
		ContextID:       contextID,
		PreviousText:    st.PreviousText,
		PreviousRegions: append([]image.Rectangle(nil), st.PreviousRegions...),
		CapturedAt:      time.Now(),
	}
	m.mu.Unlock()
	return f
}

// update folds a finished run into the context state. Recognition replaces
// the previous text and regions whenever it ran successfully; a run that
// skipped recognition leaves them as they were.
func (m *Manager) update(contextID string, pc *pipeline.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[contextID]
	if !ok {
		return
	}
	st.Runs++
	st.LastRunAt = time.Now()

	if rec, ok := pipeline.ResultAs[pipeline.Recognition](pc, pipeline.OcrExecution); ok {
		st.PreviousText = rec.Text()
		st.PreviousRegions = st.PreviousRegions[:0]
		for _, r := range rec.Regions {
			if r.Text != "" {
				st.PreviousRegions = append(st.PreviousRegions, r.Region.Bounds)
			}
		}
	}
	if tr, ok := pipeline.ResultAs[pipeline.Translation](pc, pipeline.TranslationExecution); ok {
		st.LastTranslation = tr.TranslatedText
	}
}

// State returns a copy of contextID's state.
func (m *Manager) State(contextID string) (ContextState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[contextID]
	if !ok {
		return ContextState{}, false
	}
	cp := *st
	cp.PreviousRegions = append([]image.Rectangle(nil), st.PreviousRegions...)
	return cp, true
}

// States returns copies of every live context's state.
func (m *Manager) States() []ContextState {
	m.mu.RLock()
	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	out := make([]ContextState, 0, len(ids))
	for _, id := range ids {
		if st, ok := m.State(id); ok {
			out = append(out, st)
		}
	}
	return out
}

// End stops contextID's worker after its in-flight run, drops its state and
// tells every forgetter.
func (m *Manager) End(contextID string) {
	m.workers.Remove(contextID)

	m.mu.Lock()
	_, ok := m.states[contextID]
	delete(m.states, contextID)
	m.mu.Unlock()

	if !ok {
		return
	}
	for _, f := range m.forgetter {
		f.Forget(contextID)
	}
	m.metrics.ContextStopped(context.Background())
}

// Close stops the workers and ends every context.
func (m *Manager) Close() {
	m.workers.Close()
	m.mu.RLock()
	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		m.End(id)
	}
}
