package diagnostics

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/koizumiiiii/Baketa-sub009/internal/pipeline"
)

// Session observes pipeline runs for one translation session. It keeps
// running per-stage totals in memory and forwards every outcome to an
// optional batcher.
type Session struct {
	ID      string
	batcher *Batcher

	mu     sync.Mutex
	totals map[pipeline.StageID]*stageTotals
}

type stageTotals struct {
	runs, skipped, failed int
	elapsed               time.Duration
}

// NewSession starts a session. w may be nil to keep totals only.
func NewSession(w Writer) *Session {
	s := &Session{ID: uuid.NewString(), totals: make(map[pipeline.StageID]*stageTotals)}
	if w != nil {
		s.batcher = NewBatcher(w, DefaultBatcherMaxSize, DefaultBatcherFlushDelay)
	}
	return s
}

// ObserveStage implements pipeline.Observer.
func (s *Session) ObserveStage(_ context.Context, pc *pipeline.Context, o pipeline.Outcome) {
	s.mu.Lock()
	t, ok := s.totals[o.Stage]
	if !ok {
		t = &stageTotals{}
		s.totals[o.Stage] = t
	}
	t.runs++
	switch {
	case o.Skipped:
		t.skipped++
	case !o.Success:
		t.failed++
	}
	if !o.Skipped {
		t.elapsed += o.Elapsed
	}
	s.mu.Unlock()

	if s.batcher == nil {
		return
	}
	r := Record{
		ID:        uuid.NewString(),
		SessionID: s.ID,
		RunID:     pc.RunID,
		ContextID: pc.ContextID(),
		Stage:     o.Stage.String(),
		Skipped:   o.Skipped,
		Reason:    o.Reason,
		Success:   o.Success,
		Elapsed:   o.Elapsed,
		At:        time.Now(),
	}
	if o.Err != nil {
		r.Error = o.Err.Error()
	}
	s.batcher.Add(r)
}

// Summary returns the in-memory totals ordered by stage.
func (s *Session) Summary() []StageSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]pipeline.StageID, 0, len(s.totals))
	for id := range s.totals {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]StageSummary, 0, len(ids))
	for _, id := range ids {
		t := s.totals[id]
		ss := StageSummary{Stage: id.String(), Runs: t.runs, Skipped: t.skipped, Failed: t.failed}
		if executed := t.runs - t.skipped; executed > 0 {
			ss.MeanElapsed = t.elapsed / time.Duration(executed)
		}
		out = append(out, ss)
	}
	return out
}

// Close flushes pending records.
func (s *Session) Close() {
	if s.batcher != nil {
		s.batcher.Stop()
	}
}
