// Package textgate is the text-change stage: it decides whether recognized
// text changed enough to re-translate and holds back typewriter-style
// reveals until they settle.
package textgate

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/koizumiiiii/Baketa-sub009/internal/errors"
	"github.com/koizumiiiii/Baketa-sub009/internal/pipeline"
	"github.com/koizumiiiii/Baketa-sub009/internal/textdiff"
	"github.com/koizumiiiii/Baketa-sub009/internal/trace"
)

// DefaultThreshold is the local change percentage at which text counts as changed.
const DefaultThreshold = 0.05

// Verdict reasons.
const (
	ReasonFirstText       = "first_text"
	ReasonIdentical       = "identical"
	ReasonTypewriterDone  = "typewriter_settled"
	ReasonTypewriterGrows = "typewriter_in_progress"
	ReasonDiff            = "diff"
	ReasonDiffFailed      = "diff_failed"
)

// Differ is the external text-diff collaborator.
type Differ interface {
	Compare(ctx context.Context, prev, cur, contextID string) (textdiff.Verdict, error)
	UpdateCache(contextID, text string)
}

// Gate keeps one typewriter flag per context.
type Gate struct {
	differ    Differ
	threshold float64

	mu     sync.Mutex
	typing map[string]bool
}

// New creates a gate. threshold outside (0,1] selects DefaultThreshold.
func New(differ Differ, threshold float64) *Gate {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Gate{differ: differ, threshold: threshold, typing: make(map[string]bool)}
}

func (*Gate) ID() pipeline.StageID { return pipeline.TextChangeDetection }

func (*Gate) EstimatedDuration() time.Duration { return time.Millisecond }

// Plan runs whenever this run produced recognized text.
func (g *Gate) Plan(pc *pipeline.Context) pipeline.Action {
	rec, ok := pipeline.ResultAs[pipeline.Recognition](pc, pipeline.OcrExecution)
	if !ok {
		return pipeline.Skip("no recognition")
	}
	prev := ""
	if pc.Frame != nil {
		prev = pc.Frame.PreviousText
	}
	contextID := pc.ContextID()
	cur := rec.Text()
	return pipeline.Run(func(ctx context.Context) (any, error) {
		return g.Decide(ctx, contextID, prev, cur)
	})
}

// Decide compares cur with prev for contextID.
func (g *Gate) Decide(ctx context.Context, contextID, prev, cur string) (pipeline.TextVerdict, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.TextVerdict{}, err
	}
	np, nc := normalize(prev), normalize(cur)
	sp, sc := stripSpaces(np), stripSpaces(nc)
	v := pipeline.TextVerdict{Text: cur}

	switch {
	case np == "":
		g.setTyping(contextID, false)
		v.Changed, v.ChangePercent, v.Reason = true, 1, ReasonFirstText
		return v, nil
	case nc == np || sc == sp:
		if g.setTyping(contextID, false) {
			v.Changed, v.Reason = true, ReasonTypewriterDone
		} else {
			v.Reason = ReasonIdentical
		}
		return v, nil
	case grows(np, nc) || grows(sp, sc):
		g.setTyping(contextID, true)
		v.Reason = ReasonTypewriterGrows
		return v, nil
	}

	g.setTyping(contextID, false)
	dv, err := g.differ.Compare(ctx, np, nc, contextID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return pipeline.TextVerdict{}, ctxErr
		}
		trace.Logger(ctx).Warn("text diff failed, assuming changed",
			"error", apperrors.Wrap(err, apperrors.DiffFailed, "compare text"))
		v.Changed, v.ChangePercent, v.Reason = true, 1, ReasonDiffFailed
		return v, nil
	}

	v.ChangePercent, v.Algorithm, v.Reason = dv.ChangePercent, dv.Algorithm, ReasonDiff
	v.Changed = dv.ChangePercent >= g.threshold
	if v.Changed && !dv.Changed {
		g.differ.UpdateCache(contextID, nc)
	}
	return v, nil
}

// setTyping stores the flag and returns its previous value.
func (g *Gate) setTyping(contextID string, on bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	was := g.typing[contextID]
	if on {
		g.typing[contextID] = true
	} else {
		delete(g.typing, contextID)
	}
	return was
}

// Typing reports whether a typewriter reveal is in progress for contextID.
func (g *Gate) Typing(contextID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.typing[contextID]
}

// Forget drops the flag for contextID.
func (g *Gate) Forget(contextID string) {
	g.setTyping(contextID, false)
}
