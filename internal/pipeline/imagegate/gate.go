// Package imagegate is the first pipeline stage: it decides whether a frame
// differs enough from the context's previous frame to justify recognition,
// and flags frames where text vanished from an intact background.
package imagegate

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/koizumiiiii/Baketa-sub009/internal/changedetect"
	"github.com/koizumiiiii/Baketa-sub009/internal/events"
	"github.com/koizumiiiii/Baketa-sub009/internal/frame"
	"github.com/koizumiiiii/Baketa-sub009/internal/observe"
	"github.com/koizumiiiii/Baketa-sub009/internal/pipeline"
	"github.com/koizumiiiii/Baketa-sub009/internal/syncx"
	"github.com/koizumiiiii/Baketa-sub009/internal/trace"
)

// Detector is the external change-detection collaborator.
type Detector interface {
	Detect(ctx context.Context, prev, cur image.Image, contextID string) (changedetect.Verdict, error)
}

// Gate holds one previous-frame snapshot per context.
type Gate struct {
	detector Detector
	sink     events.Sink
	metrics  *observe.Metrics

	mu    sync.Mutex
	slots map[string]*syncx.Slot[*frame.Image]
}

// New creates a gate. A nil detector selects the built-in sampled
// comparison; a nil sink disables disappearance events.
func New(detector Detector, sink events.Sink, metrics *observe.Metrics) *Gate {
	return &Gate{
		detector: detector,
		sink:     sink,
		metrics:  metrics,
		slots:    make(map[string]*syncx.Slot[*frame.Image]),
	}
}

func (*Gate) ID() pipeline.StageID { return pipeline.ImageChangeDetection }

func (*Gate) EstimatedDuration() time.Duration { return 5 * time.Millisecond }

// Plan always runs; the gate is the cold-start authority.
func (g *Gate) Plan(pc *pipeline.Context) pipeline.Action {
	f := pc.Frame
	if f == nil {
		return pipeline.Skip("no frame")
	}
	return pipeline.Run(func(ctx context.Context) (any, error) {
		return g.Check(ctx, f)
	})
}

// Check compares f against the previous frame of its context and then makes
// f the new previous frame. On cancellation the snapshot is left untouched.
func (g *Gate) Check(ctx context.Context, f *frame.Captured) (changedetect.Verdict, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return changedetect.Verdict{}, err
	}

	slot := g.slot(f.ContextID)
	prev, hasPrev := slot.Load()
	v, err := g.compare(ctx, prev, hasPrev, f)
	if err != nil {
		return changedetect.Verdict{}, err
	}
	v.Elapsed = time.Since(start)

	switch {
	case prev == f.Image && hasPrev:
		// Same buffer: the slot already holds our reference.
	case f.Image.Retain():
		slot.Replace(f.Image)
	default:
		slot.Clear()
	}

	g.metrics.RecordChange(ctx, v.Tier, v.Changed)
	if conf, ok := disappearance(v); ok {
		g.publishDisappearance(ctx, f, v, conf)
	}
	return v, nil
}

// compare runs the cheapest-first checks. Anything other than cancellation
// fails open.
func (g *Gate) compare(ctx context.Context, prev *frame.Image, hasPrev bool, f *frame.Captured) (v changedetect.Verdict, err error) {
	log := trace.Logger(ctx)
	defer func() {
		if p := recover(); p != nil {
			log.Warn("change comparison panicked, assuming changed", "panic", fmt.Sprint(p))
			v, err = changed(1, 0), nil
		}
	}()

	cur := f.Image
	switch {
	case !hasPrev:
		return changed(1, 0), nil
	case prev == cur:
		return changedetect.Verdict{Tier: 1, Similarity: 1, HasSimilarity: true}, nil
	case !prev.Valid() || !cur.Valid():
		log.Warn("frame buffer invalid, assuming changed")
		return changed(1, 0), nil
	case prev.Bounds().Size() != cur.Bounds().Size():
		return changed(1, 1), nil
	}

	prevImg, err := prev.Raw()
	if err != nil {
		log.Warn("previous frame expired, assuming changed", "error", err)
		return changed(1, 0), nil
	}
	curImg, err := cur.Raw()
	if err != nil {
		log.Warn("current frame expired, assuming changed", "error", err)
		return changed(1, 0), nil
	}

	if g.detector == nil {
		pct := changedetect.SampledWindow(prevImg, curImg)
		return changedetect.Verdict{Changed: pct > 0, ChangePercent: pct, Tier: 1}, nil
	}

	v, err = g.detector.Detect(ctx, prevImg, curImg, f.ContextID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return changedetect.Verdict{}, ctxErr
		}
		log.Warn("change detection failed, assuming changed", "error", err)
		return changed(1, 0), nil
	}
	return v, nil
}

func changed(pct float64, tier int) changedetect.Verdict {
	return changedetect.Verdict{Changed: true, ChangePercent: pct, Tier: tier}
}

func (g *Gate) slot(contextID string) *syncx.Slot[*frame.Image] {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.slots[contextID]
	if !ok {
		s = syncx.NewSlot(func(img *frame.Image) { img.Release() })
		g.slots[contextID] = s
	}
	return s
}

// Forget drops and releases the snapshot held for contextID.
func (g *Gate) Forget(contextID string) {
	g.mu.Lock()
	s, ok := g.slots[contextID]
	delete(g.slots, contextID)
	g.mu.Unlock()
	if ok {
		s.Clear()
	}
}

// Close releases every snapshot.
func (g *Gate) Close() {
	g.mu.Lock()
	slots := g.slots
	g.slots = make(map[string]*syncx.Slot[*frame.Image])
	g.mu.Unlock()
	for _, s := range slots {
		s.Clear()
	}
}
