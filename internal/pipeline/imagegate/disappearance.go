package imagegate

import (
	"context"
	"image"

	"github.com/koizumiiiii/Baketa-sub009/internal/changedetect"
	"github.com/koizumiiiii/Baketa-sub009/internal/events"
	"github.com/koizumiiiii/Baketa-sub009/internal/frame"
	"github.com/koizumiiiii/Baketa-sub009/internal/trace"
)

const (
	// A change this small over a background this similar means text was removed.
	maxDisappearancePercent    = 0.15
	minDisappearanceSimilarity = 0.85

	maxConfidenceNudge = 0.05
	minConfidence      = 0.6
)

// tierBase is the starting confidence for tiers 1..3; anything else uses unknownBase.
var tierBase = [...]float64{0.95, 0.85, 0.75}

const unknownBase = 0.60

// disappearance classifies v and returns the event confidence.
func disappearance(v changedetect.Verdict) (float64, bool) {
	if !v.Changed || v.ChangePercent > maxDisappearancePercent {
		return 0, false
	}
	if !v.HasSimilarity || v.Similarity < minDisappearanceSimilarity {
		return 0, false
	}
	base := unknownBase
	if v.Tier >= 1 && v.Tier <= len(tierBase) {
		base = tierBase[v.Tier-1]
	}
	conf := base + maxConfidenceNudge*(1-v.ChangePercent/maxDisappearancePercent)
	return min(max(conf, minConfidence), 1), true
}

// publishDisappearance hands the event to the sink off the run's goroutine.
func (g *Gate) publishDisappearance(ctx context.Context, f *frame.Captured, v changedetect.Verdict, conf float64) {
	if g.sink == nil {
		return
	}
	regions := f.PreviousRegions
	if len(regions) == 0 {
		regions = []image.Rectangle{f.Rect}
	}
	ev := events.Event{
		Kind:      events.KindTextDisappeared,
		ContextID: f.ContextID,
		WindowID:  f.WindowID,
		Payload: events.Disappearance{
			Regions:       append([]image.Rectangle(nil), regions...),
			Confidence:    conf,
			Tier:          v.Tier,
			ChangePercent: v.ChangePercent,
		},
	}
	g.metrics.RecordDisappearance(ctx)
	trace.Logger(ctx).Debug("text disappearance detected", "confidence", conf, "regions", len(regions))
	go g.sink.Publish(ev)
}
