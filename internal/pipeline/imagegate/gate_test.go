package imagegate

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"math"
	"testing"
	"time"

	"github.com/koizumiiiii/Baketa-sub009/internal/changedetect"
	"github.com/koizumiiiii/Baketa-sub009/internal/events"
	"github.com/koizumiiiii/Baketa-sub009/internal/frame"
	"github.com/koizumiiiii/Baketa-sub009/internal/pipeline"
)

type fakeDetector struct {
	verdict changedetect.Verdict
	err     error
	calls   int
	cancel  context.CancelFunc
}

func (f *fakeDetector) Detect(ctx context.Context, _, _ image.Image, _ string) (changedetect.Verdict, error) {
	f.calls++
	if f.cancel != nil {
		f.cancel()
		return changedetect.Verdict{}, ctx.Err()
	}
	return f.verdict, f.err
}

type chanSink struct {
	ch chan events.Event
}

func (s *chanSink) Publish(ev events.Event) { s.ch <- ev }

func newImage(w, h int, y uint8) *frame.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.Gray{Y: y}}, image.Point{}, draw.Src)
	return frame.NewImage(img)
}

func captured(ctxID string, img *frame.Image) *frame.Captured {
	return &frame.Captured{Image: img, ContextID: ctxID, WindowID: "w", Rect: image.Rect(0, 0, 64, 64)}
}

func TestColdStartIsChanged(t *testing.T) {
	g := New(nil, nil, nil)
	v, err := g.Check(context.Background(), captured("game", newImage(64, 64, 10)))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !v.Changed {
		t.Error("first frame should always be changed")
	}
}

func TestSameBufferUnchangedWithoutLeak(t *testing.T) {
	g := New(nil, nil, nil)
	img := newImage(64, 64, 10)
	ctx := context.Background()

	_, _ = g.Check(ctx, captured("game", img))
	v, err := g.Check(ctx, captured("game", img))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if v.Changed {
		t.Error("identical buffer should be unchanged")
	}

	img.Release()
	if !img.Valid() {
		t.Fatal("gate should hold exactly one reference")
	}
	g.Forget("game")
	if img.Valid() {
		t.Error("Forget should release the held reference")
	}
}

func TestDisplacedSnapshotReleased(t *testing.T) {
	g := New(nil, nil, nil)
	ctx := context.Background()
	first, second := newImage(64, 64, 10), newImage(64, 64, 10)

	_, _ = g.Check(ctx, captured("game", first))
	first.Release()
	if !first.Valid() {
		t.Fatal("held snapshot should stay valid")
	}

	_, _ = g.Check(ctx, captured("game", second))
	second.Release()
	if first.Valid() {
		t.Error("displaced snapshot should be released")
	}
	if !second.Valid() {
		t.Error("new snapshot should be held")
	}
	g.Close()
	if second.Valid() {
		t.Error("Close should release every snapshot")
	}
}

func TestExpiredBufferFailsOpen(t *testing.T) {
	g := New(&fakeDetector{}, nil, nil)
	ctx := context.Background()

	_, _ = g.Check(ctx, captured("game", newImage(64, 64, 10)))
	expired := newImage(64, 64, 10)
	expired.Release()

	v, err := g.Check(ctx, captured("game", expired))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !v.Changed {
		t.Error("expired buffer should fail open to changed")
	}

	// The expired frame could not be kept, so the next frame cold-starts.
	v, _ = g.Check(ctx, captured("game", newImage(64, 64, 10)))
	if !v.Changed {
		t.Error("frame after an expired one should be treated as a cold start")
	}
}

func TestDimensionMismatch(t *testing.T) {
	g := New(nil, nil, nil)
	ctx := context.Background()
	_, _ = g.Check(ctx, captured("game", newImage(64, 64, 10)))

	v, _ := g.Check(ctx, captured("game", newImage(32, 64, 10)))
	if !v.Changed || v.ChangePercent != 1 {
		t.Errorf("verdict = %+v, want changed 100%%", v)
	}
}

func TestSampledComparison(t *testing.T) {
	g := New(nil, nil, nil)
	ctx := context.Background()
	_, _ = g.Check(ctx, captured("game", newImage(64, 64, 10)))

	v, _ := g.Check(ctx, captured("game", newImage(64, 64, 10)))
	if v.Changed {
		t.Error("same content in a new buffer should be unchanged")
	}

	v, _ = g.Check(ctx, captured("game", newImage(64, 64, 200)))
	if !v.Changed {
		t.Error("brightness change should be detected")
	}
}

func TestDetectorFailureFailsOpen(t *testing.T) {
	det := &fakeDetector{err: errors.New("cascade broke")}
	g := New(det, nil, nil)
	ctx := context.Background()
	_, _ = g.Check(ctx, captured("game", newImage(64, 64, 10)))

	v, err := g.Check(ctx, captured("game", newImage(64, 64, 10)))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !v.Changed {
		t.Error("detector failure should fail open")
	}
	if det.calls != 1 {
		t.Errorf("detector calls = %d, want 1", det.calls)
	}
}

func TestDetectorVerdictPassesThrough(t *testing.T) {
	det := &fakeDetector{verdict: changedetect.Verdict{Tier: 2, ChangePercent: 0.01}}
	g := New(det, nil, nil)
	ctx := context.Background()
	_, _ = g.Check(ctx, captured("game", newImage(64, 64, 10)))

	v, _ := g.Check(ctx, captured("game", newImage(64, 64, 10)))
	if v.Changed || v.Tier != 2 {
		t.Errorf("verdict = %+v, want unchanged tier 2", v)
	}
}

func TestCancellationLeavesSnapshot(t *testing.T) {
	g := New(nil, nil, nil)
	first := newImage(64, 64, 10)
	_, _ = g.Check(context.Background(), captured("game", first))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.Check(ctx, captured("game", newImage(64, 64, 200))); !errors.Is(err, context.Canceled) {
		t.Fatalf("Check err = %v, want context.Canceled", err)
	}

	v, _ := g.Check(context.Background(), captured("game", first))
	if v.Changed {
		t.Error("snapshot should be untouched by a cancelled check")
	}
}

func TestCancellationDuringDetection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	det := &fakeDetector{}
	g := New(det, nil, nil)
	first := newImage(64, 64, 10)
	_, _ = g.Check(ctx, captured("game", first))

	det.cancel = cancel
	second := newImage(64, 64, 10)
	if _, err := g.Check(ctx, captured("game", second)); !errors.Is(err, context.Canceled) {
		t.Fatalf("Check err = %v, want context.Canceled", err)
	}
	second.Release()
	if second.Valid() {
		t.Error("a cancelled check must not retain the new frame")
	}
}

func TestContextsAreIndependent(t *testing.T) {
	g := New(nil, nil, nil)
	ctx := context.Background()
	_, _ = g.Check(ctx, captured("a", newImage(64, 64, 10)))

	v, _ := g.Check(ctx, captured("b", newImage(64, 64, 10)))
	if !v.Changed {
		t.Error("first frame of another context should cold-start")
	}
}

func TestDisappearanceEventPublished(t *testing.T) {
	det := &fakeDetector{verdict: changedetect.Verdict{
		Changed: true, ChangePercent: 0.05, Tier: 2, Similarity: 0.9, HasSimilarity: true,
	}}
	sink := &chanSink{ch: make(chan events.Event, 1)}
	g := New(det, sink, nil)
	ctx := context.Background()
	_, _ = g.Check(ctx, captured("game", newImage(64, 64, 10)))

	f := captured("game", newImage(64, 64, 10))
	f.PreviousRegions = []image.Rectangle{image.Rect(1, 2, 30, 40)}
	if _, err := g.Check(ctx, f); err != nil {
		t.Fatalf("Check: %v", err)
	}

	select {
	case ev := <-sink.ch:
		if ev.Kind != events.KindTextDisappeared || ev.WindowID != "w" {
			t.Errorf("event = %+v", ev)
		}
		d, ok := ev.Payload.(events.Disappearance)
		if !ok {
			t.Fatalf("payload = %T", ev.Payload)
		}
		if len(d.Regions) != 1 || d.Regions[0] != f.PreviousRegions[0] {
			t.Errorf("regions = %v, want previous regions", d.Regions)
		}
		want := 0.85 + 0.05*(1-0.05/0.15)
		if math.Abs(d.Confidence-want) > 1e-9 {
			t.Errorf("confidence = %v, want %v", d.Confidence, want)
		}
	case <-time.After(time.Second):
		t.Fatal("disappearance event not published")
	}
}

func TestDisappearanceClassification(t *testing.T) {
	tests := []struct {
		name string
		v    changedetect.Verdict
		ok   bool
		conf float64
	}{
		{"unchanged", changedetect.Verdict{ChangePercent: 0.01, Similarity: 0.99, HasSimilarity: true, Tier: 1}, false, 0},
		{"too much change", changedetect.Verdict{Changed: true, ChangePercent: 0.2, Similarity: 0.99, HasSimilarity: true, Tier: 1}, false, 0},
		{"no similarity", changedetect.Verdict{Changed: true, ChangePercent: 0.05, Tier: 1}, false, 0},
		{"low similarity", changedetect.Verdict{Changed: true, ChangePercent: 0.05, Similarity: 0.8, HasSimilarity: true, Tier: 1}, false, 0},
		{"tier 1 zero change", changedetect.Verdict{Changed: true, Similarity: 0.9, HasSimilarity: true, Tier: 1}, true, 1.0},
		{"tier 3 at limit", changedetect.Verdict{Changed: true, ChangePercent: 0.15, Similarity: 0.85, HasSimilarity: true, Tier: 3}, true, 0.75},
		{"unknown tier", changedetect.Verdict{Changed: true, ChangePercent: 0.15, Similarity: 0.9, HasSimilarity: true}, true, 0.6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf, ok := disappearance(tt.v)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && math.Abs(conf-tt.conf) > 1e-9 {
				t.Errorf("confidence = %v, want %v", conf, tt.conf)
			}
		})
	}
}

func TestPlan(t *testing.T) {
	g := New(nil, nil, nil)
	if !g.Plan(pipeline.NewContext(nil, "run")).Skipped() {
		t.Error("a run without a frame should skip")
	}
	if g.Plan(pipeline.NewContext(captured("game", newImage(8, 8, 0)), "run")).Skipped() {
		t.Error("the gate should run for every frame")
	}
}
