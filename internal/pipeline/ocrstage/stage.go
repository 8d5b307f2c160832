// Package ocrstage is the recognition stage: it segments a changed frame,
// crops each region, and recognizes the crops concurrently.
package ocrstage

import (
	"context"
	"image"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/koizumiiiii/Baketa-sub009/internal/changedetect"
	apperrors "github.com/koizumiiiii/Baketa-sub009/internal/errors"
	"github.com/koizumiiiii/Baketa-sub009/internal/extract"
	"github.com/koizumiiiii/Baketa-sub009/internal/frame"
	"github.com/koizumiiiii/Baketa-sub009/internal/observe"
	"github.com/koizumiiiii/Baketa-sub009/internal/pipeline"
	"github.com/koizumiiiii/Baketa-sub009/internal/segment"
	"github.com/koizumiiiii/Baketa-sub009/internal/trace"
)

// DefaultConcurrency bounds in-flight recognizer calls per frame.
const DefaultConcurrency = 4

// fallbackConfidence marks a whole-frame region produced because the
// detector failed.
const fallbackConfidence = 0.5

// Recognizer reads text from one cropped region.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image, regionID string) (text string, confidence float64, err error)
}

// TypingSource reports whether a context is mid-reveal. The text gate
// implements it.
type TypingSource interface {
	Typing(contextID string) bool
}

// Stage runs segmentation, extraction and recognition.
type Stage struct {
	strategy    segment.Strategy
	extractor   *extract.Extractor
	recognizer  Recognizer
	concurrency int
	metrics     *observe.Metrics
	typing      TypingSource
}

// New creates the stage. concurrency <= 0 selects DefaultConcurrency.
func New(strategy segment.Strategy, extractor *extract.Extractor, recognizer Recognizer, concurrency int, metrics *observe.Metrics) *Stage {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Stage{
		strategy:    strategy,
		extractor:   extractor,
		recognizer:  recognizer,
		concurrency: concurrency,
		metrics:     metrics,
	}
}

func (*Stage) ID() pipeline.StageID { return pipeline.OcrExecution }

func (*Stage) EstimatedDuration() time.Duration { return 300 * time.Millisecond }

// WithTyping makes the stage recognize unchanged frames while src reports a
// reveal in progress, so the text gate sees the settled frame.
func (s *Stage) WithTyping(src TypingSource) *Stage {
	s.typing = src
	return s
}

// Plan skips only when the image gate positively reported no change and no
// reveal is pending; a missing or failed gate result runs recognition.
func (s *Stage) Plan(pc *pipeline.Context) pipeline.Action {
	f := pc.Frame
	if f == nil || f.Image == nil {
		return pipeline.Skip("no frame")
	}
	if v, ok := pipeline.ResultAs[changedetect.Verdict](pc, pipeline.ImageChangeDetection); ok && !v.Changed {
		if s.typing == nil || !s.typing.Typing(pc.ContextID()) {
			return pipeline.Skip("image unchanged")
		}
	}
	return pipeline.Run(func(ctx context.Context) (any, error) {
		return s.Recognize(ctx, f)
	})
}

// Recognize produces the recognition for f.
func (s *Stage) Recognize(ctx context.Context, f *frame.Captured) (pipeline.Recognition, error) {
	log := trace.Logger(ctx)
	out := pipeline.Recognition{Strategy: s.strategy.Name()}

	raw, err := f.Image.Raw()
	if err != nil {
		return out, apperrors.Wrap(err, apperrors.FrameExpired, "read frame")
	}

	regions, err := s.strategy.Segment(ctx, raw)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, ctxErr
		}
		log.Warn("segmentation failed, recognizing whole frame", "strategy", s.strategy.Name(), "error", err)
		regions = []segment.Region{segment.FullFrame(raw.Bounds(), segment.Fallback, fallbackConfidence)}
		out.Degraded = true
	}
	s.metrics.RecordRegions(ctx, s.strategy.Name(), len(regions))
	if len(regions) == 0 {
		return out, nil
	}

	crops, err := s.extractor.Extract(ctx, f.Image, regions)
	if err != nil {
		return out, err
	}
	defer extract.Release(crops)

	results := make([]pipeline.RecognizedRegion, len(crops))
	failed := make([]error, len(crops))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, c := range crops {
		g.Go(func() error {
			img, err := c.Image.Raw()
			if err != nil {
				failed[i] = err
				return nil
			}
			text, conf, err := s.recognizer.Recognize(gctx, img, c.Region.ID)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				failed[i] = err
				return nil
			}
			results[i] = pipeline.RecognizedRegion{Region: c.Region, Text: text, Confidence: conf}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, ctxErr
		}
		return out, err
	}

	var lastErr error
	for i, err := range failed {
		if err != nil {
			lastErr = err
			log.Warn("region recognition failed", "region_id", crops[i].Region.ID, "error", err)
			continue
		}
		out.Regions = append(out.Regions, results[i])
	}
	if len(out.Regions) == 0 && lastErr != nil {
		return out, apperrors.Wrap(lastErr, apperrors.RecognizerFailed, "every region failed recognition")
	}
	return out, nil
}
