// Package translatestage hands settled recognized text to the translator and
// publishes the result to the overlay.
package translatestage

import (
	"context"
	"image"
	"strings"
	"time"

	apperrors "github.com/koizumiiiii/Baketa-sub009/internal/errors"
	"github.com/koizumiiiii/Baketa-sub009/internal/events"
	"github.com/koizumiiiii/Baketa-sub009/internal/pipeline"
)

// Translator is the external translation backend.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (translated, engine string, err error)
}

// Stage translates changed text.
type Stage struct {
	translator Translator
	sourceLang string
	targetLang string
	sink       events.Sink
}

// New creates the stage. sink may be nil.
func New(translator Translator, sourceLang, targetLang string, sink events.Sink) *Stage {
	return &Stage{translator: translator, sourceLang: sourceLang, targetLang: targetLang, sink: sink}
}

func (*Stage) ID() pipeline.StageID { return pipeline.TranslationExecution }

func (*Stage) EstimatedDuration() time.Duration { return 500 * time.Millisecond }

// Plan runs when there is text and the text gate did not report it unchanged.
func (s *Stage) Plan(pc *pipeline.Context) pipeline.Action {
	rec, ok := pipeline.ResultAs[pipeline.Recognition](pc, pipeline.OcrExecution)
	if !ok {
		return pipeline.Skip("no recognition")
	}
	if v, ok := pipeline.ResultAs[pipeline.TextVerdict](pc, pipeline.TextChangeDetection); ok && !v.Changed {
		return pipeline.Skip("text unchanged")
	}
	text := rec.Text()
	if strings.TrimSpace(text) == "" {
		return pipeline.Skip("no text")
	}

	var contextID, windowID string
	if f := pc.Frame; f != nil {
		contextID, windowID = f.ContextID, f.WindowID
	}
	regions := make([]image.Rectangle, 0, len(rec.Regions))
	for _, rr := range rec.Regions {
		regions = append(regions, rr.Region.Bounds)
	}

	return pipeline.Run(func(ctx context.Context) (any, error) {
		out, err := s.translate(ctx, text)
		if err != nil {
			return nil, err
		}
		if s.sink != nil {
			s.sink.Publish(events.Event{
				Kind:      events.KindTranslation,
				ContextID: contextID,
				WindowID:  windowID,
				Payload: events.Translation{
					SourceText:     out.SourceText,
					TranslatedText: out.TranslatedText,
					Engine:         out.Engine,
					Regions:        regions,
				},
			})
		}
		return out, nil
	})
}

func (s *Stage) translate(ctx context.Context, text string) (pipeline.Translation, error) {
	translated, engine, err := s.translator.Translate(ctx, text, s.sourceLang, s.targetLang)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return pipeline.Translation{}, ctxErr
		}
		return pipeline.Translation{}, apperrors.Wrap(err, apperrors.TranslationFailed, "translate text")
	}
	return pipeline.Translation{SourceText: text, TranslatedText: translated, Engine: engine}, nil
}
