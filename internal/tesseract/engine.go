//go:build tesseract

package tesseract

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"

	apperrors "github.com/koizumiiiii/Baketa-sub009/internal/errors"
	"github.com/koizumiiiii/Baketa-sub009/internal/segment"
)

// Engine serializes access to one Tesseract client, which is not safe for
// concurrent use.
type Engine struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// New loads the given languages (see Languages).
func New(languages ...string) (*Engine, error) {
	client := gosseract.NewClient()
	if err := client.SetLanguage(Languages(languages...)...); err != nil {
		client.Close()
		return nil, apperrors.Wrap(err, apperrors.Unavailable, "load tesseract languages")
	}
	return &Engine{client: client}, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client.Close()
}

func (e *Engine) setImage(img image.Image) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return apperrors.Wrap(err, apperrors.FrameInvalid, "encode png")
	}
	return e.client.SetImageFromBytes(buf.Bytes())
}

// Detect reports one probe box per text line, in img's coordinate space.
func (e *Engine) Detect(ctx context.Context, img image.Image) ([]segment.ProbeBox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.setImage(img); err != nil {
		return nil, err
	}
	lines, err := e.client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.DetectorFailed, "tesseract layout")
	}
	origin := img.Bounds().Min
	boxes := make([]segment.ProbeBox, 0, len(lines))
	for _, l := range lines {
		boxes = append(boxes, segment.ProbeBox{
			Bounds:     l.Box.Add(origin),
			Confidence: l.Confidence / 100,
			Snippet:    strings.TrimSpace(l.Word),
		})
	}
	return boxes, nil
}

// Recognize reads a region crop. Confidence is the mean line confidence.
func (e *Engine) Recognize(ctx context.Context, img image.Image, regionID string) (string, float64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.setImage(img); err != nil {
		return "", 0, err
	}
	lines, err := e.client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return "", 0, apperrors.Wrap(err, apperrors.RecognizerFailed, "tesseract recognize").WithMetadata("region", regionID)
	}
	texts := make([]string, 0, len(lines))
	var sum float64
	for _, l := range lines {
		if t := strings.TrimSpace(l.Word); t != "" {
			texts = append(texts, t)
			sum += l.Confidence
		}
	}
	if len(texts) == 0 {
		return "", 0, nil
	}
	return strings.Join(texts, "\n"), sum / float64(len(texts)) / 100, nil
}
