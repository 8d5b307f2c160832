// Package segment partitions a frame into regions for independent text
// recognition. Grid is the deterministic fallback; Adaptive aligns regions
// to detected text lines so no glyph or line is cut.
package segment

import (
	"context"
	"image"
)

// Kind tags how a region was produced.
type Kind int

const (
	Grid Kind = iota
	TextAdaptive
	Composite
	Fallback
)

func (k Kind) String() string {
	switch k {
	case Grid:
		return "grid"
	case TextAdaptive:
		return "text_adaptive"
	case Composite:
		return "composite"
	case Fallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// NoSplit is the SplitIndex of a region that was not produced by a split.
const NoSplit = -1

// Provenance records where a region came from. Diagnostics only.
type Provenance struct {
	ParentID   string
	SplitIndex int
	Snippet    string
}

// Region is a rectangle in frame-pixel coordinates slated for recognition.
type Region struct {
	ID         string
	Bounds     image.Rectangle
	Kind       Kind
	Confidence float64
	Provenance Provenance
}

// ProbeBox is a candidate text rectangle reported by a detector.
type ProbeBox struct {
	Bounds     image.Rectangle
	Confidence float64
	Snippet    string
}

// Detector finds probe boxes in a frame. It may return none.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]ProbeBox, error)
}

// Strategy produces the region list for one frame.
type Strategy interface {
	Name() string
	Segment(ctx context.Context, img image.Image) ([]Region, error)
}

// FullFrame returns a single region covering frame.
func FullFrame(frame image.Rectangle, kind Kind, confidence float64) Region {
	return Region{
		ID:         kind.String() + "-full",
		Bounds:     frame,
		Kind:       kind,
		Confidence: clamp01(confidence),
		Provenance: Provenance{SplitIndex: NoSplit},
	}
}

func area(r image.Rectangle) int {
	return r.Dx() * r.Dy()
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
