package segment

import (
	"fmt"
	"image"
	"math"
)

// validate clips r to frame, then repairs it: undersized regions are expanded
// with surrounding context or dropped, oversized regions are split.
func (a *Adaptive) validate(r Region, frame image.Rectangle) []Region {
	b := r.Bounds.Intersect(frame)
	if b.Empty() {
		return nil
	}
	if b.Dx() < a.params.MinRegionWidth || b.Dy() < a.params.MinRegionHeight {
		var ok bool
		if b, ok = a.expand(b, frame); !ok {
			return nil
		}
	}
	r.Bounds = b

	maxArea := a.params.MaxRegionAreaRatio * float64(area(frame))
	if a.params.MaxRegionAreaRatio > 0 && float64(area(b)) > maxArea {
		return a.split(r, frame, maxArea)
	}
	return []Region{r}
}

// expand grows b symmetrically up to the size floor, corrects extreme aspect
// ratios by growing the short axis, and fits the result back into frame.
func (a *Adaptive) expand(b, frame image.Rectangle) (image.Rectangle, bool) {
	minW, minH := a.params.MinRegionWidth, a.params.MinRegionHeight
	if b.Dx() < minW {
		b = growX(b, minW)
	}
	if b.Dy() < minH {
		b = growY(b, minH)
	}

	maxAspect := a.params.MaxAspectRatio
	w, h := float64(b.Dx()), float64(b.Dy())
	switch {
	case w > maxAspect*h:
		b = growY(b, int(math.Ceil(w/maxAspect)))
	case h > maxAspect*w:
		b = growX(b, int(math.Ceil(h/maxAspect)))
	}

	b = fitInto(b, frame)
	return b, b.Dx() >= minW && b.Dy() >= minH
}

func growX(b image.Rectangle, width int) image.Rectangle {
	extra := width - b.Dx()
	if extra <= 0 {
		return b
	}
	b.Min.X -= extra / 2
	b.Max.X = b.Min.X + width
	return b
}

func growY(b image.Rectangle, height int) image.Rectangle {
	extra := height - b.Dy()
	if extra <= 0 {
		return b
	}
	b.Min.Y -= extra / 2
	b.Max.Y = b.Min.Y + height
	return b
}

// fitInto slides b inside frame where it fits, then clips what still overflows.
func fitInto(b, frame image.Rectangle) image.Rectangle {
	if b.Min.X < frame.Min.X {
		b = b.Add(image.Pt(frame.Min.X-b.Min.X, 0))
	} else if b.Max.X > frame.Max.X {
		b = b.Add(image.Pt(max(frame.Max.X-b.Max.X, frame.Min.X-b.Min.X), 0))
	}
	if b.Min.Y < frame.Min.Y {
		b = b.Add(image.Pt(0, frame.Min.Y-b.Min.Y))
	} else if b.Max.Y > frame.Max.Y {
		b = b.Add(image.Pt(0, max(frame.Max.Y-b.Max.Y, frame.Min.Y-b.Min.Y)))
	}
	return b.Intersect(frame)
}

// split cuts an oversized region into a near-square sub-grid whose cells
// target splitTargetRatio of maxArea. Counts are ceiling-divided and the
// trailing row and column absorb the remainder. Children under the size
// floor are discarded.
func (a *Adaptive) split(r Region, frame image.Rectangle, maxArea float64) []Region {
	side := math.Sqrt(splitTargetRatio * maxArea)
	b := r.Bounds
	w, h := b.Dx(), b.Dy()
	cols := max(int(math.Ceil(float64(w)/side)), 1)
	rows := max(int(math.Ceil(float64(h)/side)), 1)
	cellW, cellH := w/cols, h/rows

	children := make([]Region, 0, rows*cols)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			cell := image.Rect(b.Min.X+col*cellW, b.Min.Y+row*cellH, b.Min.X+(col+1)*cellW, b.Min.Y+(row+1)*cellH)
			if col == cols-1 {
				cell.Max.X = b.Max.X
			}
			if row == rows-1 {
				cell.Max.Y = b.Max.Y
			}
			cell = cell.Intersect(frame)
			if cell.Dx() < a.params.MinRegionWidth || cell.Dy() < a.params.MinRegionHeight {
				continue
			}
			idx := row*cols + col
			children = append(children, Region{
				ID:         fmt.Sprintf("%s#s%d", r.ID, idx),
				Bounds:     cell,
				Kind:       r.Kind,
				Confidence: clamp01(r.Confidence * splitPenalty),
				Provenance: Provenance{ParentID: r.ID, SplitIndex: idx, Snippet: r.Provenance.Snippet},
			})
		}
	}
	return children
}
