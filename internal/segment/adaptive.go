package segment

import (
	"context"
	"fmt"
	"image"
	"slices"
	"sort"
	"strings"

	apperrors "github.com/koizumiiiii/Baketa-sub009/internal/errors"
)

// Params tunes the adaptive strategy.
type Params struct {
	MinBoxArea          int     // probe boxes below this area are noise
	MinBoxConfidence    float64 // probe boxes below this confidence are noise
	LineYTolerance      int     // max |centerY - seed centerY| within one line
	MaxHorizontalGap    int     // max gap (inclusive) merged within a line
	MaxRegionAreaRatio  float64 // regions above this fraction of the frame are split
	MinRegionWidth      int
	MinRegionHeight     int
	MaxRegionCount      int // 0 disables the cap
	AreaBonusSaturation int // area at which the confidence bonus saturates
	MaxAspectRatio      float64
}

// DefaultParams returns the production tuning.
func DefaultParams() Params {
	return Params{
		MinBoxArea:          100,
		MinBoxConfidence:    0.3,
		LineYTolerance:      10,
		MaxHorizontalGap:    50,
		MaxRegionAreaRatio:  0.3,
		MinRegionWidth:      64,
		MinRegionHeight:     32,
		MaxRegionCount:      20,
		AreaBonusSaturation: 10000,
		MaxAspectRatio:      8,
	}
}

const (
	maxAreaBonus     = 0.20
	splitTargetRatio = 0.7
	splitPenalty     = 0.8
)

// Adaptive builds regions from detector probe boxes.
type Adaptive struct {
	detector Detector
	params   Params
}

// NewAdaptive creates an adaptive strategy over detector.
func NewAdaptive(detector Detector, params Params) *Adaptive {
	if params.MaxAspectRatio <= 0 {
		params.MaxAspectRatio = DefaultParams().MaxAspectRatio
	}
	if params.AreaBonusSaturation <= 0 {
		params.AreaBonusSaturation = DefaultParams().AreaBonusSaturation
	}
	return &Adaptive{detector: detector, params: params}
}

func (*Adaptive) Name() string { return "adaptive" }

// Segment runs the detector and builds regions. A detector failure discards
// all partial work and returns an empty set with the error.
func (a *Adaptive) Segment(ctx context.Context, img image.Image) ([]Region, error) {
	boxes, err := a.detector.Detect(ctx, img)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperrors.Wrap(err, apperrors.DetectorFailed, "detect text probes")
	}
	return a.FromBoxes(img.Bounds(), boxes), nil
}

// FromBoxes is the deterministic core of Segment.
func (a *Adaptive) FromBoxes(frame image.Rectangle, boxes []ProbeBox) []Region {
	if frame.Empty() {
		return nil
	}
	if len(boxes) == 0 {
		// A geometric grid would cut words; recognize the frame whole.
		return []Region{FullFrame(frame, Composite, 1.0)}
	}

	var regions []Region
	for li, line := range a.groupLines(a.filterNoise(boxes)) {
		for ri, merged := range a.mergeLine(line) {
			r := merged.region(fmt.Sprintf("adaptive-L%d-R%d", li, ri), a.params.AreaBonusSaturation)
			regions = append(regions, a.validate(r, frame)...)
		}
	}

	if limit := a.params.MaxRegionCount; limit > 0 && len(regions) > limit {
		regions = topByConfidence(regions, limit)
	}
	return regions
}

// topByConfidence keeps the limit most confident regions in their original
// reading order.
func topByConfidence(regions []Region, limit int) []Region {
	order := make([]int, len(regions))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return regions[order[i]].Confidence > regions[order[j]].Confidence
	})
	keep := order[:limit]
	slices.Sort(keep)

	capped := make([]Region, 0, limit)
	for _, i := range keep {
		capped = append(capped, regions[i])
	}
	return capped
}

func (a *Adaptive) filterNoise(boxes []ProbeBox) []ProbeBox {
	kept := make([]ProbeBox, 0, len(boxes))
	for _, b := range boxes {
		if area(b.Bounds) < a.params.MinBoxArea || b.Confidence < a.params.MinBoxConfidence {
			continue
		}
		kept = append(kept, b)
	}
	return kept
}

// groupLines clusters boxes into lines. Each line is anchored on its seed
// (the lowest-Y unassigned box); members are compared to the seed only, so
// the band never re-centers as boxes join.
func (a *Adaptive) groupLines(boxes []ProbeBox) [][]ProbeBox {
	sorted := slices.Clone(boxes)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Bounds.Min.Y != sorted[j].Bounds.Min.Y {
			return sorted[i].Bounds.Min.Y < sorted[j].Bounds.Min.Y
		}
		return sorted[i].Bounds.Min.X < sorted[j].Bounds.Min.X
	})

	tol := float64(a.params.LineYTolerance)
	assigned := make([]bool, len(sorted))
	var lines [][]ProbeBox
	for i, seed := range sorted {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		line := []ProbeBox{seed}
		seedY := centerY(seed.Bounds)
		for j := range sorted {
			if assigned[j] {
				continue
			}
			if d := centerY(sorted[j].Bounds) - seedY; d >= -tol && d <= tol {
				assigned[j] = true
				line = append(line, sorted[j])
			}
		}
		sort.SliceStable(line, func(x, y int) bool {
			return line[x].Bounds.Min.X < line[y].Bounds.Min.X
		})
		lines = append(lines, line)
	}
	return lines
}

func centerY(r image.Rectangle) float64 {
	return float64(r.Min.Y+r.Max.Y) / 2
}

type mergedBoxes struct {
	bounds  image.Rectangle
	boxes   []ProbeBox
	snippet []string
}

// mergeLine walks a left-to-right line, merging while the gap to the next box
// is at most MaxHorizontalGap.
func (a *Adaptive) mergeLine(line []ProbeBox) []mergedBoxes {
	var out []mergedBoxes
	var cur *mergedBoxes
	for _, b := range line {
		if cur != nil && b.Bounds.Min.X-cur.bounds.Max.X <= a.params.MaxHorizontalGap {
			cur.bounds = cur.bounds.Union(b.Bounds)
			cur.boxes = append(cur.boxes, b)
			if b.Snippet != "" {
				cur.snippet = append(cur.snippet, b.Snippet)
			}
			continue
		}
		if cur != nil {
			out = append(out, *cur)
		}
		cur = &mergedBoxes{bounds: b.Bounds, boxes: []ProbeBox{b}}
		if b.Snippet != "" {
			cur.snippet = []string{b.Snippet}
		}
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

// region scores the merged boxes: mean probe confidence plus an area bonus
// linear up to saturation, capped at maxAreaBonus; the total is capped at 1.
func (m mergedBoxes) region(id string, saturation int) Region {
	var sum float64
	for _, b := range m.boxes {
		sum += b.Confidence
	}
	bonus := min(float64(area(m.bounds))/float64(saturation), 1) * maxAreaBonus
	return Region{
		ID:         id,
		Bounds:     m.bounds,
		Kind:       TextAdaptive,
		Confidence: clamp01(sum/float64(len(m.boxes)) + bonus),
		Provenance: Provenance{SplitIndex: NoSplit, Snippet: strings.Join(m.snippet, " ")},
	}
}
