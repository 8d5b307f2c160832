package changedetect

import (
	"bytes"
	"image"
	"image/color"
)

// luma returns the 8-bit luminance of img at (x, y).
func luma(img image.Image, x, y int) uint8 {
	if rgba, ok := img.(*image.RGBA); ok {
		i := rgba.PixOffset(x, y)
		p := rgba.Pix[i : i+3 : i+3]
		return uint8((299*uint32(p[0]) + 587*uint32(p[1]) + 114*uint32(p[2])) / 1000)
	}
	return color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
}

func brightnessDiffers(a, b uint8) bool {
	d := int(a) - int(b)
	if d < 0 {
		d = -d
	}
	return float64(d)/255 > BrightnessTolerance
}

// SampledWindow compares a WindowSamples² lattice over a centered window of
// both images and returns the fraction of samples whose brightness differs by
// more than BrightnessTolerance; any non-zero fraction means changed. The
// sample count does not depend on frame size. Both images must have the same
// dimensions.
func SampledWindow(prev, cur image.Image) float64 {
	pb, cb := prev.Bounds(), cur.Bounds()
	w, h := pb.Dx(), pb.Dy()
	if w == 0 || h == 0 {
		return 0
	}
	winW, winH := max(w/4, 1), max(h/4, 1)
	x0, y0 := (w-winW)/2, (h-winH)/2

	changed := 0
	for sy := 0; sy < WindowSamples; sy++ {
		y := y0 + sy*winH/WindowSamples
		for sx := 0; sx < WindowSamples; sx++ {
			x := x0 + sx*winW/WindowSamples
			if brightnessDiffers(luma(prev, pb.Min.X+x, pb.Min.Y+y), luma(cur, cb.Min.X+x, cb.Min.Y+y)) {
				changed++
			}
		}
	}
	return float64(changed) / float64(WindowSamples*WindowSamples)
}

// sampledFraction returns the fraction of a SampleGrid² lattice spread over
// the whole frame whose brightness differs.
func sampledFraction(prev, cur image.Image) float64 {
	pb, cb := prev.Bounds(), cur.Bounds()
	w, h := pb.Dx(), pb.Dy()
	if w == 0 || h == 0 {
		return 0
	}
	changed := 0
	for sy := 0; sy < SampleGrid; sy++ {
		y := (2*sy + 1) * h / (2 * SampleGrid)
		for sx := 0; sx < SampleGrid; sx++ {
			x := (2*sx + 1) * w / (2 * SampleGrid)
			if brightnessDiffers(luma(prev, pb.Min.X+x, pb.Min.Y+y), luma(cur, cb.Min.X+x, cb.Min.Y+y)) {
				changed++
			}
		}
	}
	return float64(changed) / float64(SampleGrid*SampleGrid)
}

// identical reports whether both images hold the same pixels. Only *image.RGBA
// pairs are compared; anything else is reported as not identical.
func identical(prev, cur image.Image) bool {
	a, ok := prev.(*image.RGBA)
	if !ok {
		return false
	}
	b, ok := cur.(*image.RGBA)
	if !ok || a.Rect.Size() != b.Rect.Size() {
		return false
	}
	w := a.Rect.Dx() * 4
	for y := 0; y < a.Rect.Dy(); y++ {
		ra := a.Pix[a.PixOffset(a.Rect.Min.X, a.Rect.Min.Y+y):][:w]
		rb := b.Pix[b.PixOffset(b.Rect.Min.X, b.Rect.Min.Y+y):][:w]
		if !bytes.Equal(ra, rb) {
			return false
		}
	}
	return true
}

// blockPercent splits both images into a BlockGrid² grid, compares every
// BlockStep-th pixel of each block and returns the fraction of blocks in
// which at least BlockSampleFraction of the samples differ in brightness.
func blockPercent(prev, cur image.Image) float64 {
	pb, cb := prev.Bounds(), cur.Bounds()
	w, h := pb.Dx(), pb.Dy()
	if w == 0 || h == 0 {
		return 0
	}
	changed, blocks := 0, 0
	for by := 0; by < BlockGrid; by++ {
		y0, y1 := by*h/BlockGrid, (by+1)*h/BlockGrid
		if y1 <= y0 {
			continue
		}
		for bx := 0; bx < BlockGrid; bx++ {
			x0, x1 := bx*w/BlockGrid, (bx+1)*w/BlockGrid
			if x1 <= x0 {
				continue
			}
			diff, n := 0, 0
			for y := y0; y < y1; y += BlockStep {
				for x := x0; x < x1; x += BlockStep {
					if brightnessDiffers(luma(prev, pb.Min.X+x, pb.Min.Y+y), luma(cur, cb.Min.X+x, cb.Min.Y+y)) {
						diff++
					}
					n++
				}
			}
			blocks++
			if diff > 0 && float64(diff) >= BlockSampleFraction*float64(n) {
				changed++
			}
		}
	}
	if blocks == 0 {
		return 0
	}
	return float64(changed) / float64(blocks)
}
