package changedetect

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"testing"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

// pattern draws visually distinct test images.
func pattern(kind int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 128, 128))
	for y := 0; y < 128; y++ {
		for x := 0; x < 128; x++ {
			var c color.RGBA
			switch kind {
			case 0: // checkerboard
				if (x/8+y/8)%2 == 0 {
					c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
				} else {
					c = color.RGBA{A: 255}
				}
			case 1: // horizontal gradient
				c = color.RGBA{R: uint8(x * 2), B: uint8(255 - x*2), A: 255}
			}
			img.Set(x, y, c)
		}
	}
	return img
}

func fill(img *image.RGBA, r image.Rectangle, c color.Color) {
	draw.Draw(img, r, &image.Uniform{C: c}, image.Point{}, draw.Src)
}

func TestCascadeIdenticalFrames(t *testing.T) {
	c := NewCascade(Config{})
	img := pattern(0)

	v, err := c.Detect(context.Background(), img, img, "ctx")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if v.Changed {
		t.Error("identical frames should be unchanged")
	}
	if v.Tier != 1 {
		t.Errorf("Tier = %d, want 1", v.Tier)
	}
	if !v.HasSimilarity || v.Similarity != 1 {
		t.Errorf("Similarity = %v, want 1", v.Similarity)
	}
}

func TestCascadeDistinctFrames(t *testing.T) {
	c := NewCascade(Config{})

	v, err := c.Detect(context.Background(), pattern(0), pattern(1), "ctx")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !v.Changed {
		t.Error("distinct frames should be changed")
	}
	if v.ChangePercent <= 0 || v.ChangePercent > 1 {
		t.Errorf("ChangePercent = %v, want in (0,1]", v.ChangePercent)
	}
}

func TestCascadeSizeMismatch(t *testing.T) {
	c := NewCascade(Config{})

	v, err := c.Detect(context.Background(), solid(64, 64, color.White), solid(64, 32, color.White), "ctx")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !v.Changed || v.ChangePercent != 1 || v.Tier != 1 {
		t.Errorf("verdict = %+v, want changed 100%% at tier 1", v)
	}
}

func TestCascadeSmallChangeEscalates(t *testing.T) {
	c := NewCascade(Config{})
	prev := solid(256, 256, color.Gray{Y: 128})
	cur := solid(256, 256, color.Gray{Y: 128})
	fill(cur, image.Rect(100, 100, 120, 120), color.White)

	v, err := c.Detect(context.Background(), prev, cur, "ctx")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if v.Tier < 2 {
		t.Errorf("Tier = %d, want escalation past tier 1", v.Tier)
	}
	if !v.Changed {
		t.Errorf("verdict = %+v, want changed", v)
	}
}

// stripes draws a one-line text stand-in: two white columns out of every six,
// shifted by offset.
func stripes(img *image.RGBA, r image.Rectangle, offset int) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if (x+offset)%6 < 2 {
				img.Set(x, y, color.White)
			}
		}
	}
}

func TestCascadeReplacedTextLine(t *testing.T) {
	c := NewCascade(Config{})
	// Rows 900..926 fall between the tier 1 lattice rows of a 1080p frame.
	line := image.Rect(400, 900, 1200, 926)
	prev := solid(1920, 1080, color.Gray{Y: 40})
	cur := solid(1920, 1080, color.Gray{Y: 40})
	stripes(prev, line, 0)
	stripes(cur, line, 3)

	if frac := sampledFraction(prev, cur); frac != 0 {
		t.Fatalf("sampledFraction = %v, want 0 for a line between lattice rows", frac)
	}
	v, err := c.Detect(context.Background(), prev, cur, "ctx")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !v.Changed {
		t.Errorf("verdict = %+v, want changed for a replaced text line", v)
	}
	if v.Tier == 1 {
		t.Error("Tier = 1, want the line to be decided past the sparse lattice")
	}
}

func TestCascadeSubToleranceNoise(t *testing.T) {
	c := NewCascade(Config{})
	prev := solid(256, 256, color.Gray{Y: 128})
	cur := solid(256, 256, color.Gray{Y: 128})
	fill(cur, image.Rect(0, 0, 256, 256), color.Gray{Y: 131})

	v, err := c.Detect(context.Background(), prev, cur, "ctx")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if v.Changed {
		t.Errorf("verdict = %+v, want unchanged below the brightness tolerance", v)
	}
}

func TestCascadeCancelledDuringEscalation(t *testing.T) {
	c := NewCascade(Config{})
	prev := solid(256, 256, color.Gray{Y: 128})
	cur := solid(256, 256, color.Gray{Y: 128})
	fill(cur, image.Rect(100, 100, 120, 120), color.White)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Detect(ctx, prev, cur, "ctx"); err == nil {
		t.Error("expected cancellation error")
	}
	if got := c.Stats().Total; got != 0 {
		t.Errorf("Stats().Total = %d, want 0 after cancellation", got)
	}
}

func TestCascadeStats(t *testing.T) {
	c := NewCascade(Config{})
	img := pattern(0)

	for i := 0; i < 2; i++ {
		if _, err := c.Detect(context.Background(), img, img, "ctx"); err != nil {
			t.Fatalf("Detect: %v", err)
		}
	}
	if _, err := c.Detect(context.Background(), solid(8, 8, color.Black), solid(9, 8, color.Black), "ctx"); err != nil {
		t.Fatalf("Detect: %v", err)
	}

	s := c.Stats()
	if s.Total != 3 {
		t.Errorf("Total = %d, want 3", s.Total)
	}
	if s.Tiers[0].Decisions != 3 || s.Tiers[0].Unchanged != 2 || s.Tiers[0].Changed != 1 {
		t.Errorf("tier 1 = %+v, want 3 decisions (2 unchanged, 1 changed)", s.Tiers[0])
	}
	if s.Changed != 1 || s.Unchanged != 2 {
		t.Errorf("changed/unchanged = %d/%d, want 1/2", s.Changed, s.Unchanged)
	}
}

func TestSampledWindow(t *testing.T) {
	base := solid(64, 64, color.Gray{Y: 100})

	tests := []struct {
		name   string
		change image.Rectangle
		want   bool
	}{
		{"identical", image.Rectangle{}, false},
		{"center change", image.Rect(24, 24, 40, 40), true},
		{"corner change outside window", image.Rect(0, 0, 10, 10), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cur := solid(64, 64, color.Gray{Y: 100})
			if !tt.change.Empty() {
				fill(cur, tt.change, color.White)
			}
			if got := SampledWindow(base, cur) > 0; got != tt.want {
				t.Errorf("SampledWindow() > 0 = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBrightnessTolerance(t *testing.T) {
	tests := []struct {
		a, b uint8
		want bool
	}{
		{100, 100, false},
		{100, 112, false}, // 4.7%
		{100, 114, true},  // 5.5%
		{200, 100, true},
	}
	for _, tt := range tests {
		if got := brightnessDiffers(tt.a, tt.b); got != tt.want {
			t.Errorf("brightnessDiffers(%d, %d) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
