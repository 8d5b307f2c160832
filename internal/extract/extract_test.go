package extract

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/koizumiiiii/Baketa-sub009/internal/frame"
	"github.com/koizumiiiii/Baketa-sub009/internal/segment"
)

func source(w, h int) *frame.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), A: 255})
		}
	}
	return frame.NewImage(img)
}

func region(id string, r image.Rectangle) segment.Region {
	return segment.Region{ID: id, Bounds: r, Kind: segment.TextAdaptive, Confidence: 1}
}

func TestExtractSkipsFailedCrops(t *testing.T) {
	src := source(200, 100)
	defer src.Release()

	crops, err := New(0).Extract(context.Background(), src, []segment.Region{
		region("a", image.Rect(0, 0, 50, 40)),
		region("outside", image.Rect(500, 500, 600, 600)),
		region("b", image.Rect(100, 50, 200, 100)),
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	defer Release(crops)

	if len(crops) != 2 {
		t.Fatalf("len(crops) = %d, want 2", len(crops))
	}
	if crops[0].Region.ID != "a" || crops[1].Region.ID != "b" {
		t.Errorf("crop ids = %s, %s; want a, b", crops[0].Region.ID, crops[1].Region.ID)
	}
	if got := crops[1].Image.Bounds(); got != image.Rect(0, 0, 100, 50) {
		t.Errorf("crop bounds = %v, want origin-based 100x50", got)
	}
	raw, _ := crops[1].Image.Raw()
	if got := raw.At(0, 0).(color.RGBA); got.R != 100 || got.G != 50 {
		t.Errorf("crop origin pixel = %+v, want source (100,50)", got)
	}
}

func TestExtractUpscalesShortCrops(t *testing.T) {
	src := source(200, 100)
	defer src.Release()

	crops, err := New(DefaultMinHeight).Extract(context.Background(), src, []segment.Region{
		region("short", image.Rect(0, 0, 40, 16)),
		region("tall", image.Rect(0, 0, 40, 64)),
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	defer Release(crops)

	if got := crops[0].Image.Bounds(); got != image.Rect(0, 0, 80, 32) {
		t.Errorf("upscaled bounds = %v, want 80x32", got)
	}
	if crops[0].Scale != 2 {
		t.Errorf("Scale = %v, want 2", crops[0].Scale)
	}
	if crops[1].Scale != 1 || crops[1].Image.Height() != 64 {
		t.Errorf("tall crop should be untouched, got scale %v height %d", crops[1].Scale, crops[1].Image.Height())
	}
}

func TestExtractExpiredSource(t *testing.T) {
	src := source(50, 50)
	src.Release()

	crops, err := New(0).Extract(context.Background(), src, []segment.Region{region("a", image.Rect(0, 0, 10, 10))})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(crops) != 0 {
		t.Errorf("len(crops) = %d, want 0 from an expired source", len(crops))
	}
}

func TestExtractCancelled(t *testing.T) {
	src := source(50, 50)
	defer src.Release()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := New(0).Extract(ctx, src, []segment.Region{region("a", image.Rect(0, 0, 10, 10))}); !errors.Is(err, context.Canceled) {
		t.Errorf("Extract err = %v, want context.Canceled", err)
	}
}

func TestCropOwnershipTransfers(t *testing.T) {
	src := source(50, 50)
	crops, _ := New(0).Extract(context.Background(), src, []segment.Region{region("a", image.Rect(0, 0, 40, 40))})
	src.Release()

	if !crops[0].Image.Valid() {
		t.Error("crop should outlive its source")
	}
	Release(crops)
	if crops[0].Image.Valid() {
		t.Error("Release should expire the crop")
	}
}
