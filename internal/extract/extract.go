// Package extract crops per-region sub-images out of a frame for the
// recognizer.
package extract

import (
	"context"
	"image"

	"golang.org/x/image/draw"

	"github.com/koizumiiiii/Baketa-sub009/internal/frame"
	"github.com/koizumiiiii/Baketa-sub009/internal/segment"
	"github.com/koizumiiiii/Baketa-sub009/internal/trace"
)

// DefaultMinHeight is the shortest crop handed to the recognizer unscaled.
const DefaultMinHeight = 32

// Crop is one region's sub-image. The receiver owns Image and must Release it.
type Crop struct {
	Region segment.Region
	Image  *frame.Image
	// Scale is the factor the crop was upscaled by; 1 when untouched.
	Scale float64
}

// Extractor crops regions from frames.
type Extractor struct {
	minHeight int
}

// New creates an extractor. Crops shorter than minHeight are upscaled to it;
// minHeight <= 0 disables upscaling.
func New(minHeight int) *Extractor {
	return &Extractor{minHeight: minHeight}
}

// Extract crops every region from src. A region that cannot be cropped is
// logged and skipped; only cancellation aborts the batch, in which case
// crops already taken are released.
func (e *Extractor) Extract(ctx context.Context, src *frame.Image, regions []segment.Region) ([]Crop, error) {
	log := trace.Logger(ctx)
	crops := make([]Crop, 0, len(regions))
	for _, r := range regions {
		if err := ctx.Err(); err != nil {
			Release(crops)
			return nil, err
		}
		img, err := src.Crop(r.Bounds)
		if err != nil {
			log.Warn("region crop failed, skipping", "region_id", r.ID, "bounds", r.Bounds, "error", err)
			continue
		}
		crop := Crop{Region: r, Image: img, Scale: 1}
		if e.minHeight > 0 && img.Height() < e.minHeight {
			crop = e.upscale(crop)
		}
		crops = append(crops, crop)
	}
	return crops, nil
}

// upscale enlarges c to the minimum height keeping its aspect ratio.
func (e *Extractor) upscale(c Crop) Crop {
	raw, err := c.Image.Raw()
	if err != nil {
		return c
	}
	b := raw.Bounds()
	scale := float64(e.minHeight) / float64(b.Dy())
	dst := image.NewRGBA(image.Rect(0, 0, max(int(float64(b.Dx())*scale+0.5), 1), e.minHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), raw, b, draw.Src, nil)

	c.Image.Release()
	c.Image = frame.NewImage(dst)
	c.Scale = scale
	return c
}

// Release releases every crop image.
func Release(crops []Crop) {
	for _, c := range crops {
		c.Image.Release()
	}
}
