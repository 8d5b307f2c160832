package segment

import (
	"context"
	"fmt"
	"image"
)

// DefaultTileSize is the grid tile edge in pixels.
const DefaultTileSize = 1024

// GridStrategy cuts the frame into fixed-size tiles.
type GridStrategy struct {
	TileSize int
}

func (GridStrategy) Name() string { return "grid" }

// Segment implements Strategy.
func (g GridStrategy) Segment(_ context.Context, img image.Image) ([]Region, error) {
	return g.Regions(img.Bounds()), nil
}

// Regions tiles frame row-major. The trailing row and column hold the
// remainder; a frame that fits one tile yields a single full-frame region.
func (g GridStrategy) Regions(frame image.Rectangle) []Region {
	if frame.Empty() {
		return nil
	}
	tile := g.TileSize
	if tile <= 0 {
		tile = DefaultTileSize
	}
	w, h := frame.Dx(), frame.Dy()
	if w <= tile && h <= tile {
		return []Region{gridRegion(0, 0, frame)}
	}

	rows := (h + tile - 1) / tile
	cols := (w + tile - 1) / tile
	regions := make([]Region, 0, rows*cols)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			r := image.Rect(
				frame.Min.X+col*tile,
				frame.Min.Y+row*tile,
				min(frame.Min.X+(col+1)*tile, frame.Max.X),
				min(frame.Min.Y+(row+1)*tile, frame.Max.Y),
			)
			regions = append(regions, gridRegion(row, col, r))
		}
	}
	return regions
}

func gridRegion(row, col int, r image.Rectangle) Region {
	return Region{
		ID:         fmt.Sprintf("grid-r%d-c%d", row, col),
		Bounds:     r,
		Kind:       Grid,
		Confidence: 1.0,
		Provenance: Provenance{SplitIndex: NoSplit},
	}
}
