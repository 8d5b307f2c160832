// Package frame holds captured screen frames and the ref-counted image handles they carry.
package frame

import (
	"errors"
	"image"
	"sync/atomic"
	"time"

	"golang.org/x/image/draw"
)

var (
	// ErrExpired is returned when pixels are requested from a released image.
	ErrExpired = errors.New("frame: image released")
	// ErrEmptyCrop is returned when a crop rectangle does not overlap the image.
	ErrEmptyCrop = errors.New("frame: crop rectangle empty")
)

// Captured is one frame handed to the pipeline. PreviousText and
// PreviousRegions are owned by the caller and passed on every run.
type Captured struct {
	Image           *Image
	Rect            image.Rectangle // capture rectangle in screen coordinates
	WindowID        string
	ContextID       string
	PreviousText    string
	PreviousRegions []image.Rectangle
	CapturedAt      time.Time
}

// Image is a ref-counted handle over decoded pixels. A new handle starts with
// one reference; it expires when the last reference is released.
type Image struct {
	img    image.Image
	refs   atomic.Int32
	pool   *Pool
	pooled *image.RGBA
}

// NewImage wraps img in a handle owning one reference.
func NewImage(img image.Image) *Image {
	i := &Image{img: img}
	i.refs.Store(1)
	return i
}

// Retain adds a reference. Retaining an expired handle is a no-op and
// reports false.
func (i *Image) Retain() bool {
	if i == nil {
		return false
	}
	for {
		n := i.refs.Load()
		if n <= 0 {
			return false
		}
		if i.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops a reference; the last release expires the handle.
func (i *Image) Release() {
	if i == nil {
		return
	}
	if i.refs.Add(-1) == 0 && i.pool != nil {
		i.pool.Put(i.pooled)
	}
}

// Valid reports whether pixels may still be read.
func (i *Image) Valid() bool {
	return i != nil && i.img != nil && i.refs.Load() > 0
}

// Bounds returns the pixel bounds, or the empty rectangle for a nil handle.
func (i *Image) Bounds() image.Rectangle {
	if i == nil || i.img == nil {
		return image.Rectangle{}
	}
	return i.img.Bounds()
}

func (i *Image) Width() int  { return i.Bounds().Dx() }
func (i *Image) Height() int { return i.Bounds().Dy() }

// Raw returns the underlying pixels while the handle is valid.
func (i *Image) Raw() (image.Image, error) {
	if !i.Valid() {
		return nil, ErrExpired
	}
	return i.img, nil
}

// Crop copies r (in this image's coordinates) into a new handle whose origin
// is (0,0). Ownership of the returned handle passes to the caller.
func (i *Image) Crop(r image.Rectangle) (*Image, error) {
	src, err := i.Raw()
	if err != nil {
		return nil, err
	}
	r = r.Intersect(src.Bounds())
	if r.Empty() {
		return nil, ErrEmptyCrop
	}
	pool := defaultPool
	dst := pool.Get(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Copy(dst, image.Point{}, src, r, draw.Src, nil)
	c := NewImage(dst)
	c.pool = pool
	c.pooled = dst
	return c, nil
}
