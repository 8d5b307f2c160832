//go:build !tesseract

package tesseract

import (
	"context"
	"image"

	"github.com/koizumiiiii/Baketa-sub009/internal/segment"
)

// Engine is a placeholder when Tesseract is not compiled in.
type Engine struct{}

// New always fails with ErrUnavailable in this build.
func New(...string) (*Engine, error) { return nil, ErrUnavailable }

func (*Engine) Close() error { return nil }

func (*Engine) Detect(context.Context, image.Image) ([]segment.ProbeBox, error) {
	return nil, ErrUnavailable
}

func (*Engine) Recognize(context.Context, image.Image, string) (string, float64, error) {
	return "", 0, ErrUnavailable
}
