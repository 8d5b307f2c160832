// Package screen grabs the primary display as decoded frames.
package screen

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	"github.com/koizumiiiii/Baketa-sub009/internal/frame"
)

var (
	// ErrNoTool is returned when no screenshot command is installed.
	ErrNoTool = errors.New("screen: no screenshot tool found")
	// ErrUnsupported is returned on platforms without a capture backend.
	ErrUnsupported = errors.New("screen: capture not supported on this platform")
)

// Capturer produces one frame per call. The returned handle carries one
// reference owned by the caller.
type Capturer interface {
	Capture(ctx context.Context) (*frame.Image, error)
	Close() error
}

// CaptureFunc adapts a function to Capturer.
type CaptureFunc func(ctx context.Context) (*frame.Image, error)

func (f CaptureFunc) Capture(ctx context.Context) (*frame.Image, error) { return f(ctx) }
func (CaptureFunc) Close() error                                        { return nil }

// backend writes one screenshot of the primary display to path.
type backend interface {
	captureRaw(ctx context.Context, path string) error
}

// fileCapturer runs a screenshot command into a private temp dir and
// decodes the result.
type fileCapturer struct {
	backend
	tempDir string
}

func newFileCapturer(b backend) (*fileCapturer, error) {
	dir, err := os.MkdirTemp("", "baketa-screen-*")
	if err != nil {
		return nil, fmt.Errorf("create screenshot dir: %w", err)
	}
	return &fileCapturer{backend: b, tempDir: dir}, nil
}

func (c *fileCapturer) Capture(ctx context.Context) (*frame.Image, error) {
	path := filepath.Join(c.tempDir, "screenshot.png")
	defer os.Remove(path)

	if err := c.captureRaw(ctx, path); err != nil {
		return nil, err
	}
	return decodeFile(path)
}

func (c *fileCapturer) Close() error {
	return os.RemoveAll(c.tempDir)
}

func decodeFile(path string) (*frame.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read screenshot: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return frame.NewImage(img), nil
}
