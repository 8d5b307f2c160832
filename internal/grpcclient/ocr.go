package grpcclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/png"

	apperrors "github.com/koizumiiiii/Baketa-sub009/internal/errors"
	"github.com/koizumiiiii/Baketa-sub009/internal/resilience"
	"github.com/koizumiiiii/Baketa-sub009/internal/segment"
	"google.golang.org/protobuf/types/known/structpb"
)

// encodePNG renders img as base64 PNG. The helper sees pixels re-based to
// (0,0); callers translate coordinates back.
func encodePNG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", apperrors.Wrap(err, apperrors.FrameInvalid, "encode png")
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Detect asks the helper for text probe boxes in img. Box coordinates are
// returned in img's coordinate space.
func (c *Client) Detect(ctx context.Context, img image.Image) ([]segment.ProbeBox, error) {
	data, err := encodePNG(img)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	resp, err := c.invoke(ctx, MethodDetect, c.detectBreaker, resilience.DefaultRetryConfig(), DetectTimeout, map[string]any{
		"image_png": data,
		"width":     b.Dx(),
		"height":    b.Dy(),
	})
	if err != nil {
		return nil, err
	}
	return decodeBoxes(resp, b.Min), nil
}

func decodeBoxes(resp *structpb.Struct, origin image.Point) []segment.ProbeBox {
	values := resp.GetFields()["boxes"].GetListValue().GetValues()
	boxes := make([]segment.ProbeBox, 0, len(values))
	for _, v := range values {
		f := v.GetStructValue().GetFields()
		if f == nil {
			continue
		}
		x, y := int(f["x"].GetNumberValue()), int(f["y"].GetNumberValue())
		w, h := int(f["w"].GetNumberValue()), int(f["h"].GetNumberValue())
		if w <= 0 || h <= 0 {
			continue
		}
		boxes = append(boxes, segment.ProbeBox{
			Bounds:     image.Rect(x, y, x+w, y+h).Add(origin),
			Confidence: f["confidence"].GetNumberValue(),
			Snippet:    f["text"].GetStringValue(),
		})
	}
	return boxes
}

// Recognize reads the text in one region crop.
func (c *Client) Recognize(ctx context.Context, img image.Image, regionID string) (string, float64, error) {
	data, err := encodePNG(img)
	if err != nil {
		return "", 0, err
	}
	resp, err := c.invoke(ctx, MethodRecognize, c.recognizeBreaker, resilience.DefaultRetryConfig(), RecognizeTimeout, map[string]any{
		"image_png": data,
		"region_id": regionID,
	})
	if err != nil {
		return "", 0, err
	}
	f := resp.GetFields()
	return f["text"].GetStringValue(), f["confidence"].GetNumberValue(), nil
}
