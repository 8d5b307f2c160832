package pipeline

import (
	"strings"

	"github.com/koizumiiiii/Baketa-sub009/internal/segment"
)

// Stage payloads. ImageChangeDetection records a changedetect.Verdict.

// RecognizedRegion is one region and the text recognized inside it.
type RecognizedRegion struct {
	Region     segment.Region
	Text       string
	Confidence float64
}

// Recognition is the OcrExecution payload.
type Recognition struct {
	Strategy string
	Regions  []RecognizedRegion
	// Degraded is set when segmentation failed and the frame was recognized whole.
	Degraded bool
}

// Text joins recognized region texts in region order, one per line.
func (r Recognition) Text() string {
	lines := make([]string, 0, len(r.Regions))
	for _, rr := range r.Regions {
		if rr.Text != "" {
			lines = append(lines, rr.Text)
		}
	}
	return strings.Join(lines, "\n")
}

// TextVerdict is the TextChangeDetection payload.
type TextVerdict struct {
	Changed       bool
	ChangePercent float64
	Algorithm     string
	Reason        string
	// Text is the current recognized text the verdict was made on.
	Text string
}

// Translation is the TranslationExecution payload.
type Translation struct {
	SourceText     string
	TranslatedText string
	Engine         string
}
