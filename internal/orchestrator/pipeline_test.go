package orchestrator

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"slices"
	"sync"
	"testing"

	"github.com/koizumiiiii/Baketa-sub009/internal/changedetect"
	"github.com/koizumiiiii/Baketa-sub009/internal/extract"
	"github.com/koizumiiiii/Baketa-sub009/internal/frame"
	"github.com/koizumiiiii/Baketa-sub009/internal/pipeline"
	"github.com/koizumiiiii/Baketa-sub009/internal/pipeline/imagegate"
	"github.com/koizumiiiii/Baketa-sub009/internal/pipeline/ocrstage"
	"github.com/koizumiiiii/Baketa-sub009/internal/pipeline/textgate"
	"github.com/koizumiiiii/Baketa-sub009/internal/pipeline/translatestage"
	"github.com/koizumiiiii/Baketa-sub009/internal/segment"
	"github.com/koizumiiiii/Baketa-sub009/internal/textdiff"
)

// screenText maps the gray level of a rendered frame to the text it shows.
var screenText = map[uint8]string{
	60:  "Hello",
	200: "Hello, world!",
}

func rendered(level uint8) *frame.Image {
	img := image.NewRGBA(image.Rect(0, 0, 64, 32))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.Gray{Y: level}}, image.Point{}, draw.Src)
	return frame.NewImage(img)
}

type wholeFrame struct{}

func (wholeFrame) Name() string { return "whole" }

func (wholeFrame) Segment(_ context.Context, img image.Image) ([]segment.Region, error) {
	return []segment.Region{{ID: "line", Bounds: img.Bounds(), Kind: segment.TextAdaptive, Confidence: 1}}, nil
}

type pixelReader struct{}

func (pixelReader) Recognize(_ context.Context, img image.Image, _ string) (string, float64, error) {
	b := img.Bounds()
	g := color.GrayModel.Convert(img.At(b.Min.X, b.Min.Y)).(color.Gray)
	return screenText[g.Y], 0.9, nil
}

type recordingTranslator struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingTranslator) Translate(_ context.Context, text, _, _ string) (string, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return "en:" + text, "fake", nil
}

func (r *recordingTranslator) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.texts)
}

func TestTypewriterRevealSettlesOnStaticScreen(t *testing.T) {
	imgGate := imagegate.New(changedetect.NewCascade(changedetect.Config{}), nil, nil)
	defer imgGate.Close()
	txtGate := textgate.New(textdiff.New(0), 0)
	tr := &recordingTranslator{}

	runner, err := pipeline.NewRunner([]pipeline.Stage{
		imgGate,
		ocrstage.New(wholeFrame{}, extract.New(0), pixelReader{}, 1, nil).WithTyping(txtGate),
		txtGate,
		translatestage.New(tr, "ja", "en", nil),
	})
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	m := New(runner, nil, imgGate, txtGate)
	defer m.Close()

	// The reveal finishes, then the screen holds still.
	for i, level := range []uint8{60, 200, 200, 200, 200} {
		if _, err := m.Process(context.Background(), rendered(level), "dialog", "w"); err != nil {
			t.Fatalf("Process() #%d error = %v", i, err)
		}
	}

	want := []string{"Hello", "Hello, world!"}
	if got := tr.seen(); !slices.Equal(got, want) {
		t.Errorf("translated = %q, want %q", got, want)
	}
	if txtGate.Typing("dialog") {
		t.Error("Typing() = true after the screen settled, want false")
	}
	st, _ := m.State("dialog")
	if st.LastTranslation != "en:Hello, world!" {
		t.Errorf("LastTranslation = %q, want %q", st.LastTranslation, "en:Hello, world!")
	}
}
