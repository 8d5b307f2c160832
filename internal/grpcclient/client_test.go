package grpcclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net"
	"sync/atomic"
	"testing"

	apperrors "github.com/koizumiiiii/Baketa-sub009/internal/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type handlerFunc func(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

// fakeHelper serves the helper methods over structpb bodies.
type fakeHelper struct {
	detect    handlerFunc
	recognize handlerFunc
	translate handlerFunc
	calls     atomic.Int32
}

func (f *fakeHelper) method(name string, pick func() handlerFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
			f.calls.Add(1)
			in := &structpb.Struct{}
			if err := dec(in); err != nil {
				return nil, err
			}
			h := pick()
			if h == nil {
				return nil, status.Error(codes.Unimplemented, name)
			}
			return h(ctx, in)
		},
	}
}

func startHelper(t *testing.T, f *fakeHelper) (*Client, *health.Server) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "baketa.helper.v1.Ocr",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			f.method("Detect", func() handlerFunc { return f.detect }),
			f.method("Recognize", func() handlerFunc { return f.recognize }),
		},
	}, f)
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "baketa.helper.v1.Translation",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			f.method("Translate", func() handlerFunc { return f.translate }),
		},
	}, f)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := New("passthrough:///bufnet", nil, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, hs
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("NewStruct() error = %v", err)
	}
	return s
}

func decodeImage(in *structpb.Struct) (image.Image, error) {
	raw, err := base64.StdEncoding.DecodeString(in.GetFields()["image_png"].GetStringValue())
	if err != nil {
		return nil, err
	}
	return png.Decode(bytes.NewReader(raw))
}

func solid(r image.Rectangle) *image.RGBA {
	img := image.NewRGBA(r)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.Set(x, y, color.RGBA{200, 200, 200, 255})
		}
	}
	return img
}

func TestDetectTranslatesBoxesToImageOrigin(t *testing.T) {
	f := &fakeHelper{}
	var gotW, gotH float64
	f.detect = func(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
		gotW = in.GetFields()["width"].GetNumberValue()
		gotH = in.GetFields()["height"].GetNumberValue()
		if _, err := decodeImage(in); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return structpb.NewStruct(map[string]any{"boxes": []any{
			map[string]any{"x": 5, "y": 6, "w": 40, "h": 12, "confidence": 0.9, "text": "HP"},
			map[string]any{"x": 0, "y": 0, "w": 0, "h": 12, "confidence": 0.9},
		}})
	}
	c, _ := startHelper(t, f)

	boxes, err := c.Detect(context.Background(), solid(image.Rect(10, 20, 110, 70)))
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if gotW != 100 || gotH != 50 {
		t.Errorf("request size = %vx%v, want 100x50", gotW, gotH)
	}
	if len(boxes) != 1 {
		t.Fatalf("len(boxes) = %d, want 1", len(boxes))
	}
	want := image.Rect(15, 26, 55, 38)
	if boxes[0].Bounds != want {
		t.Errorf("Bounds = %v, want %v", boxes[0].Bounds, want)
	}
	if boxes[0].Confidence != 0.9 || boxes[0].Snippet != "HP" {
		t.Errorf("box = %+v, want confidence 0.9 snippet HP", boxes[0])
	}
}

func TestRecognize(t *testing.T) {
	f := &fakeHelper{}
	f.recognize = func(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
		if id := in.GetFields()["region_id"].GetStringValue(); id != "adaptive-L0-R0" {
			return nil, status.Errorf(codes.InvalidArgument, "region_id = %q", id)
		}
		return structpb.NewStruct(map[string]any{"text": "はじめまして", "confidence": 0.82})
	}
	c, _ := startHelper(t, f)

	text, conf, err := c.Recognize(context.Background(), solid(image.Rect(0, 0, 64, 32)), "adaptive-L0-R0")
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if text != "はじめまして" || conf != 0.82 {
		t.Errorf("Recognize() = (%q, %v), want (はじめまして, 0.82)", text, conf)
	}
}

func TestTranslate(t *testing.T) {
	f := &fakeHelper{}
	f.translate = func(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
		fields := in.GetFields()
		if fields["source_lang"].GetStringValue() != "ja" || fields["target_lang"].GetStringValue() != "en" {
			return nil, status.Error(codes.InvalidArgument, "languages")
		}
		return structpb.NewStruct(map[string]any{"translated_text": "Nice to meet you", "engine": "nllb"})
	}
	c, _ := startHelper(t, f)

	got, engine, err := c.Translate(context.Background(), "はじめまして", "ja", "en")
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if got != "Nice to meet you" || engine != "nllb" {
		t.Errorf("Translate() = (%q, %q), want (Nice to meet you, nllb)", got, engine)
	}
}

func TestHelperErrorKeepsCode(t *testing.T) {
	f := &fakeHelper{}
	f.recognize = func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
		return nil, apperrors.New(apperrors.RecognizerFailed, "model not loaded").GRPCStatus().Err()
	}
	c, _ := startHelper(t, f)

	_, _, err := c.Recognize(context.Background(), solid(image.Rect(0, 0, 8, 8)), "r")
	if !apperrors.IsCode(err, apperrors.RecognizerFailed) {
		t.Errorf("Recognize() error = %v, want RECOGNIZER_FAILED", err)
	}
	if n := f.calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1 (not retried)", n)
	}
}

func TestRetriesUnavailable(t *testing.T) {
	f := &fakeHelper{}
	f.recognize = func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
		if f.calls.Load() == 1 {
			return nil, status.Error(codes.Unavailable, "warming up")
		}
		return structpb.NewStruct(map[string]any{"text": "ok", "confidence": 1})
	}
	c, _ := startHelper(t, f)

	text, _, err := c.Recognize(context.Background(), solid(image.Rect(0, 0, 8, 8)), "r")
	if err != nil || text != "ok" {
		t.Errorf("Recognize() = (%q, %v), want (ok, nil)", text, err)
	}
	if n := f.calls.Load(); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
}

func TestDetectBreakerOpens(t *testing.T) {
	f := &fakeHelper{}
	f.detect = func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
		return nil, status.Error(codes.Unavailable, "down")
	}
	c, _ := startHelper(t, f)
	img := solid(image.Rect(0, 0, 8, 8))

	if _, err := c.Detect(context.Background(), img); !apperrors.IsCode(err, apperrors.Unavailable) {
		t.Fatalf("Detect() error = %v, want UNAVAILABLE", err)
	}
	before := f.calls.Load()

	_, err := c.Detect(context.Background(), img)
	if !apperrors.IsCode(err, apperrors.Unavailable) {
		t.Errorf("Detect() while open = %v, want UNAVAILABLE", err)
	}
	if f.calls.Load() != before {
		t.Errorf("calls while open = %d, want %d", f.calls.Load(), before)
	}

	var detect string
	for _, s := range c.Breakers() {
		if s.Name == "ocr.detect" {
			detect = s.State
		}
	}
	if detect != "open" {
		t.Errorf("ocr.detect breaker = %q, want open", detect)
	}
}

func TestCancelledCallReturnsContextError(t *testing.T) {
	f := &fakeHelper{}
	f.translate = func(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
		<-ctx.Done()
		return nil, status.FromContextError(ctx.Err()).Err()
	}
	c, _ := startHelper(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := c.Translate(ctx, "x", "ja", "en"); !errors.Is(err, context.Canceled) {
		t.Errorf("Translate() error = %v, want context.Canceled", err)
	}
}

func TestHealthCheck(t *testing.T) {
	c, hs := startHelper(t, &fakeHelper{})

	if err := c.Check(context.Background()); err != nil {
		t.Fatalf("Check() = %v, want nil", err)
	}
	if !c.Serving() {
		t.Error("Serving() = false after a serving check")
	}

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	if err := c.Check(context.Background()); !apperrors.IsCode(err, apperrors.Unavailable) {
		t.Errorf("Check() = %v, want UNAVAILABLE", err)
	}
	if c.Serving() {
		t.Error("Serving() = true after a failed check")
	}
}

func TestDecodeBoxesIgnoresMalformed(t *testing.T) {
	resp := mustStruct(t, map[string]any{"boxes": []any{"not a box", map[string]any{"x": 1, "y": 1, "w": 4, "h": -2}}})
	if got := decodeBoxes(resp, image.Point{}); len(got) != 0 {
		t.Errorf("decodeBoxes() = %v, want none", got)
	}
}
