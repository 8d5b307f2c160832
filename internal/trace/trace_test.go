package trace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"google.golang.org/grpc/metadata"
)

func TestNewContext(t *testing.T) {
	tc := New()
	if len(tc.TraceID) != 32 {
		t.Errorf("trace ID length = %d, want 32", len(tc.TraceID))
	}
	if len(tc.SpanID) != 16 {
		t.Errorf("span ID length = %d, want 16", len(tc.SpanID))
	}
	if tc.ParentSpanID != "" {
		t.Error("root context should have no parent")
	}
}

func TestNewChildKeepsRun(t *testing.T) {
	parent := New()
	parent.RunID = "run-1"
	parent.ContextID = "game-1"
	child := NewChild(parent)

	if child.TraceID != parent.TraceID {
		t.Error("child should inherit trace ID")
	}
	if child.ParentSpanID != parent.SpanID {
		t.Error("child's parent should be parent's span ID")
	}
	if child.RunID != "run-1" || child.ContextID != "game-1" {
		t.Errorf("child run/context = %q/%q, want run-1/game-1", child.RunID, child.ContextID)
	}
}

func TestWithRun(t *testing.T) {
	ctx := WithRun(context.Background(), "run-7", "window-3")
	tc, ok := FromContext(ctx)
	if !ok {
		t.Fatal("WithRun should store a trace context")
	}
	if tc.RunID != "run-7" || tc.ContextID != "window-3" {
		t.Errorf("run/context = %q/%q, want run-7/window-3", tc.RunID, tc.ContextID)
	}

	nested := WithRun(ctx, "run-8", "window-3")
	ntc, _ := FromContext(nested)
	if ntc.TraceID != tc.TraceID {
		t.Error("nested run should continue the trace")
	}
}

func TestFromContextMissing(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Error("empty context should carry no trace")
	}
}

func TestSpanDuration(t *testing.T) {
	_, span := StartSpan(context.Background(), "segment")
	if span.Duration() != 0 {
		t.Error("open span should report zero duration")
	}
	time.Sleep(time.Millisecond)
	span.End()
	if span.Duration() <= 0 {
		t.Error("ended span should report positive duration")
	}
	span.SetAttr("regions", 3)
	if span.Attrs["regions"] != 3 {
		t.Error("SetAttr should store attribute")
	}
}

func TestOutgoingMetadata(t *testing.T) {
	ctx := WithRun(context.Background(), "run-1", "game-1")
	md, ok := metadata.FromOutgoingContext(outgoing(ctx))
	if !ok {
		t.Fatal("outgoing metadata missing")
	}
	if got := md.Get(RunIDKey); len(got) != 1 || got[0] != "run-1" {
		t.Errorf("run id metadata = %v, want [run-1]", got)
	}
	if got := md.Get(ContextIDKey); len(got) != 1 || got[0] != "game-1" {
		t.Errorf("context id metadata = %v, want [game-1]", got)
	}
}

func TestMiddlewareContinuesTrace(t *testing.T) {
	var got Context
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
	req.Header.Set(TraceIDKey, "abc")
	req.Header.Set(SpanIDKey, "def")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got.TraceID != "abc" || got.ParentSpanID != "def" {
		t.Errorf("trace/parent = %q/%q, want abc/def", got.TraceID, got.ParentSpanID)
	}
}

func TestLoggerWithoutContext(t *testing.T) {
	if Logger(context.Background()) == nil {
		t.Error("Logger should never be nil")
	}
}
