// Package trace carries trace and frame-run identifiers through context.Context
// so logs and helper-process calls made for one frame can be correlated.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"time"
)

// Metadata keys used for gRPC/HTTP propagation.
const (
	TraceIDKey   = "x-trace-id"
	SpanIDKey    = "x-span-id"
	RunIDKey     = "x-run-id"
	ContextIDKey = "x-context-id"
)

type ctxKey struct{}

// Context holds identifiers for one span of work.
type Context struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	RunID        string // one pipeline run over one frame
	ContextID    string // logical game/window session
}

// New creates a root context with fresh ids.
func New() Context {
	return Context{TraceID: randomHex(16), SpanID: randomHex(8)}
}

// NewChild derives a child span, keeping trace, run and context ids.
func NewChild(parent Context) Context {
	child := parent
	child.SpanID = randomHex(8)
	child.ParentSpanID = parent.SpanID
	return child
}

// FromContext extracts the trace context.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(ctxKey{}).(Context)
	return tc, ok
}

// WithContext stores tc in ctx.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// WithRun starts a new span for a pipeline run over a frame of contextID.
func WithRun(ctx context.Context, runID, contextID string) context.Context {
	tc, ok := FromContext(ctx)
	if ok {
		tc = NewChild(tc)
	} else {
		tc = New()
	}
	tc.RunID = runID
	tc.ContextID = contextID
	return WithContext(ctx, tc)
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Span is a timed operation within a trace.
type Span struct {
	Name      string
	Ctx       Context
	StartTime time.Time
	EndTime   time.Time
	Attrs     map[string]any
}

// StartSpan begins a span as a child of whatever ctx carries.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	tc, ok := FromContext(ctx)
	if ok {
		tc = NewChild(tc)
	} else {
		tc = New()
	}
	s := &Span{Name: name, Ctx: tc, StartTime: time.Now(), Attrs: make(map[string]any)}
	return WithContext(ctx, tc), s
}

// End marks the span complete.
func (s *Span) End() { s.EndTime = time.Now() }

// SetAttr sets a span attribute.
func (s *Span) SetAttr(key string, val any) { s.Attrs[key] = val }

// Duration returns the span duration, zero while it is open.
func (s *Span) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// LogValue implements slog.LogValuer.
func (s *Span) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("span_name", s.Name),
		slog.String("trace_id", s.Ctx.TraceID),
		slog.Duration("duration", s.Duration()),
	}
	for k, v := range s.Attrs {
		attrs = append(attrs, slog.Any(k, v))
	}
	return slog.GroupValue(attrs...)
}

// Logger returns the default logger enriched with whatever ids ctx carries.
func Logger(ctx context.Context) *slog.Logger {
	tc, ok := FromContext(ctx)
	if !ok {
		return slog.Default()
	}
	args := []any{"trace_id", tc.TraceID, "span_id", tc.SpanID}
	if tc.RunID != "" {
		args = append(args, "run_id", tc.RunID)
	}
	if tc.ContextID != "" {
		args = append(args, "context_id", tc.ContextID)
	}
	return slog.Default().With(args...)
}
