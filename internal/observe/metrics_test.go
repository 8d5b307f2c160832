package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	apperrors "github.com/koizumiiiii/Baketa-sub009/internal/errors"
	"github.com/koizumiiiii/Baketa-sub009/internal/pipeline"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q data = %T, want Sum[int64]", name, m.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestObserveStage(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ObserveStage(ctx, nil, pipeline.Outcome{Stage: pipeline.OcrExecution, Skipped: true, Reason: "unchanged"})
	m.ObserveStage(ctx, nil, pipeline.Outcome{Stage: pipeline.OcrExecution, Success: true, Elapsed: 20 * time.Millisecond})
	m.ObserveStage(ctx, nil, pipeline.Outcome{
		Stage: pipeline.TextChangeDetection,
		Err:   apperrors.New(apperrors.DiffFailed, "boom"),
	})

	rm := collect(t, reader)
	if got := sumOf(t, rm, "baketa.stage.skips"); got != 1 {
		t.Errorf("skips = %d, want 1", got)
	}
	if got := sumOf(t, rm, "baketa.stage.errors"); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}

	hist := findMetric(rm, "baketa.stage.duration")
	if hist == nil {
		t.Fatal("stage duration not recorded")
	}
	data, ok := hist.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("duration data = %T", hist.Data)
	}
	var count uint64
	for _, dp := range data.DataPoints {
		count += dp.Count
	}
	if count != 2 {
		t.Errorf("duration count = %d, want 2", count)
	}
}

func TestRecordCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordChange(ctx, 1, false)
	m.RecordChange(ctx, 3, true)
	m.RecordDisappearance(ctx)
	m.RecordHelperRequest(ctx, "Detect", "ok")
	m.RecordCaptureSkip(ctx, "cpu")
	m.RecordCaptureSkip(ctx, "busy")
	m.ContextStarted(ctx)
	m.ContextStarted(ctx)
	m.ContextStopped(ctx)
	m.RecordRegions(ctx, "adaptive", 4)

	rm := collect(t, reader)
	tests := map[string]int64{
		"baketa.change.decisions":    2,
		"baketa.text.disappearances": 1,
		"baketa.helper.requests":     1,
		"baketa.capture.skips":       2,
		"baketa.active_contexts":     1,
	}
	for name, want := range tests {
		if got := sumOf(t, rm, name); got != want {
			t.Errorf("%s = %d, want %d", name, got, want)
		}
	}
	if findMetric(rm, "baketa.segment.regions") == nil {
		t.Error("regions histogram not recorded")
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.ObserveStage(ctx, nil, pipeline.Outcome{Err: errors.New("x")})
	m.RecordChange(ctx, 1, true)
	m.RecordRegions(ctx, "grid", 1)
	m.RecordDisappearance(ctx)
	m.RecordHelperRequest(ctx, "Detect", "ok")
	m.RecordCaptureSkip(ctx, "cpu")
	m.ContextStarted(ctx)
	m.ContextStopped(ctx)
}
