// Package observe records pipeline metrics through the OpenTelemetry metrics
// API. InitProvider bridges them to a Prometheus registry served on /metrics.
// Tests build Metrics over their own MeterProvider with NewMetrics.
package observe

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	apperrors "github.com/koizumiiiii/Baketa-sub009/internal/errors"
	"github.com/koizumiiiii/Baketa-sub009/internal/pipeline"
)

const meterName = "github.com/koizumiiiii/Baketa-sub009"

// Metrics holds the instruments. All methods are no-ops on a nil *Metrics.
type Metrics struct {
	// StageDuration tracks executed stage latency by stage and status.
	StageDuration metric.Float64Histogram

	// StageSkips counts skipped stages by stage.
	StageSkips metric.Int64Counter

	// StageErrors counts failed stages by stage and error code.
	StageErrors metric.Int64Counter

	// ChangeDecisions counts change-gate verdicts by tier and outcome.
	ChangeDecisions metric.Int64Counter

	// Regions tracks the number of regions produced per frame by strategy.
	Regions metric.Int64Histogram

	// Disappearances counts text-disappearance events.
	Disappearances metric.Int64Counter

	// HelperRequests counts helper RPCs by method and status.
	HelperRequests metric.Int64Counter

	// CaptureSkips counts capture ticks dropped before a run by reason.
	CaptureSkips metric.Int64Counter

	// ActiveContexts tracks contexts with a live worker.
	ActiveContexts metric.Int64UpDownCounter
}

var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

var regionBuckets = []float64{0, 1, 2, 4, 8, 12, 16, 20, 32, 64}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("baketa.stage.duration",
		metric.WithDescription("Latency of executed pipeline stages."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StageSkips, err = m.Int64Counter("baketa.stage.skips",
		metric.WithDescription("Pipeline stages skipped by their plan."),
	); err != nil {
		return nil, err
	}
	if met.StageErrors, err = m.Int64Counter("baketa.stage.errors",
		metric.WithDescription("Pipeline stages that produced an error result."),
	); err != nil {
		return nil, err
	}
	if met.ChangeDecisions, err = m.Int64Counter("baketa.change.decisions",
		metric.WithDescription("Image change verdicts by detection tier."),
	); err != nil {
		return nil, err
	}
	if met.Regions, err = m.Int64Histogram("baketa.segment.regions",
		metric.WithDescription("Regions produced per frame."),
		metric.WithExplicitBucketBoundaries(regionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Disappearances, err = m.Int64Counter("baketa.text.disappearances",
		metric.WithDescription("Text-disappearance events published."),
	); err != nil {
		return nil, err
	}
	if met.HelperRequests, err = m.Int64Counter("baketa.helper.requests",
		metric.WithDescription("Helper process RPCs by method and status."),
	); err != nil {
		return nil, err
	}
	if met.CaptureSkips, err = m.Int64Counter("baketa.capture.skips",
		metric.WithDescription("Capture ticks dropped before a pipeline run."),
	); err != nil {
		return nil, err
	}
	if met.ActiveContexts, err = m.Int64UpDownCounter("baketa.active_contexts",
		metric.WithDescription("Contexts with a live pipeline worker."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a package-level instance on the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// ObserveStage implements pipeline.Observer.
func (m *Metrics) ObserveStage(ctx context.Context, _ *pipeline.Context, o pipeline.Outcome) {
	if m == nil {
		return
	}
	stage := attribute.String("stage", o.Stage.String())
	if o.Skipped {
		m.StageSkips.Add(ctx, 1, metric.WithAttributes(stage))
		return
	}
	status := "ok"
	if !o.Success {
		status = "error"
		m.StageErrors.Add(ctx, 1, metric.WithAttributes(stage, attribute.String("code", string(apperrors.CodeOf(o.Err)))))
	}
	m.StageDuration.Record(ctx, o.Elapsed.Seconds(), metric.WithAttributes(stage, attribute.String("status", status)))
}

// RecordChange counts one change-gate verdict.
func (m *Metrics) RecordChange(ctx context.Context, tier int, changed bool) {
	if m == nil {
		return
	}
	m.ChangeDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", strconv.Itoa(tier)),
		attribute.Bool("changed", changed),
	))
}

// RecordRegions records the region count of one segmentation.
func (m *Metrics) RecordRegions(ctx context.Context, strategy string, n int) {
	if m == nil {
		return
	}
	m.Regions.Record(ctx, int64(n), metric.WithAttributes(attribute.String("strategy", strategy)))
}

// RecordDisappearance counts one text-disappearance event.
func (m *Metrics) RecordDisappearance(ctx context.Context) {
	if m == nil {
		return
	}
	m.Disappearances.Add(ctx, 1)
}

// RecordHelperRequest counts one helper RPC.
func (m *Metrics) RecordHelperRequest(ctx context.Context, method, status string) {
	if m == nil {
		return
	}
	m.HelperRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("status", status),
	))
}

// RecordCaptureSkip counts one dropped capture tick.
func (m *Metrics) RecordCaptureSkip(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.CaptureSkips.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// ContextStarted and ContextStopped track live context workers.
func (m *Metrics) ContextStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveContexts.Add(ctx, 1)
}

func (m *Metrics) ContextStopped(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveContexts.Add(ctx, -1)
}
