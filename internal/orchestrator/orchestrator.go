package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/koizumiiiii/Baketa-sub009/internal/observe"
	"github.com/koizumiiiii/Baketa-sub009/internal/screen"
	"github.com/koizumiiiii/Baketa-sub009/internal/trace"
)

// LoadMonitor reports host saturation.
type LoadMonitor interface {
	Overloaded(ctx context.Context, maxCPU float64) bool
}

// LoopConfig configures the capture loop.
type LoopConfig struct {
	CaptureRate   float64 // Hz
	ContextID     string
	WindowID      string
	MaxCPUPercent float64 // 0 disables backpressure
}

// Loop captures the screen at a fixed rate and feeds frames to a Manager.
type Loop struct {
	cfg      LoopConfig
	capturer screen.Capturer
	manager  *Manager
	monitor  LoadMonitor
	metrics  *observe.Metrics

	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewLoop creates a capture loop. monitor may be nil.
func NewLoop(cfg LoopConfig, capturer screen.Capturer, manager *Manager, monitor LoadMonitor, metrics *observe.Metrics) *Loop {
	if cfg.CaptureRate <= 0 {
		cfg.CaptureRate = DefaultCaptureRate
	}
	return &Loop{
		cfg:      cfg,
		capturer: capturer,
		manager:  manager,
		monitor:  monitor,
		metrics:  metrics,
		stopCh:   make(chan struct{}),
	}
}

// Start begins capturing in the background.
func (l *Loop) Start(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.screenLoop(ctx)
	}()
}

// Stop ends the loop and waits for it to exit. In-flight runs finish on
// the manager's workers.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.stopCh) })
	l.wg.Wait()
}

func (l *Loop) screenLoop(ctx context.Context) {
	interval := time.Duration(float64(time.Second) / l.cfg.CaptureRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := trace.Logger(ctx).With("context_id", l.cfg.ContextID)
	log.Info("capture loop started", "interval", interval)
	defer log.Info("capture loop stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	if l.monitor != nil && l.monitor.Overloaded(ctx, l.cfg.MaxCPUPercent) {
		l.metrics.RecordCaptureSkip(ctx, SkipCPU)
		return
	}

	img, err := l.capturer.Capture(ctx)
	if err != nil {
		if ctx.Err() == nil {
			trace.Logger(ctx).Debug("capture failed", "error", err)
			l.metrics.RecordCaptureSkip(ctx, SkipCapture)
		}
		return
	}

	if !l.manager.TryProcess(ctx, img, l.cfg.ContextID, l.cfg.WindowID) {
		l.metrics.RecordCaptureSkip(ctx, SkipBusy)
	}
}
