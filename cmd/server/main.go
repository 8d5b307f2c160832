// Overlay translator server - captures the screen, runs the frame pipeline and
// serves the overlay feed
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/koizumiiiii/Baketa-sub009/internal/changedetect"
	"github.com/koizumiiiii/Baketa-sub009/internal/config"
	"github.com/koizumiiiii/Baketa-sub009/internal/diagnostics"
	"github.com/koizumiiiii/Baketa-sub009/internal/events"
	"github.com/koizumiiiii/Baketa-sub009/internal/extract"
	"github.com/koizumiiiii/Baketa-sub009/internal/grpcclient"
	"github.com/koizumiiiii/Baketa-sub009/internal/observe"
	"github.com/koizumiiiii/Baketa-sub009/internal/orchestrator"
	"github.com/koizumiiiii/Baketa-sub009/internal/pipeline"
	"github.com/koizumiiiii/Baketa-sub009/internal/pipeline/imagegate"
	"github.com/koizumiiiii/Baketa-sub009/internal/pipeline/ocrstage"
	"github.com/koizumiiiii/Baketa-sub009/internal/pipeline/textgate"
	"github.com/koizumiiiii/Baketa-sub009/internal/pipeline/translatestage"
	"github.com/koizumiiiii/Baketa-sub009/internal/resource"
	"github.com/koizumiiiii/Baketa-sub009/internal/screen"
	"github.com/koizumiiiii/Baketa-sub009/internal/segment"
	"github.com/koizumiiiii/Baketa-sub009/internal/server"
	"github.com/koizumiiiii/Baketa-sub009/internal/tesseract"
	"github.com/koizumiiiii/Baketa-sub009/internal/textdiff"
)

const (
	eventHistory = 64
	eventBuffer  = 32

	shutdownTimeout = 5 * time.Second
)

// ocrBackend is what stage 2 needs from a recognition engine.
type ocrBackend interface {
	segment.Detector
	ocrstage.Recognizer
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	if err := run(cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		_ = shutdownMetrics(sctx)
	}()
	metrics := observe.DefaultMetrics()

	// Helper connection is lazy; translation always goes through it.
	helper, err := grpcclient.New(cfg.HelperAddr, metrics)
	if err != nil {
		return err
	}
	defer func() { _ = helper.Close() }()
	go helper.WatchHealth(ctx, grpcclient.DefaultHealthCheckInterval)

	var ocr ocrBackend = helper
	if cfg.OCRBackend == config.BackendTesseract {
		engine, err := tesseract.New(tesseract.Languages(cfg.SourceLang)...)
		if err != nil {
			return err
		}
		defer func() { _ = engine.Close() }()
		ocr = engine
	}

	var strategy segment.Strategy = segment.NewAdaptive(ocr, cfg.SegmentParams())
	if cfg.SegmentStrategy == config.StrategyGrid {
		strategy = segment.GridStrategy{TileSize: cfg.TileSize}
	}

	hub := events.NewHub(eventHistory, eventBuffer)
	defer hub.Close()

	cascade := changedetect.NewCascade(changedetect.Config{BlockPercent: changedetect.DefaultBlockPercent})
	differ := textdiff.New(cfg.DiffThreshold)
	imgGate := imagegate.New(cascade, hub, metrics)
	defer imgGate.Close()
	txtGate := textgate.New(differ, cfg.TextChangeThreshold)

	var session *diagnostics.Session
	if cfg.DiagnosticsDB != "" {
		store, err := diagnostics.Open(ctx, cfg.DiagnosticsDB)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		session = diagnostics.NewSession(store)
	} else {
		session = diagnostics.NewSession(nil)
	}
	// Flushes pending records before the store closes.
	defer session.Close()

	runner, err := pipeline.NewRunner([]pipeline.Stage{
		imgGate,
		ocrstage.New(strategy, extract.New(extract.DefaultMinHeight), ocr, cfg.RecognizeConcurrency, metrics).WithTyping(txtGate),
		txtGate,
		translatestage.New(helper, cfg.SourceLang, cfg.TargetLang, hub),
	}, metrics, session)
	if err != nil {
		return err
	}

	manager := orchestrator.New(runner, metrics, imgGate, txtGate, differ)
	defer manager.Close()

	capturer, err := screen.New()
	if err != nil {
		return err
	}
	defer func() { _ = capturer.Close() }()

	monitor := resource.NewMonitor(resource.DefaultTTL)
	loop := orchestrator.NewLoop(orchestrator.LoopConfig{
		CaptureRate:   cfg.CaptureRate,
		ContextID:     cfg.ContextID,
		WindowID:      cfg.WindowID,
		MaxCPUPercent: cfg.MaxCPUPercent,
	}, capturer, manager, monitor, metrics)
	loop.Start(ctx)
	defer loop.Stop()

	srv := server.New(server.Options{
		Events:   hub,
		Contexts: manager,
		Helper:   helper,
		Resource: monitor,
		Cascade:  cascade,
		Session:  session,
		Metrics:  promhttp.Handler(),
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "http", cfg.HTTPAddr, "helper", cfg.HelperAddr,
			"ocr", cfg.OCRBackend, "strategy", strategy.Name(), "session", session.ID)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-errCh:
		return err
	}

	slog.Info("shutting down...")
	loop.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
