// Package orchestrator drives captured frames through the pipeline, one
// serialized worker per context, and carries each context's previous text
// and regions between runs.
package orchestrator

import "time"

// Orchestrator configuration constants
const (
	// Per-context queue depth. A tick that finds the queue full is dropped
	// rather than processing a stale frame later.
	WorkerQueueSize = 1

	DefaultCaptureRate = 2.0 // Hz

	// Bound on one pipeline run; a stuck helper call cannot hold a context.
	RunTimeout = 10 * time.Second
)

// Capture skip reasons reported to metrics.
const (
	SkipCPU     = "cpu_overloaded"
	SkipCapture = "capture_failed"
	SkipBusy    = "context_busy"
)
