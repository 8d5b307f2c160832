// Package diagnostics records per-stage outcomes of every pipeline run for
// one session and persists them to SQLite in batches.
package diagnostics

import "time"

// Batcher defaults
const (
	DefaultBatcherMaxSize    = 64
	DefaultBatcherFlushDelay = 2 * time.Second
	flushTimeout             = 5 * time.Second
)
