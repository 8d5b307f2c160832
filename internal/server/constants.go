// Package server provides the HTTP and WebSocket overlay feed
package server

import "time"

// Server configuration constants
const (
	// Events newer than this are replayed to a client when it connects
	ReplayWindow = 30 * time.Second

	// Per-connection inbound message limit
	RateLimitMessages = 30
	RateLimitWindow   = time.Second

	// Bound on a single outbound frame write to a slow client
	WriteTimeout = 5 * time.Second

	// Bound on the resource sample taken for /health
	HealthSampleTimeout = 2 * time.Second

	// Text truncation limit for /stats context previews
	TextPreviewLimit = 500
)
