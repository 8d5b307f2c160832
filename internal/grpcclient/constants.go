// Package grpcclient talks to the OCR/translation helper process over gRPC.
package grpcclient

import "time"

// Client configuration defaults
const (
	// Keepalive configuration
	DefaultKeepaliveTime    = 10 * time.Second
	DefaultKeepaliveTimeout = 3 * time.Second

	// Health check configuration
	DefaultHealthCheckInterval = 5 * time.Second
	HealthCheckTimeout         = 2 * time.Second

	// Per-attempt deadlines. Detection and recognition run on the frame path.
	DetectTimeout    = 2 * time.Second
	RecognizeTimeout = 2 * time.Second
	TranslateTimeout = 10 * time.Second
)

// Helper RPC methods. Bodies are google.protobuf.Struct.
const (
	MethodDetect    = "/baketa.helper.v1.Ocr/Detect"
	MethodRecognize = "/baketa.helper.v1.Ocr/Recognize"
	MethodTranslate = "/baketa.helper.v1.Translation/Translate"
)
