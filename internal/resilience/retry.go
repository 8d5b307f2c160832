package resilience

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	apperrors "github.com/koizumiiiii/Baketa-sub009/internal/errors"
	"github.com/koizumiiiii/Baketa-sub009/internal/trace"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Retry profiles
const (
	// Per-frame OCR calls. A frame is stale within a few hundred ms.
	DefaultMaxRetries   = 2
	DefaultBaseDelay    = 50 * time.Millisecond
	DefaultMaxDelay     = 400 * time.Millisecond
	DefaultJitterFactor = 0.2

	// Translation of settled text; engines rate-limit.
	TranslationMaxRetries = 4
	TranslationBaseDelay  = 500 * time.Millisecond
	TranslationMaxDelay   = 8 * time.Second
)

// RetryConfig holds retry settings. Zero fields take the per-frame defaults.
type RetryConfig struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
	IsRetryable  func(error) bool

	// OnRetry, if set, is called before each backoff wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   DefaultMaxRetries,
		BaseDelay:    DefaultBaseDelay,
		MaxDelay:     DefaultMaxDelay,
		JitterFactor: DefaultJitterFactor,
		IsRetryable:  IsRetryableGRPC,
	}
}

// TranslationRetryConfig returns settings for the translate RPC.
func TranslationRetryConfig() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxRetries = TranslationMaxRetries
	cfg.BaseDelay = TranslationBaseDelay
	cfg.MaxDelay = TranslationMaxDelay
	return cfg
}

// IsRetryableGRPC reports whether a helper call error is transient.
// Errors without a status are transport failures and count as transient.
func IsRetryableGRPC(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case apperrors.IsRetryable(err):
		return true
	}
	s, ok := status.FromError(err)
	if !ok {
		return true
	}
	switch s.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	}
	return false
}

// Retry calls fn until it succeeds, returns a non-retryable error or the
// retries run out. It gives up early with the last error when the next wait
// would outlast ctx's deadline.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	cfg = cfg.withDefaults()
	log := trace.Logger(ctx)

	var err error
	for attempt := 0; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= cfg.MaxRetries || !cfg.IsRetryable(err) {
			return err
		}

		delay := backoffDelay(cfg, attempt)
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay {
			log.Debug("retry abandoned before deadline", "attempt", attempt+1, "delay", delay, "error", err)
			return err
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, delay, err)
		}
		log.Debug("retrying helper call", "attempt", attempt+1, "max", cfg.MaxRetries, "delay", delay, "error", err)

		if waitErr := sleep(ctx, delay); waitErr != nil {
			return waitErr
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoffDelay doubles BaseDelay per attempt up to MaxDelay, then spreads it
// by ±JitterFactor/2 without exceeding MaxDelay.
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := min(cfg.BaseDelay<<min(attempt, 10), cfg.MaxDelay)
	jitter := float64(delay) * cfg.JitterFactor * (rand.Float64() - 0.5)
	return min(time.Duration(float64(delay)+jitter), cfg.MaxDelay)
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.JitterFactor < 0 {
		c.JitterFactor = DefaultJitterFactor
	}
	if c.IsRetryable == nil {
		c.IsRetryable = IsRetryableGRPC
	}
	return c
}
