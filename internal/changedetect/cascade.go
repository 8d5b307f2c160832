// Package changedetect decides whether two frames differ, escalating through
// progressively more expensive tiers and stopping at the first decisive one.
package changedetect

import (
	"context"
	"image"
	"log/slog"
	"time"

	"github.com/corona10/goimagehash"

	apperrors "github.com/koizumiiiii/Baketa-sub009/internal/errors"
)

// Verdict is the outcome of one comparison.
type Verdict struct {
	Changed       bool
	ChangePercent float64 // in [0,1]
	Tier          int     // 1..3; 0 when unknown
	Similarity    float64
	HasSimilarity bool
	Elapsed       time.Duration
}

// Config tunes the cascade.
type Config struct {
	// BlockPercent is the tier 3 fraction of changed blocks at which a frame
	// counts as changed.
	BlockPercent float64
}

// Cascade is the default change-detection collaborator.
type Cascade struct {
	cfg   Config
	stats *statsRecorder
}

// NewCascade creates a cascade.
func NewCascade(cfg Config) *Cascade {
	if cfg.BlockPercent <= 0 {
		cfg.BlockPercent = DefaultBlockPercent
	}
	return &Cascade{cfg: cfg, stats: newStatsRecorder()}
}

// Detect compares prev and cur. contextID only labels logs.
func (c *Cascade) Detect(ctx context.Context, prev, cur image.Image, contextID string) (Verdict, error) {
	start := time.Now()
	v, err := c.detect(ctx, prev, cur)
	v.Elapsed = time.Since(start)
	if err != nil {
		return v, err
	}
	c.stats.record(v)
	slog.Debug("change detected",
		"context_id", contextID,
		"tier", v.Tier,
		"changed", v.Changed,
		"percent", v.ChangePercent,
	)
	return v, nil
}

func (c *Cascade) detect(ctx context.Context, prev, cur image.Image) (Verdict, error) {
	if prev.Bounds().Size() != cur.Bounds().Size() {
		return Verdict{Changed: true, ChangePercent: 1, Tier: 1}, nil
	}

	// Tier 1: exact identity, or a sparse lattice over the whole frame that
	// can only confirm a large change.
	if identical(prev, cur) {
		return Verdict{ChangePercent: 0, Tier: 1, Similarity: 1, HasSimilarity: true}, nil
	}
	if frac := sampledFraction(prev, cur); frac >= Tier1ChangedFraction {
		return Verdict{Changed: true, ChangePercent: frac, Tier: 1}, nil
	}
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}

	// Tier 2: difference hash.
	dist, err := hashDistance(goimagehash.DifferenceHash, prev, cur)
	if err != nil {
		return Verdict{Changed: true, Tier: 2}, apperrors.Wrap(err, apperrors.Internal, "difference hash")
	}
	if dist >= Tier2ChangedDistance {
		sim := 1 - float64(dist)/hashBits
		return Verdict{Changed: true, ChangePercent: float64(dist) / hashBits, Tier: 2, Similarity: sim, HasSimilarity: true}, nil
	}
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}

	// Tier 3: perception hash for similarity, dense block comparison for the
	// verdict.
	pdist, err := hashDistance(goimagehash.PerceptionHash, prev, cur)
	if err != nil {
		return Verdict{Changed: true, Tier: 3}, apperrors.Wrap(err, apperrors.Internal, "perception hash")
	}
	pct := blockPercent(prev, cur)
	return Verdict{
		Changed:       pct >= c.cfg.BlockPercent,
		ChangePercent: pct,
		Tier:          3,
		Similarity:    1 - float64(pdist)/hashBits,
		HasSimilarity: true,
	}, nil
}

func hashDistance(hash func(image.Image) (*goimagehash.ImageHash, error), prev, cur image.Image) (int, error) {
	a, err := hash(prev)
	if err != nil {
		return 0, err
	}
	b, err := hash(cur)
	if err != nil {
		return 0, err
	}
	return a.Distance(b)
}

// Stats returns aggregate counters since creation.
func (c *Cascade) Stats() Stats {
	return c.stats.snapshot()
}
