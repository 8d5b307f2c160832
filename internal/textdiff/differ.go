// Package textdiff scores how much recognized text changed between frames.
package textdiff

import (
	"context"
	"sync"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// Algorithm tags.
const (
	AlgorithmLevenshtein = "levenshtein"
	AlgorithmJaroWinkler = "jaro-winkler"
	AlgorithmIdentical   = "identical"
)

const (
	// DefaultThreshold is the change percentage at which the differ itself
	// calls a change and advances its baseline.
	DefaultThreshold = 0.10

	// levenshteinLimit is the longest text, in runes, scored by edit
	// distance; longer texts fall back to Jaro-Winkler.
	levenshteinLimit = 512
)

// Verdict is the differ's judgement on one text pair.
type Verdict struct {
	Changed       bool
	ChangePercent float64
	Algorithm     string
}

// Differ compares texts and keeps the last changed text per context as a
// baseline.
type Differ struct {
	threshold float64

	mu    sync.RWMutex
	cache map[string]string
}

// New creates a differ. A threshold outside (0,1] selects DefaultThreshold.
func New(threshold float64) *Differ {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Differ{threshold: threshold, cache: make(map[string]string)}
}

// Threshold returns the internal change threshold.
func (d *Differ) Threshold() float64 { return d.threshold }

// Compare scores cur against prev. An empty prev falls back to the cached
// baseline for contextID. The cache advances only when the verdict is a change.
func (d *Differ) Compare(ctx context.Context, prev, cur, contextID string) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}
	if prev == "" {
		prev, _ = d.Cached(contextID)
	}

	v := score(prev, cur)
	v.Changed = v.ChangePercent >= d.threshold
	if v.Changed {
		d.UpdateCache(contextID, cur)
	}
	return v, nil
}

// UpdateCache overwrites the baseline for contextID.
func (d *Differ) UpdateCache(contextID, text string) {
	d.mu.Lock()
	d.cache[contextID] = text
	d.mu.Unlock()
}

// Cached returns the baseline for contextID.
func (d *Differ) Cached(contextID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	text, ok := d.cache[contextID]
	return text, ok
}

// Forget drops the baseline for contextID.
func (d *Differ) Forget(contextID string) {
	d.mu.Lock()
	delete(d.cache, contextID)
	d.mu.Unlock()
}

func score(prev, cur string) Verdict {
	if prev == cur {
		return Verdict{Algorithm: AlgorithmIdentical}
	}
	pn, cn := utf8.RuneCountInString(prev), utf8.RuneCountInString(cur)
	longest := max(pn, cn)
	if pn == 0 || cn == 0 {
		return Verdict{ChangePercent: 1, Algorithm: AlgorithmLevenshtein}
	}
	if longest <= levenshteinLimit {
		dist := matchr.Levenshtein(prev, cur)
		return Verdict{ChangePercent: min(float64(dist)/float64(longest), 1), Algorithm: AlgorithmLevenshtein}
	}
	sim := matchr.JaroWinkler(prev, cur, true)
	return Verdict{ChangePercent: min(max(1-sim, 0), 1), Algorithm: AlgorithmJaroWinkler}
}
