package changedetect

import (
	"sync"
	"time"
)

// TierStats aggregates one tier's decisions.
type TierStats struct {
	Decisions   int64         `json:"decisions"`
	Changed     int64         `json:"changed"`
	Unchanged   int64         `json:"unchanged"`
	MeanLatency time.Duration `json:"mean_latency_ns"`
}

// Stats is a snapshot of cascade activity. Observability only.
type Stats struct {
	Total     int64        `json:"total"`
	Changed   int64        `json:"changed"`
	Unchanged int64        `json:"unchanged"`
	Tiers     [3]TierStats `json:"tiers"`
}

type statsRecorder struct {
	mu      sync.Mutex
	stats   Stats
	latency [3]time.Duration
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{}
}

func (r *statsRecorder) record(v Verdict) {
	if v.Tier < 1 || v.Tier > 3 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	t := &r.stats.Tiers[v.Tier-1]
	r.stats.Total++
	t.Decisions++
	if v.Changed {
		r.stats.Changed++
		t.Changed++
	} else {
		r.stats.Unchanged++
		t.Unchanged++
	}
	r.latency[v.Tier-1] += v.Elapsed
}

func (r *statsRecorder) snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.stats
	for i := range s.Tiers {
		if n := s.Tiers[i].Decisions; n > 0 {
			s.Tiers[i].MeanLatency = r.latency[i] / time.Duration(n)
		}
	}
	return s
}
