// Package resource samples host CPU and memory load. The capture loop uses
// it to skip ticks while the machine is saturated.
package resource

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// DefaultTTL bounds how often the host is actually sampled.
const DefaultTTL = time.Second

// Snapshot is one host sample.
type Snapshot struct {
	CPUPercent      float64   `json:"cpu_percent"`
	MemoryPercent   float64   `json:"memory_percent"`
	MemoryUsedBytes uint64    `json:"memory_used_bytes"`
	ProcessRSSBytes uint64    `json:"process_rss_bytes"`
	At              time.Time `json:"at"`
}

// Sampler takes one sample.
type Sampler func(ctx context.Context) (Snapshot, error)

// HostSample samples the host with gopsutil. CPU percent is measured since
// the previous call.
func HostSample(ctx context.Context) (Snapshot, error) {
	s := Snapshot{At: time.Now()}

	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Snapshot{}, err
	}
	if len(pct) > 0 {
		s.CPUPercent = pct[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	s.MemoryPercent = vm.UsedPercent
	s.MemoryUsedBytes = vm.Used

	if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if mi, err := p.MemoryInfoWithContext(ctx); err == nil {
			s.ProcessRSSBytes = mi.RSS
		}
	}
	return s, nil
}

// Monitor caches samples for ttl so many callers can ask cheaply.
type Monitor struct {
	sample Sampler
	ttl    time.Duration

	mu   sync.Mutex
	last Snapshot
	err  error
}

// NewMonitor samples the host via gopsutil.
func NewMonitor(ttl time.Duration) *Monitor {
	return NewMonitorWith(HostSample, ttl)
}

// NewMonitorWith uses a custom sampler.
func NewMonitorWith(sample Sampler, ttl time.Duration) *Monitor {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Monitor{sample: sample, ttl: ttl}
}

// Snapshot returns the cached sample, refreshing it once it is older than ttl.
func (m *Monitor) Snapshot(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.last.At.IsZero() && time.Since(m.last.At) < m.ttl {
		return m.last, m.err
	}
	s, err := m.sample(ctx)
	if s.At.IsZero() {
		s.At = time.Now()
	}
	m.last, m.err = s, err
	return s, err
}

// Overloaded reports whether host CPU is above maxCPU percent. A maxCPU of
// zero disables the check; a failed sample counts as not overloaded.
func (m *Monitor) Overloaded(ctx context.Context, maxCPU float64) bool {
	if maxCPU <= 0 {
		return false
	}
	s, err := m.Snapshot(ctx)
	if err != nil {
		return false
	}
	return s.CPUPercent > maxCPU
}
