package gateway

import (
	"math"
	"sort"
	"sync"
)

// LatencyTracker keeps the last N latency samples (ms) and reports percentiles.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []float64
	next    int
	full    bool
}

// NewLatencyTracker creates a tracker holding capacity samples.
func NewLatencyTracker(capacity int) *LatencyTracker {
	if capacity <= 0 {
		capacity = 4096
	}
	return &LatencyTracker{samples: make([]float64, capacity)}
}

// Record adds one sample. Negative samples (clock skew) are ignored.
func (lt *LatencyTracker) Record(ms float64) {
	if ms < 0 || math.IsNaN(ms) {
		return
	}
	lt.mu.Lock()
	lt.samples[lt.next] = ms
	lt.next++
	if lt.next == len(lt.samples) {
		lt.next = 0
		lt.full = true
	}
	lt.mu.Unlock()
}

// Len returns the number of samples held.
func (lt *LatencyTracker) Len() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if lt.full {
		return len(lt.samples)
	}
	return lt.next
}

// Percentiles returns p50, p95 and p99, or zeros with no samples.
func (lt *LatencyTracker) Percentiles() (p50, p95, p99 float64) {
	lt.mu.Lock()
	n := lt.next
	if lt.full {
		n = len(lt.samples)
	}
	sorted := append([]float64(nil), lt.samples[:n]...)
	lt.mu.Unlock()

	if n == 0 {
		return 0, 0, 0
	}
	sort.Float64s(sorted)
	return percentile(sorted, 0.50), percentile(sorted, 0.95), percentile(sorted, 0.99)
}

// percentile interpolates linearly between the closest ranks.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	if lo+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[lo+1]*frac
}
