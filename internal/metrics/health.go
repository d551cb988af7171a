package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Probe checks one dependency; a nil error means healthy.
type Probe func(ctx context.Context) error

// DependencyStatus is the last probe result for one dependency.
type DependencyStatus struct {
	Name      string    `json:"name"`
	OK        bool      `json:"ok"`
	LatencyMs float64   `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// HealthStatus tracks liveness of the optional sinks.
type HealthStatus struct {
	mu        sync.RWMutex
	probes    map[string]Probe
	status    map[string]DependencyStatus
	startedAt time.Time
}

// NewHealthStatus returns an empty health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		probes:    make(map[string]Probe),
		status:    make(map[string]DependencyStatus),
		startedAt: time.Now(),
	}
}

// Register adds a named probe. A dependency is reported unhealthy until its
// first successful check.
func (h *HealthStatus) Register(name string, p Probe) {
	h.mu.Lock()
	h.probes[name] = p
	h.status[name] = DependencyStatus{Name: name}
	h.mu.Unlock()
}

// CheckAll runs every probe once and records latency and result.
func (h *HealthStatus) CheckAll(ctx context.Context) {
	h.mu.RLock()
	probes := make(map[string]Probe, len(h.probes))
	for n, p := range h.probes {
		probes[n] = p
	}
	h.mu.RUnlock()

	for name, p := range probes {
		start := time.Now()
		err := p(ctx)
		st := DependencyStatus{
			Name:      name,
			OK:        err == nil,
			LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0,
			CheckedAt: time.Now(),
		}
		if err != nil {
			st.Error = err.Error()
		}
		h.mu.Lock()
		h.status[name] = st
		h.mu.Unlock()
	}
}

// StartLivenessChecker runs CheckAll immediately and then every interval.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, interval time.Duration, log zerolog.Logger) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			h.CheckAll(probeCtx)
			cancel()
			for _, st := range h.Dependencies() {
				if !st.OK {
					log.Warn().Str("dependency", st.Name).Str("error", st.Error).Msg("dependency unhealthy")
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Dependencies returns the last status of every dependency sorted by name.
func (h *HealthStatus) Dependencies() []DependencyStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]DependencyStatus, 0, len(h.status))
	for _, st := range h.status {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Uptime returns the time since the status was created.
func (h *HealthStatus) Uptime() time.Duration {
	return time.Since(h.startedAt)
}
