package gateway

import (
	"runtime"
	"time"

	"signal-enginev1/internal/bus"
)

// Stats is the process snapshot served on /stats.
type Stats struct {
	Goroutines  int               `json:"goroutines"`
	CPUCores    int               `json:"cpu_cores"`
	HeapAllocMB float64           `json:"heap_alloc_mb"`
	SysMB       float64           `json:"sys_mb"`
	GCRuns      uint32            `json:"gc_runs"`
	UptimeSec   int64             `json:"uptime_sec"`
	WSClients   int               `json:"ws_clients"`
	Seq         int64             `json:"seq"`
	LatencyP50  float64           `json:"latency_p50_ms"`
	LatencyP95  float64           `json:"latency_p95_ms"`
	LatencyP99  float64           `json:"latency_p99_ms"`
	Channels    []bus.ChannelStat `json:"channels,omitempty"`
	TS          string            `json:"ts"`
}

// CollectStats gathers runtime and hub figures.
func CollectStats(start time.Time, hub *Hub, fan *bus.FanOut) Stats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	s := Stats{
		Goroutines:  runtime.NumGoroutine(),
		CPUCores:    runtime.NumCPU(),
		HeapAllocMB: float64(ms.HeapAlloc) / (1 << 20),
		SysMB:       float64(ms.Sys) / (1 << 20),
		GCRuns:      ms.NumGC,
		UptimeSec:   int64(time.Since(start).Seconds()),
		TS:          time.Now().UTC().Format(time.RFC3339Nano),
	}
	if hub != nil {
		s.WSClients = hub.ClientCount()
		s.Seq = hub.Seq()
		s.LatencyP50, s.LatencyP95, s.LatencyP99 = hub.Latency().Percentiles()
	}
	if fan != nil {
		s.Channels = fan.ChannelStats()
	}
	return s
}
