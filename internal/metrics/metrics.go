// Package metrics holds the Prometheus instruments of the signal engine and
// the dependency liveness probes reported on /health.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"signal-enginev1/internal/breaker"
)

// Metrics holds all Prometheus metrics for the signal engine.
type Metrics struct {
	reg *prometheus.Registry

	// Stream ingest
	FramesTotal   prometheus.Counter
	FramesDropped *prometheus.CounterVec // labels: reason
	CandlesTotal  *prometheus.CounterVec // labels: outcome=appended|replaced|stale
	CandlesClosed *prometheus.CounterVec // labels: timeframe
	WSReconnects  prometheus.Counter
	StreamsOpen   prometheus.Gauge

	// Evaluation
	EvaluateDur  prometheus.Histogram
	SignalsTotal *prometheus.CounterVec // labels: side, timeframe
	JournalSize  prometheus.Gauge

	// Enrichment
	EnrichmentTotal    *prometheus.CounterVec   // labels: mode, outcome=ok|degraded
	EnrichmentDur      *prometheus.HistogramVec // labels: mode
	EnrichmentInflight prometheus.Gauge

	// Sinks and backpressure
	FanoutDropsTotal     *prometheus.CounterVec   // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec     // labels: channel_name
	SinkWriteDur         *prometheus.HistogramVec // labels: sink
	SinkErrors           *prometheus.CounterVec   // labels: sink

	// Circuit breakers
	BreakerState *prometheus.GaugeVec   // labels: name; 0=closed, 1=open, 2=half-open
	BreakerTrips *prometheus.CounterVec // labels: name
}

// NewMetrics creates all metrics on a private registry, so it can be
// called more than once in a process (tests).
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),

		FramesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_ws_frames_total",
			Help: "Total kline frames received from the exchange",
		}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_ws_frames_dropped_total",
			Help: "Frames dropped before reaching the window store",
		}, []string{"reason"}),
		CandlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_candles_total",
			Help: "Candle upserts by outcome",
		}, []string{"outcome"}),
		CandlesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_candles_closed_total",
			Help: "Closed candles that triggered an evaluation",
		}, []string{"timeframe"}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signalengine_ws_reconnects_total",
			Help: "Total WebSocket reconnection attempts",
		}),
		StreamsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalengine_streams_open",
			Help: "Stream connections currently open",
		}),

		EvaluateDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "signalengine_evaluate_duration_seconds",
			Help:    "Indicator recompute plus rule evaluation latency per closed candle",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_signals_total",
			Help: "Signals emitted",
		}, []string{"side", "timeframe"}),
		JournalSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalengine_journal_size",
			Help: "Signals currently retained in the journal",
		}),

		EnrichmentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_enrichment_total",
			Help: "Enrichment results attached, by mode and outcome",
		}, []string{"mode", "outcome"}),
		EnrichmentDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signalengine_enrichment_duration_seconds",
			Help:    "Analyzer latency",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10, 15},
		}, []string{"mode"}),
		EnrichmentInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signalengine_enrichment_inflight",
			Help: "Enrichment jobs currently running",
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_fanout_drops_total",
			Help: "Events dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signalengine_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),
		SinkWriteDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signalengine_sink_write_duration_seconds",
			Help:    "Sink write latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"sink"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_sink_errors_total",
			Help: "Failed sink writes",
		}, []string{"sink"}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signalengine_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signalengine_circuit_breaker_trips_total",
			Help: "Times a circuit breaker tripped open",
		}, []string{"name"}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.FramesTotal,
		m.FramesDropped,
		m.CandlesTotal,
		m.CandlesClosed,
		m.WSReconnects,
		m.StreamsOpen,
		m.EvaluateDur,
		m.SignalsTotal,
		m.JournalSize,
		m.EnrichmentTotal,
		m.EnrichmentDur,
		m.EnrichmentInflight,
		m.FanoutDropsTotal,
		m.ChannelSaturationPct,
		m.SinkWriteDur,
		m.SinkErrors,
		m.BreakerState,
		m.BreakerTrips,
	)

	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// BreakerObserver returns a breaker.WithStateChange callback that records
// transitions.
func (m *Metrics) BreakerObserver() func(name string, from, to breaker.State) {
	return func(name string, from, to breaker.State) {
		m.BreakerState.WithLabelValues(name).Set(float64(to))
		if to == breaker.StateOpen {
			m.BreakerTrips.WithLabelValues(name).Inc()
		}
	}
}
