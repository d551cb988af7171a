// Package engine wires the window store, strategy, journal and enrichment
// into the per-candle pipeline, and exposes the query/control boundary
// used by the HTTP gateway.
package engine

import (
	"time"

	"github.com/rs/zerolog"

	"signal-enginev1/internal/bus"
	"signal-enginev1/internal/enrich"
	"signal-enginev1/internal/journal"
	"signal-enginev1/internal/metrics"
	"signal-enginev1/internal/model"
	"signal-enginev1/internal/strategy"
	"signal-enginev1/internal/stream"
	"signal-enginev1/internal/window"
)

// Enricher is the part of the enrichment dispatcher the engine calls.
type Enricher interface {
	Dispatch(sig *model.Signal, ex model.Extras)
}

// StateSource reports per-key stream connection state for Health.
type StateSource interface {
	States() map[string]stream.State
	Open() []string
}

// Config holds the engine dependencies. Bus, Metrics and Enricher are optional.
type Config struct {
	Store      *window.Store
	Strategy   strategy.Strategy
	Journal    *journal.Journal
	Settings   *enrich.Settings
	Enricher   Enricher
	Bus        *bus.FanOut
	Metrics    *metrics.Metrics
	Symbols    []string
	Timeframes []string
}

// Engine processes candles for every key. OnCandle is called concurrently
// from one goroutine per key; each key's calls are sequential.
type Engine struct {
	cfg    Config
	log    zerolog.Logger
	states StateSource
}

// New creates an engine.
func New(cfg Config, log zerolog.Logger) *Engine {
	if cfg.Settings == nil {
		cfg.Settings = enrich.NewSettings(model.ModeLocal, "")
	}
	return &Engine{cfg: cfg, log: log}
}

// SetStateSource attaches the stream supervisor once it exists.
func (e *Engine) SetStateSource(s StateSource) { e.states = s }

// OnCandle upserts c into key's window and, if the candle is closed,
// evaluates the strategy. A fired signal is journaled, dispatched for
// enrichment and published before OnCandle returns; enrichment itself
// runs asynchronously.
func (e *Engine) OnCandle(key model.Key, c model.Candle) {
	outcome := e.cfg.Store.Upsert(key, c)
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.CandlesTotal.WithLabelValues(outcome.String()).Inc()
	}
	if outcome == window.Stale {
		e.log.Debug().Str("key", key.String()).Int64("open_time", c.OpenTime).Msg("stale candle dropped")
		return
	}
	if !c.Closed {
		return
	}

	if e.cfg.Metrics != nil {
		e.cfg.Metrics.CandlesClosed.WithLabelValues(key.Timeframe).Inc()
	}
	e.evaluate(key)
}

func (e *Engine) evaluate(key model.Key) {
	start := time.Now()
	d, ok := e.cfg.Strategy.Evaluate(key, e.cfg.Store.Snapshot(key))
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.EvaluateDur.Observe(time.Since(start).Seconds())
	}
	if !ok {
		return
	}

	sig := d.Signal
	e.cfg.Journal.Append(sig)
	if e.cfg.Enricher != nil {
		e.cfg.Enricher.Dispatch(sig, d.Extras)
	}
	if e.cfg.Bus != nil {
		e.cfg.Bus.Publish(bus.Event{Type: bus.EventSignal, Signal: sig})
	}
	if m := e.cfg.Metrics; m != nil {
		m.SignalsTotal.WithLabelValues(string(sig.Side), sig.Timeframe).Inc()
		m.JournalSize.Set(float64(e.cfg.Journal.Len()))
	}

	e.log.Info().
		Str("id", sig.ID).
		Str("key", key.String()).
		Str("side", string(sig.Side)).
		Float64("entry", sig.Entry).
		Float64("sl", sig.StopLoss).
		Float64("tp1", sig.TakeProfit1).
		Float64("tp2", sig.TakeProfit2).
		Msg("signal")
}

// OnEnriched publishes the enrichment event for sig. It is the
// dispatcher's attach callback.
func (e *Engine) OnEnriched(sig *model.Signal) {
	if e.cfg.Bus != nil {
		e.cfg.Bus.Publish(bus.Event{Type: bus.EventEnrichment, Signal: sig})
	}
}

// Latest returns the most recent signal.
func (e *Engine) Latest() (*model.Signal, bool) {
	return e.cfg.Journal.Latest()
}

// Recent returns journaled signals matching f, newest last.
func (e *Engine) Recent(f journal.Filter) []*model.Signal {
	return e.cfg.Journal.Recent(f)
}

// SetMode switches the enrichment backend by name.
func (e *Engine) SetMode(mode string) (model.Mode, error) {
	m, err := enrich.ParseMode(mode)
	if err != nil {
		return "", err
	}
	e.cfg.Settings.SetMode(m)
	e.log.Info().Str("mode", string(m)).Msg("enrichment mode changed")
	return m, nil
}

// SetCredential replaces the remote analyzer API key.
func (e *Engine) SetCredential(v string) {
	e.cfg.Settings.SetCredential(v)
	e.log.Info().Bool("set", e.cfg.Settings.HasCredential()).Msg("remote credential updated")
}

// Health is the engine status reported on /health.
type Health struct {
	OK          bool                    `json:"ok"`
	AIMode      model.Mode              `json:"aiMode"`
	HasKey      bool                    `json:"hasKey"`
	Symbols     []string                `json:"symbols"`
	Timeframes  []string                `json:"timeframes"`
	Streams     map[string]stream.State `json:"streams"`
	OpenStreams int                     `json:"openStreams"`
	Windows     int                     `json:"windows"`
	JournalSize int                     `json:"journal"`
	Signals     uint64                  `json:"signalsTotal"`
}

// Health returns the current status.
func (e *Engine) Health() Health {
	h := Health{
		OK:          true,
		AIMode:      e.cfg.Settings.Mode(),
		HasKey:      e.cfg.Settings.HasCredential(),
		Symbols:     e.cfg.Symbols,
		Timeframes:  e.cfg.Timeframes,
		Streams:     map[string]stream.State{},
		Windows:     len(e.cfg.Store.Keys()),
		JournalSize: e.cfg.Journal.Len(),
		Signals:     e.cfg.Journal.Total(),
	}
	if e.states != nil {
		h.Streams = e.states.States()
		h.OpenStreams = len(e.states.Open())
	}
	return h
}
