package model

import (
	"encoding/json"
	"sync/atomic"
	"time"
)

// Side is the trade direction of a signal.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Mode names the enrichment backend that produced an EnrichmentResult.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// EnrichmentResult is the post-hoc verdict attached to a Signal.
type EnrichmentResult struct {
	Summary    string `json:"summary"`
	Confidence int    `json:"confidence"` // 0-100
	Mode       Mode   `json:"mode"`
}

// Signal is an emitted trade recommendation.
// Every field except the enrichment result is fixed at construction; the
// enrichment result is set at most once, from another goroutine, after the
// signal has already been journaled. Signals must be passed by pointer.
type Signal struct {
	ID          string    `json:"id"`
	TS          time.Time `json:"ts"` // close time of the triggering candle
	Symbol      string    `json:"symbol"`
	Timeframe   string    `json:"timeframe"`
	Side        Side      `json:"side"`
	Entry       float64   `json:"entry"`
	StopLoss    float64   `json:"sl"`
	TakeProfit1 float64   `json:"tp1"`
	TakeProfit2 float64   `json:"tp2"`
	Quality     int       `json:"quality"`
	Reasons     []string  `json:"reasons"`

	ai atomic.Pointer[EnrichmentResult]
}

// Key returns the stream key the signal was produced on.
func (s *Signal) Key() Key {
	return Key{Symbol: s.Symbol, Timeframe: s.Timeframe}
}

// AttachAI sets the enrichment result. Only the first call wins; it reports
// whether this call stored the value.
func (s *Signal) AttachAI(r EnrichmentResult) bool {
	return s.ai.CompareAndSwap(nil, &r)
}

// AI returns the enrichment result, if it has landed yet.
func (s *Signal) AI() (EnrichmentResult, bool) {
	p := s.ai.Load()
	if p == nil {
		return EnrichmentResult{}, false
	}
	return *p, true
}

type signalJSON struct {
	ID          string            `json:"id"`
	TS          time.Time         `json:"ts"`
	Symbol      string            `json:"symbol"`
	Timeframe   string            `json:"timeframe"`
	Side        Side              `json:"side"`
	Entry       float64           `json:"entry"`
	StopLoss    float64           `json:"sl"`
	TakeProfit1 float64           `json:"tp1"`
	TakeProfit2 float64           `json:"tp2"`
	Quality     int               `json:"quality"`
	Reasons     []string          `json:"reasons"`
	AI          *EnrichmentResult `json:"ai,omitempty"`
}

// MarshalJSON encodes the signal with "ai" present only once enrichment has landed.
func (s *Signal) MarshalJSON() ([]byte, error) {
	return json.Marshal(signalJSON{
		ID:          s.ID,
		TS:          s.TS,
		Symbol:      s.Symbol,
		Timeframe:   s.Timeframe,
		Side:        s.Side,
		Entry:       s.Entry,
		StopLoss:    s.StopLoss,
		TakeProfit1: s.TakeProfit1,
		TakeProfit2: s.TakeProfit2,
		Quality:     s.Quality,
		Reasons:     s.Reasons,
		AI:          s.ai.Load(),
	})
}

// JSON returns the JSON-encoded signal (ignoring errors for hot-path usage).
func (s *Signal) JSON() []byte {
	b, _ := json.Marshal(s)
	return b
}

// Extras are the numeric features handed to enrichment alongside a signal.
type Extras struct {
	RSI        float64 `json:"rsi"`
	ATRRel     float64 `json:"atr_rel"`
	TrendScore float64 `json:"trend_score"`
}
