package strategy

import (
	"time"

	"github.com/rs/zerolog"

	"signal-enginev1/internal/indicator"
	"signal-enginev1/internal/logger"
	"signal-enginev1/internal/model"
)

// TrendCross fires on an EMA9/EMA21 crossover in the direction of the
// EMA50/EMA200 trend.
//
// LONG:  EMA50 > EMA200 and EMA9 crosses above EMA21
// SHORT: EMA50 < EMA200 and EMA9 crosses below EMA21
//
// Both require RSI strictly inside the zone and ATR/close at or above the
// volatility floor.
type TrendCross struct {
	name     string
	pipeline *indicator.Pipeline
	rules    Rules
	log      zerolog.Logger
}

// NewTrendCross creates the strategy over the given pipeline.
func NewTrendCross(p *indicator.Pipeline, rules Rules, log zerolog.Logger) *TrendCross {
	return &TrendCross{
		name:     "Trend_Cross",
		pipeline: p,
		rules:    rules,
		log:      log,
	}
}

func (s *TrendCross) Name() string {
	return s.name
}

// Evaluate recomputes the indicators over candles and applies the rules.
// The signal timestamp is the close time of the newest candle.
func (s *TrendCross) Evaluate(key model.Key, candles []model.Candle) (Decision, bool) {
	snap, ok := s.pipeline.Compute(candles)
	if !ok {
		return Decision{}, false
	}
	last := candles[len(candles)-1]
	return s.Decide(key, snap, last.CloseTS())
}

// Decide applies the rules to an already computed snapshot.
func (s *TrendCross) Decide(key model.Key, snap indicator.Snapshot, ts time.Time) (Decision, bool) {
	prevFast, curFast, ok1 := indicator.LastTwo(snap.EMAFast)
	prevSlow, curSlow, ok2 := indicator.LastTwo(snap.EMASlow)
	if !ok1 || !ok2 || len(snap.EMA50) == 0 || len(snap.EMA200) == 0 ||
		len(snap.RSI) == 0 || len(snap.ATR) == 0 || len(snap.Close) == 0 {
		return Decision{}, false
	}

	ema50 := snap.EMA50[len(snap.EMA50)-1]
	ema200 := snap.EMA200[len(snap.EMA200)-1]
	rsi := snap.RSI[len(snap.RSI)-1]
	atr := snap.ATR[len(snap.ATR)-1]
	entry := snap.Close[len(snap.Close)-1]

	trendUp := ema50 > ema200
	trendDn := ema50 < ema200
	crossUp := prevFast <= prevSlow && curFast > curSlow
	crossDn := prevFast >= prevSlow && curFast < curSlow

	if entry <= 0 {
		return Decision{}, false
	}
	atrRel := atr / entry
	if atrRel < s.rules.ATRRelMin {
		return Decision{}, false
	}
	if rsi <= s.rules.RSIMin || rsi >= s.rules.RSIMax {
		return Decision{}, false
	}

	var side model.Side
	switch {
	case trendUp && crossUp:
		side = model.SideLong
	case trendDn && crossDn:
		side = model.SideShort
	default:
		return Decision{}, false
	}

	sig := &model.Signal{
		ID:        logger.GenerateTraceID(key.String(), ts),
		TS:        ts,
		Symbol:    key.Symbol,
		Timeframe: key.Timeframe,
		Side:      side,
		Entry:     entry,
		Quality:   s.rules.Quality,
		Reasons:   []string{s.rules.Reason},
	}
	if side == model.SideLong {
		sig.StopLoss = entry - s.rules.StopATR*atr
		sig.TakeProfit1 = entry + s.rules.TP1ATR*atr
		sig.TakeProfit2 = entry + s.rules.TP2ATR*atr
	} else {
		sig.StopLoss = entry + s.rules.StopATR*atr
		sig.TakeProfit1 = entry - s.rules.TP1ATR*atr
		sig.TakeProfit2 = entry - s.rules.TP2ATR*atr
	}

	trendScore := 0.0
	if trendUp || trendDn {
		trendScore = 1
	}

	s.log.Debug().
		Str("key", key.String()).
		Str("side", string(side)).
		Float64("rsi", rsi).
		Float64("atr_rel", atrRel).
		Msg("signal fired")

	return Decision{
		Signal: sig,
		Extras: model.Extras{RSI: rsi, ATRRel: atrRel, TrendScore: trendScore},
	}, true
}
