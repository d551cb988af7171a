// Package strategy turns indicator snapshots into trade signals.
//
// A Strategy receives the closed-candle window of one stream key and either
// emits a Decision (a signal plus the features it fired on) or nothing.
// Strategies are pure: no I/O, no state carried between evaluations.
package strategy

import "signal-enginev1/internal/model"

// Decision is a fired signal together with the features handed to enrichment.
type Decision struct {
	Signal *model.Signal
	Extras model.Extras
}

// Strategy is the interface that all signal rules must implement.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// Evaluate is called with the window of key after a candle closes,
	// oldest candle first. Return false to skip.
	Evaluate(key model.Key, candles []model.Candle) (Decision, bool)
}

// Rules holds the thresholds and risk multiples of the trend-cross strategy.
type Rules struct {
	RSIMin    float64 // exclusive
	RSIMax    float64 // exclusive
	ATRRelMin float64 // ATR/close below this is too quiet to trade
	StopATR   float64
	TP1ATR    float64
	TP2ATR    float64
	Quality   int
	Reason    string
}

// DefaultRules: RSI zone (45, 65), ATR/close >= 0.002, SL 1.2 ATR,
// TP1 1.5 ATR, TP2 3 ATR.
var DefaultRules = Rules{
	RSIMin:    45,
	RSIMax:    65,
	ATRRelMin: 0.002,
	StopATR:   1.2,
	TP1ATR:    1.5,
	TP2ATR:    3,
	Quality:   4,
	Reason:    "Trend + EMA cross + RSI zone + ATR good",
}
