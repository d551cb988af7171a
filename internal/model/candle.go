package model

import (
	"strings"
	"time"
)

// Candle is one kline update for a single symbol/timeframe.
// OpenTime identifies the bar; an open (Closed=false) bar is re-sent with the
// same OpenTime until the exchange marks it closed.
type Candle struct {
	OpenTime  int64   `json:"open_time"`  // epoch ms, exchange-assigned
	CloseTime int64   `json:"close_time"` // epoch ms
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Closed    bool    `json:"closed"`
}

// CloseTS returns the bar close time in UTC.
func (c *Candle) CloseTS() time.Time {
	return time.UnixMilli(c.CloseTime).UTC()
}

// Key identifies one stream: a symbol on one timeframe.
type Key struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
}

// NewKey upper-cases the symbol so "btcusdt" and "BTCUSDT" share a window.
func NewKey(symbol, timeframe string) Key {
	return Key{Symbol: strings.ToUpper(symbol), Timeframe: timeframe}
}

// String returns "SYMBOL-TF", e.g. "BTCUSDT-1m".
func (k Key) String() string {
	return k.Symbol + "-" + k.Timeframe
}
