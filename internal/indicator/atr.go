package indicator

import (
	"math"

	"signal-enginev1/internal/model"
)

// ATR calculates Average True Range with Wilder smoothing.
// The first bar's true range is high-low; later bars also consider the gap
// from the previous close.
type ATR struct {
	period    int
	count     int
	prevClose float64
	smma      *SMMA
}

// NewATR creates a new ATR indicator with the given period (typically 14).
func NewATR(period int) *ATR {
	return &ATR{period: period, smma: NewSMMA(period)}
}

func (a *ATR) Name() string { return "ATR" }

func (a *ATR) Update(candle model.Candle) {
	tr := candle.High - candle.Low
	if a.count > 0 {
		tr = math.Max(tr, math.Max(
			math.Abs(candle.High-a.prevClose),
			math.Abs(candle.Low-a.prevClose),
		))
	}
	a.count++
	a.prevClose = candle.Close
	a.smma.Add(tr)
}

func (a *ATR) Value() float64 { return a.smma.Value() }
func (a *ATR) Ready() bool    { return a.smma.Ready() }
