package indicator

import "signal-enginev1/internal/model"

// MinHistory is the number of candles a window needs before it is evaluated.
const MinHistory = 210

// Periods configures the indicator set computed per evaluation.
type Periods struct {
	FastEMA  int // crossover fast line
	SlowEMA  int // crossover slow line
	TrendEMA int // trend fast line
	BaseEMA  int // trend slow line
	RSI      int
	ATR      int
}

// DefaultPeriods is EMA 9/21/50/200, RSI 14, ATR 14.
var DefaultPeriods = Periods{
	FastEMA:  9,
	SlowEMA:  21,
	TrendEMA: 50,
	BaseEMA:  200,
	RSI:      14,
	ATR:      14,
}

// Snapshot holds the indicator series for one evaluation. Each series starts
// at the first bar its indicator is ready on, so all of them end on the
// newest candle.
type Snapshot struct {
	Close   []float64
	EMAFast []float64
	EMASlow []float64
	EMA50   []float64
	EMA200  []float64
	RSI     []float64
	ATR     []float64
}

// Pipeline turns a window snapshot into indicator series.
type Pipeline struct {
	periods    Periods
	minHistory int
}

// NewPipeline creates a pipeline. A non-positive minHistory selects MinHistory.
func NewPipeline(periods Periods, minHistory int) *Pipeline {
	if minHistory <= 0 {
		minHistory = MinHistory
	}
	return &Pipeline{periods: periods, minHistory: minHistory}
}

// MinHistory returns the candle count below which Compute skips.
func (p *Pipeline) MinHistory() int { return p.minHistory }

// Compute recomputes every series from scratch over candles (oldest first).
// It reports false when there is not enough history yet.
func (p *Pipeline) Compute(candles []model.Candle) (Snapshot, bool) {
	if len(candles) < p.minHistory {
		return Snapshot{}, false
	}

	closes := make([]float64, len(candles))
	for i := range candles {
		closes[i] = candles[i].Close
	}

	return Snapshot{
		Close:   closes,
		EMAFast: Series(NewEMA(p.periods.FastEMA), candles),
		EMASlow: Series(NewEMA(p.periods.SlowEMA), candles),
		EMA50:   Series(NewEMA(p.periods.TrendEMA), candles),
		EMA200:  Series(NewEMA(p.periods.BaseEMA), candles),
		RSI:     Series(NewRSI(p.periods.RSI), candles),
		ATR:     Series(NewATR(p.periods.ATR), candles),
	}, true
}

// Series feeds every candle to ind and collects its value from the first
// ready bar onward.
func Series(ind Indicator, candles []model.Candle) []float64 {
	out := make([]float64, 0, len(candles))
	for _, c := range candles {
		ind.Update(c)
		if ind.Ready() {
			out = append(out, ind.Value())
		}
	}
	return out
}

// LastTwo returns the previous and current value of a series.
func LastTwo(s []float64) (prev, cur float64, ok bool) {
	if len(s) < 2 {
		return 0, 0, false
	}
	return s[len(s)-2], s[len(s)-1], true
}
