package indicator

import (
	"math"
	"testing"

	"signal-enginev1/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helper
// ────────────────────────────────────────────────────────────

func candle(close float64) model.Candle {
	return model.Candle{Open: close, High: close + 0.5, Low: close - 0.5, Close: close, Closed: true}
}

func hlc(high, low, close float64) model.Candle {
	return model.Candle{Open: close, High: high, Low: low, Close: close, Closed: true}
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// ────────────────────────────────────────────────────────────
// EMA Correctness
// ────────────────────────────────────────────────────────────

func TestEMA_Correctness_Period3(t *testing.T) {
	// EMA(3): multiplier = 2/(3+1) = 0.5
	// Prices: 100, 102, 104, 103, 105
	//
	// Candle 3: initial EMA = (100+102+104)/3 = 102.0 (SMA seed)
	// Candle 4: EMA = 103*0.5 + 102.0*0.5 = 102.5
	// Candle 5: EMA = 105*0.5 + 102.5*0.5 = 103.75

	ema := NewEMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 102.5, 103.75}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		ema.Update(candle(p))
		if ema.Ready() != ready[i] {
			t.Errorf("candle %d: Ready()=%v, want %v", i, ema.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "EMA(3)", ema.Value(), expected[i], 0.0001)
		}
	}
}

func TestEMA_Reset(t *testing.T) {
	ema := NewEMA(2)
	ema.Update(candle(10))
	ema.Update(candle(20))
	ema.Reset()
	if ema.Ready() || ema.Value() != 0 {
		t.Fatalf("reset EMA should be empty, ready=%v value=%v", ema.Ready(), ema.Value())
	}
}

// ────────────────────────────────────────────────────────────
// SMMA Correctness
// ────────────────────────────────────────────────────────────

func TestSMMA_Correctness_Period3(t *testing.T) {
	// Seed: (10+11+12)/3 = 11
	// Next: (11*2 + 14)/3 = 12
	// Next: (12*2 + 9)/3  = 11
	s := NewSMMA(3)
	for _, v := range []float64{10, 11, 12} {
		s.Add(v)
	}
	assertClose(t, "SMMA seed", s.Value(), 11, 1e-9)
	s.Add(14)
	assertClose(t, "SMMA 4", s.Value(), 12, 1e-9)
	s.Update(candle(9))
	assertClose(t, "SMMA 5", s.Value(), 11, 1e-9)
}

// ────────────────────────────────────────────────────────────
// RSI Correctness
// ────────────────────────────────────────────────────────────

func TestRSI_Correctness_Period5(t *testing.T) {
	// Prices: 44, 44.34, 44.09, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84
	//
	// First RSI after 6 candles:
	//   avgGain = (0.34+0.72+0.50)/5 = 0.312
	//   avgLoss = (0.25+0.48)/5      = 0.146
	//   RSI = 100 - 100/(1+2.13699)  = 68.112
	// Then Wilder smoothing: 72.219, 76.658, 81.509

	prices := []float64{44, 44.34, 44.09, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84}
	rsi := NewRSI(5)
	for i := 0; i <= 5; i++ {
		rsi.Update(candle(prices[i]))
	}
	if !rsi.Ready() {
		t.Fatal("RSI(5) should be ready after 6 candles")
	}
	assertClose(t, "RSI(5) candle 6", rsi.Value(), 68.112, 0.1)

	rsi.Update(candle(prices[6]))
	assertClose(t, "RSI(5) candle 7", rsi.Value(), 72.219, 0.1)

	rsi.Update(candle(prices[7]))
	assertClose(t, "RSI(5) candle 8", rsi.Value(), 76.658, 0.1)

	rsi.Update(candle(prices[8]))
	assertClose(t, "RSI(5) candle 9", rsi.Value(), 81.509, 0.2)
}

func TestRSI_AllUp_Is100(t *testing.T) {
	rsi := NewRSI(5)
	for i := 0; i < 10; i++ {
		rsi.Update(candle(100 + float64(i)))
	}
	assertClose(t, "RSI all up", rsi.Value(), 100.0, 0.001)
}

func TestRSI_AllDown_Is0(t *testing.T) {
	rsi := NewRSI(5)
	for i := 0; i < 10; i++ {
		rsi.Update(candle(200 - float64(i)))
	}
	assertClose(t, "RSI all down", rsi.Value(), 0.0, 0.001)
}

// ────────────────────────────────────────────────────────────
// ATR Correctness
// ────────────────────────────────────────────────────────────

func TestATR_Correctness_Period3(t *testing.T) {
	// TR0 = 10-8 = 2
	// TR1 = max(2, |11-9|, |9-9|)   = 2
	// TR2 = max(2, |12-10|, |10-10|) = 2  → seed ATR = 2
	// TR3 = max(4, |13-11|, |9-11|)  = 4  → ATR = (2*2+4)/3 = 2.6667
	// TR4 = max(1, |20-12|, |19-12|) = 8  → ATR = (2.6667*2+8)/3 = 4.4444 (gap up)
	atr := NewATR(3)
	bars := []model.Candle{hlc(10, 8, 9), hlc(11, 9, 10), hlc(12, 10, 11)}
	for i, b := range bars {
		atr.Update(b)
		if atr.Ready() != (i == 2) {
			t.Errorf("bar %d: Ready()=%v", i, atr.Ready())
		}
	}
	assertClose(t, "ATR seed", atr.Value(), 2, 1e-9)

	atr.Update(hlc(13, 9, 12))
	assertClose(t, "ATR 4", atr.Value(), 8.0/3.0, 1e-9)

	atr.Update(hlc(20, 19, 19.5))
	assertClose(t, "ATR gap", atr.Value(), (8.0/3.0*2+8)/3, 1e-9)
}

// ────────────────────────────────────────────────────────────
// Trend ordering
// ────────────────────────────────────────────────────────────

func TestIndicators_TrendingUp_Ordering(t *testing.T) {
	fast, slow := NewEMA(5), NewEMA(20)
	for i := 0; i < 60; i++ {
		c := candle(100 + float64(i))
		fast.Update(c)
		slow.Update(c)
	}
	if fast.Value() <= slow.Value() {
		t.Errorf("uptrend: fast EMA %.4f should be above slow EMA %.4f", fast.Value(), slow.Value())
	}
}

func TestIndicators_TrendingDown_Ordering(t *testing.T) {
	fast, slow := NewEMA(5), NewEMA(20)
	for i := 0; i < 60; i++ {
		c := candle(200 - float64(i))
		fast.Update(c)
		slow.Update(c)
	}
	if fast.Value() >= slow.Value() {
		t.Errorf("downtrend: fast EMA %.4f should be below slow EMA %.4f", fast.Value(), slow.Value())
	}
}
