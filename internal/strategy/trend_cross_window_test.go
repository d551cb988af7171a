package strategy

import (
	"math"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"

	"signal-enginev1/internal/indicator"
	"signal-enginev1/internal/model"
	"signal-enginev1/internal/window"
)

// randomWalk builds n closed 1m bars around 100. Closes move by a normal
// step of 0.3% and stay inside [60, 140].
func randomWalk(seed int64, n int) []model.Candle {
	rng := rand.New(rand.NewSource(seed))
	out := make([]model.Candle, n)
	price := 100.0
	for i := range out {
		open := price
		step := rng.NormFloat64() * 0.003
		if next := price * (1 + step); next < 60 || next > 140 {
			step = -step
		}
		price *= 1 + step
		ot := int64(i) * 60_000
		out[i] = model.Candle{
			OpenTime:  ot,
			CloseTime: ot + 59_999,
			Open:      open,
			High:      math.Max(open, price) * (1 + rng.Float64()*0.002),
			Low:       math.Min(open, price) * (1 - rng.Float64()*0.002),
			Close:     price,
			Volume:    1,
			Closed:    true,
		}
	}
	return out
}

// affine maps every price p to offset + scale*p. A negative scale mirrors the
// series, so high and low swap.
func affine(candles []model.Candle, scale, offset float64) []model.Candle {
	out := make([]model.Candle, len(candles))
	for i, c := range candles {
		m := func(p float64) float64 { return offset + scale*p }
		hi, lo := m(c.High), m(c.Low)
		if scale < 0 {
			hi, lo = lo, hi
		}
		c.Open, c.High, c.Low, c.Close = m(c.Open), hi, lo, m(c.Close)
		out[i] = c
	}
	return out
}

// refATR is Wilder's 14-bar ATR over the whole series, computed directly.
func refATR(candles []model.Candle) float64 {
	const n = 14
	var atr, sum float64
	for i, c := range candles {
		tr := c.High - c.Low
		if i > 0 {
			pc := candles[i-1].Close
			tr = math.Max(tr, math.Max(math.Abs(c.High-pc), math.Abs(c.Low-pc)))
		}
		switch {
		case i < n:
			sum += tr
			if i == n-1 {
				atr = sum / n
			}
		default:
			atr = (atr*(n-1) + tr) / n
		}
	}
	return atr
}

func checkLevels(t *testing.T, label string, sig *model.Signal, candles []model.Candle) {
	t.Helper()
	entry := candles[len(candles)-1].Close
	atr := refATR(candles)
	dir := 1.0
	if sig.Side == model.SideShort {
		dir = -1
	}
	tol := 1e-9 * entry
	for _, lv := range []struct {
		name      string
		got, want float64
	}{
		{"entry", sig.Entry, entry},
		{"sl", sig.StopLoss, entry - dir*1.2*atr},
		{"tp1", sig.TakeProfit1, entry + dir*1.5*atr},
		{"tp2", sig.TakeProfit2, entry + dir*3*atr},
	} {
		if math.Abs(lv.got-lv.want) > tol {
			t.Errorf("%s %s: got %.10f, want %.10f", label, lv.name, lv.got, lv.want)
		}
	}
}

// clearCross reports whether every comparison the rules make on snap is far
// from equality, so an affine copy of the window decides the same way.
func clearCross(snap indicator.Snapshot) bool {
	const eps = 1e-6
	pf, cf, _ := indicator.LastTwo(snap.EMAFast)
	ps, cs, _ := indicator.LastTwo(snap.EMASlow)
	e50 := snap.EMA50[len(snap.EMA50)-1]
	e200 := snap.EMA200[len(snap.EMA200)-1]
	return math.Abs(pf-ps) > eps && math.Abs(cf-cs) > eps && math.Abs(e50-e200) > eps
}

type firing struct {
	candles []model.Candle
	dec     Decision
}

// scan streams candles through a rolling window and evaluates after every
// close, as the engine does.
func scan(t *testing.T, candles []model.Candle) (longs, shorts []firing) {
	t.Helper()
	s := newStrategy()
	store := window.NewStore(window.DefaultCapacity)
	for _, c := range candles {
		store.Upsert(btc1m, c)
		snap := store.Snapshot(btc1m)
		d, ok := s.Evaluate(btc1m, snap)
		if len(snap) < indicator.MinHistory {
			if ok {
				t.Fatalf("signal with %d candles", len(snap))
			}
			continue
		}
		if !ok {
			continue
		}
		f := firing{candles: snap, dec: d}
		if d.Signal.Side == model.SideLong {
			longs = append(longs, f)
		} else {
			shorts = append(shorts, f)
		}
	}
	return longs, shorts
}

func TestEvaluate_WindowLevelsMatchReferenceATR(t *testing.T) {
	var longs, shorts int
	for seed := int64(1); seed <= 4; seed++ {
		l, s := scan(t, randomWalk(seed, 1200))
		for _, f := range append(l, s...) {
			checkLevels(t, "window", f.dec.Signal, f.candles)
			if f.dec.Extras.RSI <= 45 || f.dec.Extras.RSI >= 65 {
				t.Errorf("rsi %.4f outside zone", f.dec.Extras.RSI)
			}
			if f.dec.Extras.ATRRel < 0.002 {
				t.Errorf("atr_rel %.6f below floor", f.dec.Extras.ATRRel)
			}
		}
		longs += len(l)
		shorts += len(s)
	}
	if longs == 0 || shorts == 0 {
		t.Fatalf("random walks should fire both sides: long=%d short=%d", longs, shorts)
	}
}

func TestEvaluate_MirroredWindowIsShort(t *testing.T) {
	pipeline := indicator.NewPipeline(indicator.DefaultPeriods, indicator.MinHistory)
	s := newStrategy()

	checked := 0
	for seed := int64(1); seed <= 4 && checked < 20; seed++ {
		longs, _ := scan(t, randomWalk(seed, 1200))
		for _, f := range longs {
			// Mirroring maps RSI to 100-RSI and keeps ATR; keep cases whose
			// mirror stays clear of the gates.
			snap, _ := pipeline.Compute(f.candles)
			mirrored := affine(f.candles, -1, 200)
			entry := mirrored[len(mirrored)-1].Close
			if !clearCross(snap) || f.dec.Extras.RSI <= 46 || f.dec.Extras.RSI >= 54 ||
				refATR(mirrored)/entry < 0.0021 {
				continue
			}

			d, ok := s.Evaluate(btc1m, mirrored)
			if !ok || d.Signal.Side != model.SideShort {
				t.Fatalf("mirror of a LONG window should be SHORT, got ok=%v", ok)
			}
			checkLevels(t, "mirror", d.Signal, mirrored)
			checked++
		}
	}
	if checked == 0 {
		t.Fatal("no mirrored window was checked")
	}
}

func TestEvaluate_CompressedRangeHitsATRGate(t *testing.T) {
	pipeline := indicator.NewPipeline(indicator.DefaultPeriods, indicator.MinHistory)
	gateOff := DefaultRules
	gateOff.ATRRelMin = 0
	ungated := NewTrendCross(pipeline, gateOff, zerolog.Nop())
	s := newStrategy()

	checked, stillLong := 0, 0
	for seed := int64(1); seed <= 4 && checked < 20; seed++ {
		longs, _ := scan(t, randomWalk(seed, 1200))
		for _, f := range longs {
			snap, _ := pipeline.Compute(f.candles)
			if !clearCross(snap) {
				continue
			}
			// Shrinking every move around 100 keeps trend, cross and RSI
			// and scales ATR down with it.
			quiet := affine(f.candles, 0.05, 95)
			if rel := refATR(quiet) / quiet[len(quiet)-1].Close; rel >= 0.002 {
				t.Fatalf("compressed window still volatile: atr_rel=%.6f", rel)
			}
			if d, ok := s.Evaluate(btc1m, quiet); ok {
				t.Fatalf("compressed window should be gated, got %s", d.Signal.Side)
			}
			if d, ok := ungated.Evaluate(btc1m, quiet); ok && d.Signal.Side == model.SideLong {
				stillLong++
			}
			checked++
		}
	}
	if checked == 0 {
		t.Fatal("no compressed window was checked")
	}
	if stillLong == 0 {
		t.Error("without the ATR floor the compressed windows should still fire LONG")
	}
}
