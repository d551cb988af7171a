package enrich

import (
	"context"
	"fmt"
	"math"

	"signal-enginev1/internal/model"
)

// Analyzer produces an enrichment verdict for a signal. Implementations
// never fail: problems are reported through a degraded result.
type Analyzer interface {
	Analyze(ctx context.Context, sig *model.Signal, ex model.Extras, credential string) model.EnrichmentResult
}

// Local scores a signal from its features alone, with no I/O.
type Local struct{}

const (
	rsiCenter    = 55.0
	rsiSpread    = 25.0
	atrRelFloor  = 0.002
	atrRelSpan   = 0.004
	moderateVol  = 0.003
	weightTrend  = 0.4
	weightRSI    = 0.3
	weightATRRel = 0.3
)

// Score returns the weighted feature score in [0, 1].
func Score(ex model.Extras) float64 {
	score := weightTrend * clamp(ex.TrendScore, 0, 1)
	score += weightRSI * (1 - math.Min(1, math.Abs(ex.RSI-rsiCenter)/rsiSpread))
	score += weightATRRel * clamp((ex.ATRRel-atrRelFloor)/atrRelSpan, 0, 1)
	return clamp(score, 0, 1)
}

// Analyze implements Analyzer.
func (Local) Analyze(_ context.Context, sig *model.Signal, ex model.Extras, _ string) model.EnrichmentResult {
	confidence := int(math.Round(Score(ex) * 100))

	dir := "bearish"
	if sig.Side == model.SideLong {
		dir = "bullish"
	}
	vol := "low"
	if ex.ATRRel > moderateVol {
		vol = "moderate"
	}

	return model.EnrichmentResult{
		Summary:    fmt.Sprintf("AI (%s): RSI %.1f, %s volatility. Confidence %d%%.", dir, ex.RSI, vol, confidence),
		Confidence: confidence,
		Mode:       model.ModeLocal,
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
