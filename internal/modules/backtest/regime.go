package backtest

import (
	"math"

	"github.com/aristath/allocator/pkg/formulas"
)

// Regime labels.
const (
	RegimeCalm   = "calm"
	RegimeNormal = "normal"
	RegimeStress = "stress"
)

// Regime thresholds on the indicator level (VIX points).
const (
	CalmBelow       = 15.0
	StressAtOrAbove = 25.0
)

// RegimeStats is a strategy's performance on the days in one regime.
type RegimeStats struct {
	Regime           string   `json:"regime"`
	Days             int      `json:"days"`
	MeanReturn       float64  `json:"mean_return"`
	AnnualizedReturn float64  `json:"annualized_return"`
	Volatility       float64  `json:"volatility"`
	Sharpe           *float64 `json:"sharpe"`
	HitRate          float64  `json:"hit_rate"`
}

// ClassifyRegime buckets an indicator level. NaN has no regime.
func ClassifyRegime(level float64) string {
	switch {
	case math.IsNaN(level):
		return ""
	case level < CalmBelow:
		return RegimeCalm
	case level >= StressAtOrAbove:
		return RegimeStress
	default:
		return RegimeNormal
	}
}

// FillForward replaces gaps with the last known level. Leading gaps stay NaN.
func FillForward(levels []float64) []float64 {
	out := make([]float64, len(levels))
	last := math.NaN()
	for i, v := range levels {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			last = v
		}
		out[i] = last
	}
	return out
}

// AttributeRegimes groups periodic returns by the regime on the same date.
// Regimes without days are omitted; the order is calm, normal, stress.
func AttributeRegimes(returns, levels []float64, riskFreeRate float64, periodsPerYear int) []RegimeStats {
	buckets := map[string][]float64{}
	for t, r := range returns {
		if t >= len(levels) {
			break
		}
		if regime := ClassifyRegime(levels[t]); regime != "" {
			buckets[regime] = append(buckets[regime], r)
		}
	}

	var out []RegimeStats
	for _, regime := range []string{RegimeCalm, RegimeNormal, RegimeStress} {
		rs := buckets[regime]
		if len(rs) == 0 {
			continue
		}
		hits := 0
		for _, r := range rs {
			if r > 0 {
				hits++
			}
		}
		mean := formulas.Mean(rs)
		out = append(out, RegimeStats{
			Regime:           regime,
			Days:             len(rs),
			MeanReturn:       mean,
			AnnualizedReturn: mean * float64(periodsPerYear),
			Volatility:       formulas.AnnualizedVolatility(rs, periodsPerYear),
			Sharpe:           formulas.CalculateSharpeRatio(rs, riskFreeRate, periodsPerYear),
			HitRate:          float64(hits) / float64(len(rs)),
		})
	}
	return out
}
