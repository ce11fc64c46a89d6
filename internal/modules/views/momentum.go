package views

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/pkg/formulas"
)

const (
	rsiLength = 14
	rocLength = 10
	volLength = 20

	// NoiseThreshold is the smallest weekly relative momentum turned into a view.
	NoiseThreshold = 0.002
	// MinMomentumHistory is the number of prices an asset needs before it gets a view.
	MinMomentumHistory = 60

	baseView      = 0.15
	volMultiplier = 0.5
	minConfidence = 0.4
	maxConfidence = 0.9
)

// MomentumGenerator derives one absolute view per asset from technical
// momentum over the training history. Momentum is measured against the
// benchmark when the history carries one.
type MomentumGenerator struct {
	log zerolog.Logger
}

// NewMomentumGenerator creates a momentum view source.
func NewMomentumGenerator(log zerolog.Logger) *MomentumGenerator {
	return &MomentumGenerator{
		log: log.With().Str("component", "momentum_views").Logger(),
	}
}

// Name implements Generator.
func (g *MomentumGenerator) Name() string { return SourceMomentum }

// Generate implements Generator.
func (g *MomentumGenerator) Generate(ctx context.Context, mc MarketContext) (domain.ViewSet, error) {
	if mc.History == nil {
		return nil, domain.Errorf(domain.ErrData, "momentum views need price history")
	}
	ppy := mc.PeriodsPerYear
	if ppy <= 0 {
		ppy = formulas.TradingDaysPerYear
	}

	var benchROC *float64
	if mc.History.Benchmark != nil {
		if closes := trailingFinite(mc.History.Benchmark.Values); len(closes) > rocLength {
			benchROC = formulas.CalculateROC(closes, rocLength)
		}
	}

	var out domain.ViewSet
	for i, asset := range mc.History.Assets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		closes := trailingFinite(mc.History.Column(i))
		if len(closes) < MinMomentumHistory {
			g.log.Debug().Str("asset", asset).Int("prices", len(closes)).Msg("Not enough history for momentum")
			continue
		}

		view, ok := momentumView(asset, closes, benchROC, ppy)
		if !ok {
			continue
		}
		out = append(out, view)
	}

	g.log.Info().Int("views", len(out)).Int("assets", len(mc.History.Assets)).Msg("Generated momentum views")
	return out, nil
}

func momentumView(asset string, closes []float64, benchROC *float64, ppy int) (domain.View, bool) {
	roc := formulas.CalculateROC(closes, rocLength)
	rsi := formulas.CalculateRSI(closes, rsiLength)
	if roc == nil || rsi == nil {
		return domain.View{}, false
	}

	alpha := *roc
	if benchROC != nil {
		alpha -= *benchROC
	}
	// ROC covers two trading weeks.
	weekly := alpha * 5 / rocLength
	if math.Abs(weekly) < NoiseThreshold {
		return domain.View{}, false
	}
	direction := 1.0
	if alpha < 0 {
		direction = -1
	}

	returns := formulas.CalculateReturns(closes[len(closes)-volLength-1:])
	annualVol := formulas.AnnualizedVolatility(returns, ppy)
	expected := direction * (baseView + volMultiplier*annualVol)

	// RSI on the same side of 50 as the momentum raises confidence.
	confidence := minConfidence
	if agreement := direction * (*rsi - 50) / 50; agreement > 0 {
		confidence += agreement * (maxConfidence - minConfidence)
	}
	confidence = math.Min(confidence, maxConfidence)

	return domain.View{
		Assets:         []string{asset},
		Weights:        []float64{1},
		ExpectedReturn: expected,
		Confidence:     confidence,
		Description:    fmt.Sprintf("Momentum: %.2f%% weekly alpha | RSI %.1f", weekly*100, *rsi),
		Source:         SourceMomentum,
	}, true
}

// trailingFinite returns the longest run of finite values ending at the last one.
func trailingFinite(values []float64) []float64 {
	end := len(values)
	for end > 0 && math.IsNaN(values[end-1]) {
		end--
	}
	start := end
	for start > 0 && !math.IsNaN(values[start-1]) && !math.IsInf(values[start-1], 0) {
		start--
	}
	return values[start:end]
}
