package allocation

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/marketdata"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/aristath/allocator/internal/modules/views"
)

var fixedNow = time.Date(2024, 6, 28, 16, 0, 0, 0, time.UTC)

// randomFrame builds a seeded geometric random walk over business days.
func randomFrame(seed int64, days int, assets ...string) *marketdata.Frame {
	rng := rand.New(rand.NewSource(seed))
	f := &marketdata.Frame{Assets: assets}
	prices := make([]float64, len(assets))
	for i := range prices {
		prices[i] = 100
	}
	date := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	for d := 0; d < days; d++ {
		row := make([]float64, len(assets))
		for i := range prices {
			if d > 0 {
				prices[i] *= 1 + 0.0003*float64(i+1) + 0.01*rng.NormFloat64()
			}
			row[i] = prices[i]
		}
		f.Dates = append(f.Dates, date)
		f.Prices = append(f.Prices, row)
		date = date.AddDate(0, 0, 1)
		for date.Weekday() == time.Saturday || date.Weekday() == time.Sunday {
			date = date.AddDate(0, 0, 1)
		}
	}
	return f
}

type stubGenerator struct {
	views domain.ViewSet
	err   error
}

func (s stubGenerator) Name() string { return "stub" }

func (s stubGenerator) Generate(context.Context, views.MarketContext) (domain.ViewSet, error) {
	return s.views, s.err
}

func newPipeline(t *testing.T, cfg Config, gen views.Generator) *Pipeline {
	t.Helper()
	p, err := NewPipeline(cfg, gen, zerolog.Nop())
	require.NoError(t, err)
	p.now = func() time.Time { return fixedNow }
	p.newID = func() string { return "decision-1" }
	return p
}

func assertFinal(t *testing.T, d domain.Decision, limits domain.RiskLimits) {
	t.Helper()
	assert.InDelta(t, 1.0, d.Total(), domain.SumTolerance)
	assert.GreaterOrEqual(t, d.CashWeight, limits.CashBuffer-1e-12)
	for _, aw := range d.AssetWeights {
		assert.GreaterOrEqual(t, aw.Weight, 0.0, aw.Asset)
		assert.LessOrEqual(t, aw.Weight, limits.HardCap+1e-12, aw.Asset)
	}
}

func TestPipeline_DecideWithoutViews(t *testing.T) {
	assets := []string{"AAA", "BBB", "CCC", "DDD", "EEE"}
	p := newPipeline(t, DefaultConfig(), nil)

	out, err := p.Decide(context.Background(), Input{History: randomFrame(1, 300, assets...)})
	require.NoError(t, err)

	d := out.Decision
	assert.Equal(t, "decision-1", d.ID)
	assert.Equal(t, fixedNow, d.Timestamp)
	assert.Equal(t, StrategyBlackLitterman, d.SourceStrategy)
	require.Len(t, d.AssetWeights, len(assets))
	for i, aw := range d.AssetWeights {
		assert.Equal(t, assets[i], aw.Asset)
	}
	assertFinal(t, d, p.Config().Limits)

	// No views: posterior mean equals the prior.
	for i := range out.Prior {
		assert.InDelta(t, out.Prior[i], out.PosteriorMean[i], 1e-10)
	}
	assert.GreaterOrEqual(t, out.Shrinkage, 0.0)
	assert.LessOrEqual(t, out.Shrinkage, 1.0)
}

func TestPipeline_ViewTiltsPosterior(t *testing.T) {
	assets := []string{"AAA", "BBB", "CCC", "DDD", "EEE"}
	frame := randomFrame(2, 300, assets...)
	p := newPipeline(t, DefaultConfig(), stubGenerator{views: domain.ViewSet{
		domain.NewAbsoluteView("AAA", 0.40, 0.9),
	}})

	out, err := p.Decide(context.Background(), Input{History: frame})
	require.NoError(t, err)

	require.Len(t, out.Views, 1)
	assert.Greater(t, out.PosteriorMean[0], out.Prior[0])
	assertFinal(t, out.Decision, p.Config().Limits)
}

func TestPipeline_InputViewsOverrideGenerator(t *testing.T) {
	frame := randomFrame(3, 200, "A", "B", "C", "D")
	p := newPipeline(t, DefaultConfig(), stubGenerator{err: errors.New("must not be called")})

	out, err := p.Decide(context.Background(), Input{
		History: frame,
		Views:   domain.ViewSet{domain.NewRelativeView("A", "B", 0.05, 0.5)},
	})
	require.NoError(t, err)
	assert.Len(t, out.Views, 1)
	assert.Empty(t, out.Decision.Warnings)
}

func TestPipeline_InvalidViewsBecomeWarnings(t *testing.T) {
	frame := randomFrame(4, 200, "A", "B", "C", "D")
	p := newPipeline(t, DefaultConfig(), stubGenerator{views: domain.ViewSet{
		domain.NewAbsoluteView("A", 0.05, 0.5),
		domain.NewAbsoluteView("ZZZ", 0.05, 0.5),
		domain.NewAbsoluteView("B", 0.05, 1.5),
	}})

	out, err := p.Decide(context.Background(), Input{History: frame})
	require.NoError(t, err)

	assert.Len(t, out.Views, 1)
	assert.Len(t, out.Decision.Warnings, 2)
	for _, w := range out.Warnings {
		assert.True(t, errors.Is(w, domain.ErrView))
	}
}

func TestPipeline_GeneratorErrors(t *testing.T) {
	frame := randomFrame(5, 200, "A", "B", "C", "D")

	recoverable := newPipeline(t, DefaultConfig(), stubGenerator{err: domain.Errorf(domain.ErrView, "feed down")})
	out, err := recoverable.Decide(context.Background(), Input{History: frame})
	require.NoError(t, err)
	assert.Contains(t, out.Decision.Warnings[0], "feed down")

	fatal := newPipeline(t, DefaultConfig(), stubGenerator{err: domain.Errorf(domain.ErrConfig, "bad key")})
	_, err = fatal.Decide(context.Background(), Input{History: frame})
	assert.True(t, errors.Is(err, domain.ErrConfig))

	cancelled := newPipeline(t, DefaultConfig(), stubGenerator{err: context.Canceled})
	_, err = cancelled.Decide(context.Background(), Input{History: frame})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestPipeline_MissingData(t *testing.T) {
	frame := randomFrame(6, 200, "A", "B", "C", "D")
	frame.Prices[100][2] = math.NaN()

	p := newPipeline(t, DefaultConfig(), nil)
	_, err := p.Decide(context.Background(), Input{History: frame})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrData))

	_, err = p.Decide(context.Background(), Input{})
	assert.True(t, errors.Is(err, domain.ErrData))

	_, err = p.Decide(context.Background(), Input{History: randomFrame(6, 2, "A", "B", "C", "D")})
	assert.True(t, errors.Is(err, domain.ErrData))
}

func TestPipeline_InfeasibleUniverse(t *testing.T) {
	p := newPipeline(t, DefaultConfig(), nil)

	_, err := p.Decide(context.Background(), Input{History: randomFrame(7, 200, "A", "B", "C")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConstraintInfeasible))
}

func TestPipeline_HistoricalPriorAndModes(t *testing.T) {
	frame := randomFrame(8, 250, "A", "B", "C", "D", "E", "F")

	for _, mode := range []string{"closed_form", "mean_variance", "max_sharpe"} {
		t.Run(mode, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Prior.Mode = "historical"
			cfg.Allocator.Mode = optimization.AllocatorMode(mode)

			out, err := newPipeline(t, cfg, nil).Decide(context.Background(), Input{History: frame})
			require.NoError(t, err)
			assertFinal(t, out.Decision, cfg.Limits)
		})
	}
}

func TestNewPipeline_InvalidConfig(t *testing.T) {
	mutations := map[string]func(*Config){
		"tau":       func(c *Config) { c.Tau = 0 },
		"periods":   func(c *Config) { c.PeriodsPerYear = 0 },
		"prior":     func(c *Config) { c.Prior.Mode = "oracle" },
		"aversion":  func(c *Config) { c.Prior.RiskAversion = -1 },
		"allocator": func(c *Config) { c.Allocator.Mode = "magic" },
		"limits":    func(c *Config) { c.Limits.HardCap = 2 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			_, err := NewPipeline(cfg, nil, zerolog.Nop())
			assert.True(t, errors.Is(err, domain.ErrConfig))
		})
	}
}
