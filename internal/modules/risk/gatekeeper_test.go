package risk

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/allocator/internal/domain"
)

var fiveAssets = []string{"A", "B", "C", "D", "E"}

func newGatekeeper(t *testing.T, limits domain.RiskLimits) *Gatekeeper {
	t.Helper()
	g, err := NewGatekeeper(limits, zerolog.Nop())
	require.NoError(t, err)
	return g
}

func TestGatekeeper_ReferenceExample(t *testing.T) {
	g := newGatekeeper(t, domain.DefaultRiskLimits())

	res, err := g.Apply(domain.NewAllocation(fiveAssets, []float64{0.45, 0.25, 0.15, 0.10, 0.05}))
	require.NoError(t, err)

	scale := 0.80 / 0.85
	expected := []float64{0.30 * scale, 0.25 * scale, 0.15 * scale, 0.10 * scale, 0.05 * scale}
	for i, w := range res.Allocation.Weights {
		assert.InDelta(t, expected[i], w, 1e-12, fiveAssets[i])
	}
	assert.InDelta(t, 0.20, res.Allocation.Cash, 1e-12)
	assert.InDelta(t, 0.15, res.Adjustment.Overflow, 1e-12)
	assert.Equal(t, []string{"A"}, res.Adjustment.Capped)
	assert.Empty(t, res.Adjustment.Dusted)
	assert.InDelta(t, 1.0, res.Allocation.Total(), domain.SumTolerance)
}

func TestGatekeeper_Dust(t *testing.T) {
	g := newGatekeeper(t, domain.DefaultRiskLimits())

	res, err := g.Apply(domain.NewAllocation(
		[]string{"A", "B", "C", "D", "E"},
		[]float64{0.30, 0.30, 0.25, 0.145, 0.005},
	))
	require.NoError(t, err)

	assert.Equal(t, []string{"E"}, res.Adjustment.Dusted)
	assert.Zero(t, res.Allocation.Weights[4])
	assert.InDelta(t, 0.055, res.Allocation.Cash, 1e-12)
	assert.InDelta(t, 1.0, res.Allocation.Total(), domain.SumTolerance)
}

func TestGatekeeper_DropsShortsAndRescales(t *testing.T) {
	g := newGatekeeper(t, domain.RiskLimits{HardCap: 0.5, CashBuffer: 0, DustThreshold: 0, Enabled: true})

	res, err := g.Apply(domain.NewAllocation([]string{"A", "B", "C"}, []float64{0.8, -0.3, 0.8}))
	require.NoError(t, err)

	assert.Equal(t, []string{"B"}, res.Adjustment.Dropped)
	assert.InDelta(t, 0.5, res.Allocation.Weights[0], 1e-12)
	assert.Zero(t, res.Allocation.Weights[1])
	assert.InDelta(t, 0.5, res.Allocation.Weights[2], 1e-12)
	assert.InDelta(t, 0.0, res.Allocation.Cash, 1e-12)
}

func TestGatekeeper_KeepsIncomingCash(t *testing.T) {
	g := newGatekeeper(t, domain.DefaultRiskLimits())

	raw := domain.NewAllocation([]string{"A", "B", "C", "D"}, []float64{0.2, 0.2, 0.2, 0.1})
	raw.Cash = 0.3

	res, err := g.Apply(raw)
	require.NoError(t, err)

	assert.InDelta(t, 0.3, res.Allocation.Cash, 1e-12)
	assert.InDelta(t, 0.2, res.Allocation.Weights[0], 1e-12)
}

func TestGatekeeper_AllCashInputs(t *testing.T) {
	g := newGatekeeper(t, domain.DefaultRiskLimits())

	for name, raw := range map[string]domain.Allocation{
		"all cash":     domain.AllCash(fiveAssets),
		"all negative": domain.NewAllocation(fiveAssets, []float64{-0.1, -0.2, -0.3, -0.2, -0.2}),
		"all zero":     domain.NewAllocation(fiveAssets, make([]float64, 5)),
		"tiny weights": domain.NewAllocation(fiveAssets, []float64{0.001, 0.001, 0.001, 0.001, 0}),
	} {
		t.Run(name, func(t *testing.T) {
			res, err := g.Apply(raw)
			require.NoError(t, err)
			assert.InDelta(t, 1.0, res.Allocation.Total(), domain.SumTolerance)
			assert.LessOrEqual(t, res.Allocation.Invested(), 1.0)
		})
	}
}

func TestGatekeeper_Infeasible(t *testing.T) {
	g := newGatekeeper(t, domain.RiskLimits{HardCap: 0.30, CashBuffer: 0.05, DustThreshold: 0.01, Enabled: true})

	_, err := g.Apply(domain.NewAllocation([]string{"A", "B", "C"}, []float64{0.4, 0.3, 0.3}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConstraintInfeasible))

	_, err = g.Apply(domain.NewAllocation([]string{"A", "B", "C", "D"}, []float64{0.4, 0.3, 0.2, 0.1}))
	assert.NoError(t, err)
}

func TestGatekeeper_InvalidLimits(t *testing.T) {
	_, err := NewGatekeeper(domain.RiskLimits{HardCap: 0, CashBuffer: 0.05, Enabled: true}, zerolog.Nop())
	assert.True(t, errors.Is(err, domain.ErrConfig))
}

func TestGatekeeper_ResearchMode(t *testing.T) {
	limits := domain.DefaultRiskLimits()
	limits.Enabled = false
	g := newGatekeeper(t, limits)

	res, err := g.Apply(domain.NewAllocation([]string{"A", "B", "C"}, []float64{1.2, -0.2, 0.5}))
	require.NoError(t, err)

	assert.True(t, res.Research)
	assert.InDelta(t, 1.2/1.5, res.Allocation.Weights[0], 1e-12)
	assert.InDelta(t, -0.2/1.5, res.Allocation.Weights[1], 1e-12)
	assert.InDelta(t, 1.0, res.Allocation.Total(), 1e-12)

	_, err = g.Apply(domain.NewAllocation([]string{"A", "B"}, []float64{0.5, -0.5}))
	assert.True(t, errors.Is(err, domain.ErrNumerical))
}

func TestGatekeeper_ResearchModeRejectsNetShort(t *testing.T) {
	limits := domain.DefaultRiskLimits()
	limits.Enabled = false
	g := newGatekeeper(t, limits)

	res, err := g.Apply(domain.NewAllocation([]string{"A", "B"}, []float64{0.4, -0.9}))
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, domain.ErrNumerical))
}

func TestGatekeeper_DustIsRelativeToInvestedCapital(t *testing.T) {
	g := newGatekeeper(t, domain.DefaultRiskLimits())

	// D is 0.8% of the portfolio but 1.6% of the invested half.
	raw := domain.NewAllocation([]string{"A", "B", "C", "D"}, []float64{0.25, 0.15, 0.092, 0.008})
	raw.Cash = 0.5

	res, err := g.Apply(raw)
	require.NoError(t, err)

	assert.Empty(t, res.Adjustment.Dusted)
	assert.InDelta(t, 0.008, res.Allocation.Weights[3], 1e-12)
	assert.InDelta(t, 0.5, res.Allocation.Cash, 1e-12)
}

func TestGatekeeper_RandomInputsHoldInvariants(t *testing.T) {
	g := newGatekeeper(t, domain.DefaultRiskLimits())
	rng := rand.New(rand.NewSource(1))
	assets := []string{"A", "B", "C", "D", "E", "F", "G", "H"}

	for trial := 0; trial < 500; trial++ {
		weights := make([]float64, len(assets))
		for i := range weights {
			weights[i] = rng.Float64()*0.8 - 0.1
		}
		raw := domain.NewAllocation(assets, weights)
		raw.Cash = rng.Float64() * 0.2

		first, err := g.Apply(raw)
		require.NoError(t, err)

		final := first.Allocation
		assert.InDelta(t, 1.0, final.Total(), domain.SumTolerance)
		assert.GreaterOrEqual(t, final.Cash, 0.05-1e-12)
		for _, w := range final.Weights {
			assert.GreaterOrEqual(t, w, 0.0)
			assert.LessOrEqual(t, w, 0.30+1e-12)
		}

		second, err := g.Apply(final)
		require.NoError(t, err)
		for i := range final.Weights {
			assert.InDelta(t, final.Weights[i], second.Allocation.Weights[i], 1e-12, "trial %d", trial)
		}
		assert.InDelta(t, final.Cash, second.Allocation.Cash, 1e-12, "trial %d", trial)
	}
}
