package optimization

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/allocator/internal/domain"
)

func randomReturns(seed int64, t, n int) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][]float64, t)
	for r := range out {
		market := rng.NormFloat64() * 0.01
		out[r] = make([]float64, n)
		for i := range out[r] {
			out[r][i] = 0.0003 + market + rng.NormFloat64()*0.01*float64(i+1)/float64(n)
		}
	}
	return out
}

func assetNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = string(rune('A' + i))
	}
	return names
}

func minEigen(t *testing.T, s mat.Symmetric) float64 {
	t.Helper()
	var eig mat.EigenSym
	require.True(t, eig.Factorize(s, false))
	values := eig.Values(nil)
	minVal := math.Inf(1)
	for _, v := range values {
		minVal = math.Min(minVal, v)
	}
	return minVal
}

func TestLedoitWolf_SymmetricPSD(t *testing.T) {
	tests := []struct {
		name string
		t, n int
	}{
		{"more observations than assets", 250, 5},
		{"fewer observations than assets", 5, 10},
		{"single asset", 30, 1},
		{"two observations", 2, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			returns := randomReturns(42, tt.t, tt.n)
			sigma, shrinkage := LedoitWolf(returns)

			assert.GreaterOrEqual(t, shrinkage, 0.0)
			assert.LessOrEqual(t, shrinkage, 1.0)
			require.Equal(t, tt.n, sigma.SymmetricDim())
			for i := 0; i < tt.n; i++ {
				for j := 0; j < tt.n; j++ {
					assert.Equal(t, sigma.At(i, j), sigma.At(j, i))
				}
			}
			assert.GreaterOrEqual(t, minEigen(t, sigma), -1e-12)
		})
	}
}

func TestLedoitWolf_KeepsSampleVariances(t *testing.T) {
	returns := randomReturns(7, 60, 4)
	sigma, _ := LedoitWolf(returns)

	for i := 0; i < 4; i++ {
		col := make([]float64, len(returns))
		for r := range returns {
			col[r] = returns[r][i]
		}
		mean := 0.0
		for _, v := range col {
			mean += v
		}
		mean /= float64(len(col))
		variance := 0.0
		for _, v := range col {
			variance += (v - mean) * (v - mean)
		}
		variance /= float64(len(col))

		assert.InDelta(t, variance, sigma.At(i, i), 1e-15, "target shares the sample diagonal")
	}
}

func TestLedoitWolf_ShrinksHarderWithFewObservations(t *testing.T) {
	_, few := LedoitWolf(randomReturns(3, 12, 8))
	_, many := LedoitWolf(randomReturns(3, 2000, 8))

	assert.Greater(t, few, many)
}

func TestLedoitWolf_ZeroVarianceAsset(t *testing.T) {
	returns := randomReturns(11, 40, 3)
	for r := range returns {
		returns[r][1] = 0.001
	}

	sigma, shrinkage := LedoitWolf(returns)

	assert.False(t, math.IsNaN(shrinkage))
	assert.InDelta(t, 0, sigma.At(1, 1), 1e-12)
	assert.InDelta(t, 0, sigma.At(0, 1), 1e-12)
	assert.GreaterOrEqual(t, minEigen(t, sigma), -1e-12)
}

func TestRiskModelBuilder_Estimate(t *testing.T) {
	builder := NewRiskModelBuilder(252, zerolog.Nop())
	returns := randomReturns(5, 100, 3)

	est, err := builder.Estimate(assetNames(3), returns)
	require.NoError(t, err)

	raw, shrinkage := LedoitWolf(returns)
	assert.Equal(t, shrinkage, est.Shrinkage)
	assert.Equal(t, 100, est.Observations)
	assert.InDelta(t, raw.At(0, 2)*252, est.Sigma.At(0, 2), 1e-15)
}

func TestRiskModelBuilder_RejectsBadData(t *testing.T) {
	builder := NewRiskModelBuilder(252, zerolog.Nop())

	tests := []struct {
		name    string
		assets  []string
		returns [][]float64
	}{
		{"one observation", []string{"A"}, [][]float64{{0.01}}},
		{"no assets", nil, [][]float64{{}, {}}},
		{"ragged row", []string{"A", "B"}, [][]float64{{0.01, 0.02}, {0.01}}},
		{"nan", []string{"A"}, [][]float64{{0.01}, {math.NaN()}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := builder.Estimate(tt.assets, tt.returns)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrData))
		})
	}
}
