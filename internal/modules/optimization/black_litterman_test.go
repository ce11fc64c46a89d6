package optimization

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/allocator/internal/domain"
)

const testTau = 0.05

func twoAssetSigma() *mat.SymDense {
	return mat.NewSymDense(2, []float64{
		0.04, 0.01,
		0.01, 0.09,
	})
}

func blend(t *testing.T, prior *mat.VecDense, sigma *mat.SymDense, views domain.ViewSet) *Posterior {
	t.Helper()
	assets := []string{"A", "B"}
	vm, err := NewViewGenerator(testTau, zerolog.Nop()).CreateViewMatrices(assets, views, sigma)
	require.NoError(t, err)
	post, err := NewBlackLittermanOptimizer(testTau, 0, zerolog.Nop()).BlendViewsWithEquilibrium(prior, sigma, vm)
	require.NoError(t, err)
	return post
}

func TestIdzorekOmega_DecreasingInConfidence(t *testing.T) {
	sigma := twoAssetSigma()
	p := []float64{1, 0}

	previous := IdzorekOmega(p, sigma, testTau, 0.05)
	for _, c := range []float64{0.1, 0.25, 0.5, 0.75, 0.9, 0.99} {
		omega := IdzorekOmega(p, sigma, testTau, c)
		assert.Less(t, omega, previous, "confidence %.2f", c)
		previous = omega
	}

	assert.Equal(t, OmegaFloor, IdzorekOmega(p, sigma, testTau, 1))
	assert.InDelta(t, testTau*0.04, IdzorekOmega(p, sigma, testTau, 0.5), 1e-15)
}

func TestCreateViewMatrices(t *testing.T) {
	sigma := twoAssetSigma()
	views := domain.ViewSet{
		domain.NewAbsoluteView("B", 0.10, 0.5),
		domain.NewRelativeView("A", "B", 0.02, 0.8),
	}

	vm, err := NewViewGenerator(testTau, zerolog.Nop()).CreateViewMatrices([]string{"A", "B"}, views, sigma)
	require.NoError(t, err)
	require.Equal(t, 2, vm.Len())

	assert.Equal(t, []float64{0, 1}, mat.Row(nil, 0, vm.P))
	assert.Equal(t, []float64{1, -1}, mat.Row(nil, 1, vm.P))
	assert.Equal(t, 0.10, vm.Q.AtVec(0))
	assert.Equal(t, 0.02, vm.Q.AtVec(1))

	relVariance := testTau * (0.04 + 0.09 - 2*0.01)
	assert.InDelta(t, relVariance*0.2/0.8, vm.Omega[1], 1e-15)
}

func TestCreateViewMatrices_RejectsMalformed(t *testing.T) {
	gen := NewViewGenerator(testTau, zerolog.Nop())

	for _, v := range []domain.View{
		domain.NewAbsoluteView("A", 0.1, 0),
		domain.NewAbsoluteView("A", 0.1, 1.5),
		domain.NewAbsoluteView("Z", 0.1, 0.5),
		{Assets: nil, Confidence: 0.5},
	} {
		_, err := gen.CreateViewMatrices([]string{"A", "B"}, domain.ViewSet{v}, twoAssetSigma())
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrView))
	}
}

func TestCreateViewMatrices_DropsUnboundedViews(t *testing.T) {
	vm, err := NewViewGenerator(testTau, zerolog.Nop()).CreateViewMatrices(
		[]string{"A", "B"},
		domain.ViewSet{domain.NewAbsoluteView("A", 0.5, 1e-300)},
		twoAssetSigma(),
	)
	require.NoError(t, err)
	assert.Zero(t, vm.Len())
	assert.Len(t, vm.Dropped, 1)
}

func TestFilterValid(t *testing.T) {
	valid, rejected := FilterValid([]string{"A", "B"}, domain.ViewSet{
		domain.NewAbsoluteView("A", 0.1, 0.5),
		domain.NewAbsoluteView("Z", 0.1, 0.5),
		domain.NewRelativeView("A", "B", 0.1, 2),
	})

	require.Len(t, valid, 1)
	assert.Equal(t, []string{"A"}, valid[0].Assets)
	require.Len(t, rejected, 2)
	for _, err := range rejected {
		assert.True(t, errors.Is(err, domain.ErrView))
	}
}

func TestBlend_NoViewsReturnsPrior(t *testing.T) {
	sigma := twoAssetSigma()
	prior := mat.NewVecDense(2, []float64{0.0612345, 0.0798765})

	post := blend(t, prior, sigma, nil)

	assert.Equal(t, prior.AtVec(0), post.Mean.AtVec(0))
	assert.Equal(t, prior.AtVec(1), post.Mean.AtVec(1))
	assert.InDelta(t, 0.04*(1+testTau), post.Cov.At(0, 0), 1e-15)
	assert.InDelta(t, 0.01*(1+testTau), post.Cov.At(0, 1), 1e-15)
	assert.Empty(t, post.Warnings)

	prior.SetVec(0, 1)
	assert.NotEqual(t, 1.0, post.Mean.AtVec(0), "posterior does not alias the prior")
}

func TestBlend_HalfConfidenceAbsoluteView(t *testing.T) {
	sigma := twoAssetSigma()
	prior := mat.NewVecDense(2, []float64{0.05, 0.07})

	post := blend(t, prior, sigma, domain.ViewSet{domain.NewAbsoluteView("A", 0.12, 0.5)})

	// Ω = τΣ_AA so the view and prior are weighted equally on A, and B
	// moves through its covariance with A.
	assert.InDelta(t, 0.085, post.Mean.AtVec(0), 1e-12)
	assert.InDelta(t, 0.07875, post.Mean.AtVec(1), 1e-12)
	assert.InDelta(t, 0.041, post.Cov.At(0, 0), 1e-12)
}

func TestBlend_FullConfidenceMatchesView(t *testing.T) {
	sigma := twoAssetSigma()
	prior := mat.NewVecDense(2, []float64{0.05, 0.07})

	post := blend(t, prior, sigma, domain.ViewSet{domain.NewAbsoluteView("A", 0.12, 1)})

	assert.InDelta(t, 0.12, post.Mean.AtVec(0), 1e-4)
}

func TestBlend_VanishingConfidenceMatchesNoView(t *testing.T) {
	sigma := twoAssetSigma()
	prior := mat.NewVecDense(2, []float64{0.05, 0.07})

	withView := blend(t, prior, sigma, domain.ViewSet{domain.NewAbsoluteView("A", 0.5, 1e-12)})
	without := blend(t, prior, sigma, nil)

	assert.InDelta(t, without.Mean.AtVec(0), withView.Mean.AtVec(0), 1e-6)
	assert.InDelta(t, without.Mean.AtVec(1), withView.Mean.AtVec(1), 1e-6)
}

func TestBlend_RelativeView(t *testing.T) {
	sigma := twoAssetSigma()
	prior := mat.NewVecDense(2, []float64{0.05, 0.05})

	post := blend(t, prior, sigma, domain.ViewSet{domain.NewRelativeView("A", "B", 0.04, 0.7)})

	spread := post.Mean.AtVec(0) - post.Mean.AtVec(1)
	assert.Greater(t, spread, 0.0)
	assert.Less(t, spread, 0.04)
}

func TestBlend_SingularCovarianceIsRegularised(t *testing.T) {
	sigma := mat.NewSymDense(2, []float64{
		0.04, 0.04,
		0.04, 0.04,
	})
	prior := mat.NewVecDense(2, []float64{0.05, 0.05})

	post := blend(t, prior, sigma, domain.ViewSet{domain.NewAbsoluteView("A", 0.08, 0.6)})

	require.NotEmpty(t, post.Warnings)
	for _, w := range post.Warnings {
		assert.True(t, errors.Is(w, domain.ErrNumerical))
	}
	assert.True(t, allFinite(vecToSlice(post.Mean)))
}

func TestBlend_IndefiniteCovarianceFails(t *testing.T) {
	sigma := mat.NewSymDense(2, []float64{
		0.04, 0.10,
		0.10, 0.04,
	})
	prior := mat.NewVecDense(2, []float64{0.05, 0.05})
	vm, err := NewViewGenerator(testTau, zerolog.Nop()).CreateViewMatrices(
		[]string{"A", "B"}, domain.ViewSet{domain.NewAbsoluteView("A", 0.08, 0.6)}, sigma)
	require.NoError(t, err)

	_, err = NewBlackLittermanOptimizer(testTau, 0, zerolog.Nop()).BlendViewsWithEquilibrium(prior, sigma, vm)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNumerical))
}

func TestBlend_DimensionMismatch(t *testing.T) {
	_, err := NewBlackLittermanOptimizer(testTau, 0, zerolog.Nop()).
		BlendViewsWithEquilibrium(mat.NewVecDense(3, nil), twoAssetSigma(), nil)
	assert.True(t, errors.Is(err, domain.ErrData))
}
