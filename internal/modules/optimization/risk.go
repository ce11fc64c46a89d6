package optimization

import (
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/allocator/internal/domain"
)

// CovarianceEstimate is a shrunk, annualised covariance matrix.
type CovarianceEstimate struct {
	Assets       []string
	Sigma        *mat.SymDense
	Shrinkage    float64 // Ledoit-Wolf intensity δ in [0, 1]
	Observations int
}

// RiskModelBuilder estimates covariance matrices from return histories.
type RiskModelBuilder struct {
	periodsPerYear int
	log            zerolog.Logger
}

// NewRiskModelBuilder creates a covariance estimator annualising by periodsPerYear.
func NewRiskModelBuilder(periodsPerYear int, log zerolog.Logger) *RiskModelBuilder {
	if periodsPerYear <= 0 {
		periodsPerYear = 252
	}
	return &RiskModelBuilder{
		periodsPerYear: periodsPerYear,
		log:            log.With().Str("component", "risk_model").Logger(),
	}
}

// Estimate returns the Ledoit-Wolf shrunk covariance of a T×N return matrix.
func (rb *RiskModelBuilder) Estimate(assets []string, returns [][]float64) (*CovarianceEstimate, error) {
	if err := validateReturns(assets, returns); err != nil {
		return nil, err
	}

	sigma, shrinkage := LedoitWolf(returns)
	sigma.ScaleSym(float64(rb.periodsPerYear), sigma)

	rb.log.Debug().
		Int("observations", len(returns)).
		Int("assets", len(assets)).
		Float64("shrinkage", shrinkage).
		Msg("Estimated shrunk covariance")

	return &CovarianceEstimate{
		Assets:       assets,
		Sigma:        sigma,
		Shrinkage:    shrinkage,
		Observations: len(returns),
	}, nil
}

func validateReturns(assets []string, returns [][]float64) error {
	if len(assets) == 0 {
		return domain.Errorf(domain.ErrData, "no assets")
	}
	if len(returns) < 2 {
		return domain.Errorf(domain.ErrData, "need at least 2 return observations, got %d", len(returns))
	}
	for t, row := range returns {
		if len(row) != len(assets) {
			return domain.Errorf(domain.ErrData, "return row %d has %d values for %d assets", t, len(row), len(assets))
		}
		for i, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return domain.Errorf(domain.ErrData, "return %d for %s is not finite", t, assets[i])
			}
		}
	}
	return nil
}

// LedoitWolf shrinks the sample covariance of returns (T×N, per-period units)
// towards a constant-correlation target and returns the estimate with the
// shrinkage intensity. The sample covariance uses 1/T normalisation.
//
// Target F: F_ii = s_ii, F_ij = r̄·√(s_ii·s_jj) with r̄ the mean sample correlation.
// Intensity δ = clamp((π̂ − ρ̂) / γ̂ / T, 0, 1) as in Ledoit & Wolf (2004).
// F is PSD because r̄ ≥ −1/(N−1) for any correlation matrix, so Σ is PSD even when T < N.
func LedoitWolf(returns [][]float64) (*mat.SymDense, float64) {
	t := len(returns)
	n := len(returns[0])
	tf := float64(t)

	means := make([]float64, n)
	for _, row := range returns {
		for i, v := range row {
			means[i] += v
		}
	}
	for i := range means {
		means[i] /= tf
	}

	x := make([][]float64, t)
	for r, row := range returns {
		x[r] = make([]float64, n)
		for i, v := range row {
			x[r][i] = v - means[i]
		}
	}

	sample := make([][]float64, n)
	for i := range sample {
		sample[i] = make([]float64, n)
	}
	for _, row := range x {
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				sample[i][j] += row[i] * row[j]
			}
		}
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sample[i][j] /= tf
			sample[j][i] = sample[i][j]
		}
	}

	sd := make([]float64, n)
	for i := range sd {
		sd[i] = math.Sqrt(math.Max(sample[i][i], 0))
	}

	// Mean off-diagonal correlation. Pairs with a zero-variance leg count as uncorrelated.
	rBar := 0.0
	if n > 1 {
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				if i != j && sd[i] > 0 && sd[j] > 0 {
					rBar += sample[i][j] / (sd[i] * sd[j])
				}
			}
		}
		rBar /= float64(n * (n - 1))
	}

	target := make([][]float64, n)
	for i := range target {
		target[i] = make([]float64, n)
		for j := range target[i] {
			if i == j {
				target[i][j] = sample[i][i]
			} else {
				target[i][j] = rBar * sd[i] * sd[j]
			}
		}
	}

	// π̂: asymptotic variance of the sample entries.
	// ρ̂: asymptotic covariance between target and sample entries.
	phi := 0.0
	phiDiag := 0.0
	rhoOff := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			var fourth, third float64
			for _, row := range x {
				fourth += row[i] * row[i] * row[j] * row[j]
				third += row[i] * row[i] * row[i] * row[j]
			}
			p := fourth/tf - sample[i][j]*sample[i][j]
			phi += p
			if i == j {
				phiDiag += p
				continue
			}
			if sd[i] > 0 {
				theta := third/tf - sample[i][i]*sample[i][j]
				rhoOff += sd[j] / sd[i] * theta
			}
		}
	}
	rho := phiDiag + rBar*rhoOff

	gamma := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			d := sample[i][j] - target[i][j]
			gamma += d * d
		}
	}

	shrinkage := 0.0
	if gamma > 0 {
		kappa := (phi - rho) / gamma
		shrinkage = math.Max(0, math.Min(1, kappa/tf))
	}

	sigma := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sigma.SetSym(i, j, shrinkage*target[i][j]+(1-shrinkage)*sample[i][j])
		}
	}
	return sigma, shrinkage
}
