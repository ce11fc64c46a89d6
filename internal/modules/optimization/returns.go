package optimization

import (
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/allocator/internal/domain"
)

// PriorMode selects how the prior expected returns are produced.
type PriorMode string

const (
	// PriorEquilibrium reverse-optimises implied returns from market weights.
	PriorEquilibrium PriorMode = "equilibrium"
	// PriorHistorical uses the annualised sample mean.
	PriorHistorical PriorMode = "historical"
)

// ParsePriorMode validates a configured mode.
func ParsePriorMode(s string) (PriorMode, error) {
	switch PriorMode(s) {
	case PriorEquilibrium, PriorHistorical:
		return PriorMode(s), nil
	default:
		return "", domain.Errorf(domain.ErrConfig, "unknown prior mode %q", s)
	}
}

// PriorConfig parameterises the prior estimator.
type PriorConfig struct {
	Mode           PriorMode
	RiskAversion   float64 // λ (δ in the literature)
	RiskFreeRate   float64 // added to equilibrium returns
	PeriodsPerYear int
}

// ReturnsCalculator produces the prior expected return vector π.
type ReturnsCalculator struct {
	cfg PriorConfig
	log zerolog.Logger
}

// NewReturnsCalculator creates a prior estimator.
func NewReturnsCalculator(cfg PriorConfig, log zerolog.Logger) *ReturnsCalculator {
	if cfg.PeriodsPerYear <= 0 {
		cfg.PeriodsPerYear = 252
	}
	return &ReturnsCalculator{
		cfg: cfg,
		log: log.With().Str("component", "prior").Logger(),
	}
}

// CalculatePrior returns π for the configured mode. marketCaps is only read in
// equilibrium mode; returns only in historical mode.
func (rc *ReturnsCalculator) CalculatePrior(
	assets []string,
	returns [][]float64,
	sigma *mat.SymDense,
	marketCaps map[string]float64,
) (*mat.VecDense, error) {
	switch rc.cfg.Mode {
	case PriorEquilibrium:
		if sigma == nil || sigma.SymmetricDim() != len(assets) {
			return nil, domain.Errorf(domain.ErrData, "covariance does not match %d assets", len(assets))
		}
		weights := rc.MarketWeights(assets, marketCaps)
		return CalculateMarketEquilibrium(sigma, weights, rc.cfg.RiskAversion, rc.cfg.RiskFreeRate), nil
	case PriorHistorical:
		if err := validateReturns(assets, returns); err != nil {
			return nil, err
		}
		return HistoricalMeanReturns(returns, rc.cfg.PeriodsPerYear), nil
	default:
		return nil, domain.Errorf(domain.ErrConfig, "unknown prior mode %q", rc.cfg.Mode)
	}
}

// MarketWeights normalises market capitalisations to weights. Assets without
// a usable cap receive the mean of the known caps; with no caps at all the
// weights are equal.
func (rc *ReturnsCalculator) MarketWeights(assets []string, caps map[string]float64) []float64 {
	weights := make([]float64, len(assets))

	known, sum := 0, 0.0
	for _, a := range assets {
		if c, ok := caps[a]; ok && c > 0 && !math.IsInf(c, 0) {
			known++
			sum += c
		}
	}
	if known == 0 {
		for i := range weights {
			weights[i] = 1 / float64(len(assets))
		}
		return weights
	}

	fill := sum / float64(known)
	var missing []string
	total := 0.0
	for i, a := range assets {
		c, ok := caps[a]
		if !ok || c <= 0 || math.IsInf(c, 0) {
			c = fill
			missing = append(missing, a)
		}
		weights[i] = c
		total += c
	}
	if len(missing) > 0 {
		rc.log.Warn().Strs("assets", missing).Msg("Missing market caps filled with mean cap")
	}
	for i := range weights {
		weights[i] /= total
	}
	return weights
}

// CalculateMarketEquilibrium computes implied excess returns π = λΣw plus the risk-free rate.
func CalculateMarketEquilibrium(sigma mat.Symmetric, marketWeights []float64, riskAversion, riskFreeRate float64) *mat.VecDense {
	n := sigma.SymmetricDim()
	w := mat.NewVecDense(n, append([]float64(nil), marketWeights...))
	pi := mat.NewVecDense(n, nil)
	pi.MulVec(sigma, w)
	pi.ScaleVec(riskAversion, pi)
	if riskFreeRate != 0 {
		for i := 0; i < n; i++ {
			pi.SetVec(i, pi.AtVec(i)+riskFreeRate)
		}
	}
	return pi
}

// HistoricalMeanReturns annualises the arithmetic mean of each column.
func HistoricalMeanReturns(returns [][]float64, periodsPerYear int) *mat.VecDense {
	n := len(returns[0])
	mu := mat.NewVecDense(n, nil)
	for _, row := range returns {
		for i, v := range row {
			mu.SetVec(i, mu.AtVec(i)+v)
		}
	}
	mu.ScaleVec(float64(periodsPerYear)/float64(len(returns)), mu)
	return mu
}
