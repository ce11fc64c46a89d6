package optimization

import (
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/allocator/internal/domain"
)

// Posterior is the blended return distribution.
type Posterior struct {
	Mean     *mat.VecDense
	Cov      *mat.SymDense
	Warnings []error // recoverable ErrNumerical events (ridge applied)
}

// BlackLittermanOptimizer blends a prior with views.
type BlackLittermanOptimizer struct {
	tau            float64
	conditionLimit float64
	log            zerolog.Logger
}

// NewBlackLittermanOptimizer creates a posterior solver. A non-positive
// conditionLimit selects DefaultConditionLimit.
func NewBlackLittermanOptimizer(tau, conditionLimit float64, log zerolog.Logger) *BlackLittermanOptimizer {
	if log.GetLevel() == zerolog.Disabled {
		log = zerolog.Nop()
	}
	if conditionLimit <= 0 {
		conditionLimit = DefaultConditionLimit
	}
	return &BlackLittermanOptimizer{
		tau:            tau,
		conditionLimit: conditionLimit,
		log:            log.With().Str("component", "black_litterman").Logger(),
	}
}

// BlendViewsWithEquilibrium computes the posterior:
//
//	M    = [(τΣ)⁻¹ + PᵀΩ⁻¹P]⁻¹
//	mean = M[(τΣ)⁻¹π + PᵀΩ⁻¹Q]
//	cov  = Σ + M
//
// With no views the mean is π itself and the covariance (1+τ)Σ.
func (bl *BlackLittermanOptimizer) BlendViewsWithEquilibrium(
	prior *mat.VecDense,
	sigma *mat.SymDense,
	views *ViewMatrices,
) (*Posterior, error) {
	n := sigma.SymmetricDim()
	if prior.Len() != n {
		return nil, domain.Errorf(domain.ErrData, "prior has %d entries for %d assets", prior.Len(), n)
	}
	if bl.tau <= 0 {
		return nil, domain.Errorf(domain.ErrConfig, "tau must be positive, got %v", bl.tau)
	}

	tauSigma := mat.NewSymDense(n, nil)
	tauSigma.ScaleSym(bl.tau, sigma)

	if views.Len() == 0 {
		mean := mat.NewVecDense(n, nil)
		mean.CloneFromVec(prior)
		cov := mat.NewSymDense(n, nil)
		cov.AddSym(sigma, tauSigma)
		return &Posterior{Mean: mean, Cov: cov}, nil
	}

	k := views.Len()
	if rows, _ := views.P.Dims(); rows != k || views.Q.Len() != k {
		return nil, domain.Errorf(domain.ErrView, "view matrices disagree on view count")
	}

	posterior := &Posterior{}

	tauSigmaInv, warning, err := invertSPD(tauSigma, "scaled prior covariance", bl.conditionLimit)
	if err != nil {
		return nil, err
	}
	if warning != nil {
		bl.log.Warn().Err(warning).Msg("Regularised scaled prior covariance")
		posterior.Warnings = append(posterior.Warnings, warning)
	}

	// PᵀΩ⁻¹P and PᵀΩ⁻¹Q with diagonal Ω.
	precision := mat.NewSymDense(n, nil)
	viewTerm := mat.NewVecDense(n, nil)
	for row := 0; row < k; row++ {
		inv := 1 / views.Omega[row]
		q := views.Q.AtVec(row)
		for a := 0; a < n; a++ {
			pa := views.P.At(row, a)
			if pa == 0 {
				continue
			}
			viewTerm.SetVec(a, viewTerm.AtVec(a)+pa*inv*q)
			for b := a; b < n; b++ {
				if pb := views.P.At(row, b); pb != 0 {
					precision.SetSym(a, b, precision.At(a, b)+pa*inv*pb)
				}
			}
		}
	}
	precision.AddSym(precision, tauSigmaInv)

	m, warning, err := invertSPD(precision, "posterior precision", bl.conditionLimit)
	if err != nil {
		return nil, err
	}
	if warning != nil {
		bl.log.Warn().Err(warning).Msg("Regularised posterior precision")
		posterior.Warnings = append(posterior.Warnings, warning)
	}

	rhs := mat.NewVecDense(n, nil)
	rhs.MulVec(tauSigmaInv, prior)
	rhs.AddVec(rhs, viewTerm)

	mean := mat.NewVecDense(n, nil)
	mean.MulVec(m, rhs)

	cov := mat.NewSymDense(n, nil)
	cov.AddSym(sigma, m)

	if !allFinite(vecToSlice(mean)) {
		return nil, domain.Errorf(domain.ErrNumerical, "posterior mean is not finite")
	}

	posterior.Mean = mean
	posterior.Cov = cov

	bl.log.Debug().Int("views", k).Int("warnings", len(posterior.Warnings)).Msg("Blended views with prior")
	return posterior, nil
}
