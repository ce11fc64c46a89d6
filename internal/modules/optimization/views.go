package optimization

import (
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/allocator/internal/domain"
)

const (
	// OmegaFloor is the smallest view uncertainty used; full-confidence views land here.
	OmegaFloor = 1e-9
	// omegaCeiling marks a view as carrying no information.
	omegaCeiling = 1e12
)

// ViewMatrices is the (P, Q, Ω) triple built from a view set. Omega holds the
// diagonal of Ω; views are independent.
type ViewMatrices struct {
	P       *mat.Dense    // K×N pick matrix
	Q       *mat.VecDense // K expected returns
	Omega   []float64     // K uncertainties
	Views   []domain.View // views kept, in row order
	Dropped []domain.View // views whose uncertainty was unbounded
}

// Len is the number of view rows K.
func (vm *ViewMatrices) Len() int {
	if vm == nil {
		return 0
	}
	return len(vm.Omega)
}

// ViewGenerator converts validated views into BL matrices with
// Idzorek-style confidence scaling of Ω.
type ViewGenerator struct {
	tau float64
	log zerolog.Logger
}

// NewViewGenerator creates a view aggregator with prior scaling τ.
func NewViewGenerator(tau float64, log zerolog.Logger) *ViewGenerator {
	return &ViewGenerator{
		tau: tau,
		log: log.With().Str("component", "view_aggregator").Logger(),
	}
}

// FilterValid splits views into those usable against assets and the errors for the rest.
func FilterValid(assets []string, views domain.ViewSet) (domain.ViewSet, []error) {
	universe := universeIndex(assets)
	valid := make(domain.ViewSet, 0, len(views))
	var rejected []error
	for _, v := range views {
		if err := v.Validate(universe); err != nil {
			rejected = append(rejected, err)
			continue
		}
		valid = append(valid, v)
	}
	return valid, rejected
}

// CreateViewMatrices builds P, Q and Ω. Any malformed view fails the whole set
// with ErrView; use FilterValid first to skip them instead.
//
// Ω_kk = (p_k τΣ p_kᵀ)(1 − c_k)/c_k, floored at OmegaFloor. A view whose Ω_kk
// is unbounded (confidence vanishing) is dropped.
func (vg *ViewGenerator) CreateViewMatrices(assets []string, views domain.ViewSet, sigma mat.Symmetric) (*ViewMatrices, error) {
	n := len(assets)
	if sigma.SymmetricDim() != n {
		return nil, domain.Errorf(domain.ErrData, "covariance is %d×%d for %d assets", sigma.SymmetricDim(), sigma.SymmetricDim(), n)
	}
	if vg.tau <= 0 || math.IsNaN(vg.tau) {
		return nil, domain.Errorf(domain.ErrConfig, "tau must be positive, got %v", vg.tau)
	}

	universe := universeIndex(assets)
	out := &ViewMatrices{}
	var rows [][]float64
	var q []float64

	for _, v := range views {
		if err := v.Validate(universe); err != nil {
			return nil, err
		}

		p := make([]float64, n)
		for i, asset := range v.Assets {
			p[universe[asset]] += v.PickWeights()[i]
		}

		omega := IdzorekOmega(p, sigma, vg.tau, v.Confidence)
		if math.IsInf(omega, 0) || math.IsNaN(omega) || omega > omegaCeiling {
			vg.log.Debug().Strs("assets", v.Assets).Float64("confidence", v.Confidence).Msg("Dropping view with unbounded uncertainty")
			out.Dropped = append(out.Dropped, v)
			continue
		}

		rows = append(rows, p)
		q = append(q, v.ExpectedReturn)
		out.Omega = append(out.Omega, omega)
		out.Views = append(out.Views, v)
	}

	if len(rows) == 0 {
		return out, nil
	}

	out.P = mat.NewDense(len(rows), n, nil)
	for k, row := range rows {
		out.P.SetRow(k, row)
	}
	out.Q = mat.NewVecDense(len(q), q)

	vg.log.Debug().Int("views", out.Len()).Int("dropped", len(out.Dropped)).Msg("Built view matrices")
	return out, nil
}

// IdzorekOmega maps a confidence c ∈ (0, 1] to the view variance
// (p τΣ pᵀ)(1 − c)/c, floored at OmegaFloor. Above the floor it is strictly
// decreasing in c when the view portfolio has positive variance.
func IdzorekOmega(p []float64, sigma mat.Symmetric, tau, confidence float64) float64 {
	if confidence <= 0 {
		return math.Inf(1)
	}
	pv := mat.NewVecDense(len(p), append([]float64(nil), p...))
	variance := tau * mat.Inner(pv, sigma, pv)
	omega := variance * (1 - confidence) / confidence
	if omega < OmegaFloor {
		return OmegaFloor
	}
	return omega
}

func universeIndex(assets []string) map[string]int {
	idx := make(map[string]int, len(assets))
	for i, a := range assets {
		idx[a] = i
	}
	return idx
}
