package optimization

import (
	"math"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/aristath/allocator/internal/domain"
)

// AllocatorMode selects the optimisation objective.
type AllocatorMode string

const (
	// ModeClosedForm is w = (1/λ)Σ⁻¹μ with no constraints.
	ModeClosedForm AllocatorMode = "closed_form"
	// ModeMeanVariance maximises wᵀμ − (λ/2)wᵀΣw subject to Σw = 1 (and w ≥ 0 when long-only).
	ModeMeanVariance AllocatorMode = "mean_variance"
	// ModeMaxSharpe maximises (wᵀμ − r_f)/√(wᵀΣw) long-only.
	ModeMaxSharpe AllocatorMode = "max_sharpe"
)

// ParseAllocatorMode validates a configured mode.
func ParseAllocatorMode(s string) (AllocatorMode, error) {
	switch AllocatorMode(s) {
	case ModeClosedForm, ModeMeanVariance, ModeMaxSharpe:
		return AllocatorMode(s), nil
	default:
		return "", domain.Errorf(domain.ErrConfig, "unknown allocator mode %q", s)
	}
}

// AllocatorConfig parameterises the optimiser.
type AllocatorConfig struct {
	Mode           AllocatorMode
	RiskAversion   float64
	LongOnly       bool
	RiskFreeRate   float64
	ConditionLimit float64
}

// AllocationResult is the raw optimiser output before risk limits.
type AllocationResult struct {
	Allocation domain.Allocation
	Warnings   []error
	Iterations int
}

const (
	qpMaxIterations = 20000
	qpTolerance     = 1e-12
	penaltyWeight   = 1000.0
)

// MVOptimizer performs mean-variance portfolio optimisation.
type MVOptimizer struct {
	cfg AllocatorConfig
	log zerolog.Logger
}

// NewMVOptimizer creates a new mean-variance optimiser.
func NewMVOptimizer(cfg AllocatorConfig, log zerolog.Logger) *MVOptimizer {
	if cfg.ConditionLimit <= 0 {
		cfg.ConditionLimit = DefaultConditionLimit
	}
	return &MVOptimizer{
		cfg: cfg,
		log: log.With().Str("component", "allocator").Logger(),
	}
}

// Optimize turns expected returns and covariance into raw weights.
func (mvo *MVOptimizer) Optimize(assets []string, mu *mat.VecDense, sigma *mat.SymDense) (*AllocationResult, error) {
	n := len(assets)
	if n == 0 {
		return nil, domain.Errorf(domain.ErrData, "no assets to allocate")
	}
	if mu.Len() != n || sigma.SymmetricDim() != n {
		return nil, domain.Errorf(domain.ErrData, "dimension mismatch: %d assets, %d returns, %d×%d covariance",
			n, mu.Len(), sigma.SymmetricDim(), sigma.SymmetricDim())
	}
	if mvo.cfg.Mode != ModeMaxSharpe && (mvo.cfg.RiskAversion <= 0 || math.IsNaN(mvo.cfg.RiskAversion)) {
		return nil, domain.Errorf(domain.ErrConfig, "risk aversion must be positive, got %v", mvo.cfg.RiskAversion)
	}

	var (
		result *AllocationResult
		err    error
	)
	switch mvo.cfg.Mode {
	case ModeClosedForm:
		result, err = mvo.optimizeClosedForm(assets, mu, sigma)
	case ModeMeanVariance:
		if mvo.cfg.LongOnly {
			result, err = mvo.optimizeLongOnly(assets, mu, sigma)
		} else {
			result, err = mvo.optimizeBudget(assets, mu, sigma)
		}
	case ModeMaxSharpe:
		result, err = mvo.optimizeMaxSharpe(assets, mu, sigma)
	default:
		return nil, domain.Errorf(domain.ErrConfig, "unknown allocator mode %q", mvo.cfg.Mode)
	}
	if err != nil {
		return nil, err
	}
	if err := result.Allocation.Validate(); err != nil {
		return nil, err
	}

	mvo.log.Debug().
		Str("mode", string(mvo.cfg.Mode)).
		Int("iterations", result.Iterations).
		Float64("invested", result.Allocation.Invested()).
		Msg("Optimised raw weights")

	return result, nil
}

// EqualWeights is the 1/N baseline.
func EqualWeights(assets []string) domain.Allocation {
	weights := make([]float64, len(assets))
	for i := range weights {
		weights[i] = 1 / float64(len(assets))
	}
	return domain.NewAllocation(assets, weights)
}

// optimizeClosedForm: w = (1/λ)Σ⁻¹μ.
func (mvo *MVOptimizer) optimizeClosedForm(assets []string, mu *mat.VecDense, sigma *mat.SymDense) (*AllocationResult, error) {
	inv, warning, err := invertSPD(sigma, "covariance", mvo.cfg.ConditionLimit)
	if err != nil {
		return nil, err
	}

	w := mat.NewVecDense(len(assets), nil)
	w.MulVec(inv, mu)
	w.ScaleVec(1/mvo.cfg.RiskAversion, w)

	return &AllocationResult{
		Allocation: domain.NewAllocation(assets, vecToSlice(w)),
		Warnings:   warningList(warning),
	}, nil
}

// optimizeBudget solves the budget-constrained problem analytically:
// w = (1/λ)Σ⁻¹(μ − γ1) with γ = (1ᵀΣ⁻¹μ − λ)/(1ᵀΣ⁻¹1).
func (mvo *MVOptimizer) optimizeBudget(assets []string, mu *mat.VecDense, sigma *mat.SymDense) (*AllocationResult, error) {
	n := len(assets)
	inv, warning, err := invertSPD(sigma, "covariance", mvo.cfg.ConditionLimit)
	if err != nil {
		return nil, err
	}

	ones := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		ones.SetVec(i, 1)
	}
	invMu := mat.NewVecDense(n, nil)
	invMu.MulVec(inv, mu)
	invOnes := mat.NewVecDense(n, nil)
	invOnes.MulVec(inv, ones)

	denom := mat.Dot(ones, invOnes)
	if denom <= 0 || math.IsNaN(denom) {
		return nil, domain.Errorf(domain.ErrNumerical, "budget constraint degenerate (1ᵀΣ⁻¹1 = %v)", denom)
	}
	gamma := (mat.Dot(ones, invMu) - mvo.cfg.RiskAversion) / denom

	w := mat.NewVecDense(n, nil)
	w.AddScaledVec(invMu, -gamma, invOnes)
	w.ScaleVec(1/mvo.cfg.RiskAversion, w)

	return &AllocationResult{
		Allocation: domain.NewAllocation(assets, vecToSlice(w)),
		Warnings:   warningList(warning),
	}, nil
}

// optimizeLongOnly solves max wᵀμ − (λ/2)wᵀΣw on the unit simplex with
// accelerated projected gradient. The step is 1/L with L = λ·λ_max(Σ).
func (mvo *MVOptimizer) optimizeLongOnly(assets []string, mu *mat.VecDense, sigma *mat.SymDense) (*AllocationResult, error) {
	n := len(assets)
	lambda := mvo.cfg.RiskAversion

	var eig mat.EigenSym
	if !eig.Factorize(sigma, false) {
		return nil, domain.Errorf(domain.ErrNumerical, "eigen decomposition of covariance failed")
	}
	maxEig := 0.0
	for _, v := range eig.Values(nil) {
		maxEig = math.Max(maxEig, v)
	}
	lipschitz := lambda * maxEig
	if lipschitz <= 0 {
		lipschitz = 1
	}
	step := 1 / lipschitz

	muSlice := vecToSlice(mu)
	w := EqualWeights(assets).Weights
	prev := append([]float64(nil), w...)
	y := append([]float64(nil), w...)
	grad := make([]float64, n)
	sw := mat.NewVecDense(n, nil)
	tk := 1.0

	iterations := 0
	for iterations < qpMaxIterations {
		iterations++

		sw.MulVec(sigma, mat.NewVecDense(n, y))
		for i := 0; i < n; i++ {
			grad[i] = -muSlice[i] + lambda*sw.AtVec(i)
			y[i] -= step * grad[i]
		}
		next := projectToSimplex(y)

		delta := 0.0
		for i := 0; i < n; i++ {
			delta = math.Max(delta, math.Abs(next[i]-w[i]))
		}

		tNext := (1 + math.Sqrt(1+4*tk*tk)) / 2
		momentum := (tk - 1) / tNext
		copy(prev, w)
		copy(w, next)
		for i := 0; i < n; i++ {
			y[i] = w[i] + momentum*(w[i]-prev[i])
		}
		tk = tNext

		if delta < qpTolerance {
			break
		}
	}

	if !allFinite(w) {
		return nil, domain.Errorf(domain.ErrNumerical, "long-only optimisation diverged")
	}

	return &AllocationResult{
		Allocation: domain.NewAllocation(assets, w),
		Iterations: iterations,
	}, nil
}

// optimizeMaxSharpe maximises the Sharpe ratio long-only with a sum-to-one
// penalty, BFGS first and Nelder-Mead as fallback. When no asset beats the
// risk-free rate the result is all cash.
func (mvo *MVOptimizer) optimizeMaxSharpe(assets []string, mu *mat.VecDense, sigma *mat.SymDense) (*AllocationResult, error) {
	n := len(assets)
	excess := make([]float64, n)
	anyPositive := false
	for i := 0; i < n; i++ {
		excess[i] = mu.AtVec(i) - mvo.cfg.RiskFreeRate
		if excess[i] > 0 {
			anyPositive = true
		}
	}
	if !anyPositive {
		mvo.log.Warn().Msg("No asset beats the risk-free rate, allocating to cash")
		return &AllocationResult{
			Allocation: domain.AllCash(assets),
			Warnings:   []error{domain.Errorf(domain.ErrNumerical, "max-Sharpe undefined: no positive excess return")},
		}, nil
	}

	stats := func(x []float64) (xProj []float64, ret, stdDev float64) {
		xProj = projectToUnitBox(x)
		xv := mat.NewVecDense(n, xProj)
		for i := 0; i < n; i++ {
			ret += excess[i] * xProj[i]
		}
		stdDev = math.Sqrt(math.Max(mat.Inner(xv, sigma, xv), 1e-10))
		return xProj, ret, stdDev
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			xProj, ret, stdDev := stats(x)
			sum := sumOf(xProj)
			return -ret/stdDev + penaltyWeight*(sum-1)*(sum-1)
		},
		Grad: func(grad, x []float64) {
			xProj, ret, stdDev := stats(x)
			sv := mat.NewVecDense(n, nil)
			sv.MulVec(sigma, mat.NewVecDense(n, xProj))
			sum := sumOf(xProj)
			for i := 0; i < n; i++ {
				grad[i] = -excess[i]/stdDev + ret*sv.AtVec(i)/(stdDev*stdDev*stdDev)
				grad[i] += 2 * penaltyWeight * (sum - 1)
			}
		},
	}

	initial := EqualWeights(assets).Weights
	result, err := optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.BFGS{})
	if err != nil || !converged(result) {
		result, err = optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.NelderMead{})
		if err != nil {
			return nil, domain.Errorf(domain.ErrNumerical, "max-Sharpe optimisation failed: %v", err)
		}
	}
	if !converged(result) {
		return nil, domain.Errorf(domain.ErrNumerical, "max-Sharpe optimisation did not converge: status=%v", result.Status)
	}

	weights := projectToUnitBox(result.X)
	sum := sumOf(weights)
	if sum <= 0 {
		return nil, domain.Errorf(domain.ErrNumerical, "max-Sharpe produced an empty portfolio")
	}
	for i := range weights {
		weights[i] /= sum
	}

	return &AllocationResult{
		Allocation: domain.NewAllocation(assets, weights),
		Iterations: result.Stats.MajorIterations,
	}, nil
}

func converged(result *optimize.Result) bool {
	if result == nil {
		return false
	}
	switch result.Status {
	case optimize.Success, optimize.GradientThreshold, optimize.FunctionConvergence:
		return true
	default:
		return false
	}
}

// projectToSimplex is the Euclidean projection onto {w ≥ 0, Σw = 1}.
func projectToSimplex(v []float64) []float64 {
	n := len(v)
	sorted := append([]float64(nil), v...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	cumulative := 0.0
	theta := 0.0
	for j := 0; j < n; j++ {
		cumulative += sorted[j]
		t := (cumulative - 1) / float64(j+1)
		if sorted[j]-t > 0 {
			theta = t
		}
	}

	out := make([]float64, n)
	for i, x := range v {
		out[i] = math.Max(x-theta, 0)
	}
	return out
}

func projectToUnitBox(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = math.Max(0, math.Min(1, v))
	}
	return out
}

func sumOf(x []float64) float64 {
	sum := 0.0
	for _, v := range x {
		sum += v
	}
	return sum
}

func warningList(warning error) []error {
	if warning == nil {
		return nil
	}
	return []error{warning}
}
