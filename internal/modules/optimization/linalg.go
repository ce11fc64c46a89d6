package optimization

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/aristath/allocator/internal/domain"
)

// DefaultConditionLimit is the largest condition number accepted before a
// matrix is regularised.
const DefaultConditionLimit = 1e12

const (
	ridgeScale = 1e-8
	ridgeFloor = 1e-12
)

// invertSPD inverts a symmetric positive definite matrix through Cholesky.
// When factorisation fails or the condition estimate exceeds limit, a ridge
// proportional to the mean diagonal is added and inversion is retried once.
// A successful retry is reported through warning; a failed one through err.
func invertSPD(a mat.Symmetric, label string, limit float64) (inv *mat.SymDense, warning error, err error) {
	if limit <= 0 {
		limit = DefaultConditionLimit
	}

	inv, cond, ok := tryInvertSPD(a, limit)
	if ok {
		return inv, nil, nil
	}

	n := a.SymmetricDim()
	ridge := ridgeFor(a)
	regularised := mat.NewSymDense(n, nil)
	regularised.CopySym(a)
	for i := 0; i < n; i++ {
		regularised.SetSym(i, i, regularised.At(i, i)+ridge)
	}

	inv, retryCond, ok := tryInvertSPD(regularised, limit)
	if !ok {
		return nil, nil, domain.Errorf(domain.ErrNumerical,
			"%s singular after ridge %.3g (condition %.3g)", label, ridge, retryCond)
	}
	return inv, domain.Errorf(domain.ErrNumerical,
		"%s ill-conditioned (condition %.3g), regularised with ridge %.3g", label, cond, ridge), nil
}

func tryInvertSPD(a mat.Symmetric, limit float64) (*mat.SymDense, float64, bool) {
	var chol mat.Cholesky
	if !chol.Factorize(a) {
		return nil, math.Inf(1), false
	}
	cond := chol.Cond()
	if math.IsNaN(cond) || math.IsInf(cond, 0) || cond > limit {
		return nil, cond, false
	}
	inv := mat.NewSymDense(a.SymmetricDim(), nil)
	if err := chol.InverseTo(inv); err != nil {
		return nil, cond, false
	}
	return inv, cond, true
}

func ridgeFor(a mat.Symmetric) float64 {
	n := a.SymmetricDim()
	trace := 0.0
	for i := 0; i < n; i++ {
		trace += math.Abs(a.At(i, i))
	}
	return math.Max(ridgeScale*trace/float64(n), ridgeFloor)
}

func vecToSlice(v mat.Vector) []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}

func allFinite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
