package optimization

import "gonum.org/v1/gonum/mat"

// Allocator turns expected returns and covariance into raw weights.
type Allocator interface {
	Optimize(assets []string, mu *mat.VecDense, sigma *mat.SymDense) (*AllocationResult, error)
}

var (
	_ Allocator = (*MVOptimizer)(nil)
	_ Allocator = (*HRPOptimizer)(nil)
)
