package optimization

import (
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/allocator/internal/domain"
)

// HRPLinkage selects the cluster distance used when building the dendrogram.
type HRPLinkage string

const (
	LinkageSingle   HRPLinkage = "single"
	LinkageComplete HRPLinkage = "complete"
	LinkageAverage  HRPLinkage = "average"
)

// HRPOptimizer performs Hierarchical Risk Parity allocation. It ignores
// expected returns and is used as a risk-only baseline strategy.
type HRPOptimizer struct {
	linkage HRPLinkage
	log     zerolog.Logger
}

// NewHRPOptimizer creates an HRP allocator. An empty linkage selects single linkage.
func NewHRPOptimizer(linkage HRPLinkage, log zerolog.Logger) *HRPOptimizer {
	if linkage == "" {
		linkage = LinkageSingle
	}
	return &HRPOptimizer{
		linkage: linkage,
		log:     log.With().Str("component", "hrp").Logger(),
	}
}

type hrpClusterNode struct {
	left    *hrpClusterNode
	right   *hrpClusterNode
	leaves  []int
	minLeaf int
}

// Optimize allocates fully invested, long-only weights:
//  1. correlation from covariance
//  2. distance d_ij = sqrt((1 − ρ_ij)/2)
//  3. agglomerative clustering with deterministic tie-break
//  4. quasi-diagonal leaf order
//  5. recursive bisection with inverse-variance cluster risk
func (hrp *HRPOptimizer) Optimize(assets []string, _ *mat.VecDense, sigma *mat.SymDense) (*AllocationResult, error) {
	n := len(assets)
	if n == 0 {
		return nil, domain.Errorf(domain.ErrData, "no assets to allocate")
	}
	if sigma.SymmetricDim() != n {
		return nil, domain.Errorf(domain.ErrData, "covariance is %d×%d for %d assets", sigma.SymmetricDim(), sigma.SymmetricDim(), n)
	}
	if n == 1 {
		return &AllocationResult{Allocation: domain.NewAllocation(assets, []float64{1})}, nil
	}

	dist, err := correlationDistance(sigma)
	if err != nil {
		return nil, err
	}

	root := hrp.buildDendrogram(dist)
	order := quasiDiagonalOrder(root)
	if len(order) != n {
		return nil, domain.Errorf(domain.ErrNumerical, "invalid HRP order length %d", len(order))
	}

	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 1
	}
	recursiveBisection(weights, sigma, order)

	sum := sumOf(weights)
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, domain.Errorf(domain.ErrNumerical, "invalid HRP weight sum %v", sum)
	}
	for i := range weights {
		weights[i] /= sum
	}

	hrp.log.Debug().Str("linkage", string(hrp.linkage)).Ints("order", order).Msg("Allocated by hierarchical risk parity")
	return &AllocationResult{Allocation: domain.NewAllocation(assets, weights)}, nil
}

func correlationDistance(sigma mat.Symmetric) ([][]float64, error) {
	n := sigma.SymmetricDim()
	sd := make([]float64, n)
	for i := 0; i < n; i++ {
		v := sigma.At(i, i)
		if v < 0 || math.IsNaN(v) {
			return nil, domain.Errorf(domain.ErrNumerical, "negative variance on diagonal %d", i)
		}
		sd[i] = math.Sqrt(v)
	}

	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
		for j := range dist[i] {
			if i == j {
				continue
			}
			rho := 0.0
			if sd[i] > 0 && sd[j] > 0 {
				rho = sigma.At(i, j) / (sd[i] * sd[j])
			}
			rho = math.Max(-1, math.Min(1, rho))
			dist[i][j] = math.Sqrt((1 - rho) / 2)
		}
	}
	return dist, nil
}

func (hrp *HRPOptimizer) buildDendrogram(dist [][]float64) *hrpClusterNode {
	n := len(dist)
	clusters := make([]*hrpClusterNode, 0, n)
	for i := 0; i < n; i++ {
		clusters = append(clusters, &hrpClusterNode{leaves: []int{i}, minLeaf: i})
	}

	for len(clusters) > 1 {
		bestI, bestJ := 0, 1
		bestD := hrp.clusterDistance(dist, clusters[0], clusters[1])

		for i := 0; i < len(clusters); i++ {
			for j := i + 1; j < len(clusters); j++ {
				d := hrp.clusterDistance(dist, clusters[i], clusters[j])
				if d < bestD || (d == bestD && clusterPairLess(clusters[i], clusters[j], clusters[bestI], clusters[bestJ])) {
					bestD, bestI, bestJ = d, i, j
				}
			}
		}

		left, right := clusters[bestI], clusters[bestJ]
		if right.minLeaf < left.minLeaf {
			left, right = right, left
		}
		leaves := make([]int, 0, len(left.leaves)+len(right.leaves))
		leaves = append(leaves, left.leaves...)
		leaves = append(leaves, right.leaves...)
		merged := &hrpClusterNode{left: left, right: right, leaves: leaves, minLeaf: left.minLeaf}

		next := make([]*hrpClusterNode, 0, len(clusters)-1)
		for k, c := range clusters {
			if k != bestI && k != bestJ {
				next = append(next, c)
			}
		}
		clusters = append(next, merged)
	}

	return clusters[0]
}

// clusterPairLess orders candidate pairs by their smallest leaves.
func clusterPairLess(a1, b1, a2, b2 *hrpClusterNode) bool {
	x1, y1 := a1.minLeaf, b1.minLeaf
	if y1 < x1 {
		x1, y1 = y1, x1
	}
	x2, y2 := a2.minLeaf, b2.minLeaf
	if y2 < x2 {
		x2, y2 = y2, x2
	}
	if x1 != x2 {
		return x1 < x2
	}
	return y1 < y2
}

func (hrp *HRPOptimizer) clusterDistance(dist [][]float64, a, b *hrpClusterNode) float64 {
	switch hrp.linkage {
	case LinkageComplete:
		worst := 0.0
		for _, i := range a.leaves {
			for _, j := range b.leaves {
				worst = math.Max(worst, dist[i][j])
			}
		}
		return worst
	case LinkageAverage:
		sum := 0.0
		for _, i := range a.leaves {
			for _, j := range b.leaves {
				sum += dist[i][j]
			}
		}
		return sum / float64(len(a.leaves)*len(b.leaves))
	default:
		best := math.Inf(1)
		for _, i := range a.leaves {
			for _, j := range b.leaves {
				best = math.Min(best, dist[i][j])
			}
		}
		return best
	}
}

func quasiDiagonalOrder(node *hrpClusterNode) []int {
	if node == nil {
		return nil
	}
	if node.left == nil && node.right == nil {
		return []int{node.leaves[0]}
	}
	return append(quasiDiagonalOrder(node.left), quasiDiagonalOrder(node.right)...)
}

func recursiveBisection(weights []float64, sigma mat.Symmetric, order []int) {
	if len(order) <= 1 {
		return
	}
	split := len(order) / 2
	left, right := order[:split], order[split:]

	vLeft := clusterVariance(sigma, left)
	vRight := clusterVariance(sigma, right)

	alpha := 0.5
	if vLeft+vRight > 0 {
		alpha = 1 - vLeft/(vLeft+vRight)
	}
	alpha = math.Max(0, math.Min(1, alpha))

	for _, idx := range left {
		weights[idx] *= alpha
	}
	for _, idx := range right {
		weights[idx] *= 1 - alpha
	}

	recursiveBisection(weights, sigma, left)
	recursiveBisection(weights, sigma, right)
}

// clusterVariance is the variance of the inverse-variance portfolio over idxs.
func clusterVariance(sigma mat.Symmetric, idxs []int) float64 {
	if len(idxs) == 1 {
		return math.Max(sigma.At(idxs[0], idxs[0]), 0)
	}

	const eps = 1e-12
	inv := make([]float64, len(idxs))
	sumInv := 0.0
	for k, i := range idxs {
		inv[k] = 1 / math.Max(sigma.At(i, i), eps)
		sumInv += inv[k]
	}
	for k := range inv {
		inv[k] /= sumInv
	}

	variance := 0.0
	for a, i := range idxs {
		for b, j := range idxs {
			variance += inv[a] * sigma.At(i, j) * inv[b]
		}
	}
	return math.Max(variance, 0)
}
