// Package risk enforces position limits on optimiser output before it becomes
// a decision.
package risk

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/domain"
)

// dustEpsilon keeps a weight sitting exactly on the threshold after rounding.
const dustEpsilon = 1e-12

// Adjustment records what the gatekeeper changed.
type Adjustment struct {
	Dusted   []string `json:"dusted,omitempty"`
	Capped   []string `json:"capped,omitempty"`
	Overflow float64  `json:"overflow"`
	Dropped  []string `json:"dropped,omitempty"` // negative raw weights
}

// Result is a final allocation plus the adjustments applied to reach it.
type Result struct {
	Allocation domain.Allocation `json:"allocation"`
	Adjustment Adjustment        `json:"adjustment"`
	Research   bool              `json:"research"`
}

// Gatekeeper applies dust, cap, cash and normalisation in a single pass.
type Gatekeeper struct {
	limits domain.RiskLimits
	log    zerolog.Logger
}

// NewGatekeeper validates limits and returns a gatekeeper. Limits are
// validated even in research mode.
func NewGatekeeper(limits domain.RiskLimits, log zerolog.Logger) (*Gatekeeper, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	return &Gatekeeper{
		limits: limits,
		log:    log.With().Str("component", "gatekeeper").Logger(),
	}, nil
}

// Limits returns the configured limits.
func (g *Gatekeeper) Limits() domain.RiskLimits {
	return g.limits
}

// Apply turns raw weights into final weights. The output sums to one.
func (g *Gatekeeper) Apply(raw domain.Allocation) (*Result, error) {
	if err := raw.Validate(); err != nil {
		return nil, err
	}
	if !g.limits.Enabled {
		return g.research(raw)
	}

	n := len(raw.Assets)
	if !g.limits.Feasible(n) {
		return nil, domain.Errorf(domain.ErrConstraintInfeasible,
			"%d assets × hard cap %.4f cannot absorb %.4f invested", n, g.limits.HardCap, 1-g.limits.CashBuffer)
	}

	out, adj := g.preNormalise(raw)
	if out.Cash >= 1 {
		return &Result{Allocation: out, Adjustment: adj}, nil
	}

	invested := 1 - out.Cash
	overflow := 0.0

	// Dust is measured against invested capital so that a second pass over
	// the normalised output sees the same ratios.
	for i, w := range out.Weights {
		if w > 0 && w/invested < g.limits.DustThreshold-dustEpsilon {
			overflow += w
			out.Weights[i] = 0
			adj.Dusted = append(adj.Dusted, out.Assets[i])
		}
	}

	for i, w := range out.Weights {
		if w > g.limits.HardCap {
			overflow += w - g.limits.HardCap
			out.Weights[i] = g.limits.HardCap
			adj.Capped = append(adj.Capped, out.Assets[i])
		}
	}
	adj.Overflow = overflow

	cash := math.Max(out.Cash, g.limits.CashBuffer) + overflow
	assets := out.Invested()
	if cash >= 1 || assets <= 0 {
		g.log.Warn().Float64("cash", cash).Msg("Nothing left to invest after limits")
		return &Result{Allocation: domain.AllCash(out.Assets), Adjustment: adj}, nil
	}

	scale := (1 - cash) / assets
	for i := range out.Weights {
		out.Weights[i] *= scale
	}
	out.Cash = cash

	g.log.Debug().
		Int("dusted", len(adj.Dusted)).
		Int("capped", len(adj.Capped)).
		Float64("overflow", overflow).
		Float64("cash", cash).
		Msg("Applied risk limits")

	return &Result{Allocation: out, Adjustment: adj}, nil
}

// preNormalise drops short positions and rescales assets plus cash to one.
func (g *Gatekeeper) preNormalise(raw domain.Allocation) (domain.Allocation, Adjustment) {
	out := raw.Clone()
	var adj Adjustment
	for i, w := range out.Weights {
		if w < 0 {
			out.Weights[i] = 0
			adj.Dropped = append(adj.Dropped, out.Assets[i])
		}
	}
	cash := math.Max(out.Cash, 0)

	total := out.Invested() + cash
	if total <= 0 {
		return domain.AllCash(out.Assets), adj
	}
	for i := range out.Weights {
		out.Weights[i] /= total
	}
	out.Cash = cash / total
	return out, adj
}

// research normalises raw weights to sum to one and nothing else. Shorts and
// concentration pass through; a net-short or zero total is ErrNumerical.
func (g *Gatekeeper) research(raw domain.Allocation) (*Result, error) {
	out := raw.Clone()
	total := out.Total()
	// Dividing by a negative total would flip every position.
	if total <= domain.SumTolerance {
		return nil, domain.Errorf(domain.ErrNumerical, "raw weights sum to %.3g, cannot normalise", total)
	}
	for i := range out.Weights {
		out.Weights[i] /= total
	}
	out.Cash /= total
	return &Result{Allocation: out, Research: true}, nil
}
