package domain

import "math"

// RiskLimits configures the risk gatekeeper. The zero value is not valid; use
// DefaultRiskLimits.
type RiskLimits struct {
	// HardCap is the largest weight any single asset may hold.
	HardCap float64 `json:"hard_cap" yaml:"hard_cap"`
	// CashBuffer is the minimum cash weight after the gatekeeper.
	CashBuffer float64 `json:"cash_buffer" yaml:"cash_buffer"`
	// DustThreshold is relative to invested (non-cash) capital, not an absolute
	// portfolio weight: 0.01 zeroes positions below 1% of the invested total.
	// Measuring it this way keeps the gatekeeper idempotent.
	DustThreshold float64 `json:"dust_threshold" yaml:"dust_threshold"`
	// Enabled false selects research mode, which only normalises.
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// DefaultRiskLimits returns the production limits: 30% cap, 5% cash, 1% dust.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		HardCap:       0.30,
		CashBuffer:    0.05,
		DustThreshold: 0.01,
		Enabled:       true,
	}
}

// Validate checks that the limits are internally consistent.
func (l RiskLimits) Validate() error {
	if math.IsNaN(l.HardCap) || l.HardCap <= 0 || l.HardCap > 1 {
		return Errorf(ErrConfig, "hard cap %.4f outside (0, 1]", l.HardCap)
	}
	if math.IsNaN(l.CashBuffer) || l.CashBuffer < 0 || l.CashBuffer >= 1 {
		return Errorf(ErrConfig, "cash buffer %.4f outside [0, 1)", l.CashBuffer)
	}
	if math.IsNaN(l.DustThreshold) || l.DustThreshold < 0 || l.DustThreshold >= 1 {
		return Errorf(ErrConfig, "dust threshold %.4f outside [0, 1)", l.DustThreshold)
	}
	if l.DustThreshold > l.HardCap {
		return Errorf(ErrConfig, "dust threshold %.4f above hard cap %.4f", l.DustThreshold, l.HardCap)
	}
	return nil
}

// Feasible reports whether n assets can absorb the invested share under the cap.
func (l RiskLimits) Feasible(n int) bool {
	return l.HardCap*float64(n) >= 1-l.CashBuffer-1e-12
}
