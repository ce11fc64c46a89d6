package formulas

// CalculateMaxDrawdown calculates the maximum drawdown from a value series
//
// Drawdown Formula:
//
//	Drawdown = (Peak Value - Current Value) / Peak Value
//	Max Drawdown = Maximum of all drawdowns
//
// Returns the maximum drawdown as a positive fraction (0.25 = 25% loss from peak) or nil
func CalculateMaxDrawdown(values []float64) *float64 {
	if len(values) < 2 {
		return nil
	}

	maxDrawdown := 0.0
	peak := values[0]

	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			drawdown := (peak - v) / peak
			if drawdown > maxDrawdown {
				maxDrawdown = drawdown
			}
		}
	}

	return &maxDrawdown
}

// CalculateCalmarRatio is the annual growth rate divided by the maximum drawdown.
// Returns nil when there was no drawdown.
func CalculateCalmarRatio(cagr, maxDrawdown float64) *float64 {
	if maxDrawdown <= 0 {
		return nil
	}
	calmar := cagr / maxDrawdown
	return &calmar
}
