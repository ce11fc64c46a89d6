package formulas

import "math"

// CalculateCAGR calculates Compound Annual Growth Rate from a value path
// sampled periodsPerYear times a year.
//
// Formula: CAGR = (Ending Value / Beginning Value)^(1/years) - 1
//
// Paths shorter than a quarter of a year return the simple return, matching
// how short histories are reported elsewhere. Returns nil if the path is unusable.
func CalculateCAGR(values []float64, periodsPerYear int) *float64 {
	if len(values) < 2 || periodsPerYear <= 0 {
		return nil
	}

	start := values[0]
	end := values[len(values)-1]
	if start <= 0 || end <= 0 {
		return nil
	}

	years := float64(len(values)-1) / float64(periodsPerYear)
	if years < 0.25 {
		result := end/start - 1
		return &result
	}

	cagr := math.Pow(end/start, 1/years) - 1
	return &cagr
}
