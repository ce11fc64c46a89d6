// Package formulas holds the return and risk statistics used by the backtester
// and the view sources.
package formulas

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// TradingDaysPerYear is the default annualisation factor for daily data.
const TradingDaysPerYear = 252

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the sample standard deviation of a slice of float64 values
func StdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// AnnualizedVolatility calculates annualized volatility from periodic returns
// Formula: Std Dev of returns × sqrt(periodsPerYear)
func AnnualizedVolatility(returns []float64, periodsPerYear int) float64 {
	if len(returns) < 2 || periodsPerYear <= 0 {
		return 0
	}
	return StdDev(returns) * math.Sqrt(float64(periodsPerYear))
}

// CalculateReturns converts prices to percentage returns
// Returns[i] = (Price[i+1] - Price[i]) / Price[i]
func CalculateReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			returns[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
		}
	}

	return returns
}

// CompoundReturns turns periodic returns into a value path starting at start.
// The result has len(returns)+1 points.
func CompoundReturns(start float64, returns []float64) []float64 {
	path := make([]float64, len(returns)+1)
	path[0] = start
	for i, r := range returns {
		path[i+1] = path[i] * (1 + r)
	}
	return path
}

// TotalReturn is the simple return between the first and last value of a path.
func TotalReturn(values []float64) float64 {
	if len(values) < 2 || values[0] == 0 {
		return 0
	}
	return values[len(values)-1]/values[0] - 1
}
