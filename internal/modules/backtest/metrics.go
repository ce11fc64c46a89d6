package backtest

import (
	"github.com/aristath/allocator/pkg/formulas"
)

// Metrics summarises one strategy over all included windows.
type Metrics struct {
	TotalReturn float64  `json:"total_return"`
	CAGR        *float64 `json:"cagr"`
	Volatility  float64  `json:"volatility"`
	Sharpe      *float64 `json:"sharpe"`
	Sortino     *float64 `json:"sortino"`
	MaxDrawdown float64  `json:"max_drawdown"`
	Calmar      *float64 `json:"calmar"`
	Periods     int      `json:"periods"`
	Windows     int      `json:"windows"`
	Skipped     int      `json:"skipped_windows"`
}

// ComputeMetrics derives the summary from the NAV path and its periodic
// returns. nav has one more point than returns.
func ComputeMetrics(nav, returns []float64, riskFreeRate float64, periodsPerYear int) Metrics {
	m := Metrics{
		TotalReturn: formulas.TotalReturn(nav),
		CAGR:        formulas.CalculateCAGR(nav, periodsPerYear),
		Volatility:  formulas.AnnualizedVolatility(returns, periodsPerYear),
		Sharpe:      formulas.CalculateSharpeRatio(returns, riskFreeRate, periodsPerYear),
		Sortino:     formulas.CalculateSortinoRatio(returns, riskFreeRate, periodsPerYear),
		Periods:     len(returns),
	}
	if dd := formulas.CalculateMaxDrawdown(nav); dd != nil {
		m.MaxDrawdown = *dd
	}
	if m.CAGR != nil {
		m.Calmar = formulas.CalculateCalmarRatio(*m.CAGR, m.MaxDrawdown)
	}
	return m
}
