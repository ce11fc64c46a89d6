package formulas

import (
	"math"

	"github.com/markcheno/go-talib"
)

// CalculateRSI calculates the Relative Strength Index
//
// RSI Formula:
//
//	RSI = 100 - (100 / (1 + RS))
//	where RS = Average Gain / Average Loss over N periods
//
// Returns the latest RSI value (0-100) or nil if insufficient data
func CalculateRSI(closes []float64, length int) *float64 {
	if length < 2 || len(closes) < length+1 {
		return nil
	}

	rsi := talib.Rsi(closes, length)
	return lastFinite(rsi)
}

// CalculateROC calculates the latest rate of change over length periods as a fraction
// (talib reports percent).
func CalculateROC(closes []float64, length int) *float64 {
	if length < 1 || len(closes) < length+1 {
		return nil
	}

	roc := lastFinite(talib.Roc(closes, length))
	if roc == nil {
		return nil
	}
	fraction := *roc / 100
	return &fraction
}

func lastFinite(series []float64) *float64 {
	if len(series) == 0 {
		return nil
	}
	v := series[len(series)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
