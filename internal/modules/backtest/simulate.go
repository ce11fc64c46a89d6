package backtest

import (
	"math"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/marketdata"
)

// holdWindow drifts fixed starting weights through the test returns with no
// rebalancing. Cash earns nothing. It returns one portfolio return per period.
func holdWindow(alloc domain.Allocation, test *marketdata.Returns) ([]float64, error) {
	index := make(map[string]int, len(test.Assets))
	for i, a := range test.Assets {
		index[a] = i
	}

	columns := make([][]float64, len(alloc.Assets))
	for k, asset := range alloc.Assets {
		if alloc.Weights[k] == 0 {
			continue
		}
		if asset == BenchmarkAsset {
			if err := test.CheckBenchmarkComplete(); err != nil {
				return nil, err
			}
			columns[k] = test.Benchmark
			continue
		}
		i, ok := index[asset]
		if !ok {
			return nil, domain.Errorf(domain.ErrData, "no test returns for %s", asset)
		}
		col := test.Column(i)
		for t, r := range col {
			if math.IsNaN(r) || math.IsInf(r, 0) {
				return nil, domain.Errorf(domain.ErrData, "missing return for %s on %s", asset, test.Dates[t].Format("2006-01-02"))
			}
		}
		columns[k] = col
	}

	holdings := append([]float64(nil), alloc.Weights...)
	value := alloc.Total()
	if value <= 0 {
		return nil, domain.Errorf(domain.ErrNumerical, "allocation has non-positive value %.6f", value)
	}

	out := make([]float64, test.Len())
	for t := range out {
		next := alloc.Cash
		for k := range holdings {
			if columns[k] != nil {
				holdings[k] *= 1 + columns[k][t]
			}
			next += holdings[k]
		}
		out[t] = next/value - 1
		value = next
	}
	return out, nil
}
