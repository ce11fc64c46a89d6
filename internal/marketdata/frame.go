// Package marketdata holds aligned price history and the sources that load it.
package marketdata

import (
	"context"
	"math"
	"time"

	"github.com/aristath/allocator/internal/domain"
)

// Series is an auxiliary column aligned with a frame's dates (benchmark, regime indicator).
type Series struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
}

// Frame is a dates × assets price matrix. Missing prices are NaN.
type Frame struct {
	Dates     []time.Time
	Assets    []string
	Prices    [][]float64 // [date][asset]
	Benchmark *Series
	Regime    *Series
}

// Source loads price history.
type Source interface {
	Load(ctx context.Context) (*Frame, error)
}

// StaticSource serves a frame held in memory.
type StaticSource struct {
	Frame *Frame
}

// Load returns the held frame.
func (s StaticSource) Load(ctx context.Context) (*Frame, error) {
	if s.Frame == nil {
		return nil, domain.Errorf(domain.ErrData, "no price history loaded")
	}
	return s.Frame, nil
}

// Validate checks shape and ordering.
func (f *Frame) Validate() error {
	if len(f.Assets) == 0 {
		return domain.Errorf(domain.ErrData, "frame has no assets")
	}
	if len(f.Prices) != len(f.Dates) {
		return domain.Errorf(domain.ErrData, "frame has %d dates and %d price rows", len(f.Dates), len(f.Prices))
	}
	for t, row := range f.Prices {
		if len(row) != len(f.Assets) {
			return domain.Errorf(domain.ErrData, "row %d has %d prices for %d assets", t, len(row), len(f.Assets))
		}
		if t > 0 && !f.Dates[t].After(f.Dates[t-1]) {
			return domain.Errorf(domain.ErrData, "dates not strictly increasing at %s", f.Dates[t].Format("2006-01-02"))
		}
	}
	for _, s := range []*Series{f.Benchmark, f.Regime} {
		if s != nil && len(s.Values) != len(f.Dates) {
			return domain.Errorf(domain.ErrData, "series %s has %d values for %d dates", s.Name, len(s.Values), len(f.Dates))
		}
	}
	return nil
}

// Len is the number of dates.
func (f *Frame) Len() int {
	return len(f.Dates)
}

// AssetIndex maps each asset to its column.
func (f *Frame) AssetIndex() map[string]int {
	idx := make(map[string]int, len(f.Assets))
	for i, a := range f.Assets {
		idx[a] = i
	}
	return idx
}

// Column returns the price history of asset i.
func (f *Frame) Column(i int) []float64 {
	out := make([]float64, len(f.Prices))
	for t, row := range f.Prices {
		out[t] = row[i]
	}
	return out
}

// Slice returns the frame restricted to date rows [start, end). Rows are shared.
func (f *Frame) Slice(start, end int) *Frame {
	out := &Frame{
		Dates:  f.Dates[start:end],
		Assets: f.Assets,
		Prices: f.Prices[start:end],
	}
	if f.Benchmark != nil {
		out.Benchmark = &Series{Name: f.Benchmark.Name, Values: f.Benchmark.Values[start:end]}
	}
	if f.Regime != nil {
		out.Regime = &Series{Name: f.Regime.Name, Values: f.Regime.Values[start:end]}
	}
	return out
}

// Select returns the frame restricted to assets, in the given order. An asset
// missing from the frame is ErrData. Auxiliary series are shared.
func (f *Frame) Select(assets []string) (*Frame, error) {
	idx := f.AssetIndex()
	cols := make([]int, len(assets))
	for i, a := range assets {
		c, ok := idx[a]
		if !ok {
			return nil, domain.Errorf(domain.ErrData, "asset %s not in price history", a)
		}
		cols[i] = c
	}

	out := &Frame{
		Dates:     f.Dates,
		Assets:    append([]string(nil), assets...),
		Prices:    make([][]float64, len(f.Prices)),
		Benchmark: f.Benchmark,
		Regime:    f.Regime,
	}
	for t, row := range f.Prices {
		picked := make([]float64, len(cols))
		for i, c := range cols {
			picked[i] = row[c]
		}
		out.Prices[t] = picked
	}
	return out, nil
}

// TrimToYears keeps only the trailing years of history. Non-positive years keep everything.
func (f *Frame) TrimToYears(years int) *Frame {
	if years <= 0 || len(f.Dates) == 0 {
		return f
	}
	cutoff := f.Dates[len(f.Dates)-1].AddDate(-years, 0, 0)
	start := 0
	for start < len(f.Dates) && f.Dates[start].Before(cutoff) {
		start++
	}
	return f.Slice(start, len(f.Dates))
}

// Returns computes simple returns. Row k is the return from date k to date k+1
// and is stamped with date k+1. A missing price on either side gives NaN.
func (f *Frame) Returns() *Returns {
	if len(f.Dates) < 2 {
		return &Returns{Assets: f.Assets}
	}
	n := len(f.Dates) - 1
	out := &Returns{
		Dates:  f.Dates[1:],
		Assets: f.Assets,
		Values: make([][]float64, n),
	}
	for t := 0; t < n; t++ {
		row := make([]float64, len(f.Assets))
		for i := range f.Assets {
			row[i] = simpleReturn(f.Prices[t][i], f.Prices[t+1][i])
		}
		out.Values[t] = row
	}
	if f.Benchmark != nil {
		out.Benchmark = seriesReturns(f.Benchmark.Values)
	}
	if f.Regime != nil {
		out.Regime = append([]float64(nil), f.Regime.Values[1:]...)
	}
	return out
}

// Returns is a T×N simple-return matrix with optional benchmark returns and
// regime levels aligned to the same dates.
type Returns struct {
	Dates     []time.Time
	Assets    []string
	Values    [][]float64 // [period][asset]
	Benchmark []float64
	Regime    []float64
}

// Len is the number of return periods.
func (r *Returns) Len() int {
	return len(r.Values)
}

// Rows returns periods [start, end). Rows are shared.
func (r *Returns) Rows(start, end int) *Returns {
	out := &Returns{
		Dates:  r.Dates[start:end],
		Assets: r.Assets,
		Values: r.Values[start:end],
	}
	if r.Benchmark != nil {
		out.Benchmark = r.Benchmark[start:end]
	}
	if r.Regime != nil {
		out.Regime = r.Regime[start:end]
	}
	return out
}

// Column returns the return history of asset i.
func (r *Returns) Column(i int) []float64 {
	out := make([]float64, len(r.Values))
	for t, row := range r.Values {
		out[t] = row[i]
	}
	return out
}

// CheckComplete returns ErrData naming the first asset with a missing value.
func (r *Returns) CheckComplete() error {
	for t, row := range r.Values {
		for i, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return domain.Errorf(domain.ErrData, "missing return for %s on %s", r.Assets[i], r.Dates[t].Format("2006-01-02"))
			}
		}
	}
	return nil
}

// CheckBenchmarkComplete returns ErrData when benchmark returns are absent or have gaps.
func (r *Returns) CheckBenchmarkComplete() error {
	if r.Benchmark == nil {
		return domain.Errorf(domain.ErrData, "no benchmark series")
	}
	for t, v := range r.Benchmark {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return domain.Errorf(domain.ErrData, "missing benchmark return on %s", r.Dates[t].Format("2006-01-02"))
		}
	}
	return nil
}

func simpleReturn(prev, next float64) float64 {
	if math.IsNaN(prev) || math.IsNaN(next) || prev <= 0 {
		return math.NaN()
	}
	return next/prev - 1
}

func seriesReturns(values []float64) []float64 {
	out := make([]float64, len(values)-1)
	for t := range out {
		out[t] = simpleReturn(values[t], values[t+1])
	}
	return out
}
