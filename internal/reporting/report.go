// Package reporting publishes backtest reports as a JSON summary plus wide
// NAV and allocation CSVs, to a local directory and/or an S3-compatible bucket.
package reporting

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aristath/allocator/internal/modules/backtest"
	"github.com/aristath/allocator/internal/recorder"
)

// File names inside a run's report.
const (
	SummaryFile     = "summary.json"
	NAVFile         = "nav.csv"
	AllocationsFile = "allocations.csv"
)

// Exporter publishes a run's report and returns where it went.
type Exporter interface {
	Export(ctx context.Context, run *backtest.Run) ([]string, error)
}

// Summary is the JSON report body.
type Summary struct {
	recorder.RunSummary
	Regimes     map[string][]backtest.RegimeStats      `json:"regimes,omitempty"`
	Skipped     map[string][]backtest.SkippedWindow    `json:"skipped,omitempty"`
	Allocations map[string][]backtest.AllocationRecord `json:"allocations"`
}

// Render builds the report files for run, keyed by file name.
func Render(run *backtest.Run) (map[string][]byte, error) {
	summary := Summary{
		RunSummary:  recorder.Summarize(run),
		Allocations: make(map[string][]backtest.AllocationRecord, len(run.Results)),
	}
	for _, res := range run.Results {
		summary.Allocations[res.Strategy] = append([]backtest.AllocationRecord{}, res.Allocations...)
		if len(res.Regimes) > 0 {
			if summary.Regimes == nil {
				summary.Regimes = map[string][]backtest.RegimeStats{}
			}
			summary.Regimes[res.Strategy] = res.Regimes
		}
		if len(res.Skipped) > 0 {
			if summary.Skipped == nil {
				summary.Skipped = map[string][]backtest.SkippedWindow{}
			}
			summary.Skipped[res.Strategy] = res.Skipped
		}
	}

	summaryJSON, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode summary: %w", err)
	}
	navCSV, err := renderNAV(run)
	if err != nil {
		return nil, fmt.Errorf("failed to encode nav: %w", err)
	}
	allocCSV, err := renderAllocations(run)
	if err != nil {
		return nil, fmt.Errorf("failed to encode allocations: %w", err)
	}
	return map[string][]byte{SummaryFile: summaryJSON, NAVFile: navCSV, AllocationsFile: allocCSV}, nil
}

// renderNAV writes one row per date and one column per strategy. A strategy
// without a point on a date leaves the cell empty.
func renderNAV(run *backtest.Run) ([]byte, error) {
	byDate := map[time.Time][]string{}
	for k, res := range run.Results {
		for _, p := range res.NAV {
			row, ok := byDate[p.Date]
			if !ok {
				row = make([]string, len(run.Results))
				byDate[p.Date] = row
			}
			row[k] = strconv.FormatFloat(p.NAV, 'f', 8, 64)
		}
	}
	dates := make([]time.Time, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"date"}
	for _, res := range run.Results {
		header = append(header, res.Strategy)
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, d := range dates {
		if err := w.Write(append([]string{d.Format("2006-01-02")}, byDate[d]...)); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// renderAllocations writes one row per strategy and window: the decision
// date, the cash weight and one column per asset. Columns follow the run
// universe, then any pseudo-asset such as the benchmark in first-seen order.
// Assets a decision did not name are written as zero.
func renderAllocations(run *backtest.Run) ([]byte, error) {
	assets := append([]string(nil), run.Assets...)
	column := make(map[string]int, len(assets))
	for i, a := range assets {
		column[a] = i
	}
	for _, res := range run.Results {
		for _, a := range res.Allocations {
			for _, aw := range a.Weights {
				if _, ok := column[aw.Asset]; !ok {
					column[aw.Asset] = len(assets)
					assets = append(assets, aw.Asset)
				}
			}
		}
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(append([]string{"strategy", "window", "date", "cash"}, assets...)); err != nil {
		return nil, err
	}
	for _, res := range run.Results {
		for _, a := range res.Allocations {
			weights := make([]float64, len(assets))
			for _, aw := range a.Weights {
				weights[column[aw.Asset]] = aw.Weight
			}
			row := []string{
				res.Strategy,
				strconv.Itoa(a.Window),
				a.Date.Format("2006-01-02"),
				strconv.FormatFloat(a.Cash, 'f', 6, 64),
			}
			for _, v := range weights {
				row = append(row, strconv.FormatFloat(v, 'f', 6, 64))
			}
			if err := w.Write(row); err != nil {
				return nil, err
			}
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// Multi exports to every exporter and stops at the first failure.
type Multi []Exporter

// Export implements Exporter.
func (m Multi) Export(ctx context.Context, run *backtest.Run) ([]string, error) {
	var locations []string
	for _, e := range m {
		locs, err := e.Export(ctx, run)
		if err != nil {
			return locations, err
		}
		locations = append(locations, locs...)
	}
	return locations, nil
}
