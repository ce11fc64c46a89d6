package marketdata

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/domain"
)

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05", "02/01/2006"}

// CSVSource reads a wide price file: a date column followed by one column per
// asset. Empty cells are missing prices. The benchmark and regime columns, when
// named, are split off into their own series. A non-empty Universe keeps only
// those assets, in that order.
type CSVSource struct {
	Path            string
	BenchmarkColumn string
	RegimeColumn    string
	Universe        []string
	log             zerolog.Logger
}

// NewCSVSource creates a CSV price source.
func NewCSVSource(path, benchmarkColumn, regimeColumn string, log zerolog.Logger) *CSVSource {
	return &CSVSource{
		Path:            path,
		BenchmarkColumn: benchmarkColumn,
		RegimeColumn:    regimeColumn,
		log:             log.With().Str("component", "csv_source").Logger(),
	}
}

// Load reads and validates the file.
func (s *CSVSource) Load(ctx context.Context) (*Frame, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, domain.Errorf(domain.ErrData, "failed to open price file %s: %v", s.Path, err)
	}
	defer f.Close()

	frame, err := ReadCSV(f, s.BenchmarkColumn, s.RegimeColumn)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.Path, err)
	}
	if len(s.Universe) > 0 {
		if frame, err = frame.Select(s.Universe); err != nil {
			return nil, fmt.Errorf("failed to select universe from %s: %w", s.Path, err)
		}
	}

	s.log.Debug().
		Int("dates", frame.Len()).
		Int("assets", len(frame.Assets)).
		Bool("benchmark", frame.Benchmark != nil).
		Bool("regime", frame.Regime != nil).
		Msg("Loaded price history")

	return frame, nil
}

// ReadCSV parses a wide price table. Rows may come in any order; they are
// sorted by date and duplicate dates are rejected.
func ReadCSV(r io.Reader, benchmarkColumn, regimeColumn string) (*Frame, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, domain.Errorf(domain.ErrData, "failed to read header: %v", err)
	}
	if len(header) < 2 {
		return nil, domain.Errorf(domain.ErrData, "header needs a date column and at least one asset")
	}

	benchCol, regimeCol := -1, -1
	var assets []string
	var assetCols []int
	for c, name := range header[1:] {
		name = strings.TrimSpace(name)
		col := c + 1
		switch {
		case benchmarkColumn != "" && name == benchmarkColumn:
			benchCol = col
		case regimeColumn != "" && name == regimeColumn:
			regimeCol = col
		default:
			assets = append(assets, name)
			assetCols = append(assetCols, col)
		}
	}

	type row struct {
		date   time.Time
		prices []float64
		bench  float64
		regime float64
	}
	var rows []row

	line := 1
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, domain.Errorf(domain.ErrData, "line %d: %v", line, err)
		}

		date, err := parseDate(rec[0])
		if err != nil {
			return nil, domain.Errorf(domain.ErrData, "line %d: %v", line, err)
		}

		rw := row{date: date, prices: make([]float64, len(assets)), bench: math.NaN(), regime: math.NaN()}
		for i, col := range assetCols {
			if rw.prices[i], err = parsePrice(rec, col); err != nil {
				return nil, domain.Errorf(domain.ErrData, "line %d, %s: %v", line, assets[i], err)
			}
		}
		if benchCol >= 0 {
			if rw.bench, err = parsePrice(rec, benchCol); err != nil {
				return nil, domain.Errorf(domain.ErrData, "line %d, %s: %v", line, benchmarkColumn, err)
			}
		}
		if regimeCol >= 0 {
			if rw.regime, err = parseLevel(rec, regimeCol); err != nil {
				return nil, domain.Errorf(domain.ErrData, "line %d, %s: %v", line, regimeColumn, err)
			}
		}
		rows = append(rows, rw)
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].date.Before(rows[j].date) })

	frame := &Frame{Assets: assets}
	if benchCol >= 0 {
		frame.Benchmark = &Series{Name: benchmarkColumn}
	}
	if regimeCol >= 0 {
		frame.Regime = &Series{Name: regimeColumn}
	}
	for i, rw := range rows {
		if i > 0 && rw.date.Equal(rows[i-1].date) {
			return nil, domain.Errorf(domain.ErrData, "duplicate date %s", rw.date.Format("2006-01-02"))
		}
		frame.Dates = append(frame.Dates, rw.date)
		frame.Prices = append(frame.Prices, rw.prices)
		if frame.Benchmark != nil {
			frame.Benchmark.Values = append(frame.Benchmark.Values, rw.bench)
		}
		if frame.Regime != nil {
			frame.Regime.Values = append(frame.Regime.Values, rw.regime)
		}
	}

	if err := frame.Validate(); err != nil {
		return nil, err
	}
	return frame, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

func parsePrice(rec []string, col int) (float64, error) {
	v, err := parseLevel(rec, col)
	if err != nil {
		return 0, err
	}
	if !math.IsNaN(v) && v <= 0 {
		return 0, fmt.Errorf("non-positive price %v", v)
	}
	return v, nil
}

func parseLevel(rec []string, col int) (float64, error) {
	if col >= len(rec) {
		return math.NaN(), nil
	}
	cell := strings.TrimSpace(rec[col])
	if cell == "" || strings.EqualFold(cell, "nan") || strings.EqualFold(cell, "null") {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(cell, 64)
}
