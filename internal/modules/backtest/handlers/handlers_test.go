package handlers

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/allocator/internal/marketdata"
	"github.com/aristath/allocator/internal/modules/backtest"
	"github.com/aristath/allocator/internal/recorder"
	"github.com/aristath/allocator/internal/reporting"
)

func frame(days int) *marketdata.Frame {
	rng := rand.New(rand.NewSource(3))
	f := &marketdata.Frame{
		Assets:    []string{"A", "B", "C", "D", "E"},
		Benchmark: &marketdata.Series{Name: "SPY"},
	}
	row := []float64{10, 20, 30, 40, 50}
	bench := 100.0
	start := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	for d := 0; d < days; d++ {
		next := make([]float64, len(row))
		for i := range row {
			next[i] = row[i] * (1 + 0.0003 + 0.01*rng.NormFloat64())
		}
		row = next
		bench *= 1 + 0.0002 + 0.008*rng.NormFloat64()
		f.Dates = append(f.Dates, start.AddDate(0, 0, d))
		f.Prices = append(f.Prices, row)
		f.Benchmark.Values = append(f.Benchmark.Values, bench)
	}
	return f
}

type fixture struct {
	router *chi.Mux
	store  *recorder.Memory
	dir    string
}

func newFixture(t *testing.T, f *marketdata.Frame) fixture {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)

	base := backtest.DefaultConfig()
	base.TrainWindow = 60
	base.TestWindow = 30
	base.Strategies = []string{backtest.StrategyEqualWeight, backtest.StrategyBenchmark}

	dir := t.TempDir()
	store := recorder.NewMemory(10)
	handler := NewHandler(marketdata.StaticSource{Frame: f}, base, nil, store, reporting.NewFileExporter(dir, log), log)

	router := chi.NewRouter()
	handler.RegisterRoutes(router)
	return fixture{router: router, store: store, dir: dir}
}

type runBody struct {
	Data struct {
		ID      string `json:"id"`
		Results []struct {
			Strategy string              `json:"strategy"`
			NAV      []backtest.NAVPoint `json:"nav"`
		} `json:"results"`
	} `json:"data"`
	Metadata struct {
		Reports []string `json:"reports"`
	} `json:"metadata"`
}

func TestHandleRun_ThenList(t *testing.T) {
	fx := newFixture(t, frame(200))

	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/backtest/",
		strings.NewReader(`{"strategies":["equal_weight","hrp"],"test_window":20,"export":true}`)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body runBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Data.Results, 2)
	assert.Equal(t, "hrp", body.Data.Results[1].Strategy)
	assert.Len(t, body.Data.Results[0].NAV, 200-1-60+1)
	assert.Contains(t, body.Metadata.Reports, filepath.Join(fx.dir, body.Data.ID, reporting.NAVFile))

	rec = httptest.NewRecorder()
	fx.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/backtest/runs?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Data []recorder.RunSummary `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, body.Data.ID, list.Data[0].ID)
	assert.Equal(t, 20, list.Data[0].TestWindow)

	rec = httptest.NewRecorder()
	fx.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/backtest/runs/"+body.Data.ID+"/nav/hrp", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	fx.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/backtest/runs/"+body.Data.ID+"/nav/bl", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	fx.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/backtest/runs/"+body.Data.ID+"/allocations/equal_weight", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var held struct {
		Data []backtest.AllocationRecord `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&held))
	require.NotEmpty(t, held.Data)
	assert.Equal(t, 0, held.Data[0].Window)
	require.NotEmpty(t, held.Data[0].Weights)
	assert.Equal(t, "A", held.Data[0].Weights[0].Asset)
	assert.Greater(t, held.Data[0].Weights[0].Weight, 0.0)

	rec = httptest.NewRecorder()
	fx.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/backtest/runs/"+body.Data.ID+"/allocations/bl", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleRun_Errors(t *testing.T) {
	tests := []struct {
		name   string
		frame  *marketdata.Frame
		body   string
		status int
	}{
		{"bad json", frame(200), "{", http.StatusBadRequest},
		{"unknown strategy", frame(200), `{"strategies":["oracle"]}`, http.StatusBadRequest},
		{"bad window", frame(200), `{"test_window":0}`, http.StatusBadRequest},
		{"too short", frame(40), "", http.StatusFailedDependency},
		{"no data", nil, "", http.StatusFailedDependency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newFixture(t, tt.frame).router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/backtest/", strings.NewReader(tt.body)))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestHandleListRuns_BadLimit(t *testing.T) {
	rec := httptest.NewRecorder()
	newFixture(t, frame(200)).router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/backtest/runs?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunRequest_Apply(t *testing.T) {
	years, off := 3, false
	cfg := RunRequest{HistoryYears: &years, RiskEnabled: &off}.Apply(backtest.DefaultConfig())
	assert.Equal(t, 3, cfg.HistoryYears)
	assert.False(t, cfg.RiskEnabled)
	assert.Equal(t, 252, cfg.TrainWindow)
}
