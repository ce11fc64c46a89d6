package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/marketdata"
	"github.com/aristath/allocator/internal/modules/allocation"
	"github.com/aristath/allocator/internal/modules/backtest"
	"github.com/aristath/allocator/internal/recorder"
	"github.com/aristath/allocator/internal/scheduler"
)

type stubJob struct {
	name string
	err  error
}

func (j stubJob) Name() string { return j.name }
func (j stubJob) Run(context.Context) error { return j.err }

type stubRunner struct {
	ran []string
}

func (r *stubRunner) RunNow(job scheduler.Job) error {
	r.ran = append(r.ran, job.Name())
	return job.Run(context.Background())
}

func (r *stubRunner) Next(name string) (time.Time, bool) {
	if name == "decision" {
		return time.Date(2026, 1, 2, 16, 30, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

func newTestServer(t *testing.T, runner *stubRunner) *Server {
	s, _ := newTestServerWithStore(t, runner)
	return s
}

func newTestServerWithStore(t *testing.T, runner *stubRunner) (*Server, *recorder.Memory) {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)

	pipeline, err := allocation.NewPipeline(allocation.DefaultConfig(), nil, log)
	require.NoError(t, err)
	store := recorder.NewMemory(0)
	source := marketdata.StaticSource{}

	return New(Config{
		Log:       log,
		Port:      0,
		DevMode:   true,
		DataDir:   t.TempDir(),
		Limits:    domain.DefaultRiskLimits(),
		Decisions: allocation.NewService(pipeline, source, store, allocation.ServiceOptions{}, log),
		Source:    source,
		Backtest:  backtest.DefaultConfig(),
		Recorder:  store,
		Scheduler: runner,
		Jobs: []scheduler.Job{
			stubJob{name: "decision"},
			stubJob{name: "backtest", err: errors.New("no prices")},
		},
	}), store
}

func serve(s *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_Health(t *testing.T) {
	s, store := newTestServerWithStore(t, &stubRunner{})

	w := serve(s, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "allocator", body["service"])
	assert.Equal(t, "memory", body["results"])
	assert.Nil(t, body["last_decision"])
	assert.Equal(t, "2026-01-02T16:30:00Z", body["next_decision"])

	decided := time.Date(2026, 1, 2, 16, 30, 5, 0, time.UTC)
	require.NoError(t, store.SaveDecision(context.Background(), domain.NewDecision("d-7", decided, domain.Allocation{
		Assets:  []string{"AAPL", "MSFT"},
		Weights: []float64{0.3, 0.65},
		Cash:    0.05,
	}, "bl")))

	w = serve(s, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var withDecision struct {
		Status       string `json:"status"`
		LastDecision struct {
			ID        string    `json:"id"`
			Timestamp time.Time `json:"timestamp"`
			Strategy  string    `json:"source_strategy"`
			Assets    int       `json:"assets"`
		} `json:"last_decision"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&withDecision))
	assert.Equal(t, "healthy", withDecision.Status)
	assert.Equal(t, "d-7", withDecision.LastDecision.ID)
	assert.True(t, decided.Equal(withDecision.LastDecision.Timestamp))
	assert.Equal(t, "bl", withDecision.LastDecision.Strategy)
	assert.Equal(t, 2, withDecision.LastDecision.Assets)
}

func TestServer_ModuleRoutes(t *testing.T) {
	s := newTestServer(t, &stubRunner{})

	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/api/risk/limits").Code)
	assert.Equal(t, http.StatusNotFound, serve(s, http.MethodGet, "/api/decision/latest").Code)
	assert.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/api/backtest/runs").Code)

	// No prices loaded
	assert.Equal(t, http.StatusFailedDependency, serve(s, http.MethodPost, "/api/decision/").Code)
}

func TestServer_SystemStatus(t *testing.T) {
	s := newTestServer(t, &stubRunner{})

	w := serve(s, http.MethodGet, "/api/system/status")
	require.Equal(t, http.StatusOK, w.Code)

	var resp SystemStatusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Nil(t, resp.Database)
	assert.GreaterOrEqual(t, resp.UptimeSeconds, 0.0)
}

func TestServer_Jobs(t *testing.T) {
	runner := &stubRunner{}
	s := newTestServer(t, runner)

	w := serve(s, http.MethodGet, "/api/system/jobs")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []JobInfo `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "backtest", resp.Data[0].Name)
	assert.Empty(t, resp.Data[0].NextRun)
	assert.Equal(t, "decision", resp.Data[1].Name)
	assert.Equal(t, "2026-01-02T16:30:00Z", resp.Data[1].NextRun)

	assert.Equal(t, http.StatusOK, serve(s, http.MethodPost, "/api/system/jobs/decision").Code)
	assert.Equal(t, http.StatusInternalServerError, serve(s, http.MethodPost, "/api/system/jobs/backtest").Code)
	assert.Equal(t, http.StatusNotFound, serve(s, http.MethodPost, "/api/system/jobs/unknown").Code)
	assert.Equal(t, []string{"decision", "backtest"}, runner.ran)
}
