package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/allocator/internal/database"
	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/marketdata"
	"github.com/aristath/allocator/internal/modules/allocation"
	"github.com/aristath/allocator/internal/modules/backtest"
	"github.com/aristath/allocator/internal/recorder"
)

var testLog = zerolog.New(nil).Level(zerolog.Disabled)

type countingJob struct {
	name string
	runs atomic.Int32
	err  error
	ctx  context.Context
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	j.ctx = ctx
	return j.err
}

func TestScheduler_AddJob(t *testing.T) {
	s := New(time.Minute, testLog)

	require.NoError(t, s.AddJob("*/5 * * * *", &countingJob{name: "five-field"}))
	require.NoError(t, s.AddJob("0 30 16 * * MON-FRI", &countingJob{name: "six-field"}))
	require.NoError(t, s.AddJob("@every 1h", &countingJob{name: "descriptor"}))

	err := s.AddJob("@every 1h", &countingJob{name: "descriptor"})
	assert.True(t, errors.Is(err, domain.ErrConfig))

	err = s.AddJob("not a schedule", &countingJob{name: "broken"})
	assert.True(t, errors.Is(err, domain.ErrConfig))

	_, ok := s.Next("broken")
	assert.False(t, ok)
}

func TestScheduler_NextAfterStart(t *testing.T) {
	s := New(0, testLog)
	require.NoError(t, s.AddJob("@every 1h", &countingJob{name: "hourly"}))

	s.Start()
	defer s.Stop()

	next, ok := s.Next("hourly")
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Hour), next, 5*time.Second)
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(time.Minute, testLog)

	job := &countingJob{name: "once"}
	require.NoError(t, s.RunNow(job))
	assert.Equal(t, int32(1), job.runs.Load())

	deadline, ok := job.ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)

	failing := &countingJob{name: "failing", err: errors.New("boom")}
	err := s.RunNow(failing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failing: boom")
}

func TestScheduler_StopCancelsJobs(t *testing.T) {
	s := New(0, testLog)
	job := &countingJob{name: "cancelled"}
	require.NoError(t, s.RunNow(job))

	s.Stop()
	assert.Error(t, job.ctx.Err())
}

type stubDecider struct {
	calls int
	err   error
}

func (d *stubDecider) Decide(_ context.Context, views domain.ViewSet) (*allocation.Outcome, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return &allocation.Outcome{Decision: domain.Decision{ID: "d1", CashWeight: 0.05}}, nil
}

func TestDecisionJob(t *testing.T) {
	d := &stubDecider{}
	job := NewDecisionJob(d, testLog)

	assert.Equal(t, "decision", job.Name())
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, d.calls)

	d.err = domain.Errorf(domain.ErrData, "no prices")
	assert.True(t, errors.Is(job.Run(context.Background()), domain.ErrData))
}

func flatFrame(days int) *marketdata.Frame {
	f := &marketdata.Frame{Assets: []string{"A", "B"}}
	d := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	for i := 0; i < days; i++ {
		f.Dates = append(f.Dates, d.AddDate(0, 0, i))
		f.Prices = append(f.Prices, []float64{100 + float64(i), 100 + float64(i%3)})
	}
	return f
}

type stubExporter struct {
	runs []string
}

func (e *stubExporter) Export(_ context.Context, run *backtest.Run) ([]string, error) {
	e.runs = append(e.runs, run.ID)
	return []string{"mem://" + run.ID}, nil
}

func TestBacktestJob(t *testing.T) {
	cfg := backtest.DefaultConfig()
	cfg.TrainWindow = 20
	cfg.TestWindow = 5
	cfg.Strategies = []string{backtest.StrategyEqualWeight}
	cfg.RiskEnabled = false

	store := recorder.NewMemory(0)
	exporter := &stubExporter{}
	job := NewBacktestJob(marketdata.StaticSource{Frame: flatFrame(60)}, cfg, nil, store, exporter, testLog)

	assert.Equal(t, "backtest", job.Name())
	require.NoError(t, job.Run(context.Background()))

	runs, err := store.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, []string{runs[0].ID}, exporter.runs)
}

func TestBacktestJob_MissingData(t *testing.T) {
	cfg := backtest.DefaultConfig()
	job := NewBacktestJob(marketdata.StaticSource{}, cfg, nil, recorder.NewMemory(0), nil, testLog)

	err := job.Run(context.Background())
	assert.True(t, errors.Is(err, domain.ErrData))
}

func TestCheckDatabaseJob(t *testing.T) {
	require.NoError(t, NewCheckDatabaseJob(nil, testLog).Run(context.Background()))

	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "results.db")})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())

	job := NewCheckDatabaseJob(db, testLog)
	assert.Equal(t, "check_database", job.Name())
	assert.NoError(t, job.Run(context.Background()))
}
