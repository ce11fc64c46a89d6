package recorder

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/allocator/internal/database"
	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/backtest"
)

func newSQLite(t *testing.T) *SQLite {
	t.Helper()
	db, err := database.New(database.Config{Path: "file::memory:", Profile: database.ProfileLedger})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	rec := NewSQLite(db, zerolog.Nop())
	t.Cleanup(func() { _ = rec.Close() })
	return rec
}

func recorders(t *testing.T) map[string]Recorder {
	return map[string]Recorder{
		"memory": NewMemory(3),
		"sqlite": newSQLite(t),
	}
}

func decisionAt(id string, ts time.Time) domain.Decision {
	d := domain.NewDecision(id, ts, domain.Allocation{
		Assets:  []string{"ZZZ", "AAA", "MMM"},
		Weights: []float64{0.3, 0.25, 0.4},
		Cash:    0.05,
	}, "bl")
	d.Warnings = []string{"numerical error: ridge applied"}
	return d
}

func runAt(id string, started time.Time) *backtest.Run {
	sharpe := 1.25
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	cfg := backtest.DefaultConfig()
	cfg.Strategies = []string{"markowitz", "bl"}
	return &backtest.Run{
		ID:         id,
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
		Config:     cfg,
		Windows:    make([]backtest.Window, 4),
		Results: []*backtest.Result{
			{
				Strategy: "markowitz",
				NAV:      []backtest.NAVPoint{{Date: day, NAV: 1}, {Date: day.AddDate(0, 0, 1), NAV: 1.01}},
				Allocations: []backtest.AllocationRecord{{
					Window:  0,
					Date:    day,
					Weights: domain.OrderedWeights{{Asset: "MSFT", Weight: 0.6}, {Asset: "AAPL", Weight: 0.3}},
					Cash:    0.1,
				}},
				Metrics: backtest.Metrics{TotalReturn: 0.01, Sharpe: &sharpe, Periods: 1},
			},
			{
				Strategy: "bl",
				NAV:      []backtest.NAVPoint{{Date: day, NAV: 1}, {Date: day.AddDate(0, 0, 1), NAV: 0.99}},
				Metrics:  backtest.Metrics{TotalReturn: -0.01, Periods: 1, Skipped: 1},
				Skipped:  []backtest.SkippedWindow{{Window: 2, Kind: "data"}},
			},
		},
	}
}

func TestRecorder_Decisions(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 6, 3, 15, 30, 0, 0, time.UTC)

	for name, rec := range recorders(t) {
		t.Run(name, func(t *testing.T) {
			latest, err := rec.LatestDecision(ctx)
			require.NoError(t, err)
			assert.Nil(t, latest)

			require.NoError(t, rec.SaveDecision(ctx, decisionAt("d1", base)))
			require.NoError(t, rec.SaveDecision(ctx, decisionAt("d2", base.Add(time.Hour))))

			latest, err = rec.LatestDecision(ctx)
			require.NoError(t, err)
			require.NotNil(t, latest)

			want := decisionAt("d2", base.Add(time.Hour))
			assert.Equal(t, want.ID, latest.ID)
			assert.True(t, want.Timestamp.Equal(latest.Timestamp))
			assert.Equal(t, want.AssetWeights, latest.AssetWeights)
			assert.Equal(t, want.CashWeight, latest.CashWeight)
			assert.Equal(t, want.Warnings, latest.Warnings)
			assert.InDelta(t, 1.0, latest.Total(), domain.SumTolerance)
		})
	}
}

func TestRecorder_Runs(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

	for name, rec := range recorders(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 4; i++ {
				require.NoError(t, rec.SaveRun(ctx, runAt(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Hour))))
			}

			runs, err := rec.ListRuns(ctx, 2)
			require.NoError(t, err)
			require.Len(t, runs, 2)
			assert.Equal(t, "run-3", runs[0].ID)
			assert.Equal(t, "run-2", runs[1].ID)

			r := runs[0]
			assert.Equal(t, 4, r.Windows)
			assert.Equal(t, 252, r.TrainWindow)
			assert.True(t, r.RiskEnabled)
			require.Len(t, r.Strategies, 2)
			assert.Equal(t, "markowitz", r.Strategies[0].Strategy)
			assert.InDelta(t, 1.01, r.Strategies[0].FinalNAV, 1e-12)
			require.NotNil(t, r.Strategies[0].Metrics.Sharpe)
			assert.Equal(t, 1.25, *r.Strategies[0].Metrics.Sharpe)
			assert.Equal(t, "bl", r.Strategies[1].Strategy)
			assert.Equal(t, 1, r.Strategies[1].Skipped)
			assert.Nil(t, r.Strategies[1].Metrics.Sharpe)

			nav, err := rec.LoadNAV(ctx, "run-3", "bl")
			require.NoError(t, err)
			require.Len(t, nav, 2)
			assert.Equal(t, 0.99, nav[1].NAV)
			assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), nav[1].Date)

			_, err = rec.LoadNAV(ctx, "run-3", "hrp")
			assert.ErrorIs(t, err, ErrNotFound)

			held, err := rec.LoadAllocations(ctx, "run-3", "markowitz")
			require.NoError(t, err)
			require.Len(t, held, 1)
			assert.Equal(t, domain.OrderedWeights{{Asset: "MSFT", Weight: 0.6}, {Asset: "AAPL", Weight: 0.3}}, held[0].Weights)
			assert.Equal(t, 0.1, held[0].Cash)
			assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), held[0].Date)

			held, err = rec.LoadAllocations(ctx, "run-3", "bl")
			require.NoError(t, err)
			assert.Empty(t, held)

			_, err = rec.LoadAllocations(ctx, "run-9", "bl")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestMemory_EvictsOldRuns(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(2)
	for i := 0; i < 3; i++ {
		require.NoError(t, m.SaveRun(ctx, runAt(fmt.Sprintf("run-%d", i), time.Now())))
	}

	runs, err := m.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	_, err = m.LoadNAV(ctx, "run-0", "bl")
	assert.ErrorIs(t, err, ErrNotFound)
}
