// Package recorder archives decisions and backtest runs.
package recorder

import (
	"context"
	"errors"
	"time"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/modules/backtest"
)

// Recorder stores results. LatestDecision returns nil when nothing is stored;
// LoadNAV and LoadAllocations return ErrNotFound for unknown runs.
type Recorder interface {
	SaveDecision(ctx context.Context, d domain.Decision) error
	LatestDecision(ctx context.Context) (*domain.Decision, error)
	SaveRun(ctx context.Context, run *backtest.Run) error
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)
	LoadNAV(ctx context.Context, runID, strategy string) ([]backtest.NAVPoint, error)
	LoadAllocations(ctx context.Context, runID, strategy string) ([]backtest.AllocationRecord, error)
	Close() error
}

// StrategySummary is one strategy line of a stored run.
type StrategySummary struct {
	Strategy string           `json:"strategy" msgpack:"strategy"`
	FinalNAV float64          `json:"final_nav" msgpack:"final_nav"`
	Skipped  int              `json:"skipped_windows" msgpack:"skipped"`
	Metrics  backtest.Metrics `json:"metrics" msgpack:"metrics"`
}

// RunSummary is a stored backtest run without its paths.
type RunSummary struct {
	ID          string            `json:"id"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
	TrainWindow int               `json:"train_window"`
	TestWindow  int               `json:"test_window"`
	Windows     int               `json:"windows"`
	RiskEnabled bool              `json:"risk_enabled"`
	Strategies  []StrategySummary `json:"strategies"`
}

// Summarize reduces a run to its summary.
func Summarize(run *backtest.Run) RunSummary {
	s := RunSummary{
		ID:          run.ID,
		StartedAt:   run.StartedAt.UTC(),
		FinishedAt:  run.FinishedAt.UTC(),
		TrainWindow: run.Config.TrainWindow,
		TestWindow:  run.Config.TestWindow,
		Windows:     len(run.Windows),
		RiskEnabled: run.Config.RiskEnabled,
	}
	for _, res := range run.Results {
		s.Strategies = append(s.Strategies, StrategySummary{
			Strategy: res.Strategy,
			FinalNAV: res.FinalNAV(),
			Skipped:  len(res.Skipped),
			Metrics:  res.Metrics,
		})
	}
	return s
}

// ErrNotFound is returned for unknown run IDs or strategies.
var ErrNotFound = errors.New("not found")

// DefaultListLimit caps ListRuns when the caller passes no limit.
const DefaultListLimit = 20
