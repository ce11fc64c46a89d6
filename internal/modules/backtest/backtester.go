// Package backtest replays the allocation strategies over rolling historical
// windows without lookahead and compares the resulting NAV paths.
package backtest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/marketdata"
	"github.com/aristath/allocator/internal/modules/allocation"
	"github.com/aristath/allocator/internal/modules/views"
	"github.com/aristath/allocator/internal/utils"
)

// Config is one backtest run. Lengths are in return periods.
type Config struct {
	HistoryYears int               `json:"history_years"`
	TrainWindow  int               `json:"train_window"`
	TestWindow   int               `json:"test_window"`
	Strategies   []string          `json:"strategies"`
	RiskEnabled  bool              `json:"risk_enabled"`
	Workers      int               `json:"workers"`
	RiskFreeRate float64           `json:"risk_free_rate"`
	Pipeline     allocation.Config `json:"-"`
}

// DefaultConfig trains on a year and holds for a month.
func DefaultConfig() Config {
	return Config{
		TrainWindow: 252,
		TestWindow:  21,
		Strategies:  append([]string(nil), DefaultStrategies...),
		RiskEnabled: true,
		Workers:     4,
		Pipeline:    allocation.DefaultConfig(),
	}
}

// Validate checks the run-level parameters.
func (c Config) Validate() error {
	if c.HistoryYears < 0 {
		return domain.Errorf(domain.ErrConfig, "history years must not be negative, got %d", c.HistoryYears)
	}
	if c.TrainWindow < 2 {
		return domain.Errorf(domain.ErrConfig, "train window must be at least 2 periods, got %d", c.TrainWindow)
	}
	if c.TestWindow < 1 {
		return domain.Errorf(domain.ErrConfig, "test window must be positive, got %d", c.TestWindow)
	}
	for _, name := range c.Strategies {
		if !knownStrategy(name) {
			return domain.Errorf(domain.ErrConfig, "unknown strategy %q", name)
		}
	}
	return c.pipeline().Validate()
}

func (c Config) pipeline() allocation.Config {
	p := c.Pipeline
	p.Limits.Enabled = c.RiskEnabled
	return p
}

// NAVPoint is the strategy value at the close of a date.
type NAVPoint struct {
	Date time.Time `json:"date"`
	NAV  float64   `json:"nav"`
}

// AllocationRecord is the allocation held through one window.
type AllocationRecord struct {
	Window   int                   `json:"window"`
	Date     time.Time             `json:"date"` // decision date
	Weights  domain.OrderedWeights `json:"weights"`
	Cash     float64               `json:"cash"`
	Warnings []string              `json:"warnings,omitempty"`
}

// SkippedWindow is a window left out of a strategy's results.
type SkippedWindow struct {
	Window int       `json:"window"`
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
	Kind   string    `json:"kind"`
	Reason string    `json:"reason"`
}

// Result is one strategy's path and summary.
type Result struct {
	Strategy    string             `json:"strategy"`
	NAV         []NAVPoint         `json:"nav"`
	Returns     []float64          `json:"-"`
	Allocations []AllocationRecord `json:"allocations"`
	Metrics     Metrics            `json:"metrics"`
	Regimes     []RegimeStats      `json:"regimes,omitempty"`
	Skipped     []SkippedWindow    `json:"skipped,omitempty"`
}

// FinalNAV is the last NAV, or 1 when nothing was held.
func (r *Result) FinalNAV() float64 {
	if len(r.NAV) == 0 {
		return 1
	}
	return r.NAV[len(r.NAV)-1].NAV
}

// Run is the outcome of one backtest.
type Run struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Config     Config    `json:"config"`
	Assets     []string  `json:"assets"`
	Windows    []Window  `json:"windows"`
	Results    []*Result `json:"results"`
}

// Result returns the named strategy result, or nil.
func (r *Run) Result(strategy string) *Result {
	for _, res := range r.Results {
		if res.Strategy == strategy {
			return res
		}
	}
	return nil
}

type windowOutcome struct {
	alloc    domain.Allocation
	returns  []float64
	warnings []string
	err      error
}

// Backtester runs walk-forward comparisons.
type Backtester struct {
	cfg       Config
	generator views.Generator
	pool      *WorkerPool
	log       zerolog.Logger

	now   func() time.Time
	newID func() string
}

// New validates cfg and creates a backtester. The generator feeds the bl
// strategy; nil means no views.
func New(cfg Config, generator views.Generator, log zerolog.Logger) (*Backtester, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Strategies) == 0 {
		cfg.Strategies = append([]string(nil), DefaultStrategies...)
	}
	return &Backtester{
		cfg:       cfg,
		generator: generator,
		pool:      NewWorkerPool(cfg.Workers),
		log:       log.With().Str("component", "backtester").Logger(),
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}, nil
}

// Config returns the run configuration.
func (b *Backtester) Config() Config {
	return b.cfg
}

// Run replays every strategy over every window of frame. Windows whose
// decision or test data fails are skipped and listed; only configuration
// problems, infeasible limits and cancellation abort the run.
func (b *Backtester) Run(ctx context.Context, frame *marketdata.Frame) (*Run, error) {
	defer utils.OperationTimer("backtest", b.log)()

	if frame == nil {
		return nil, domain.Errorf(domain.ErrData, "no price history")
	}
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	frame = frame.TrimToYears(b.cfg.HistoryYears)
	returns := frame.Returns()

	windows, err := BuildWindows(returns.Dates, b.cfg.TrainWindow, b.cfg.TestWindow)
	if err != nil {
		return nil, err
	}

	pcfg := b.cfg.pipeline()
	if pcfg.Limits.Enabled && !pcfg.Limits.Feasible(len(frame.Assets)) {
		return nil, domain.Errorf(domain.ErrConstraintInfeasible,
			"%d assets × hard cap %.4f cannot absorb %.4f invested", len(frame.Assets), pcfg.Limits.HardCap, 1-pcfg.Limits.CashBuffer)
	}
	strategies, err := BuildStrategies(b.cfg.Strategies, StrategyDeps{Pipeline: pcfg, Generator: b.generator, Log: b.log})
	if err != nil {
		return nil, err
	}
	for _, s := range strategies {
		if s.Name() == StrategyBenchmark && frame.Benchmark == nil {
			return nil, domain.Errorf(domain.ErrConfig, "benchmark strategy requested but the data has no benchmark series")
		}
	}

	run := &Run{
		ID:        b.newID(),
		StartedAt: b.now().UTC(),
		Config:    b.cfg,
		Assets:    frame.Assets,
		Windows:   windows,
	}
	b.log.Info().
		Str("run_id", run.ID).
		Int("windows", len(windows)).
		Int("strategies", len(strategies)).
		Int("workers", b.pool.Size()).
		Msg("Starting backtest")

	numStrategies := len(strategies)
	outcomes := make([]windowOutcome, len(windows)*numStrategies)
	err = b.pool.Run(ctx, len(outcomes), func(ctx context.Context, i int) error {
		w := windows[i/numStrategies]
		s := strategies[i%numStrategies]

		// Price rows [TrainStart, TrainEnd] produce return rows [TrainStart, TrainEnd).
		history := frame.Slice(w.TrainStart, w.TrainEnd+1)
		alloc, warnings, err := s.Allocate(ctx, history)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			outcomes[i] = windowOutcome{err: err}
			return nil
		}
		daily, err := holdWindow(alloc, returns.Rows(w.TestStart, w.TestEnd))
		outcomes[i] = windowOutcome{alloc: alloc, returns: daily, warnings: warnings, err: err}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var levels []float64
	if returns.Regime != nil {
		levels = FillForward(returns.Regime)
	}
	periodsPerYear := pcfg.PeriodsPerYear

	for k, s := range strategies {
		res := &Result{Strategy: s.Name()}
		var regimeLevels []float64
		nav := []float64{1}

		for wi, w := range windows {
			o := outcomes[wi*numStrategies+k]
			if o.err != nil {
				b.log.Warn().
					Err(o.err).
					Str("strategy", s.Name()).
					Int("window", w.Index).
					Time("from", w.From).
					Msg("Skipping window")
				res.Skipped = append(res.Skipped, SkippedWindow{
					Window: w.Index, From: w.From, To: w.To,
					Kind: domain.Kind(o.err), Reason: o.err.Error(),
				})
				continue
			}

			if len(res.NAV) == 0 {
				res.NAV = append(res.NAV, NAVPoint{Date: returns.Dates[w.TestStart-1], NAV: 1})
			}
			decision := domain.NewDecision("", returns.Dates[w.TestStart-1], o.alloc, s.Name())
			res.Allocations = append(res.Allocations, AllocationRecord{
				Window:   w.Index,
				Date:     decision.Timestamp,
				Weights:  decision.AssetWeights,
				Cash:     decision.CashWeight,
				Warnings: o.warnings,
			})
			for t, r := range o.returns {
				value := nav[len(nav)-1] * (1 + r)
				nav = append(nav, value)
				res.NAV = append(res.NAV, NAVPoint{Date: returns.Dates[w.TestStart+t], NAV: value})
				res.Returns = append(res.Returns, r)
				if levels != nil {
					regimeLevels = append(regimeLevels, levels[w.TestStart+t])
				}
			}
		}

		res.Metrics = ComputeMetrics(nav, res.Returns, b.cfg.RiskFreeRate, periodsPerYear)
		res.Metrics.Windows = len(res.Allocations)
		res.Metrics.Skipped = len(res.Skipped)
		if regimeLevels != nil {
			res.Regimes = AttributeRegimes(res.Returns, regimeLevels, b.cfg.RiskFreeRate, periodsPerYear)
		}
		run.Results = append(run.Results, res)

		b.log.Info().
			Str("run_id", run.ID).
			Str("strategy", s.Name()).
			Float64("final_nav", res.FinalNAV()).
			Int("skipped", len(res.Skipped)).
			Msg("Strategy finished")
	}

	run.FinishedAt = b.now().UTC()
	return run, nil
}
