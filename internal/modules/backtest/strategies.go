package backtest

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/marketdata"
	"github.com/aristath/allocator/internal/modules/allocation"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/aristath/allocator/internal/modules/risk"
	"github.com/aristath/allocator/internal/modules/views"
)

// Strategy names accepted in Config.Strategies.
const (
	StrategyBL          = "bl"
	StrategyMarkowitz   = "markowitz"
	StrategyEqualWeight = "equal_weight"
	StrategyBenchmark   = "benchmark"
	StrategyHRP         = "hrp"
)

// BenchmarkAsset is the pseudo-asset held by the benchmark strategy.
const BenchmarkAsset = "BENCHMARK"

// DefaultStrategies is the comparison set used when none is configured.
var DefaultStrategies = []string{StrategyBL, StrategyMarkowitz, StrategyEqualWeight, StrategyBenchmark}

func knownStrategy(name string) bool {
	switch name {
	case StrategyBL, StrategyMarkowitz, StrategyEqualWeight, StrategyBenchmark, StrategyHRP:
		return true
	}
	return false
}

// Strategy produces final weights from a training slice. Implementations must
// only read the history they are given.
type Strategy interface {
	Name() string
	Allocate(ctx context.Context, history *marketdata.Frame) (domain.Allocation, []string, error)
}

// StrategyDeps is what strategies are built from.
type StrategyDeps struct {
	Pipeline  allocation.Config
	Generator views.Generator
	Log       zerolog.Logger
}

// NewStrategy builds a named strategy.
func NewStrategy(name string, deps StrategyDeps) (Strategy, error) {
	switch name {
	case StrategyBL:
		p, err := allocation.NewPipeline(deps.Pipeline, deps.Generator, deps.Log)
		if err != nil {
			return nil, err
		}
		return &blStrategy{pipeline: p}, nil
	case StrategyBenchmark:
		return benchmarkStrategy{}, nil
	}

	g, err := risk.NewGatekeeper(deps.Pipeline.Limits, deps.Log)
	if err != nil {
		return nil, err
	}
	ppy := deps.Pipeline.PeriodsPerYear
	switch name {
	case StrategyMarkowitz:
		cfg := deps.Pipeline.Allocator
		if cfg.ConditionLimit <= 0 {
			cfg.ConditionLimit = deps.Pipeline.ConditionLimit
		}
		return &markowitzStrategy{
			estimator:      optimization.NewRiskModelBuilder(ppy, deps.Log),
			allocator:      optimization.NewMVOptimizer(cfg, deps.Log),
			gatekeeper:     g,
			periodsPerYear: ppy,
		}, nil
	case StrategyEqualWeight:
		return &equalWeightStrategy{gatekeeper: g}, nil
	case StrategyHRP:
		return &hrpStrategy{
			estimator:  optimization.NewRiskModelBuilder(ppy, deps.Log),
			allocator:  optimization.NewHRPOptimizer(optimization.LinkageSingle, deps.Log),
			gatekeeper: g,
		}, nil
	default:
		return nil, domain.Errorf(domain.ErrConfig, "unknown strategy %q", name)
	}
}

// completeReturns returns the training returns, or ErrData if any are missing.
func completeReturns(history *marketdata.Frame) (*marketdata.Returns, error) {
	r := history.Returns()
	if r.Len() < 2 {
		return nil, domain.Errorf(domain.ErrData, "need at least 2 return periods, have %d", r.Len())
	}
	if err := r.CheckComplete(); err != nil {
		return nil, err
	}
	return r, nil
}

func warningStrings(errs []error) []string {
	if len(errs) == 0 {
		return nil
	}
	out := make([]string, len(errs))
	for i, err := range errs {
		out[i] = err.Error()
	}
	return out
}

// blStrategy runs the full decision pipeline.
type blStrategy struct {
	pipeline *allocation.Pipeline
}

func (s *blStrategy) Name() string { return StrategyBL }

func (s *blStrategy) Allocate(ctx context.Context, history *marketdata.Frame) (domain.Allocation, []string, error) {
	out, err := s.pipeline.Decide(ctx, allocation.Input{History: history})
	if err != nil {
		return domain.Allocation{}, nil, err
	}
	return out.Final, out.Decision.Warnings, nil
}

// markowitzStrategy optimises on the historical mean with no views.
type markowitzStrategy struct {
	estimator      *optimization.RiskModelBuilder
	allocator      *optimization.MVOptimizer
	gatekeeper     *risk.Gatekeeper
	periodsPerYear int
}

func (s *markowitzStrategy) Name() string { return StrategyMarkowitz }

func (s *markowitzStrategy) Allocate(_ context.Context, history *marketdata.Frame) (domain.Allocation, []string, error) {
	r, err := completeReturns(history)
	if err != nil {
		return domain.Allocation{}, nil, err
	}
	est, err := s.estimator.Estimate(history.Assets, r.Values)
	if err != nil {
		return domain.Allocation{}, nil, err
	}
	mu := optimization.HistoricalMeanReturns(r.Values, s.periodsPerYear)
	raw, err := s.allocator.Optimize(history.Assets, mu, est.Sigma)
	if err != nil {
		return domain.Allocation{}, nil, err
	}
	final, err := s.gatekeeper.Apply(raw.Allocation)
	if err != nil {
		return domain.Allocation{}, nil, err
	}
	return final.Allocation, warningStrings(raw.Warnings), nil
}

// equalWeightStrategy holds 1/N before limits.
type equalWeightStrategy struct {
	gatekeeper *risk.Gatekeeper
}

func (s *equalWeightStrategy) Name() string { return StrategyEqualWeight }

func (s *equalWeightStrategy) Allocate(_ context.Context, history *marketdata.Frame) (domain.Allocation, []string, error) {
	if len(history.Assets) == 0 {
		return domain.Allocation{}, nil, domain.Errorf(domain.ErrData, "no assets")
	}
	final, err := s.gatekeeper.Apply(optimization.EqualWeights(history.Assets))
	if err != nil {
		return domain.Allocation{}, nil, err
	}
	return final.Allocation, nil, nil
}

// hrpStrategy allocates by hierarchical risk parity on the shrunk covariance.
type hrpStrategy struct {
	estimator  *optimization.RiskModelBuilder
	allocator  *optimization.HRPOptimizer
	gatekeeper *risk.Gatekeeper
}

func (s *hrpStrategy) Name() string { return StrategyHRP }

func (s *hrpStrategy) Allocate(_ context.Context, history *marketdata.Frame) (domain.Allocation, []string, error) {
	r, err := completeReturns(history)
	if err != nil {
		return domain.Allocation{}, nil, err
	}
	est, err := s.estimator.Estimate(history.Assets, r.Values)
	if err != nil {
		return domain.Allocation{}, nil, err
	}
	raw, err := s.allocator.Optimize(history.Assets, nil, est.Sigma)
	if err != nil {
		return domain.Allocation{}, nil, err
	}
	final, err := s.gatekeeper.Apply(raw.Allocation)
	if err != nil {
		return domain.Allocation{}, nil, err
	}
	return final.Allocation, nil, nil
}

// benchmarkStrategy is fully invested in the benchmark and ignores limits.
type benchmarkStrategy struct{}

func (benchmarkStrategy) Name() string { return StrategyBenchmark }

func (benchmarkStrategy) Allocate(_ context.Context, history *marketdata.Frame) (domain.Allocation, []string, error) {
	if history.Benchmark == nil {
		return domain.Allocation{}, nil, domain.Errorf(domain.ErrData, "no benchmark series")
	}
	return domain.NewAllocation([]string{BenchmarkAsset}, []float64{1}), nil, nil
}

// BuildStrategies resolves names in order, rejecting duplicates.
func BuildStrategies(names []string, deps StrategyDeps) ([]Strategy, error) {
	if len(names) == 0 {
		names = DefaultStrategies
	}
	seen := make(map[string]bool, len(names))
	out := make([]Strategy, 0, len(names))
	for _, name := range names {
		if seen[name] {
			return nil, domain.Errorf(domain.ErrConfig, "strategy %q listed twice", name)
		}
		seen[name] = true
		s, err := NewStrategy(name, deps)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", name, err)
		}
		out = append(out, s)
	}
	return out, nil
}
