// Package allocation runs the decision pipeline: covariance, prior, views,
// posterior, allocator and risk limits.
package allocation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/marketdata"
	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/aristath/allocator/internal/modules/risk"
	"github.com/aristath/allocator/internal/modules/views"
	"github.com/aristath/allocator/internal/utils"
)

// StrategyBlackLitterman is the source strategy name stamped on pipeline decisions.
const StrategyBlackLitterman = "bl"

// Config parameterises one pipeline.
type Config struct {
	Tau            float64
	PeriodsPerYear int
	ConditionLimit float64
	Prior          optimization.PriorConfig
	Allocator      optimization.AllocatorConfig
	Limits         domain.RiskLimits
}

// DefaultConfig returns the production parameters.
func DefaultConfig() Config {
	return Config{
		Tau:            0.05,
		PeriodsPerYear: 252,
		ConditionLimit: optimization.DefaultConditionLimit,
		Prior: optimization.PriorConfig{
			Mode:           optimization.PriorEquilibrium,
			RiskAversion:   2.5,
			PeriodsPerYear: 252,
		},
		Allocator: optimization.AllocatorConfig{
			Mode:         optimization.ModeMeanVariance,
			RiskAversion: 2.5,
			LongOnly:     true,
		},
		Limits: domain.DefaultRiskLimits(),
	}
}

// Validate checks the parameters that no component validates on its own.
func (c Config) Validate() error {
	if c.Tau <= 0 {
		return domain.Errorf(domain.ErrConfig, "tau must be positive, got %v", c.Tau)
	}
	if c.PeriodsPerYear <= 0 {
		return domain.Errorf(domain.ErrConfig, "periods per year must be positive, got %d", c.PeriodsPerYear)
	}
	if _, err := optimization.ParsePriorMode(string(c.Prior.Mode)); err != nil {
		return err
	}
	if c.Prior.Mode == optimization.PriorEquilibrium && c.Prior.RiskAversion <= 0 {
		return domain.Errorf(domain.ErrConfig, "risk aversion must be positive, got %v", c.Prior.RiskAversion)
	}
	if _, err := optimization.ParseAllocatorMode(string(c.Allocator.Mode)); err != nil {
		return err
	}
	return c.Limits.Validate()
}

// Input is what a single decision is made from.
type Input struct {
	// History holds prices up to and including the decision date.
	History *marketdata.Frame
	// MarketCaps feeds the equilibrium prior; missing caps are filled.
	MarketCaps map[string]float64
	// Views replaces the configured view source when non-nil.
	Views domain.ViewSet
}

// Outcome carries the decision and the intermediate quantities behind it.
type Outcome struct {
	Decision      domain.Decision
	Raw           domain.Allocation
	Final         domain.Allocation
	Adjustment    risk.Adjustment
	Prior         []float64
	PosteriorMean []float64
	Shrinkage     float64
	Views         domain.ViewSet
	Warnings      []error
}

// Pipeline produces one decision at a time. It is stateless between calls.
type Pipeline struct {
	cfg        Config
	generator  views.Generator
	estimator  *optimization.RiskModelBuilder
	prior      *optimization.ReturnsCalculator
	aggregator *optimization.ViewGenerator
	posterior  *optimization.BlackLittermanOptimizer
	allocator  optimization.Allocator
	gatekeeper *risk.Gatekeeper
	log        zerolog.Logger

	now   func() time.Time
	newID func() string
}

// NewPipeline wires the components. A nil generator means no views.
func NewPipeline(cfg Config, generator views.Generator, log zerolog.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if generator == nil {
		generator = views.NoViews{}
	}
	cfg.Prior.PeriodsPerYear = cfg.PeriodsPerYear
	if cfg.Allocator.ConditionLimit <= 0 {
		cfg.Allocator.ConditionLimit = cfg.ConditionLimit
	}

	gatekeeper, err := risk.NewGatekeeper(cfg.Limits, log)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:        cfg,
		generator:  generator,
		estimator:  optimization.NewRiskModelBuilder(cfg.PeriodsPerYear, log),
		prior:      optimization.NewReturnsCalculator(cfg.Prior, log),
		aggregator: optimization.NewViewGenerator(cfg.Tau, log),
		posterior:  optimization.NewBlackLittermanOptimizer(cfg.Tau, cfg.ConditionLimit, log),
		allocator:  optimization.NewMVOptimizer(cfg.Allocator, log),
		gatekeeper: gatekeeper,
		log:        log.With().Str("component", "pipeline").Logger(),
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
	}, nil
}

// Config returns the pipeline parameters.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Decide runs the full chain on the given history.
func (p *Pipeline) Decide(ctx context.Context, in Input) (*Outcome, error) {
	defer utils.OperationTimer("decide", p.log)()

	if in.History == nil {
		return nil, domain.Errorf(domain.ErrData, "no price history")
	}
	if err := in.History.Validate(); err != nil {
		return nil, err
	}

	returns := in.History.Returns()
	if returns.Len() < 2 {
		return nil, domain.Errorf(domain.ErrData, "need at least 2 return periods, have %d", returns.Len())
	}
	if err := returns.CheckComplete(); err != nil {
		return nil, err
	}
	assets := in.History.Assets
	out := &Outcome{}

	est, err := p.estimator.Estimate(assets, returns.Values)
	if err != nil {
		return nil, err
	}
	out.Shrinkage = est.Shrinkage

	pi, err := p.prior.CalculatePrior(assets, returns.Values, est.Sigma, in.MarketCaps)
	if err != nil {
		return nil, err
	}
	out.Prior = vecValues(pi)

	viewSet, err := p.collectViews(ctx, in)
	if err != nil {
		if !domain.IsRecoverable(err) {
			return nil, err
		}
		p.log.Warn().Err(err).Str("source", p.generator.Name()).Msg("View source failed, continuing without views")
		out.Warnings = append(out.Warnings, err)
	}

	valid, rejected := optimization.FilterValid(assets, viewSet)
	for _, rerr := range rejected {
		p.log.Warn().Err(rerr).Msg("Discarding invalid view")
	}
	out.Warnings = append(out.Warnings, rejected...)

	vm, err := p.aggregator.CreateViewMatrices(assets, valid, est.Sigma)
	if err != nil {
		return nil, err
	}
	out.Views = vm.Views

	post, err := p.posterior.BlendViewsWithEquilibrium(pi, est.Sigma, vm)
	if err != nil {
		return nil, err
	}
	out.PosteriorMean = vecValues(post.Mean)
	out.Warnings = append(out.Warnings, post.Warnings...)

	raw, err := p.allocator.Optimize(assets, post.Mean, post.Cov)
	if err != nil {
		return nil, err
	}
	out.Raw = raw.Allocation
	out.Warnings = append(out.Warnings, raw.Warnings...)

	final, err := p.gatekeeper.Apply(raw.Allocation)
	if err != nil {
		return nil, err
	}
	out.Final = final.Allocation
	out.Adjustment = final.Adjustment

	out.Decision = domain.NewDecision(p.newID(), p.now(), final.Allocation, StrategyBlackLitterman)
	for _, w := range out.Warnings {
		out.Decision.Warnings = append(out.Decision.Warnings, w.Error())
	}

	p.log.Info().
		Str("decision_id", out.Decision.ID).
		Int("assets", len(assets)).
		Int("views", vm.Len()).
		Float64("shrinkage", est.Shrinkage).
		Float64("cash", final.Allocation.Cash).
		Int("warnings", len(out.Warnings)).
		Msg("Decision made")

	return out, nil
}

func (p *Pipeline) collectViews(ctx context.Context, in Input) (domain.ViewSet, error) {
	if in.Views != nil {
		return in.Views, nil
	}
	mc := views.MarketContext{
		AsOf:           in.History.Dates[len(in.History.Dates)-1],
		History:        in.History,
		PeriodsPerYear: p.cfg.PeriodsPerYear,
	}
	vs, err := p.generator.Generate(ctx, mc)
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return nil, err
	}
	return vs, err
}

func vecValues(v mat.Vector) []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}
