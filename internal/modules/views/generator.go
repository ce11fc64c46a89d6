// Package views produces investor views for the Black-Litterman blend from
// pluggable sources.
package views

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/marketdata"
)

// Source names accepted by New.
const (
	SourceNone     = "none"
	SourceManual   = "manual"
	SourceFile     = "file"
	SourceMomentum = "momentum"
	SourceML       = "ml" // alias of momentum
	SourceLLM      = "llm"
)

// MarketContext is everything a view source may look at. History must end at
// AsOf; sources never see later prices.
type MarketContext struct {
	AsOf           time.Time
	History        *marketdata.Frame
	PeriodsPerYear int
}

// Assets is the investable universe.
func (mc MarketContext) Assets() []string {
	if mc.History == nil {
		return nil
	}
	return mc.History.Assets
}

// LatestPrices returns the last finite price per asset.
func (mc MarketContext) LatestPrices() map[string]float64 {
	out := make(map[string]float64)
	if mc.History == nil {
		return out
	}
	for i, asset := range mc.History.Assets {
		for t := len(mc.History.Prices) - 1; t >= 0; t-- {
			if p := mc.History.Prices[t][i]; !math.IsNaN(p) {
				out[asset] = p
				break
			}
		}
	}
	return out
}

// Generator produces a view set for a market context.
type Generator interface {
	Name() string
	Generate(ctx context.Context, mc MarketContext) (domain.ViewSet, error)
}

// Config selects and parameterises a view source.
type Config struct {
	Source      string
	File        string
	Portfolio   string
	OpenAIKey   string
	OpenAIModel string
	Manual      domain.ViewSet
}

// New resolves a source name to a generator.
func New(cfg Config, log zerolog.Logger) (Generator, error) {
	switch cfg.Source {
	case "", SourceNone:
		return NoViews{}, nil
	case SourceManual:
		return NewManualGenerator(cfg.Manual, log), nil
	case SourceFile:
		if cfg.File == "" {
			return nil, domain.Errorf(domain.ErrConfig, "file view source requires a views file")
		}
		return NewFileGenerator(cfg.File, cfg.Portfolio, log), nil
	case SourceMomentum, SourceML:
		return NewMomentumGenerator(log), nil
	case SourceLLM:
		if cfg.OpenAIKey == "" {
			return nil, domain.Errorf(domain.ErrConfig, "llm view source requires an OpenAI API key")
		}
		return NewLLMGenerator(NewOpenAICompleter(cfg.OpenAIKey, cfg.OpenAIModel), log), nil
	default:
		return nil, domain.Errorf(domain.ErrConfig, "unknown view source %q", cfg.Source)
	}
}

// NoViews always returns an empty set, which makes the posterior equal the prior.
type NoViews struct{}

// Name implements Generator.
func (NoViews) Name() string { return SourceNone }

// Generate implements Generator.
func (NoViews) Generate(context.Context, MarketContext) (domain.ViewSet, error) {
	return nil, nil
}

// keepKnown drops views that reference assets outside the universe.
func keepKnown(views domain.ViewSet, assets []string, log zerolog.Logger) domain.ViewSet {
	universe := make(map[string]struct{}, len(assets))
	for _, a := range assets {
		universe[a] = struct{}{}
	}

	out := make(domain.ViewSet, 0, len(views))
	for _, v := range views {
		var missing []string
		for _, a := range v.Assets {
			if _, ok := universe[a]; !ok {
				missing = append(missing, a)
			}
		}
		if len(missing) > 0 {
			log.Warn().Strs("missing", missing).Str("description", v.Description).Msg("View skipped, assets not in market data")
			continue
		}
		out = append(out, v)
	}
	return out
}
