package views

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/domain"
)

// ManualGenerator serves caller-supplied views.
type ManualGenerator struct {
	views domain.ViewSet
	log   zerolog.Logger
}

// NewManualGenerator creates a generator over a fixed view set.
func NewManualGenerator(views domain.ViewSet, log zerolog.Logger) *ManualGenerator {
	return &ManualGenerator{
		views: append(domain.ViewSet(nil), views...),
		log:   log.With().Str("component", "manual_views").Logger(),
	}
}

// Name implements Generator.
func (g *ManualGenerator) Name() string { return SourceManual }

// Generate returns the views whose assets are all in the universe.
func (g *ManualGenerator) Generate(_ context.Context, mc MarketContext) (domain.ViewSet, error) {
	out := keepKnown(g.views, mc.Assets(), g.log)
	for i := range out {
		if out[i].Source == "" {
			out[i].Source = SourceManual
		}
	}
	g.log.Debug().Int("views", len(out)).Msg("Generated manual views")
	return out, nil
}
