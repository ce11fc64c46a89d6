package allocation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/marketdata"
)

// DecisionStore persists decisions.
type DecisionStore interface {
	SaveDecision(ctx context.Context, d domain.Decision) error
	LatestDecision(ctx context.Context) (*domain.Decision, error)
}

// ServiceOptions are the data settings for production decisions.
type ServiceOptions struct {
	HistoryYears int
	MarketCaps   map[string]float64
}

// Service makes production decisions: load prices, decide, store.
type Service struct {
	pipeline *Pipeline
	source   marketdata.Source
	store    DecisionStore
	opts     ServiceOptions
	log      zerolog.Logger
}

// NewService creates a decision service.
func NewService(pipeline *Pipeline, source marketdata.Source, store DecisionStore, opts ServiceOptions, log zerolog.Logger) *Service {
	return &Service{
		pipeline: pipeline,
		source:   source,
		store:    store,
		opts:     opts,
		log:      log.With().Str("service", "decision").Logger(),
	}
}

// Decide runs the pipeline on the latest history. Non-nil views replace the
// configured view source for this call.
func (s *Service) Decide(ctx context.Context, views domain.ViewSet) (*Outcome, error) {
	frame, err := s.source.Load(ctx)
	if err != nil {
		return nil, err
	}
	frame = frame.TrimToYears(s.opts.HistoryYears)

	out, err := s.pipeline.Decide(ctx, Input{
		History:    frame,
		MarketCaps: s.opts.MarketCaps,
		Views:      views,
	})
	if err != nil {
		s.log.Error().Err(err).Str("kind", domain.Kind(err)).Msg("Decision failed")
		return nil, err
	}

	if err := s.store.SaveDecision(ctx, out.Decision); err != nil {
		return nil, fmt.Errorf("failed to store decision %s: %w", out.Decision.ID, err)
	}
	return out, nil
}

// Latest returns the most recent stored decision, or nil.
func (s *Service) Latest(ctx context.Context) (*domain.Decision, error) {
	return s.store.LatestDecision(ctx)
}
