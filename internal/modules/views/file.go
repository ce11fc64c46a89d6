package views

import (
	"context"
	"errors"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/aristath/allocator/internal/domain"
)

// DefaultPortfolio is the key read when no portfolio name is configured.
const DefaultPortfolio = "default"

// FileGenerator reads views keyed by portfolio name from a YAML or JSON file:
//
//	mag_seven:
//	  - assets: [NVDA]
//	    expected_return: 0.30
//	    confidence: 0.85
type FileGenerator struct {
	path      string
	portfolio string
	log       zerolog.Logger
}

// NewFileGenerator creates a file-backed generator.
func NewFileGenerator(path, portfolio string, log zerolog.Logger) *FileGenerator {
	if portfolio == "" {
		portfolio = DefaultPortfolio
	}
	return &FileGenerator{
		path:      path,
		portfolio: portfolio,
		log:       log.With().Str("component", "file_views").Logger(),
	}
}

// Name implements Generator.
func (g *FileGenerator) Name() string { return SourceFile }

// Generate re-reads the file on every call so edits apply to the next decision.
func (g *FileGenerator) Generate(_ context.Context, mc MarketContext) (domain.ViewSet, error) {
	data, err := os.ReadFile(g.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.Errorf(domain.ErrView, "view file not found: %s", g.path)
		}
		return nil, domain.Errorf(domain.ErrView, "failed to read view file %s: %v", g.path, err)
	}

	var byPortfolio map[string]domain.ViewSet
	if err := yaml.Unmarshal(data, &byPortfolio); err != nil {
		return nil, domain.Errorf(domain.ErrView, "failed to parse view file %s: %v", g.path, err)
	}

	raw, ok := byPortfolio[g.portfolio]
	if !ok {
		g.log.Warn().Str("portfolio", g.portfolio).Str("file", g.path).Msg("No views for portfolio")
		return nil, nil
	}

	out := keepKnown(raw, mc.Assets(), g.log)
	for i := range out {
		if out[i].Source == "" {
			out[i].Source = SourceFile
		}
	}

	g.log.Info().Str("portfolio", g.portfolio).Int("views", len(out)).Msg("Loaded views from file")
	return out, nil
}
