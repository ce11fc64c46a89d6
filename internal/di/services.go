package di

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/config"
	"github.com/aristath/allocator/internal/marketdata"
	"github.com/aristath/allocator/internal/modules/allocation"
	"github.com/aristath/allocator/internal/modules/views"
	"github.com/aristath/allocator/internal/reporting"
)

// InitializeServices creates the price source, view generator, decision
// pipeline and report exporters.
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container == nil {
		return fmt.Errorf("container cannot be nil")
	}

	source := marketdata.NewCSVSource(
		cfg.Data.PricesCSV, cfg.Data.BenchmarkColumn, cfg.Data.RegimeColumn, log,
	)
	if len(cfg.Portfolio.Tickers) > 0 {
		source.Universe = cfg.Portfolio.Tickers
		log.Info().
			Str("portfolio", cfg.Portfolio.Name).
			Int("assets", len(source.Universe)).
			Msg("Selected portfolio universe")
	}
	container.Source = source

	generator, err := views.New(cfg.ViewsGeneratorConfig(), log)
	if err != nil {
		return fmt.Errorf("failed to create view generator: %w", err)
	}
	container.Generator = generator

	pipeline, err := allocation.NewPipeline(cfg.PipelineConfig(), generator, log)
	if err != nil {
		return fmt.Errorf("failed to create decision pipeline: %w", err)
	}
	container.Pipeline = pipeline
	container.Decisions = allocation.NewService(pipeline, container.Source, container.Recorder, allocation.ServiceOptions{
		HistoryYears: cfg.Data.HistoryYears,
		MarketCaps:   cfg.Data.MarketCaps,
	}, log)

	var exporters reporting.Multi
	if cfg.Report.Dir != "" {
		exporters = append(exporters, reporting.NewFileExporter(cfg.Report.Dir, log))
	}
	if cfg.Report.S3Enabled() {
		s3Exporter, err := reporting.NewS3Exporter(ctx, cfg.Report.S3, log)
		if err != nil {
			return fmt.Errorf("failed to create S3 exporter: %w", err)
		}
		exporters = append(exporters, s3Exporter)
	}
	if len(exporters) > 0 {
		container.Exporter = exporters
	}

	log.Info().
		Str("prices", cfg.Data.PricesCSV).
		Str("views", generator.Name()).
		Int("exporters", len(exporters)).
		Msg("Services initialized")
	return nil
}
