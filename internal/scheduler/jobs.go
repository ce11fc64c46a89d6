package scheduler

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/database"
	"github.com/aristath/allocator/internal/domain"
	"github.com/aristath/allocator/internal/marketdata"
	"github.com/aristath/allocator/internal/modules/allocation"
	"github.com/aristath/allocator/internal/modules/backtest"
	"github.com/aristath/allocator/internal/modules/views"
	"github.com/aristath/allocator/internal/recorder"
	"github.com/aristath/allocator/internal/reporting"
)

// Job names.
const (
	DecisionJobName      = "decision"
	BacktestJobName      = "backtest"
	CheckDatabaseJobName = "check_database"
)

// Decider produces and stores an allocation decision.
type Decider interface {
	Decide(ctx context.Context, views domain.ViewSet) (*allocation.Outcome, error)
}

// DecisionJob makes a decision from the configured view source.
type DecisionJob struct {
	decider Decider
	log     zerolog.Logger
}

// NewDecisionJob creates a new DecisionJob
func NewDecisionJob(decider Decider, log zerolog.Logger) *DecisionJob {
	return &DecisionJob{
		decider: decider,
		log:     log.With().Str("job", "decision").Logger(),
	}
}

// Name returns the job name
func (j *DecisionJob) Name() string {
	return DecisionJobName
}

// Run executes the decision job
func (j *DecisionJob) Run(ctx context.Context) error {
	out, err := j.decider.Decide(ctx, nil)
	if err != nil {
		return err
	}
	j.log.Info().
		Str("decision_id", out.Decision.ID).
		Float64("cash", out.Decision.CashWeight).
		Int("assets", len(out.Decision.AssetWeights)).
		Int("warnings", len(out.Warnings)).
		Msg("Scheduled decision made")
	return nil
}

// BacktestJob runs a walk-forward backtest with the configured settings,
// stores it and exports the report when an exporter is set.
type BacktestJob struct {
	source    marketdata.Source
	cfg       backtest.Config
	generator views.Generator
	store     recorder.Recorder
	exporter  reporting.Exporter
	log       zerolog.Logger
}

// NewBacktestJob creates a new BacktestJob. exporter may be nil.
func NewBacktestJob(
	source marketdata.Source,
	cfg backtest.Config,
	generator views.Generator,
	store recorder.Recorder,
	exporter reporting.Exporter,
	log zerolog.Logger,
) *BacktestJob {
	return &BacktestJob{
		source:    source,
		cfg:       cfg,
		generator: generator,
		store:     store,
		exporter:  exporter,
		log:       log.With().Str("job", "backtest").Logger(),
	}
}

// Name returns the job name
func (j *BacktestJob) Name() string {
	return BacktestJobName
}

// Run executes the backtest job
func (j *BacktestJob) Run(ctx context.Context) error {
	bt, err := backtest.New(j.cfg, j.generator, j.log)
	if err != nil {
		return err
	}
	frame, err := j.source.Load(ctx)
	if err != nil {
		return err
	}
	run, err := bt.Run(ctx, frame)
	if err != nil {
		return err
	}
	if err := j.store.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("failed to store run %s: %w", run.ID, err)
	}
	if j.exporter != nil {
		reports, err := j.exporter.Export(ctx, run)
		if err != nil {
			return fmt.Errorf("failed to export run %s: %w", run.ID, err)
		}
		j.log.Info().Strs("reports", reports).Str("run_id", run.ID).Msg("Backtest report exported")
	}
	return nil
}

// CheckDatabaseJob runs an integrity check and a passive WAL checkpoint on the results database.
type CheckDatabaseJob struct {
	db  *database.DB
	log zerolog.Logger
}

// NewCheckDatabaseJob creates a new CheckDatabaseJob. A nil db makes the job a no-op.
func NewCheckDatabaseJob(db *database.DB, log zerolog.Logger) *CheckDatabaseJob {
	return &CheckDatabaseJob{
		db:  db,
		log: log.With().Str("job", "check_database").Logger(),
	}
}

// Name returns the job name
func (j *CheckDatabaseJob) Name() string {
	return CheckDatabaseJobName
}

// Run executes the check database job
func (j *CheckDatabaseJob) Run(ctx context.Context) error {
	if j.db == nil {
		return nil
	}
	if err := j.db.HealthCheck(ctx); err != nil {
		return err
	}

	// PRAGMA wal_checkpoint returns: busy, log, checkpointed
	var busy, walFrames, checkpointed int
	err := j.db.Conn().QueryRowContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &walFrames, &checkpointed)
	if err != nil {
		j.log.Warn().Err(err).Str("database", j.db.Name()).Msg("Failed to check WAL checkpoint")
		return nil
	}

	if walFrames > 1000 {
		j.log.Warn().
			Str("database", j.db.Name()).
			Int("wal_frames", walFrames).
			Int("checkpointed", checkpointed).
			Msg("WAL file is large, checkpoint may be needed")
	} else {
		j.log.Debug().
			Str("database", j.db.Name()).
			Int("wal_frames", walFrames).
			Msg("Database check OK")
	}
	return nil
}
