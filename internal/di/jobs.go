package di

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/config"
	"github.com/aristath/allocator/internal/scheduler"
)

// JobTimeout bounds a single scheduled run.
const JobTimeout = 30 * time.Minute

// RegisterJobs creates the scheduler and its jobs. Jobs with an empty
// schedule are still returned for manual triggering.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container == nil {
		return nil, fmt.Errorf("container cannot be nil")
	}

	container.Scheduler = scheduler.New(JobTimeout, log)

	jobs := &JobInstances{
		Decision: scheduler.NewDecisionJob(container.Decisions, log),
		Backtest: scheduler.NewBacktestJob(
			container.Source,
			cfg.BacktestConfig(),
			container.Generator,
			container.Recorder,
			container.Exporter,
			log,
		),
		CheckDatabase: scheduler.NewCheckDatabaseJob(container.ResultsDB, log),
	}

	schedules := []struct {
		spec string
		job  scheduler.Job
	}{
		{cfg.Schedule.Decision, jobs.Decision},
		{cfg.Schedule.Backtest, jobs.Backtest},
	}
	if container.ResultsDB != nil {
		schedules = append(schedules, struct {
			spec string
			job  scheduler.Job
		}{"@hourly", jobs.CheckDatabase})
	}

	for _, s := range schedules {
		if s.spec == "" {
			continue
		}
		if err := container.Scheduler.AddJob(s.spec, s.job); err != nil {
			return nil, fmt.Errorf("failed to register %s job: %w", s.job.Name(), err)
		}
	}

	return jobs, nil
}
