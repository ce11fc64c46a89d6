// Package di wires the allocator's components from configuration.
package di

import (
	"github.com/aristath/allocator/internal/database"
	"github.com/aristath/allocator/internal/marketdata"
	"github.com/aristath/allocator/internal/modules/allocation"
	"github.com/aristath/allocator/internal/modules/views"
	"github.com/aristath/allocator/internal/recorder"
	"github.com/aristath/allocator/internal/reporting"
	"github.com/aristath/allocator/internal/scheduler"
)

// Container holds all dependencies for the application.
type Container struct {
	// ResultsDB is nil when results are kept in memory.
	ResultsDB *database.DB
	Recorder  recorder.Recorder

	Source    marketdata.Source
	Generator views.Generator
	Pipeline  *allocation.Pipeline
	Decisions *allocation.Service

	// Exporter is nil when no report target is configured.
	Exporter  reporting.Exporter
	Scheduler *scheduler.Scheduler
}

// Close releases the recorder, which owns the results database.
func (c *Container) Close() error {
	if c.Recorder == nil {
		return nil
	}
	return c.Recorder.Close()
}

// JobInstances holds the jobs available for scheduling and manual triggering.
type JobInstances struct {
	Decision      scheduler.Job
	Backtest      scheduler.Job
	CheckDatabase scheduler.Job
}

// All returns every job instance.
func (j *JobInstances) All() []scheduler.Job {
	return []scheduler.Job{j.Decision, j.Backtest, j.CheckDatabase}
}
