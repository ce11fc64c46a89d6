package backtest

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// WorkerPool runs indexed jobs on a bounded number of goroutines.
type WorkerPool struct {
	numWorkers int
}

// NewWorkerPool creates a pool. Non-positive sizes default to 10 workers.
func NewWorkerPool(numWorkers int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = 10
	}
	return &WorkerPool{numWorkers: numWorkers}
}

// Size is the worker limit.
func (wp *WorkerPool) Size() int {
	return wp.numWorkers
}

// Run calls job(ctx, i) for i in [0, n). Jobs write to their own slot by index;
// the first error cancels ctx for the remaining jobs and is returned.
func (wp *WorkerPool) Run(ctx context.Context, n int, job func(ctx context.Context, i int) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(wp.numWorkers)

	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return job(ctx, i)
		})
	}
	return g.Wait()
}
