package cloudkvs

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// TaskRunner runs a batch of backend tasks and waits for all of them. Tasks may be bound
// to a WorkerPool so that batches share the process-wide concurrency limit.
type TaskRunner struct {
	eg   *errgroup.Group
	ctx  context.Context
	pool *WorkerPool
}

// NewTaskRunner creates a TaskRunner. maxThreadCount > 0 additionally limits the goroutines
// of this batch.
func NewTaskRunner(ctx context.Context, maxThreadCount int) *TaskRunner {
	eg, ctx2 := errgroup.WithContext(ctx)
	if maxThreadCount > 0 {
		eg.SetLimit(maxThreadCount)
	}
	return &TaskRunner{eg: eg, ctx: ctx2}
}

// WithPool makes every task hold a slot of pool while it runs.
func (tr *TaskRunner) WithPool(pool *WorkerPool) *TaskRunner {
	tr.pool = pool
	return tr
}

// GetContext returns the batch context, cancelled when a task returns an error.
func (tr *TaskRunner) GetContext() context.Context {
	return tr.ctx
}

// Go runs task in a new goroutine. With a pool, a task whose slot cannot be acquired
// before the batch context ends fails with the context error.
func (tr *TaskRunner) Go(task func() error) {
	if tr.pool == nil {
		tr.eg.Go(task)
		return
	}
	tr.eg.Go(func() error {
		if err := tr.pool.Acquire(tr.ctx); err != nil {
			return err
		}
		defer tr.pool.Release()
		return task()
	})
}

// Wait waits for all launched tasks and returns the first error, if any.
func (tr *TaskRunner) Wait() error {
	return tr.eg.Wait()
}
