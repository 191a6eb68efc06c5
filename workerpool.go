package cloudkvs

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultWorkers is the slot count of the process-wide worker pool.
const DefaultWorkers = 64

// WorkerPool bounds how many backend I/O tasks run at once across the whole process.
// Callers spawn their own goroutine and hold a slot for the duration of one backend call.
type WorkerPool struct {
	sem   *semaphore.Weighted
	size  int64
	inUse atomic.Int64
}

// NewWorkerPool returns a pool with size slots; size <= 0 means DefaultWorkers.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = DefaultWorkers
	}
	return &WorkerPool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: int64(size),
	}
}

var defaultPool atomic.Pointer[WorkerPool]

func init() {
	defaultPool.Store(NewWorkerPool(DefaultWorkers))
}

// DefaultWorkerPool returns the process-wide pool.
func DefaultWorkerPool() *WorkerPool {
	return defaultPool.Load()
}

// SetDefaultWorkerPool replaces the process-wide pool. Tasks already holding a slot of the
// old pool release it there.
func SetDefaultWorkerPool(p *WorkerPool) {
	if p != nil {
		defaultPool.Store(p)
	}
}

// Acquire blocks until a slot is free or ctx is done.
func (p *WorkerPool) Acquire(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.inUse.Add(1)
	return nil
}

// Release returns a slot taken by Acquire.
func (p *WorkerPool) Release() {
	p.inUse.Add(-1)
	p.sem.Release(1)
}

// Size is the slot count.
func (p *WorkerPool) Size() int {
	return int(p.size)
}

// InUse is the number of slots currently held.
func (p *WorkerPool) InUse() int {
	return int(p.inUse.Load())
}
