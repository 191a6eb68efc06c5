// Package parallelio fans backend puts and gets out to a set of stores in bounded-time,
// retried rounds, tracking which positions already succeeded.
package parallelio

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"github.com/sharedcode/cloudkvs"
	"github.com/sharedcode/cloudkvs/kvs"
	"github.com/sharedcode/cloudkvs/metrics"
)

const (
	opPut    = "put"
	opGet    = "get"
	opDelete = "delete"
)

// Orchestrator runs fan-out calls on a worker pool. It is stateless between calls and safe
// for concurrent use.
type Orchestrator struct {
	opts    cloudkvs.Options
	pool    *cloudkvs.WorkerPool
	metrics *metrics.Metrics
}

// New returns an orchestrator using the process-wide worker pool. Zero option fields take
// their defaults.
func New(opts cloudkvs.Options) *Orchestrator {
	return &Orchestrator{
		opts:    opts.WithDefaults(),
		pool:    cloudkvs.DefaultWorkerPool(),
		metrics: metrics.Get(),
	}
}

// WithPool returns a copy of o running its tasks on pool.
func (o *Orchestrator) WithPool(pool *cloudkvs.WorkerPool) *Orchestrator {
	c := *o
	if pool != nil {
		c.pool = pool
	}
	return &c
}

// Options returns the effective options.
func (o *Orchestrator) Options() cloudkvs.Options {
	return o.opts
}

type result struct {
	index int
	ok    bool
	value []byte
}

// FanOutPut writes blocks[i] to stores[i] for every store not marked failing. A round waits
// at most WriteTimeout for its tasks; later rounds only re-issue to positions that have not
// succeeded yet. It returns the number of stores that acknowledged the write.
func (o *Orchestrator) FanOutPut(ctx context.Context, stores []kvs.Store, key string, blocks [][]byte) int {
	if len(blocks) != len(stores) {
		log.Error("fan-out put called with mismatched blocks", "key", key, "stores", len(stores), "blocks", len(blocks))
		return 0
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make([]bool, len(stores))
	eligible := eligibleCount(stores)
	succeeded := 0

	cloudkvs.RetryRounds(ctx, o.opts.Retries, o.opts.RetryBackoff, func(ctx context.Context, attempt int) bool {
		o.metrics.FanOutRounds.WithLabelValues(opPut).Inc()
		results := make(chan result, len(stores))
		pending := 0
		for i, s := range stores {
			if done[i] || kvs.IsFailing(s) {
				continue
			}
			pending++
			go o.put(ctx, i, s, key, blocks[i], results)
		}
		succeeded += o.collect(ctx, results, pending, o.opts.WriteTimeout, len(stores), func(r result) {
			done[r.index] = true
		})
		if succeeded < eligible {
			log.Debug("fan-out put round incomplete", "key", key, "round", attempt, "succeeded", succeeded, "eligible", eligible)
			return false
		}
		return true
	})
	return succeeded
}

// FanOutGet reads key from stores until want of them returned a value, placing each value
// at the index of the store that produced it. It returns the number of values read and
// the results (nil where nothing was read). Stores still running when the call returns
// are cancelled.
func (o *Orchestrator) FanOutGet(ctx context.Context, stores []kvs.Store, key string, want int) (int, [][]byte) {
	values := make([][]byte, len(stores))
	if want > len(stores) {
		want = len(stores)
	}
	if want <= 0 {
		return 0, values
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make([]bool, len(stores))
	succeeded := 0

	cloudkvs.RetryRounds(ctx, o.opts.Retries, o.opts.RetryBackoff, func(ctx context.Context, attempt int) bool {
		o.metrics.FanOutRounds.WithLabelValues(opGet).Inc()
		results := make(chan result, len(stores))
		pending := 0
		for i, s := range stores {
			if done[i] || kvs.IsFailing(s) {
				continue
			}
			pending++
			go o.get(ctx, i, s, key, results)
		}
		if pending == 0 {
			// Nothing left to ask; more rounds cannot help.
			return true
		}
		succeeded += o.collect(ctx, results, pending, o.opts.ReadTimeout, want-succeeded, func(r result) {
			done[r.index] = true
			values[r.index] = r.value
		})
		if succeeded < want {
			log.Debug("fan-out get round incomplete", "key", key, "round", attempt, "succeeded", succeeded, "want", want)
			return false
		}
		return true
	})
	return succeeded, values
}

// collect drains up to pending task results, or fewer once need successes arrived, within
// timeout. It returns the number of successes handed to onSuccess.
func (o *Orchestrator) collect(ctx context.Context, results <-chan result, pending int, timeout time.Duration, need int, onSuccess func(result)) int {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	succeeded := 0
	for ; pending > 0 && succeeded < need; pending-- {
		select {
		case r := <-results:
			if r.ok {
				onSuccess(r)
				succeeded++
			}
		case <-timer.C:
			log.Warn("fan-out round timed out", "timeout", timeout, "outstanding", pending)
			return succeeded
		case <-ctx.Done():
			return succeeded
		}
	}
	return succeeded
}

func (o *Orchestrator) put(ctx context.Context, index int, s kvs.Store, key string, block []byte, results chan<- result) {
	r := result{index: index}
	defer func() { results <- r }()

	if err := o.pool.Acquire(ctx); err != nil {
		return
	}
	defer o.pool.Release()

	h := s.Health()
	start := cloudkvs.Now()
	err := s.Put(ctx, key, block)
	elapsed := cloudkvs.Now().Sub(start)
	if err != nil {
		o.fail(ctx, s, opPut, key, err, elapsed)
		return
	}
	h.LogWriteLatency(elapsed)
	o.metrics.ObserveBackend(s.ID(), opPut, metrics.StatusOK, elapsed)
	o.metrics.SetBackendLatency(s.ID(), h.ReadLatency(), h.WriteLatency())
	r.ok = true
}

func (o *Orchestrator) get(ctx context.Context, index int, s kvs.Store, key string, results chan<- result) {
	r := result{index: index}
	defer func() { results <- r }()

	if err := o.pool.Acquire(ctx); err != nil {
		return
	}
	defer o.pool.Release()

	h := s.Health()
	start := cloudkvs.Now()
	found, value, err := s.Get(ctx, key)
	elapsed := cloudkvs.Now().Sub(start)
	if err != nil {
		o.fail(ctx, s, opGet, key, err, elapsed)
		return
	}
	if !found {
		// A missing key is a miss, not a sign of an unhealthy backend.
		o.metrics.ObserveBackend(s.ID(), opGet, metrics.StatusNotFound, elapsed)
		return
	}
	h.LogReadLatency(elapsed)
	o.metrics.ObserveBackend(s.ID(), opGet, metrics.StatusOK, elapsed)
	o.metrics.SetBackendLatency(s.ID(), h.ReadLatency(), h.WriteLatency())
	r.ok = true
	r.value = value
}

func (o *Orchestrator) fail(ctx context.Context, s kvs.Store, op, key string, err error, elapsed time.Duration) {
	// Cancellation by the orchestrator itself is not the backend's fault.
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		o.metrics.ObserveBackend(s.ID(), op, metrics.StatusSkipped, elapsed)
		return
	}
	h := s.Health()
	failures := h.LogFailure()
	log.Warn("backend call failed", "backend", s.ID(), "op", op, "key", key, "recent_failures", failures, "error", err)
	o.metrics.ObserveBackend(s.ID(), op, metrics.StatusError, elapsed)
	o.metrics.SetBackendLatency(s.ID(), h.ReadLatency(), h.WriteLatency())
}

// Delete removes key from every store not marked failing, in parallel. All stores are
// attempted; the returned error joins the individual failures.
func (o *Orchestrator) Delete(ctx context.Context, stores []kvs.Store, key string) error {
	tr := cloudkvs.NewTaskRunner(ctx, 0).WithPool(o.pool)
	var locker sync.Mutex
	var errs []error
	for _, s := range stores {
		if kvs.IsFailing(s) {
			continue
		}
		tr.Go(func() error {
			start := cloudkvs.Now()
			err := s.Delete(ctx, key)
			status := metrics.StatusOK
			if err != nil {
				status = metrics.StatusError
				locker.Lock()
				errs = append(errs, fmt.Errorf("delete on %s: %w", s.ID(), err))
				locker.Unlock()
			}
			o.metrics.ObserveBackend(s.ID(), opDelete, status, cloudkvs.Now().Sub(start))
			return nil
		})
	}
	// Tasks only fail when the pool cannot be acquired, which ctx.Err reports below.
	_ = tr.Wait()
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return cloudkvs.NewError(cloudkvs.BackendIOError, key, errors.Join(errs...))
	}
	return nil
}

// BytesUsed sums the space accounting of the stores not marked failing. Stores that fail
// to report are left out of the sum and their errors joined.
func (o *Orchestrator) BytesUsed(ctx context.Context, stores []kvs.Store) (int64, error) {
	var total int64
	var errs []error
	for _, s := range stores {
		if kvs.IsFailing(s) {
			continue
		}
		n, err := s.BytesUsed(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("bytes used of %s: %w", s.ID(), err))
			continue
		}
		total += n
	}
	if len(errs) > 0 {
		return total, cloudkvs.NewError(cloudkvs.BackendIOError, "", errors.Join(errs...))
	}
	return total, nil
}

func eligibleCount(stores []kvs.Store) int {
	n := 0
	for _, s := range stores {
		if !kvs.IsFailing(s) {
			n++
		}
	}
	return n
}
