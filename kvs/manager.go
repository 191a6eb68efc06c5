package kvs

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	log "log/slog"
	"slices"
	"sync"
	"time"

	"github.com/sharedcode/cloudkvs"
)

const (
	probeKeyPrefix  = "latency_test-"
	probeIterations = 3
	probeWorkers    = 4
	// DefaultProbeSize is the payload size of one latency probe.
	DefaultProbeSize = 64 * 1024
)

// Manager is the registry of configured stores. It optionally runs a background prober that
// measures each store's latency so idle stores still get ranked.
type Manager struct {
	locker  sync.RWMutex
	stores  map[string]Store
	ordered []Store

	proberLocker sync.Mutex
	cancelProber context.CancelFunc
	proberDone   chan struct{}
}

// NewManager returns an empty registry.
func NewManager() *Manager {
	return &Manager{
		stores: make(map[string]Store),
	}
}

// Add registers s. Ids must be unique.
func (m *Manager) Add(s Store) error {
	m.locker.Lock()
	defer m.locker.Unlock()
	if _, ok := m.stores[s.ID()]; ok {
		return cloudkvs.Errorf(cloudkvs.ConfigurationError, s.ID(), "store %q is already registered", s.ID())
	}
	m.stores[s.ID()] = s
	m.ordered = append(m.ordered, s)
	return nil
}

// Get returns the store registered under id.
func (m *Manager) Get(id string) (Store, bool) {
	m.locker.RLock()
	defer m.locker.RUnlock()
	s, ok := m.stores[id]
	return s, ok
}

// Stores returns the registered stores in registration order.
func (m *Manager) Stores() []Store {
	m.locker.RLock()
	defer m.locker.RUnlock()
	return slices.Clone(m.ordered)
}

// StoresByIDs resolves a ';' separated id list (see JoinIDs) in order.
func (m *Manager) StoresByIDs(ids string) ([]Store, error) {
	names := SplitIDs(ids)
	if len(names) == 0 {
		return nil, cloudkvs.Errorf(cloudkvs.ConfigurationError, ids, "empty store id list")
	}
	m.locker.RLock()
	defer m.locker.RUnlock()
	r := make([]Store, 0, len(names))
	for _, id := range names {
		s, ok := m.stores[id]
		if !ok {
			return nil, cloudkvs.Errorf(cloudkvs.ConfigurationError, id, "unknown store %q", id)
		}
		r = append(r, s)
	}
	return r, nil
}

// SortedByReads returns the stores ordered by CompareByReads.
func (m *Manager) SortedByReads() []Store {
	r := m.Stores()
	slices.SortStableFunc(r, CompareByReads)
	return r
}

// SortedByWrites returns the stores ordered by CompareByWrites.
func (m *Manager) SortedByWrites() []Store {
	r := m.Stores()
	slices.SortStableFunc(r, CompareByWrites)
	return r
}

// StartProber probes every store each period with probeSize byte payloads until Stop or
// ctx is done. Calling it again restarts the prober.
func (m *Manager) StartProber(ctx context.Context, period time.Duration, probeSize int) {
	if period <= 0 {
		return
	}
	if probeSize <= 0 {
		probeSize = DefaultProbeSize
	}
	m.Stop()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.proberLocker.Lock()
	m.cancelProber = cancel
	m.proberDone = done
	m.proberLocker.Unlock()

	go func() {
		defer close(done)
		t := time.NewTicker(period)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.ProbeAll(ctx, probeSize)
			}
		}
	}()
}

// Stop ends the background prober, if any, and waits for it to exit.
func (m *Manager) Stop() {
	m.proberLocker.Lock()
	cancel, done := m.cancelProber, m.proberDone
	m.cancelProber, m.proberDone = nil, nil
	m.proberLocker.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// ProbeAll runs one latency probe against every enabled store.
func (m *Manager) ProbeAll(ctx context.Context, probeSize int) {
	tr := cloudkvs.NewTaskRunner(ctx, probeWorkers)
	for _, s := range m.Stores() {
		if !s.Health().Enabled() || IsFailing(s) {
			continue
		}
		tr.Go(func() error {
			if err := ProbeLatency(tr.GetContext(), s, probeSize); err != nil {
				log.Warn("latency probe failed", "backend", s.ID(), "error", err)
			}
			return nil
		})
	}
	tr.Wait()
}

// ProbeLatency writes then reads back a few random payloads on s and feeds the average
// latencies to its health. A failed probe is charged as a failure; a permanent error (denied
// credentials, read-only or full device) also disables the store.
func ProbeLatency(ctx context.Context, s Store, size int) (err error) {
	h := s.Health()
	defer func() {
		if err == nil {
			return
		}
		h.LogFailure()
		if cloudkvs.IsPermanentError(err) {
			log.Error("disabling store after permanent probe error", "backend", s.ID(), "error", err)
			h.SetEnabled(false)
		}
	}()

	keys := make([]string, probeIterations)
	for i := range keys {
		keys[i] = cloudkvs.NewProbeKey(probeKeyPrefix)
	}
	defer func() {
		for _, k := range keys {
			if derr := s.Delete(ctx, k); derr != nil {
				log.Debug("failed to delete probe key", "backend", s.ID(), "key", k, "error", derr)
			}
		}
	}()

	data := make([]byte, size)
	var total time.Duration
	for _, k := range keys {
		if _, err := rand.Read(data); err != nil {
			return err
		}
		start := cloudkvs.Now()
		if err := s.Put(ctx, k, data); err != nil {
			return fmt.Errorf("probe write: %w", err)
		}
		total += cloudkvs.Now().Sub(start)
	}
	h.LogWriteLatency(total / probeIterations)
	log.Debug("probed write latency", "backend", s.ID(), "avg", total/probeIterations, "ewma_ms", h.WriteLatency())

	total = 0
	for _, k := range keys {
		start := cloudkvs.Now()
		found, _, err := s.Get(ctx, k)
		if err != nil {
			return fmt.Errorf("probe read: %w", err)
		}
		if !found {
			return fmt.Errorf("probe read: %w", errProbeKeyMissing)
		}
		total += cloudkvs.Now().Sub(start)
	}
	h.LogReadLatency(total / probeIterations)
	log.Debug("probed read latency", "backend", s.ID(), "avg", total/probeIterations, "ewma_ms", h.ReadLatency())
	return nil
}

var errProbeKeyMissing = errors.New("probe key not found after write")

// Close stops the prober and closes every store, returning the joined close errors.
func (m *Manager) Close() error {
	m.Stop()
	var errs []error
	for _, s := range m.Stores() {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing store %s: %w", s.ID(), err))
		}
	}
	return errors.Join(errs...)
}
