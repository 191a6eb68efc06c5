package kvs

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/VividCortex/ewma"

	"github.com/sharedcode/cloudkvs"
)

// latencyAge makes the moving averages weigh each new sample by 0.8 (decay = 2/(age+1)).
const latencyAge = 1.5

// Health is the mutable health state of one backend. It is updated by every I/O attempt
// made against the backend and read by the rankers. All methods are safe for concurrent use.
type Health struct {
	enabled atomic.Bool
	cost    atomic.Int64

	locker       sync.Mutex
	readLatency  ewma.MovingAverage
	writeLatency ewma.MovingAverage
	readPenalty  time.Duration
	writePenalty time.Duration

	failures *TimeWindowSum
}

// HealthSnapshot is a point-in-time copy of Health, suitable for display.
type HealthSnapshot struct {
	Enabled        bool    `json:"enabled"`
	Cost           int     `json:"cost"`
	ReadLatencyMs  float64 `json:"read_latency_ms"`
	WriteLatencyMs float64 `json:"write_latency_ms"`
	RecentFailures int64   `json:"recent_failures"`
}

// NewHealth returns the health state of a fresh backend: zero latencies, no failures.
func NewHealth(enabled bool, cost int) *Health {
	h := &Health{
		readLatency:  ewma.NewMovingAverage(latencyAge),
		writeLatency: ewma.NewMovingAverage(latencyAge),
		readPenalty:  cloudkvs.ReadTimeoutSeconds * time.Second,
		writePenalty: cloudkvs.WriteTimeoutSeconds * time.Second,
		failures:     NewTimeWindowSum(DefaultFailureWindow),
	}
	// Start from zero instead of averaging a warm-up batch.
	h.readLatency.Set(0)
	h.writeLatency.Set(0)
	h.enabled.Store(enabled)
	h.cost.Store(int64(cost))
	return h
}

func (h *Health) Enabled() bool {
	return h.enabled.Load()
}

func (h *Health) SetEnabled(enabled bool) {
	h.enabled.Store(enabled)
}

// Cost is the provider cost in cents per GB.
func (h *Health) Cost() int {
	return int(h.cost.Load())
}

func (h *Health) SetCost(cost int) {
	h.cost.Store(int64(cost))
}

// SetPenalty sets the latencies that LogFailure feeds into the averages, normally the
// orchestrator's read and write timeouts.
func (h *Health) SetPenalty(read, write time.Duration) {
	h.locker.Lock()
	defer h.locker.Unlock()
	if read > 0 {
		h.readPenalty = read
	}
	if write > 0 {
		h.writePenalty = write
	}
}

// ReadLatency returns the moving average read latency in milliseconds.
func (h *Health) ReadLatency() float64 {
	h.locker.Lock()
	defer h.locker.Unlock()
	return h.readLatency.Value()
}

// WriteLatency returns the moving average write latency in milliseconds.
func (h *Health) WriteLatency() float64 {
	h.locker.Lock()
	defer h.locker.Unlock()
	return h.writeLatency.Value()
}

func (h *Health) LogReadLatency(d time.Duration) {
	h.locker.Lock()
	defer h.locker.Unlock()
	h.readLatency.Add(toMillis(d))
}

func (h *Health) LogWriteLatency(d time.Duration) {
	h.locker.Lock()
	defer h.locker.Unlock()
	h.writeLatency.Add(toMillis(d))
}

// LogFailure charges a failed call: both averages take a timeout-sized sample and the
// failure window is incremented. It returns the number of failures in the window.
func (h *Health) LogFailure() int64 {
	h.locker.Lock()
	h.readLatency.Add(toMillis(h.readPenalty))
	h.writeLatency.Add(toMillis(h.writePenalty))
	h.locker.Unlock()
	return h.failures.Increment()
}

// RecentFailures is the number of failures in the sliding window.
func (h *Health) RecentFailures() int64 {
	return h.failures.Get()
}

func (h *Health) Snapshot() HealthSnapshot {
	h.locker.Lock()
	r, w := h.readLatency.Value(), h.writeLatency.Value()
	h.locker.Unlock()
	return HealthSnapshot{
		Enabled:        h.Enabled(),
		Cost:           h.Cost(),
		ReadLatencyMs:  r,
		WriteLatencyMs: w,
		RecentFailures: h.RecentFailures(),
	}
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
