// Package metrics exposes Prometheus instrumentation for backend I/O, fan-out rounds and
// redundancy scheme operations.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Status label values.
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusNotFound = "not_found"
	StatusSkipped  = "skipped"
)

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// Metrics holds all Prometheus metrics of the storage layer.
type Metrics struct {
	BackendRequests     *prometheus.CounterVec   // cloudkvs_backend_requests_total{backend,op,status}
	BackendDuration     *prometheus.HistogramVec // cloudkvs_backend_request_duration_seconds{backend,op}
	BackendReadLatency  *prometheus.GaugeVec     // cloudkvs_backend_read_latency_ms{backend}
	BackendWriteLatency *prometheus.GaugeVec     // cloudkvs_backend_write_latency_ms{backend}

	FanOutRounds *prometheus.CounterVec // cloudkvs_fanout_rounds_total{op}

	FacadeRequests   *prometheus.CounterVec // cloudkvs_facade_requests_total{scheme,op,status}
	PessimisticReads *prometheus.CounterVec // cloudkvs_pessimistic_reads_total{scheme}
}

// Init registers the metrics with registry (the default registerer if nil).
// Metrics are only registered once; subsequent calls return the same instance.
func Init(registry prometheus.Registerer) *Metrics {
	metricsOnce.Do(func() {
		if registry == nil {
			registry = prometheus.DefaultRegisterer
		}
		f := promauto.With(registry)
		metricsInstance = &Metrics{
			BackendRequests: f.NewCounterVec(prometheus.CounterOpts{
				Name: "cloudkvs_backend_requests_total",
				Help: "Backend calls by backend, operation and status",
			}, []string{"backend", "op", "status"}),

			BackendDuration: f.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "cloudkvs_backend_request_duration_seconds",
				Help:    "Backend call duration in seconds",
				Buckets: prometheus.DefBuckets,
			}, []string{"backend", "op"}),

			BackendReadLatency: f.NewGaugeVec(prometheus.GaugeOpts{
				Name: "cloudkvs_backend_read_latency_ms",
				Help: "Moving average read latency per backend in milliseconds",
			}, []string{"backend"}),

			BackendWriteLatency: f.NewGaugeVec(prometheus.GaugeOpts{
				Name: "cloudkvs_backend_write_latency_ms",
				Help: "Moving average write latency per backend in milliseconds",
			}, []string{"backend"}),

			FanOutRounds: f.NewCounterVec(prometheus.CounterOpts{
				Name: "cloudkvs_fanout_rounds_total",
				Help: "Fan-out rounds by operation",
			}, []string{"op"}),

			FacadeRequests: f.NewCounterVec(prometheus.CounterOpts{
				Name: "cloudkvs_facade_requests_total",
				Help: "Redundancy scheme calls by scheme, operation and status",
			}, []string{"scheme", "op", "status"}),

			PessimisticReads: f.NewCounterVec(prometheus.CounterOpts{
				Name: "cloudkvs_pessimistic_reads_total",
				Help: "Reads that fell back to reading every backend",
			}, []string{"scheme"}),
		}
	})
	return metricsInstance
}

// Get returns the metrics, registering them with the default registerer on first use.
func Get() *Metrics {
	return Init(nil)
}

// ObserveBackend records one backend call.
func (m *Metrics) ObserveBackend(backend, op, status string, d time.Duration) {
	m.BackendRequests.WithLabelValues(backend, op, status).Inc()
	if status != StatusSkipped {
		m.BackendDuration.WithLabelValues(backend, op).Observe(d.Seconds())
	}
}

// SetBackendLatency publishes a backend's moving average latencies.
func (m *Metrics) SetBackendLatency(backend string, readMs, writeMs float64) {
	m.BackendReadLatency.WithLabelValues(backend).Set(readMs)
	m.BackendWriteLatency.WithLabelValues(backend).Set(writeMs)
}

// ObserveFacade records one scheme level call.
func (m *Metrics) ObserveFacade(scheme, op string, err error) {
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	m.FacadeRequests.WithLabelValues(scheme, op, status).Inc()
}
