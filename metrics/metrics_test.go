package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Singleton(t *testing.T) {
	m1 := Get()
	m2 := Init(nil)
	if m1 != m2 {
		t.Fatalf("expected a single metrics instance")
	}
}

func TestMetrics_Observe(t *testing.T) {
	m := Get()
	m.ObserveBackend("a", "put", StatusOK, time.Millisecond)
	m.ObserveBackend("a", "put", StatusOK, time.Millisecond)
	if got := testutil.ToFloat64(m.BackendRequests.WithLabelValues("a", "put", StatusOK)); got != 2 {
		t.Fatalf("expected 2 requests, got %v", got)
	}
	m.ObserveFacade("r-2", "get", errors.New("boom"))
	if got := testutil.ToFloat64(m.FacadeRequests.WithLabelValues("r-2", "get", StatusError)); got != 1 {
		t.Fatalf("expected 1 failed facade request, got %v", got)
	}
	m.SetBackendLatency("a", 3, 4)
	if got := testutil.ToFloat64(m.BackendWriteLatency.WithLabelValues("a")); got != 4 {
		t.Fatalf("expected write latency 4, got %v", got)
	}
}
