package kvs

import (
	"sync"
	"time"

	"github.com/sharedcode/cloudkvs"
)

// DefaultFailureWindow is the span over which backend failures are counted.
const DefaultFailureWindow = 600 * time.Second

// TimeWindowSum counts events over a sliding window with one-second buckets.
type TimeWindowSum struct {
	locker    sync.Mutex
	buckets   []int64
	index     int
	timestamp time.Time
	sum       int64
}

// NewTimeWindowSum returns a counter over window, rounded down to whole seconds (minimum one).
func NewTimeWindowSum(window time.Duration) *TimeWindowSum {
	seconds := int(window / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return &TimeWindowSum{
		buckets: make([]int64, seconds),
	}
}

// Increment records one event now and returns the windowed total.
func (tws *TimeWindowSum) Increment() int64 {
	return tws.IncrementAt(cloudkvs.Now())
}

// IncrementAt records one event at t and returns the windowed total. Times earlier than
// the last recorded event land in the current bucket.
func (tws *TimeWindowSum) IncrementAt(t time.Time) int64 {
	tws.locker.Lock()
	defer tws.locker.Unlock()

	if tws.sum == 0 {
		tws.index = 0
		tws.buckets[0] = 1
		tws.sum = 1
		tws.timestamp = t
		return tws.sum
	}
	diff := int(t.Sub(tws.timestamp) / time.Second)
	switch {
	case diff <= 0:
		tws.buckets[tws.index]++
		tws.sum++
	case diff >= len(tws.buckets):
		clear(tws.buckets)
		tws.index = 0
		tws.buckets[0] = 1
		tws.sum = 1
	default:
		// Expire the buckets the clock moved past.
		for i := 0; i < diff; i++ {
			tws.index = (tws.index + 1) % len(tws.buckets)
			tws.sum -= tws.buckets[tws.index]
			tws.buckets[tws.index] = 0
		}
		tws.buckets[tws.index] = 1
		tws.sum++
	}
	tws.timestamp = t
	return tws.sum
}

// Get returns the windowed total as of the last recorded event.
func (tws *TimeWindowSum) Get() int64 {
	tws.locker.Lock()
	defer tws.locker.Unlock()
	return tws.sum
}
