package facade

import (
	"slices"
	"sync/atomic"
	"time"

	"github.com/sharedcode/cloudkvs"
	"github.com/sharedcode/cloudkvs/kvs"
)

// Ranking is an immutable snapshot of backends ordered by read latency.
type Ranking struct {
	// Stores is the backend list sorted by kvs.CompareByReads.
	Stores []kvs.Store
	// Positions holds, for each of the first k sorted stores, its index in the original list.
	Positions []int
	// Computed is when the snapshot was taken.
	Computed time.Time
}

// Ranker lazily re-sorts a backend list by read latency, at most once per refresh period.
// Callers never wait for a refresh other than their own.
type Ranker struct {
	stores  []kvs.Store
	k       int
	refresh time.Duration
	current atomic.Pointer[Ranking]
}

// NewRanker starts from the original order, i.e. the first k positions. A refresh period
// <= 0 never re-sorts.
func NewRanker(stores []kvs.Store, k int, refresh time.Duration) *Ranker {
	if k > len(stores) {
		k = len(stores)
	}
	r := &Ranker{
		stores:  stores,
		k:       k,
		refresh: refresh,
	}
	positions := make([]int, k)
	for i := range positions {
		positions[i] = i
	}
	r.current.Store(&Ranking{
		Stores:    slices.Clone(stores),
		Positions: positions,
		Computed:  cloudkvs.Now(),
	})
	return r
}

// Ranking returns the current snapshot, recomputing it first if it is older than the refresh
// period. Overlapping refreshes are harmless; the last one stored wins.
func (r *Ranker) Ranking() *Ranking {
	cur := r.current.Load()
	if r.refresh <= 0 || cloudkvs.Now().Sub(cur.Computed) <= r.refresh {
		return cur
	}
	next := r.compute()
	r.current.Store(next)
	return next
}

func (r *Ranker) compute() *Ranking {
	sorted := slices.Clone(r.stores)
	slices.SortStableFunc(sorted, kvs.CompareByReads)
	positions := make([]int, r.k)
	for i := range positions {
		id := sorted[i].ID()
		positions[i] = slices.IndexFunc(r.stores, func(s kvs.Store) bool { return s.ID() == id })
	}
	return &Ranking{
		Stores:    sorted,
		Positions: positions,
		Computed:  cloudkvs.Now(),
	}
}
