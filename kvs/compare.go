package kvs

import "cmp"

// CompareByReads orders stores by ascending read latency, disabled stores last.
// It is meant for slices.SortStableFunc.
func CompareByReads(a, b Store) int {
	return compareHealth(a.Health(), b.Health(), (*Health).ReadLatency)
}

// CompareByWrites orders stores by ascending write latency, disabled stores last.
func CompareByWrites(a, b Store) int {
	return compareHealth(a.Health(), b.Health(), (*Health).WriteLatency)
}

func compareHealth(a, b *Health, latency func(*Health) float64) int {
	ae, be := a.Enabled(), b.Enabled()
	switch {
	case ae && !be:
		return -1
	case !ae && be:
		return 1
	}
	return cmp.Compare(latency(a), latency(b))
}
