package kvs

import (
	"context"
	"time"

	"github.com/sharedcode/cloudkvs"
)

// Filter observes the data calls of a store. Hooks run on the caller's goroutine around
// the wrapped call.
type Filter interface {
	BeforePut(ctx context.Context, key string, value []byte)
	AfterPut(ctx context.Context, key string, value []byte)
	BeforeGet(ctx context.Context, key string)
	AfterGet(ctx context.Context, key string, value []byte)
}

// DelayFilter adds latency to a store, inbound before and outbound after each Put and Get.
type DelayFilter struct {
	Inbound  time.Duration
	Outbound time.Duration
}

// NewDelayFilter returns a filter delaying both directions by d.
func NewDelayFilter(d time.Duration) DelayFilter {
	return DelayFilter{Inbound: d, Outbound: d}
}

func (f DelayFilter) BeforePut(ctx context.Context, key string, value []byte) {
	cloudkvs.Sleep(ctx, f.Inbound)
}

func (f DelayFilter) AfterPut(ctx context.Context, key string, value []byte) {
	cloudkvs.Sleep(ctx, f.Outbound)
}

func (f DelayFilter) BeforeGet(ctx context.Context, key string) {
	cloudkvs.Sleep(ctx, f.Inbound)
}

func (f DelayFilter) AfterGet(ctx context.Context, key string, value []byte) {
	cloudkvs.Sleep(ctx, f.Outbound)
}

type filteredStore struct {
	Store
	filters []Filter
}

// WithFilters wraps s so that filters observe its Put and Get calls, in order.
func WithFilters(s Store, filters ...Filter) Store {
	if len(filters) == 0 {
		return s
	}
	return &filteredStore{Store: s, filters: filters}
}

func (s *filteredStore) Put(ctx context.Context, key string, value []byte) error {
	for _, f := range s.filters {
		f.BeforePut(ctx, key, value)
	}
	err := s.Store.Put(ctx, key, value)
	for _, f := range s.filters {
		f.AfterPut(ctx, key, value)
	}
	if err == nil {
		err = ctx.Err()
	}
	return err
}

func (s *filteredStore) Get(ctx context.Context, key string) (bool, []byte, error) {
	for _, f := range s.filters {
		f.BeforeGet(ctx, key)
	}
	found, value, err := s.Store.Get(ctx, key)
	for _, f := range s.filters {
		f.AfterGet(ctx, key, value)
	}
	if err == nil && ctx.Err() != nil {
		return false, nil, ctx.Err()
	}
	return found, value, err
}

// Unwrap returns the store behind the filters.
func (s *filteredStore) Unwrap() Store {
	return s.Store
}
