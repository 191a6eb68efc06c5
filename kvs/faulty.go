package kvs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrInjectedFault is returned by FaultyStore when it decides to fail an operation.
var ErrInjectedFault = errors.New("injected fault")

// FaultyStore is an in-memory store that fails every failPeriod-th Put or Get, or every
// call while it is marked down. It also counts calls so tests can spy on the orchestrator.
type FaultyStore struct {
	*MemoryStore
	failPeriod int64
	count      atomic.Int64
	down       atomic.Bool
	putCalls   atomic.Int64
	getCalls   atomic.Int64
}

// NewFaultyStore returns a store failing every failPeriod-th data call. failPeriod <= 0
// disables the periodic failures.
func NewFaultyStore(id string, failPeriod int) *FaultyStore {
	return &FaultyStore{
		MemoryStore: NewMemoryStore(id),
		failPeriod:  int64(failPeriod),
	}
}

// SetDown makes every call fail (true) or restores normal behavior (false).
func (s *FaultyStore) SetDown(down bool) {
	s.down.Store(down)
}

func (s *FaultyStore) PutCalls() int64 {
	return s.putCalls.Load()
}

func (s *FaultyStore) GetCalls() int64 {
	return s.getCalls.Load()
}

func (s *FaultyStore) shouldFail() bool {
	n := s.count.Add(1)
	if s.down.Load() {
		return true
	}
	return s.failPeriod > 0 && n%s.failPeriod == 0
}

func (s *FaultyStore) Put(ctx context.Context, key string, value []byte) error {
	s.putCalls.Add(1)
	if s.shouldFail() {
		return fmt.Errorf("put %q on %s: %w", key, s.ID(), ErrInjectedFault)
	}
	return s.MemoryStore.Put(ctx, key, value)
}

func (s *FaultyStore) Get(ctx context.Context, key string) (bool, []byte, error) {
	s.getCalls.Add(1)
	if s.shouldFail() {
		return false, nil, fmt.Errorf("get %q on %s: %w", key, s.ID(), ErrInjectedFault)
	}
	return s.MemoryStore.Get(ctx, key)
}

func (s *FaultyStore) Delete(ctx context.Context, key string) error {
	if s.down.Load() {
		return fmt.Errorf("delete %q on %s: %w", key, s.ID(), ErrInjectedFault)
	}
	return s.MemoryStore.Delete(ctx, key)
}
