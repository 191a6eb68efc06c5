package kvs

import (
	"bytes"
	"context"
	"sort"
	"sync"
)

// MemoryStore is a transient in-memory store, for tests and scratch volumes.
type MemoryStore struct {
	Base
	locker    sync.RWMutex
	data      map[string][]byte
	bytesUsed int64
}

// NewMemoryStore returns an enabled, free, empty in-memory store.
func NewMemoryStore(id string) *MemoryStore {
	return &MemoryStore{
		Base: NewBase(id, true, 0),
		data: make(map[string][]byte),
	}
}

func (s *MemoryStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v := bytes.Clone(value)
	if v == nil {
		v = []byte{}
	}
	s.locker.Lock()
	defer s.locker.Unlock()
	if old, ok := s.data[key]; ok {
		s.bytesUsed -= int64(len(key) + len(old))
	}
	s.data[key] = v
	s.bytesUsed += int64(len(key) + len(v))
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (bool, []byte, error) {
	if err := ctx.Err(); err != nil {
		return false, nil, err
	}
	s.locker.RLock()
	defer s.locker.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return false, nil, nil
	}
	return true, bytes.Clone(v), nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.locker.Lock()
	defer s.locker.Unlock()
	if old, ok := s.data[key]; ok {
		s.bytesUsed -= int64(len(key) + len(old))
		delete(s.data, key)
	}
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	s.locker.RLock()
	defer s.locker.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) BytesUsed(ctx context.Context) (int64, error) {
	s.locker.RLock()
	defer s.locker.RUnlock()
	return s.bytesUsed, nil
}

// Corrupt flips the byte at offset (the last byte if out of range) of key's stored value in
// place. It reports whether there was anything to corrupt.
// Used to simulate bit rot or a malicious provider.
func (s *MemoryStore) Corrupt(key string, offset int) bool {
	s.locker.Lock()
	defer s.locker.Unlock()
	v, ok := s.data[key]
	if !ok || len(v) == 0 {
		return false
	}
	if offset < 0 || offset >= len(v) {
		offset = len(v) - 1
	}
	v[offset] ^= 0xff
	return true
}

func (s *MemoryStore) Close() error {
	return nil
}
