package kvs

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_PutGetDeleteAccounting(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("mem")
	if err := s.Put(ctx, "k1", []byte("hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, "k2", nil); err != nil {
		t.Fatalf("Put empty: %v", err)
	}
	found, v, err := s.Get(ctx, "k1")
	if err != nil || !found || string(v) != "hello" {
		t.Fatalf("Get k1 = %v %q %v", found, v, err)
	}
	found, v, err = s.Get(ctx, "k2")
	if err != nil || !found || len(v) != 0 {
		t.Fatalf("Get k2 = %v %q %v", found, v, err)
	}
	if found, _, _ := s.Get(ctx, "nope"); found {
		t.Fatalf("expected missing key")
	}
	if n, _ := s.BytesUsed(ctx); n != int64(len("k1")+len("hello")+len("k2")) {
		t.Fatalf("unexpected bytes used %d", n)
	}
	keys, _ := s.List(ctx)
	if len(keys) != 2 || keys[0] != "k1" {
		t.Fatalf("unexpected keys %v", keys)
	}
	n, err := EmptyStore(ctx, s)
	if err != nil || n != 2 {
		t.Fatalf("EmptyStore = %d, %v", n, err)
	}
	if n, _ := s.BytesUsed(ctx); n != 0 {
		t.Fatalf("expected 0 bytes after empty, got %d", n)
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("mem")
	s.Put(ctx, "k", []byte("abc"))
	_, v, _ := s.Get(ctx, "k")
	v[0] = 'x'
	_, v2, _ := s.Get(ctx, "k")
	if string(v2) != "abc" {
		t.Fatalf("store content was mutated through Get result")
	}
	if !s.Corrupt("k", 0) {
		t.Fatalf("expected Corrupt to succeed")
	}
	_, v3, _ := s.Get(ctx, "k")
	if string(v3) == "abc" {
		t.Fatalf("expected corrupted value")
	}
}

func TestFaultyStore_FailsEveryPeriod(t *testing.T) {
	ctx := context.Background()
	s := NewFaultyStore("faulty", 3)
	var failures int
	for i := 0; i < 9; i++ {
		if err := s.Put(ctx, "k", []byte{byte(i)}); err != nil {
			if !errors.Is(err, ErrInjectedFault) {
				t.Fatalf("unexpected error %v", err)
			}
			failures++
		}
	}
	if failures != 3 {
		t.Fatalf("expected 3 failures, got %d", failures)
	}
	if s.PutCalls() != 9 {
		t.Fatalf("expected 9 put calls, got %d", s.PutCalls())
	}
	s.SetDown(true)
	if _, _, err := s.Get(ctx, "k"); err == nil {
		t.Fatalf("expected failure while down")
	}
	s.SetDown(false)
}

func TestIDs(t *testing.T) {
	stores := []Store{NewMemoryStore("a"), NewMemoryStore("FAIL-b")}
	if got := JoinIDs(stores); got != "a;FAIL-b;" {
		t.Fatalf("unexpected JoinIDs %q", got)
	}
	if got := SplitIDs("a;FAIL-b;"); len(got) != 2 || got[1] != "FAIL-b" {
		t.Fatalf("unexpected SplitIDs %v", got)
	}
	if IsFailing(stores[0]) || !IsFailing(stores[1]) {
		t.Fatalf("unexpected IsFailing results")
	}
}

func TestDelayFilter(t *testing.T) {
	ctx := context.Background()
	s := WithFilters(NewMemoryStore("slow"), NewDelayFilter(5*time.Millisecond))
	start := time.Now()
	if err := s.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected put to be delayed in and out")
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, _, err := s.Get(cctx, "k"); err == nil {
		t.Fatalf("expected cancelled get to fail")
	}
	if s.ID() != "slow" {
		t.Fatalf("filters must keep the store identity")
	}
}

func TestManager_RegistryAndProbe(t *testing.T) {
	ctx := context.Background()
	m := NewManager()
	a := NewMemoryStore("a")
	b := NewFaultyStore("b", 0)
	if err := m.Add(a); err != nil {
		t.Fatal(err)
	}
	if err := m.Add(b); err != nil {
		t.Fatal(err)
	}
	if err := m.Add(NewMemoryStore("a")); err == nil {
		t.Fatalf("expected duplicate id to be rejected")
	}
	stores, err := m.StoresByIDs("b;a;")
	if err != nil || len(stores) != 2 || stores[0].ID() != "b" {
		t.Fatalf("StoresByIDs = %v, %v", stores, err)
	}
	if _, err := m.StoresByIDs("a;zz;"); err == nil {
		t.Fatalf("expected unknown id error")
	}

	b.SetDown(true)
	m.ProbeAll(ctx, 128)
	if b.Health().RecentFailures() != 1 {
		t.Fatalf("expected probe failure to be charged")
	}
	if a.Health().RecentFailures() != 0 {
		t.Fatalf("unexpected failure on healthy store")
	}
	if keys, _ := a.List(ctx); len(keys) != 0 {
		t.Fatalf("expected probe keys to be cleaned up, got %v", keys)
	}
	if m.SortedByReads()[1].ID() != "b" {
		t.Fatalf("expected penalized store ranked last")
	}

	m.StartProber(ctx, time.Millisecond, 16)
	time.Sleep(10 * time.Millisecond)
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
