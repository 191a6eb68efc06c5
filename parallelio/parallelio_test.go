package parallelio

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sharedcode/cloudkvs"
	"github.com/sharedcode/cloudkvs/kvs"
)

// flakyStore fails its first failFirst Put and Get calls.
type flakyStore struct {
	*kvs.MemoryStore
	failFirst int64
	puts      atomic.Int64
	gets      atomic.Int64
}

func newFlakyStore(id string, failFirst int) *flakyStore {
	return &flakyStore{MemoryStore: kvs.NewMemoryStore(id), failFirst: int64(failFirst)}
}

func (s *flakyStore) Put(ctx context.Context, key string, value []byte) error {
	if s.puts.Add(1) <= s.failFirst {
		return errors.New("flaky put")
	}
	return s.MemoryStore.Put(ctx, key, value)
}

func (s *flakyStore) Get(ctx context.Context, key string) (bool, []byte, error) {
	if s.gets.Add(1) <= s.failFirst {
		return false, nil, errors.New("flaky get")
	}
	return s.MemoryStore.Get(ctx, key)
}

func testOrchestrator() *Orchestrator {
	return New(cloudkvs.Options{
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		Retries:      cloudkvs.Retries,
		RetryBackoff: time.Millisecond,
	})
}

func blocksFor(n int) [][]byte {
	b := make([][]byte, n)
	for i := range b {
		b[i] = []byte(fmt.Sprintf("block-%d", i))
	}
	return b
}

func TestFanOutPut_AllSucceed(t *testing.T) {
	ctx := context.Background()
	o := testOrchestrator()
	stores := []kvs.Store{kvs.NewMemoryStore("a"), kvs.NewMemoryStore("b"), kvs.NewMemoryStore("c")}
	if n := o.FanOutPut(ctx, stores, "k", blocksFor(3)); n != 3 {
		t.Fatalf("expected 3 acks, got %d", n)
	}
	for i, s := range stores {
		_, v, _ := s.Get(ctx, "k")
		if string(v) != fmt.Sprintf("block-%d", i) {
			t.Fatalf("store %d holds %q", i, v)
		}
		if s.Health().WriteLatency() < 0 {
			t.Fatalf("expected write latency to be recorded")
		}
	}
}

func TestFanOutPut_RetriesOnlyFailedPositions(t *testing.T) {
	ctx := context.Background()
	o := testOrchestrator()
	good := kvs.NewFaultyStore("good", 0)
	flaky := newFlakyStore("flaky", 1)
	stores := []kvs.Store{good, flaky}
	if n := o.FanOutPut(ctx, stores, "k", blocksFor(2)); n != 2 {
		t.Fatalf("expected 2 acks, got %d", n)
	}
	if good.PutCalls() != 1 {
		t.Fatalf("store that succeeded must not be re-written, got %d calls", good.PutCalls())
	}
	if flaky.puts.Load() != 2 {
		t.Fatalf("expected flaky store to be retried once, got %d calls", flaky.puts.Load())
	}
	if flaky.Health().RecentFailures() != 1 {
		t.Fatalf("expected one failure charged to flaky store")
	}
}

func TestFanOutPut_SkipsFailingIDs(t *testing.T) {
	ctx := context.Background()
	o := testOrchestrator()
	dead := kvs.NewMemoryStore(kvs.FailPrefix + "x")
	stores := []kvs.Store{kvs.NewMemoryStore("a"), dead}
	if n := o.FanOutPut(ctx, stores, "k", blocksFor(2)); n != 1 {
		t.Fatalf("expected 1 ack, got %d", n)
	}
	if found, _, _ := dead.Get(ctx, "k"); found {
		t.Fatalf("failing store must not receive writes")
	}
}

func TestFanOutPut_ExhaustsRetries(t *testing.T) {
	ctx := context.Background()
	o := testOrchestrator()
	broken := kvs.NewFaultyStore("broken", 1)
	stores := []kvs.Store{kvs.NewMemoryStore("a"), broken}
	if n := o.FanOutPut(ctx, stores, "k", blocksFor(2)); n != 1 {
		t.Fatalf("expected 1 ack, got %d", n)
	}
	if broken.PutCalls() != cloudkvs.Retries {
		t.Fatalf("expected %d attempts, got %d", cloudkvs.Retries, broken.PutCalls())
	}
}

func TestFanOutPut_RoundTimeout(t *testing.T) {
	ctx := context.Background()
	o := New(cloudkvs.Options{WriteTimeout: 20 * time.Millisecond, Retries: 1})
	slow := kvs.WithFilters(kvs.NewMemoryStore("slow"), kvs.NewDelayFilter(300*time.Millisecond))
	stores := []kvs.Store{kvs.NewMemoryStore("fast"), slow}
	start := time.Now()
	n := o.FanOutPut(ctx, stores, "k", blocksFor(2))
	if n != 1 {
		t.Fatalf("expected only the fast store to ack, got %d", n)
	}
	if time.Since(start) > 250*time.Millisecond {
		t.Fatalf("round was not bounded by the timeout")
	}
}

func TestFanOutPut_MismatchedBlocks(t *testing.T) {
	o := testOrchestrator()
	if n := o.FanOutPut(context.Background(), []kvs.Store{kvs.NewMemoryStore("a")}, "k", nil); n != 0 {
		t.Fatalf("expected 0, got %d", n)
	}
}

func TestFanOutGet_PlacesByIndex(t *testing.T) {
	ctx := context.Background()
	o := testOrchestrator()
	stores := []kvs.Store{kvs.NewMemoryStore("a"), kvs.NewMemoryStore("b"), kvs.NewMemoryStore("c")}
	o.FanOutPut(ctx, stores, "k", blocksFor(3))

	n, values := o.FanOutGet(ctx, stores, "k", 3)
	if n != 3 {
		t.Fatalf("expected 3 reads, got %d", n)
	}
	for i, v := range values {
		if string(v) != fmt.Sprintf("block-%d", i) {
			t.Fatalf("value %d misplaced: %q", i, v)
		}
	}
}

func TestFanOutGet_WantSubset(t *testing.T) {
	ctx := context.Background()
	o := testOrchestrator()
	down := kvs.NewFaultyStore("down", 0)
	stores := []kvs.Store{kvs.NewMemoryStore("a"), down, kvs.NewMemoryStore("c")}
	o.FanOutPut(ctx, stores, "k", blocksFor(3))
	down.SetDown(true)

	n, values := o.FanOutGet(ctx, stores, "k", 2)
	if n != 2 {
		t.Fatalf("expected 2 reads, got %d", n)
	}
	if values[1] != nil {
		t.Fatalf("down store must not produce a value")
	}
	if string(values[0]) != "block-0" || string(values[2]) != "block-2" {
		t.Fatalf("unexpected values %q", values)
	}
}

func TestFanOutGet_MissingKeyIsNotPenalized(t *testing.T) {
	ctx := context.Background()
	o := testOrchestrator()
	a := kvs.NewMemoryStore("a")
	n, _ := o.FanOutGet(ctx, []kvs.Store{a}, "missing", 1)
	if n != 0 {
		t.Fatalf("expected no reads, got %d", n)
	}
	if a.Health().RecentFailures() != 0 {
		t.Fatalf("missing key must not count as a backend failure")
	}
}

func TestFanOutGet_RetriesFlaky(t *testing.T) {
	ctx := context.Background()
	o := testOrchestrator()
	flaky := newFlakyStore("flaky", 2)
	flaky.MemoryStore.Put(ctx, "k", []byte("v"))
	n, values := o.FanOutGet(ctx, []kvs.Store{flaky}, "k", 1)
	if n != 1 || string(values[0]) != "v" {
		t.Fatalf("expected success on the third round, got %d %q", n, values[0])
	}
}

func TestDeleteAndBytesUsed(t *testing.T) {
	ctx := context.Background()
	o := testOrchestrator()
	stores := []kvs.Store{kvs.NewMemoryStore("a"), kvs.NewMemoryStore("b")}
	o.FanOutPut(ctx, stores, "key", [][]byte{[]byte("12345"), []byte("123")})
	used, err := o.BytesUsed(ctx, stores)
	if err != nil || used != int64(3+5+3+3) {
		t.Fatalf("BytesUsed = %d, %v", used, err)
	}
	if err := o.Delete(ctx, stores, "key"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	used, _ = o.BytesUsed(ctx, stores)
	if used != 0 {
		t.Fatalf("expected 0 bytes after delete, got %d", used)
	}

	down := kvs.NewFaultyStore("down", 0)
	down.SetDown(true)
	err = o.Delete(ctx, []kvs.Store{kvs.NewMemoryStore("a"), down}, "key")
	if !cloudkvs.IsCode(err, cloudkvs.BackendIOError) {
		t.Fatalf("expected BackendIOError, got %v", err)
	}
}
