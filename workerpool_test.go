package cloudkvs

import (
	"context"
	"testing"
	"time"
)

func TestWorkerPool_AcquireRelease(t *testing.T) {
	p := NewWorkerPool(1)
	if p.Size() != 1 {
		t.Fatalf("expected size 1, got %d", p.Size())
	}
	if err := p.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if p.InUse() != 1 {
		t.Fatalf("expected 1 in use, got %d", p.InUse())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.Acquire(ctx); err == nil {
		t.Fatalf("expected second Acquire to block until ctx expires")
	}
	p.Release()
	if p.InUse() != 0 {
		t.Fatalf("expected 0 in use, got %d", p.InUse())
	}
	if NewWorkerPool(0).Size() != DefaultWorkers {
		t.Fatalf("expected default size")
	}
}
