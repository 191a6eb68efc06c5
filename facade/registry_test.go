package facade

import (
	"context"
	"testing"
	"time"

	"github.com/sharedcode/cloudkvs"
	"github.com/sharedcode/cloudkvs/kvs"
)

func TestRegistry_Memoizes(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(nil, DefaultOptions())
	defer r.Close(ctx)
	stores, _ := faultyStores(3)

	f1, err := r.Resolve("e-2-1", stores, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	f2, err := r.Resolve("e-2-1", stores, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if f1 != f2 {
		t.Fatalf("expected the same instance for the same scheme and backends")
	}
	if f1.Key() != "e-2-1+kvs0;kvs1;kvs2;" {
		t.Fatalf("unexpected key %q", f1.Key())
	}

	reordered := []kvs.Store{stores[2], stores[0], stores[1]}
	f3, err := r.Resolve("e-2-1", reordered, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if f3 == f1 {
		t.Fatalf("a different backend order is a different layout")
	}
	if len(r.Facades()) != 2 {
		t.Fatalf("expected 2 facades, got %d", len(r.Facades()))
	}
}

func TestRegistry_CountMismatch(t *testing.T) {
	r := NewRegistry(nil, DefaultOptions())
	stores, _ := faultyStores(3)
	for _, id := range []string{"r-4", "e-2-2", "s-4-1-2"} {
		if _, err := r.Resolve(id, stores, 0); !cloudkvs.IsCode(err, cloudkvs.ConfigurationError) {
			t.Fatalf("%s: expected ConfigurationError, got %v", id, err)
		}
	}
	if _, err := r.Resolve("e-2-1", []kvs.Store{stores[0], stores[0], stores[1]}, 0); err == nil {
		t.Fatalf("expected duplicate backends to be rejected")
	}
}

func TestRegistry_FindOrBuildAndDefault(t *testing.T) {
	ctx := context.Background()
	m := kvs.NewManager()
	stores, _ := faultyStores(4)
	for _, s := range stores {
		m.Add(s)
	}
	r := NewRegistry(m, DefaultOptions())
	if r.Default() != nil {
		t.Fatalf("expected no default facade")
	}
	f, err := r.FindOrBuild("s-4-1-2", "kvs0;kvs1;kvs2;kvs3;")
	if err != nil {
		t.Fatal(err)
	}
	d, err := r.SetDefault("s-4-1-2", stores)
	if err != nil {
		t.Fatal(err)
	}
	if d != f || r.Default() != f {
		t.Fatalf("expected the default to be the memoized facade")
	}
	if _, err := r.FindOrBuild("r-1", "missing;"); err == nil {
		t.Fatalf("expected unknown backend error")
	}
	if err := f.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(r.Facades()) != 0 {
		t.Fatalf("expected registry to be empty after Close")
	}
}
