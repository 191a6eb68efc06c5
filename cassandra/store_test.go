package cassandra

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/sharedcode/cloudkvs/kvs"
)

var _ kvs.Store = (*Store)(nil)

func TestOpenConnectionValidation(t *testing.T) {
	if _, err := OpenConnection(Config{ClusterHosts: []string{"localhost"}, Table: "bad-name"}); err == nil {
		t.Error("expected error for invalid table name")
	}
	if _, err := OpenConnection(Config{}); err == nil {
		t.Error("expected error without cluster hosts")
	}
	if _, err := NewStore("cas", nil); err == nil {
		t.Error("expected error for nil connection")
	}
}

// CLOUDKVS_CASSANDRA_TEST lists contact points, e.g. "localhost" or "h1,h2".
func TestStoreRoundTrip(t *testing.T) {
	hosts := os.Getenv("CLOUDKVS_CASSANDRA_TEST")
	if hosts == "" {
		t.Skip("CLOUDKVS_CASSANDRA_TEST not set")
	}
	conn, err := OpenConnection(Config{
		ClusterHosts: strings.Split(hosts, ","),
		Keyspace:     "cloudkvs_test",
		Table:        "blocks",
	})
	if err != nil {
		t.Fatalf("OpenConnection: %v", err)
	}
	s, err := NewStore("cas", conn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer s.Close()
	ctx := context.Background()
	if _, err := kvs.EmptyStore(ctx, s); err != nil {
		t.Fatalf("EmptyStore: %v", err)
	}

	if found, _, err := s.Get(ctx, "missing"); found || err != nil {
		t.Fatalf("Get missing = %v, %v", found, err)
	}
	value := []byte("hello cassandra")
	if err := s.Put(ctx, "k1", value); err != nil {
		t.Fatalf("Put: %v", err)
	}
	found, got, err := s.Get(ctx, "k1")
	if !found || err != nil || !bytes.Equal(got, value) {
		t.Fatalf("Get = %v, %q, %v", found, got, err)
	}
	if keys, err := s.List(ctx); err != nil || len(keys) != 1 || keys[0] != "k1" {
		t.Fatalf("List = %q, %v", keys, err)
	}
	if n, err := s.BytesUsed(ctx); err != nil || n != int64(2+len(value)) {
		t.Errorf("BytesUsed = %d, %v", n, err)
	}
	if err := s.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}
