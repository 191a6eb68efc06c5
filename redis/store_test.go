package redis

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/sharedcode/cloudkvs/kvs"
)

var _ kvs.Store = (*Store)(nil)

func TestParseRunID(t *testing.T) {
	info := "# Server\r\nredis_version:7.2.4\r\nrun_id:abc123\r\ntcp_port:6379\r\n"
	if got := parseRunID(info); got != "abc123" {
		t.Errorf("parseRunID = %q", got)
	}
	if got := parseRunID("redis_version:7\nrun_id:xyz\n"); got != "xyz" {
		t.Errorf("parseRunID with \\n = %q", got)
	}
	if got := parseRunID("nothing here"); got != "" {
		t.Errorf("parseRunID = %q, want empty", got)
	}
}

func TestObserveRunID(t *testing.T) {
	c := &Connection{}
	c.observeRunID("a")
	c.observeRunID("a")
	if c.IsRestarted() {
		t.Fatal("same run_id flagged as restart")
	}
	c.observeRunID("b")
	if !c.IsRestarted() {
		t.Fatal("changed run_id not flagged as restart")
	}
}

func TestEscapeGlob(t *testing.T) {
	if got := escapeGlob("a*b?[c]"); got != `a\*b\?\[c\]` {
		t.Errorf("escapeGlob = %q", got)
	}
}

func TestNewStoreRequiresConnection(t *testing.T) {
	if _, err := NewStore("redis", nil, ""); err == nil {
		t.Fatal("expected error for nil connection")
	}
}

func TestStoreRoundTrip(t *testing.T) {
	if os.Getenv("CLOUDKVS_REDIS_TEST") != "1" {
		t.Skip("skipping Redis integration test; set CLOUDKVS_REDIS_TEST=1 to run")
	}
	ctx := context.Background()
	conn, err := OpenConnection(DefaultOptions())
	if err != nil {
		t.Fatalf("OpenConnection: %v", err)
	}
	if err := conn.Ping(ctx); err != nil {
		t.Skipf("skipping Redis integration test; Redis not reachable: %v", err)
	}
	s, err := NewStore("redis", conn, uuid.NewString()+":")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer s.Close()
	defer kvs.EmptyStore(ctx, s)

	if found, _, err := s.Get(ctx, "missing"); found || err != nil {
		t.Fatalf("Get missing = %v, %v", found, err)
	}
	value := []byte("hello redis")
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
	if found, _, _ := s.Get(ctx, "k1"); found {
		t.Fatal("key still present after Delete")
	}
}
