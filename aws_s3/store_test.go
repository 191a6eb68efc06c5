package aws_s3

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/sharedcode/cloudkvs/kvs"
)

var _ kvs.Store = (*Store)(nil)

// Runs against a live endpoint, e.g. CLOUDKVS_S3_TEST=http://127.0.0.1:9000 with MinIO.
func testStore(t *testing.T) *Store {
	endpoint := os.Getenv("CLOUDKVS_S3_TEST")
	if endpoint == "" {
		t.Skip("CLOUDKVS_S3_TEST not set")
	}
	user := os.Getenv("CLOUDKVS_S3_USER")
	if user == "" {
		user = "minioadmin"
	}
	password := os.Getenv("CLOUDKVS_S3_PASSWORD")
	if password == "" {
		password = "minioadmin"
	}
	client := Connect(Config{
		HostEndpointUrl: endpoint,
		Region:          "us-east-1",
		Username:        user,
		Password:        password,
		UsePathStyle:    true,
	})
	ctx := context.Background()
	bucket := "cloudkvs-test"
	if err := CreateBucket(ctx, client, bucket, "us-east-1"); err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}
	s, err := NewStore("s3", client, bucket, uuid.NewString()+"/")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() {
		kvs.EmptyStore(context.Background(), s)
	})
	return s
}

func TestNewStoreValidation(t *testing.T) {
	if _, err := NewStore("s3", nil, "b", ""); err == nil {
		t.Error("expected error for nil client")
	}
	if _, err := NewStore("s3", Connect(Config{}), "", ""); err == nil {
		t.Error("expected error for empty bucket")
	}
}

func TestStoreRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if found, _, err := s.Get(ctx, "missing"); found || err != nil {
		t.Fatalf("Get missing = %v, %v", found, err)
	}
	value := []byte("hello s3")
	if err := s.Put(ctx, "k1", value); err != nil {
		t.Fatalf("Put: %v", err)
	}
	found, got, err := s.Get(ctx, "k1")
	if !found || err != nil || !bytes.Equal(got, value) {
		t.Fatalf("Get = %v, %q, %v", found, got, err)
	}
	keys, err := s.List(ctx)
	if err != nil || len(keys) != 1 || keys[0] != "k1" {
		t.Fatalf("List = %q, %v", keys, err)
	}
	if n, err := s.BytesUsed(ctx); err != nil || n != int64(2+len(value)) {
		t.Errorf("BytesUsed = %d, %v", n, err)
	}
	if err := s.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
}
