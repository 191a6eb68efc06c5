package fs

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ncw/directio"
	"github.com/sharedcode/cloudkvs/kvs"
)

var _ kvs.Store = (*Store)(nil)

func TestKeyEncoding(t *testing.T) {
	for _, key := range []string{"", "a", "dir/with/slashes", "..", "\x00\xff"} {
		name := EncodeKey(key)
		got, ok := DecodeKey(name)
		if !ok || got != key {
			t.Errorf("DecodeKey(EncodeKey(%q)) = %q, %v", key, got, ok)
		}
		if filepath.Base(DefaultToFilePath("/base", key)) != name {
			t.Errorf("file of %q is not named %q", key, name)
		}
	}
	if _, ok := DecodeKey("notakey"); ok {
		t.Error("DecodeKey accepted a foreign name")
	}
	if _, ok := DecodeKey("kzz"); ok {
		t.Error("DecodeKey accepted invalid hex")
	}
}

func TestStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(ctx, "disk", StoreOptions{Folder: t.TempDir()})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	if found, _, err := s.Get(ctx, "missing"); found || err != nil {
		t.Fatalf("Get missing = %v, %v", found, err)
	}
	if err := s.Put(ctx, "k1", []byte("hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, "", nil); err != nil {
		t.Fatalf("Put empty: %v", err)
	}
	found, v, err := s.Get(ctx, "k1")
	if !found || err != nil || string(v) != "hello" {
		t.Fatalf("Get = %v, %q, %v", found, v, err)
	}
	if found, v, err := s.Get(ctx, ""); !found || err != nil || len(v) != 0 {
		t.Fatalf("Get empty = %v, %q, %v", found, v, err)
	}
	if n, _ := s.BytesUsed(ctx); n != 7 {
		t.Errorf("BytesUsed = %d, want 7", n)
	}

	// Overwrite replaces the accounting of the old value.
	if err := s.Put(ctx, "k1", []byte("hi")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if n, _ := s.BytesUsed(ctx); n != 4 {
		t.Errorf("BytesUsed after overwrite = %d, want 4", n)
	}

	keys, err := s.List(ctx)
	if err != nil || len(keys) != 2 || keys[0] != "" || keys[1] != "k1" {
		t.Fatalf("List = %q, %v", keys, err)
	}

	if err := s.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
	if n, _ := s.BytesUsed(ctx); n != 0 {
		t.Errorf("BytesUsed after delete = %d, want 0", n)
	}
}

func TestStoreReopenScansFolder(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewStore(ctx, "disk", StoreOptions{Folder: dir})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	s.Put(ctx, "a", []byte("12345"))
	s.Put(ctx, "bb", []byte("123"))
	// Foreign files are ignored.
	os.WriteFile(filepath.Join(dir, "README"), []byte("not a key"), 0o644)

	s2, err := NewStore(ctx, "disk", StoreOptions{Folder: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if n, _ := s2.BytesUsed(ctx); n != 11 {
		t.Errorf("BytesUsed after reopen = %d, want 11", n)
	}
	if keys, _ := s2.List(ctx); len(keys) != 2 {
		t.Errorf("List after reopen = %q", keys)
	}
}

func TestNewStoreRequiresFolder(t *testing.T) {
	if _, err := NewStore(context.Background(), "disk", StoreOptions{}); err == nil {
		t.Fatal("expected error without folder")
	}
}

type failingFileIO struct {
	FileIO
	err error
}

func (f failingFileIO) WriteFile(ctx context.Context, name string, data []byte, perm os.FileMode) error {
	return f.err
}

func (f failingFileIO) ReadFile(ctx context.Context, name string) ([]byte, error) {
	return nil, f.err
}

func TestStoreSurfacesIOErrors(t *testing.T) {
	ctx := context.Background()
	ioErr := errors.New("disk on fire")
	s, err := NewStore(ctx, "disk", StoreOptions{
		Folder: t.TempDir(),
		FileIO: failingFileIO{FileIO: NewFileIO(), err: ioErr},
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := s.Put(ctx, "k", []byte("v")); !errors.Is(err, ioErr) {
		t.Errorf("Put err = %v", err)
	}
	if _, _, err := s.Get(ctx, "k"); !errors.Is(err, ioErr) {
		t.Errorf("Get err = %v", err)
	}
	if n, _ := s.BytesUsed(ctx); n != 0 {
		t.Errorf("failed Put was accounted: %d", n)
	}
}

func TestStoreHonorsCanceledContext(t *testing.T) {
	s, err := NewStore(context.Background(), "disk", StoreOptions{Folder: t.TempDir()})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Put(ctx, "k", []byte("v")); !errors.Is(err, context.Canceled) {
		t.Errorf("Put err = %v", err)
	}
}

// directIOSupported reports whether the test folder's filesystem accepts O_DIRECT (tmpfs does not).
func directIOSupported(t *testing.T, dir string) bool {
	f, err := directio.OpenFile(filepath.Join(dir, "probe"), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(filepath.Join(dir, "probe"))
	return true
}

func TestDirectIOStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	if !directIOSupported(t, dir) {
		t.Skip("O_DIRECT not supported on the temp folder's filesystem")
	}
	s, err := NewStore(ctx, "direct", StoreOptions{Folder: dir, DirectIO: true})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	for _, size := range []int{0, 1, blockSize - lengthHeaderSize, blockSize, 3*blockSize + 17} {
		value := bytes.Repeat([]byte{byte(size)}, size)
		if err := s.Put(ctx, "k", value); err != nil {
			t.Fatalf("Put(%d): %v", size, err)
		}
		found, got, err := s.Get(ctx, "k")
		if !found || err != nil || !bytes.Equal(got, value) {
			t.Fatalf("Get(%d) = %v, %d bytes, %v", size, found, len(got), err)
		}
		if n, _ := s.BytesUsed(ctx); n != int64(1+size) {
			t.Errorf("BytesUsed(%d) = %d", size, n)
		}
		fi, err := os.Stat(DefaultToFilePath(dir, "k"))
		if err != nil || fi.Size()%blockSize != 0 {
			t.Errorf("file not block aligned: %v %v", fi, err)
		}
	}
}
