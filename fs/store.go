// Package fs is the file-directory backend: every key is one file under the store's folder.
package fs

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sharedcode/cloudkvs/kvs"
)

// Directory/File permission.
const permission os.FileMode = os.ModePerm

// StoreOptions configures a file store.
type StoreOptions struct {
	// Folder is the store's root folder, created if missing.
	Folder string
	// DirectIO bypasses the page cache on reads and writes.
	DirectIO bool
	// FileIO overrides the I/O implementation, tests inject fakes through it.
	FileIO FileIO
	// ToFilePath overrides the key to file mapping.
	ToFilePath ToFilePathFunc
}

// Store keeps each key's value in its own file under a folder.
type Store struct {
	kvs.Base
	folder     string
	fileIO     FileIO
	toFilePath ToFilePathFunc
	// locker serializes mutations so the space accounting matches the files on disk.
	locker    sync.Mutex
	bytesUsed int64
}

// NewStore opens (creating if needed) the folder of a file store and scans it to initialize
// the space accounting.
func NewStore(ctx context.Context, id string, opts StoreOptions) (*Store, error) {
	if opts.Folder == "" {
		return nil, fmt.Errorf("file store %s: folder is required", id)
	}
	fio := opts.FileIO
	if fio == nil {
		if opts.DirectIO {
			fio = NewDirectFileIO()
		} else {
			fio = NewFileIO()
		}
	}
	toFilePath := opts.ToFilePath
	if toFilePath == nil {
		toFilePath = DefaultToFilePath
	}
	if err := fio.MkdirAll(ctx, opts.Folder, permission); err != nil {
		return nil, fmt.Errorf("file store %s: creating folder %s failed: %w", id, opts.Folder, err)
	}
	s := &Store{
		Base:       kvs.NewBase(id, true, 0),
		folder:     opts.Folder,
		fileIO:     fio,
		toFilePath: toFilePath,
	}
	err := s.walk(ctx, s.folder, func(name, key string) error {
		n, err := s.fileIO.Size(ctx, name)
		if err != nil {
			return err
		}
		s.bytesUsed += int64(len(key)) + n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("file store %s: scanning folder %s failed: %w", id, opts.Folder, err)
	}
	log.Debug("opened file store", "backend", id, "folder", opts.Folder, "direct_io", opts.DirectIO, "bytes_used", s.bytesUsed)
	return s, nil
}

// Folder returns the store's root folder.
func (s *Store) Folder() string {
	return s.folder
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	fn := s.toFilePath(s.folder, key)
	dir := filepath.Dir(fn)

	s.locker.Lock()
	defer s.locker.Unlock()
	old, existed := s.size(ctx, fn)
	if !existed && !s.fileIO.Exists(ctx, dir) {
		if err := s.fileIO.MkdirAll(ctx, dir, permission); err != nil {
			return err
		}
	}
	if err := s.fileIO.WriteFile(ctx, fn, value, permission); err != nil {
		return err
	}
	if existed {
		s.bytesUsed -= int64(len(key)) + old
	}
	s.bytesUsed += int64(len(key) + len(value))
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (bool, []byte, error) {
	ba, err := s.fileIO.ReadFile(ctx, s.toFilePath(s.folder, key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil, nil
		}
		return false, nil, err
	}
	return true, ba, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	fn := s.toFilePath(s.folder, key)

	s.locker.Lock()
	defer s.locker.Unlock()
	old, existed := s.size(ctx, fn)
	if !existed {
		return nil
	}
	if err := s.fileIO.Remove(ctx, fn); err != nil {
		return err
	}
	s.bytesUsed -= int64(len(key)) + old
	return nil
}

func (s *Store) List(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.walk(ctx, s.folder, func(_, key string) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) BytesUsed(ctx context.Context) (int64, error) {
	s.locker.Lock()
	defer s.locker.Unlock()
	return s.bytesUsed, nil
}

func (s *Store) Close() error {
	return nil
}

// size returns the data length of file fn and whether it exists.
func (s *Store) size(ctx context.Context, fn string) (int64, bool) {
	if !s.fileIO.Exists(ctx, fn) {
		return 0, false
	}
	n, err := s.fileIO.Size(ctx, fn)
	if err != nil {
		log.Warn("can't size existing file, space accounting may drift", "backend", s.ID(), "file", fn, "error", err)
		return 0, true
	}
	return n, true
}

// walk calls fn for every key file under dir. Names that are not key files are skipped.
func (s *Store) walk(ctx context.Context, dir string, fn func(name, key string) error) error {
	entries, err := s.fileIO.ReadDir(ctx, dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := filepath.Join(dir, e.Name())
		if e.IsDir() {
			if err := s.walk(ctx, name, fn); err != nil {
				return err
			}
			continue
		}
		key, ok := DecodeKey(e.Name())
		if !ok {
			continue
		}
		if err := fn(name, key); err != nil {
			return err
		}
	}
	return nil
}
