package fs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
)

// FileIO defines the filesystem operations the file store uses. Implementations do not retry,
// failures are reported to the caller which turns them into health penalties.
type FileIO interface {
	WriteFile(ctx context.Context, name string, data []byte, perm os.FileMode) error
	// ReadFile returns the file's data. A missing file is reported as os.ErrNotExist.
	ReadFile(ctx context.Context, name string) ([]byte, error)
	Remove(ctx context.Context, name string) error
	Exists(ctx context.Context, path string) bool
	// Size returns the length of the data ReadFile would return.
	Size(ctx context.Context, name string) (int64, error)

	// Directory API.
	RemoveAll(ctx context.Context, path string) error
	MkdirAll(ctx context.Context, path string, perm os.FileMode) error
	ReadDir(ctx context.Context, sourceDir string) ([]os.DirEntry, error)
}

type defaultFileIO struct {
}

// NewFileIO returns a FileIO that performs buffered I/O via the os package.
func NewFileIO() FileIO {
	return &defaultFileIO{}
}

func (dio defaultFileIO) WriteFile(ctx context.Context, name string, data []byte, perm os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.WriteFile(name, data, perm)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		// Parent folder is gone, recreate it once.
		if derr := dio.MkdirAll(ctx, filepath.Dir(name), perm); derr != nil {
			return derr
		}
		err = os.WriteFile(name, data, perm)
	}
	return err
}

func (dio defaultFileIO) ReadFile(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(name)
}

func (dio defaultFileIO) Remove(ctx context.Context, name string) error {
	if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (dio defaultFileIO) Exists(ctx context.Context, path string) bool {
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return true
	}
	return false
}

func (dio defaultFileIO) Size(ctx context.Context, name string) (int64, error) {
	fi, err := os.Stat(name)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (dio defaultFileIO) MkdirAll(ctx context.Context, path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (dio defaultFileIO) RemoveAll(ctx context.Context, path string) error {
	return os.RemoveAll(path)
}

func (dio defaultFileIO) ReadDir(ctx context.Context, sourceDir string) ([]os.DirEntry, error) {
	return os.ReadDir(sourceDir)
}
