package fs

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/ncw/directio"
)

const (
	// blockSize is the alignment size required by the direct I/O implementation.
	blockSize = directio.BlockSize
	// lengthHeaderSize prefixes every direct I/O file with the data length, since the file
	// itself is padded to a whole number of blocks.
	lengthHeaderSize = 8
)

// directFileIO is a FileIO that bypasses the page cache (O_DIRECT where the platform supports
// it). Files are written as whole aligned blocks: an 8 byte big-endian data length, the data,
// then zero padding.
type directFileIO struct {
	defaultFileIO
}

// NewDirectFileIO returns a FileIO backed by github.com/ncw/directio.
func NewDirectFileIO() FileIO {
	return &directFileIO{}
}

func alignedSize(n int) int {
	return (n + blockSize - 1) / blockSize * blockSize
}

func (dio directFileIO) WriteFile(ctx context.Context, name string, data []byte, perm os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	block := directio.AlignedBlock(alignedSize(lengthHeaderSize + len(data)))
	binary.BigEndian.PutUint64(block, uint64(len(data)))
	copy(block[lengthHeaderSize:], data)

	f, err := directio.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(block, 0); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (dio directFileIO) ReadFile(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := directio.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() < blockSize || fi.Size()%blockSize != 0 {
		return nil, fmt.Errorf("file %s is not block aligned, size %d", name, fi.Size())
	}
	block := directio.AlignedBlock(int(fi.Size()))
	if n, err := f.ReadAt(block, 0); err != nil && !(err == io.EOF && n == len(block)) {
		return nil, err
	}
	n := binary.BigEndian.Uint64(block)
	if n > uint64(len(block)-lengthHeaderSize) {
		return nil, fmt.Errorf("file %s declares %d bytes but holds %d", name, n, len(block)-lengthHeaderSize)
	}
	r := make([]byte, n)
	copy(r, block[lengthHeaderSize:])
	return r, nil
}

func (dio directFileIO) Size(ctx context.Context, name string) (int64, error) {
	f, err := directio.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	block := directio.AlignedBlock(blockSize)
	if _, err := f.ReadAt(block, 0); err != nil && err != io.EOF {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(block)), nil
}
