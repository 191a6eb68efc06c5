// Package encoding holds the on-backend block framing and the report marshaler.
package encoding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// HeaderSize is the size of the frame header: the original value length, big-endian.
const HeaderSize = 4

// MaxSize is the largest original size a frame header declares.
const MaxSize = math.MaxInt32

var (
	// ErrShortFrame is returned for blobs too short to carry a frame header.
	ErrShortFrame = errors.New("frame shorter than its header")
	// ErrTooLarge is returned for values larger than MaxSize.
	ErrTooLarge = errors.New("value too large to frame")
)

// CheckSize fails with ErrTooLarge for sizes a frame header cannot declare.
func CheckSize(size int) error {
	if size < 0 || int64(size) > MaxSize {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
	}
	return nil
}

// Frame returns header(originalSize) followed by payload, in a new buffer. It panics if
// CheckSize rejects originalSize.
func Frame(originalSize int, payload []byte) []byte {
	if err := CheckSize(originalSize); err != nil {
		panic(err)
	}
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(originalSize))
	copy(buf[HeaderSize:], payload)
	return buf
}

// Unframe splits a stored blob into the declared original size and the payload.
// The payload aliases blob.
func Unframe(blob []byte) (int, []byte, error) {
	if len(blob) < HeaderSize {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(blob))
	}
	size := binary.BigEndian.Uint32(blob)
	if uint64(size) > MaxSize {
		return 0, nil, fmt.Errorf("declared size %d out of range", size)
	}
	return int(size), blob[HeaderSize:], nil
}

// DeclaredSize returns only the header of blob, or -1 if blob has none.
func DeclaredSize(blob []byte) int {
	size, _, err := Unframe(blob)
	if err != nil {
		return -1
	}
	return size
}
