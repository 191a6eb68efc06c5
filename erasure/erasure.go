// Package erasure implements the Reed-Solomon block codec used by the erasure coded
// redundancy scheme: value padding, blocking, parity computation and reconstruction from
// an erasure vector.
package erasure

import (
	"errors"
	"fmt"
	"slices"

	"github.com/klauspost/reedsolomon"
)

const (
	// WordSize is the coding word size in bits.
	WordSize = 8
	// PacketSize is the coding packet size in words.
	PacketSize = 8
	// MaxBlocks is the upper bound of data plus parity blocks over GF(2^8).
	MaxBlocks = 256
)

// ErrTooManyErasures means fewer than k blocks are left to decode from.
var ErrTooManyErasures = errors.New("too many erasures to decode")

// Unit returns the padding granularity for k data blocks, k * WordSize * PacketSize * 4 bytes.
func Unit(k int) int {
	return k * WordSize * PacketSize * 4
}

// PaddedSize returns the smallest multiple of Unit(k) that holds size bytes. An empty value
// still takes one unit as blocks cannot be empty.
func PaddedSize(size, k int) int {
	u := Unit(k)
	if size <= 0 {
		return u
	}
	return (size + u - 1) / u * u
}

// BlockSize returns the size of each of the n blocks of a size byte value.
func BlockSize(size, k int) int {
	return PaddedSize(size, k) / k
}

// Erasure encodes values into k data and m parity blocks.
type Erasure struct {
	DataBlocksCount   int
	ParityBlocksCount int
	encoder           reedsolomon.Encoder
}

// NewErasure instantiates a codec for k data and m parity blocks.
func NewErasure(k, m int) (*Erasure, error) {
	if k < 1 || m < 0 {
		return nil, fmt.Errorf("invalid erasure parameters k=%d m=%d", k, m)
	}
	if k+m > MaxBlocks {
		return nil, fmt.Errorf("sum of data and parity blocks cannot exceed %d", MaxBlocks)
	}
	enc, err := reedsolomon.New(k, m)
	if err != nil {
		return nil, err
	}
	return &Erasure{
		DataBlocksCount:   k,
		ParityBlocksCount: m,
		encoder:           enc,
	}, nil
}

// N is the total block count.
func (e *Erasure) N() int {
	return e.DataBlocksCount + e.ParityBlocksCount
}

// Encode pads value and returns its k data blocks followed by its m parity blocks, all of
// BlockSize(len(value), k) bytes. The data blocks do not alias value.
func (e *Erasure) Encode(value []byte) ([][]byte, error) {
	k := e.DataBlocksCount
	bs := BlockSize(len(value), k)

	// One backing buffer for all blocks; the zero tail is the padding.
	buf := make([]byte, bs*e.N())
	copy(buf, value)
	blocks := make([][]byte, e.N())
	for i := range blocks {
		blocks[i] = buf[i*bs : (i+1)*bs : (i+1)*bs]
	}
	if err := e.encoder.Encode(blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

// DecodeResult is a structure containing the Decode function result.
type DecodeResult struct {
	DecodedData []byte
	// Positions that were missing and had to be reconstructed. Useful for repairing
	// those blocks, e.g. rewriting them.
	ReconstructedBlocksIndeces []int
	Error                      error
}

// Decode rebuilds the size byte value from blocks. erasures lists the missing positions
// terminated by -1 (see ErasureVector); those entries of blocks are ignored. When no data
// block is missing nothing is reconstructed.
func (e *Erasure) Decode(blocks [][]byte, erasures []int, size int) *DecodeResult {
	n, k := e.N(), e.DataBlocksCount
	if len(blocks) != n {
		return &DecodeResult{Error: fmt.Errorf("got %d blocks, expected %d", len(blocks), n)}
	}
	bs := BlockSize(size, k)
	missing := Missing(erasures)
	if len(missing) > e.ParityBlocksCount {
		return &DecodeResult{Error: fmt.Errorf("%w: %d missing of %d", ErrTooManyErasures, len(missing), n)}
	}

	shards := make([][]byte, n)
	copy(shards, blocks)
	for _, i := range missing {
		if i < 0 || i >= n {
			return &DecodeResult{Error: fmt.Errorf("erasure position %d out of range", i)}
		}
		shards[i] = nil
	}
	for i, s := range shards {
		if s != nil && len(s) != bs {
			return &DecodeResult{Error: fmt.Errorf("block %d has %d bytes, expected %d", i, len(s), bs)}
		}
		if s == nil && !slices.Contains(missing, i) {
			return &DecodeResult{Error: fmt.Errorf("block %d absent but not listed as erased", i)}
		}
	}

	r := &DecodeResult{}
	for _, i := range missing {
		if i < k {
			r.ReconstructedBlocksIndeces = append(r.ReconstructedBlocksIndeces, i)
		}
	}
	if len(r.ReconstructedBlocksIndeces) > 0 {
		if err := e.encoder.ReconstructData(shards); err != nil {
			return &DecodeResult{Error: fmt.Errorf("reconstruct failed, error: %w", err)}
		}
	}
	r.DecodedData = join(shards[:k], size)
	return r
}

// Reconstruct fills every nil entry of blocks, parity included, from the others.
func (e *Erasure) Reconstruct(blocks [][]byte) error {
	return e.encoder.Reconstruct(blocks)
}

// ErasureVector returns missing followed by the -1 terminator.
func ErasureVector(missing []int) []int {
	v := make([]int, 0, len(missing)+1)
	v = append(v, missing...)
	return append(v, -1)
}

// Missing returns the positions of an erasure vector, up to its terminator.
func Missing(erasures []int) []int {
	for i, p := range erasures {
		if p < 0 {
			return erasures[:i]
		}
	}
	return erasures
}

func join(data [][]byte, size int) []byte {
	out := make([]byte, 0, size)
	for _, d := range data {
		if len(out)+len(d) >= size {
			return append(out, d[:size-len(out)]...)
		}
		out = append(out, d...)
	}
	return out
}
