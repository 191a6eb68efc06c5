package facade

import (
	"context"
	log "log/slog"
	"time"

	"github.com/sharedcode/cloudkvs"
	"github.com/sharedcode/cloudkvs/encoding"
	"github.com/sharedcode/cloudkvs/erasure"
	"github.com/sharedcode/cloudkvs/kvs"
	"github.com/sharedcode/cloudkvs/parallelio"
)

// ErasureFacade Reed-Solomon codes each value into k data and m parity blocks, one per backend.
type ErasureFacade struct {
	base
	codec *erasure.Erasure
	// RepairOnRead rewrites blocks found missing or inconsistent by a pessimistic read.
	RepairOnRead bool
}

// NewErasure returns an "e-K-M" facade over stores, which must hold k+m backends.
func NewErasure(k, m int, stores []kvs.Store, refresh time.Duration, o *parallelio.Orchestrator) (*ErasureFacade, error) {
	b, err := newBase(Scheme{Kind: KindErasure, N: k + m, K: k, M: m}, stores, refresh, o)
	if err != nil {
		return nil, err
	}
	codec, err := erasure.NewErasure(k, m)
	if err != nil {
		return nil, cloudkvs.NewError(cloudkvs.ConfigurationError, b.schemeID, err)
	}
	return &ErasureFacade{base: b, codec: codec}, nil
}

// Put succeeds once at least k backends acknowledged their block.
func (f *ErasureFacade) Put(ctx context.Context, key string, value []byte) error {
	err := f.put(ctx, key, value)
	f.metrics.ObserveFacade(f.schemeID, "put", err)
	return err
}

func (f *ErasureFacade) put(ctx context.Context, key string, value []byte) error {
	if err := checkValueSize(key, len(value)); err != nil {
		return err
	}
	blocks, err := f.codec.Encode(value)
	if err != nil {
		return cloudkvs.NewError(cloudkvs.DecodeFailure, key, err)
	}
	return f.writeFramed(ctx, key, len(value), blocks, f.scheme.K)
}

// Get reads the k best ranked blocks and falls back to reading all n when they do not
// decode into a value the validator accepts.
func (f *ErasureFacade) Get(ctx context.Context, key string, validator Validator) ([]byte, error) {
	v, err := f.get(ctx, key, validator)
	f.metrics.ObserveFacade(f.schemeID, "get", err)
	return v, err
}

func (f *ErasureFacade) get(ctx context.Context, key string, validator Validator) ([]byte, error) {
	k := f.scheme.K
	rk := f.ranker.Ranking()
	n, frames := f.orchestrator.FanOutGet(ctx, rk.Stores[:k], key, k)
	if n == k {
		if v, ok := f.decodeOptimistic(key, frames, rk.Positions); ok {
			if validator == nil || validator(key, v) {
				return v, nil
			}
			log.Warn("optimistic read rejected by validator", "key", key, "scheme", f.schemeID)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.metrics.PessimisticReads.WithLabelValues(f.schemeID).Inc()
	return f.pessimisticGet(ctx, key, validator)
}

// decodeOptimistic decodes k frames read from the given original positions.
func (f *ErasureFacade) decodeOptimistic(key string, frames [][]byte, positions []int) ([]byte, bool) {
	k, total := f.scheme.K, f.scheme.N
	size := voteSize(frames, k)
	if size < 0 {
		log.Debug("optimistic read got inconsistent sizes", "key", key)
		return nil, false
	}
	payloads, count := payloadsOfSize(frames, size, erasure.BlockSize(size, k))
	if count != k {
		return nil, false
	}
	blocks := make([][]byte, total)
	dataOnly := true
	for i, p := range positions {
		blocks[p] = payloads[i]
		if p >= k {
			dataOnly = false
		}
	}
	if dataOnly {
		// All data blocks are here, nothing to reconstruct.
		return joinData(blocks[:k], size), true
	}
	missing := make([]int, 0, total-k)
	for i, b := range blocks {
		if b == nil {
			missing = append(missing, i)
		}
	}
	dr := f.codec.Decode(blocks, erasure.ErasureVector(missing), size)
	if dr.Error != nil {
		log.Warn("optimistic decode failed", "key", key, "scheme", f.schemeID, "error", dr.Error)
		return nil, false
	}
	return dr.DecodedData, true
}

func (f *ErasureFacade) pessimisticGet(ctx context.Context, key string, validator Validator) ([]byte, error) {
	k, total := f.scheme.K, f.scheme.N
	n, frames := f.orchestrator.FanOutGet(ctx, f.stores, key, total)
	if n < k {
		if n == 0 {
			return nil, cloudkvs.Errorf(cloudkvs.KeyNotFound, key, "no block could be read from %d backends", total)
		}
		return nil, cloudkvs.Errorf(cloudkvs.QuorumFailure, key, "read %d blocks, need %d", n, k)
	}
	size := voteSize(frames, k)
	if size < 0 {
		return nil, cloudkvs.Errorf(cloudkvs.DecodeFailure, key, "fewer than %d blocks agree on the value size", k)
	}
	blocks, count := payloadsOfSize(frames, size, erasure.BlockSize(size, k))
	if count < k {
		return nil, cloudkvs.Errorf(cloudkvs.DecodeFailure, key, "only %d well formed blocks, need %d", count, k)
	}
	missing := make([]int, 0, total-count)
	for i, b := range blocks {
		if b == nil {
			missing = append(missing, i)
		}
	}
	dr := f.codec.Decode(blocks, erasure.ErasureVector(missing), size)
	if dr.Error != nil {
		return nil, cloudkvs.NewError(cloudkvs.DecodeFailure, key, dr.Error)
	}
	if validator != nil && !validator(key, dr.DecodedData) {
		return nil, cloudkvs.Errorf(cloudkvs.ValidationFailure, key, "decoded value rejected by validator")
	}
	if f.RepairOnRead && len(missing) > 0 {
		f.repair(ctx, key, size, blocks, missing)
	}
	return dr.DecodedData, nil
}

// repair recomputes the missing blocks and rewrites them to their backends, best effort.
func (f *ErasureFacade) repair(ctx context.Context, key string, size int, blocks [][]byte, missing []int) {
	if err := f.codec.Reconstruct(blocks); err != nil {
		log.Warn("repair reconstruct failed", "key", key, "error", err)
		return
	}
	stores := make([]kvs.Store, len(missing))
	framed := make([][]byte, len(missing))
	for i, p := range missing {
		stores[i] = f.stores[p]
		framed[i] = encoding.Frame(size, blocks[p])
	}
	acks := f.orchestrator.FanOutPut(ctx, stores, key, framed)
	log.Info("repaired erasure blocks", "key", key, "scheme", f.schemeID, "repaired", acks, "missing", len(missing))
}

func (f *ErasureFacade) HasInternalEncryption() bool {
	return false
}

func (f *ErasureFacade) Close(ctx context.Context) error {
	return nil
}

func joinData(data [][]byte, size int) []byte {
	out := make([]byte, 0, size)
	for _, d := range data {
		out = append(out, d...)
		if len(out) >= size {
			break
		}
	}
	return out[:size]
}
