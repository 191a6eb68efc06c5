package facade

import (
	"context"
	"errors"
	log "log/slog"
	"time"

	"github.com/sharedcode/cloudkvs"
	"github.com/sharedcode/cloudkvs/kvs"
	"github.com/sharedcode/cloudkvs/parallelio"
	"github.com/sharedcode/cloudkvs/secretsharing"
)

// SecretSharingFacade splits each value into n shares, one per backend, any k = n-m of which
// recover it and fewer than r of which reveal nothing.
type SecretSharingFacade struct {
	base
	codec *secretsharing.Codec
}

// NewSecretSharing returns an "s-N-M-R" facade over stores using the shared codec pool of
// (codecType, n, m, r).
func NewSecretSharing(codecType secretsharing.CodecType, n, m, r int, stores []kvs.Store, refresh time.Duration, o *parallelio.Orchestrator) (*SecretSharingFacade, error) {
	b, err := newBase(Scheme{Kind: KindSecretSharing, N: n, K: n - m, M: m, R: r}, stores, refresh, o)
	if err != nil {
		return nil, err
	}
	codec, err := secretsharing.NewCodec(codecType, n, m, r)
	if err != nil {
		return nil, err
	}
	return &SecretSharingFacade{base: b, codec: codec}, nil
}

// Put succeeds once at least k backends acknowledged their share.
func (f *SecretSharingFacade) Put(ctx context.Context, key string, value []byte) error {
	err := f.put(ctx, key, value)
	f.metrics.ObserveFacade(f.schemeID, "put", err)
	return err
}

func (f *SecretSharingFacade) put(ctx context.Context, key string, value []byte) error {
	if err := checkValueSize(key, len(value)); err != nil {
		return err
	}
	shares, err := f.codec.Encode(ctx, value)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		if errors.Is(err, secretsharing.ErrSecretTooLarge) {
			return cloudkvs.NewError(cloudkvs.ValueTooLarge, key, err)
		}
		return cloudkvs.NewError(cloudkvs.DecodeFailure, key, err)
	}
	return f.writeFramed(ctx, key, len(value), shares, f.scheme.K)
}

// Get decodes the k best ranked shares and, if that fails or the validator rejects the
// result, reads all n shares and tries every k-subset of the well formed ones.
func (f *SecretSharingFacade) Get(ctx context.Context, key string, validator Validator) ([]byte, error) {
	v, err := f.get(ctx, key, validator)
	f.metrics.ObserveFacade(f.schemeID, "get", err)
	return v, err
}

func (f *SecretSharingFacade) get(ctx context.Context, key string, validator Validator) ([]byte, error) {
	k := f.scheme.K
	rk := f.ranker.Ranking()
	n, frames := f.orchestrator.FanOutGet(ctx, rk.Stores[:k], key, k)
	if n == k {
		if v, err := f.decodeShares(ctx, frames, rk.Positions); err == nil {
			if validator == nil || validator(key, v) {
				return v, nil
			}
			log.Warn("optimistic read rejected by validator", "key", key, "scheme", f.schemeID)
		} else {
			log.Debug("optimistic decode failed", "key", key, "scheme", f.schemeID, "error", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.metrics.PessimisticReads.WithLabelValues(f.schemeID).Inc()
	return f.pessimisticGet(ctx, key, validator)
}

// decodeShares decodes exactly k frames whose share numbers are ids.
func (f *SecretSharingFacade) decodeShares(ctx context.Context, frames [][]byte, ids []int) ([]byte, error) {
	k := f.scheme.K
	size := voteSize(frames, k)
	if size < 0 {
		return nil, errSizeDisagreement
	}
	shares, count := payloadsOfSize(frames, size, f.codec.ShareSize(size))
	if count != k {
		return nil, errMalformedShares
	}
	return f.codec.Decode(ctx, shares, ids, size)
}

var (
	errSizeDisagreement = errors.New("shares disagree on the secret size")
	errMalformedShares  = errors.New("malformed shares")
)

func (f *SecretSharingFacade) pessimisticGet(ctx context.Context, key string, validator Validator) ([]byte, error) {
	k, total := f.scheme.K, f.scheme.N
	n, frames := f.orchestrator.FanOutGet(ctx, f.stores, key, total)
	if n < k {
		if n == 0 {
			return nil, cloudkvs.Errorf(cloudkvs.KeyNotFound, key, "no share could be read from %d backends", total)
		}
		return nil, cloudkvs.Errorf(cloudkvs.QuorumFailure, key, "read %d shares, need %d", n, k)
	}
	size := voteSize(frames, k)
	if size < 0 {
		return nil, cloudkvs.Errorf(cloudkvs.DecodeFailure, key, "fewer than %d shares agree on the secret size", k)
	}
	payloads, count := payloadsOfSize(frames, size, f.codec.ShareSize(size))
	if count < k {
		return nil, cloudkvs.Errorf(cloudkvs.DecodeFailure, key, "only %d well formed shares, need %d", count, k)
	}
	valid := make([]int, 0, count)
	for i, p := range payloads {
		if p != nil {
			valid = append(valid, i)
		}
	}

	var result []byte
	var decoded, tried int
	var lastErr error
	shares := make([][]byte, k)
	ids := make([]int, k)
	secretsharing.Combinations(len(valid), k, func(idx []int) bool {
		for i, j := range idx {
			ids[i] = valid[j]
			shares[i] = payloads[valid[j]]
		}
		tried++
		v, err := f.codec.Decode(ctx, shares, ids, size)
		if err != nil {
			lastErr = err
			return ctx.Err() == nil
		}
		decoded++
		if validator != nil && !validator(key, v) {
			return true
		}
		result = v
		return false
	})
	if result != nil {
		if tried > 1 {
			log.Info("recovered secret from alternate share subset", "key", key, "scheme", f.schemeID, "subsets_tried", tried)
		}
		return result, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if decoded > 0 {
		return nil, cloudkvs.Errorf(cloudkvs.ValidationFailure, key, "validator rejected all %d decodable share subsets", decoded)
	}
	return nil, cloudkvs.Errorf(cloudkvs.DecodeFailure, key, "none of %d share subsets decoded, last error: %v", tried, lastErr)
}

func (f *SecretSharingFacade) HasInternalEncryption() bool {
	return true
}

// Close releases this facade's reference to the shared codec pool.
func (f *SecretSharingFacade) Close(ctx context.Context) error {
	return f.codec.Release(ctx)
}

// Codec returns the shared codec pool.
func (f *SecretSharingFacade) Codec() *secretsharing.Codec {
	return f.codec
}
