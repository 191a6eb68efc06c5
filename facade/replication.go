package facade

import (
	"context"
	log "log/slog"
	"time"

	"github.com/sharedcode/cloudkvs"
	"github.com/sharedcode/cloudkvs/encoding"
	"github.com/sharedcode/cloudkvs/kvs"
	"github.com/sharedcode/cloudkvs/parallelio"
)

// ReplicationFacade writes the whole value to every backend and reads from the fastest one
// that returns an acceptable copy.
type ReplicationFacade struct {
	base
}

// NewReplication returns an "r-N" facade over stores, which must hold N backends.
func NewReplication(n int, stores []kvs.Store, refresh time.Duration, o *parallelio.Orchestrator) (*ReplicationFacade, error) {
	b, err := newBase(Scheme{Kind: KindReplication, N: n, K: 1, M: n - 1}, stores, refresh, o)
	if err != nil {
		return nil, err
	}
	return &ReplicationFacade{base: b}, nil
}

// Put succeeds once any backend acknowledged the copy.
func (f *ReplicationFacade) Put(ctx context.Context, key string, value []byte) error {
	if err := checkValueSize(key, len(value)); err != nil {
		f.metrics.ObserveFacade(f.schemeID, "put", err)
		return err
	}
	blocks := make([][]byte, len(f.stores))
	for i := range blocks {
		blocks[i] = value
	}
	err := f.writeFramed(ctx, key, len(value), blocks, 1)
	f.metrics.ObserveFacade(f.schemeID, "put", err)
	return err
}

// Get tries the ranked backends one at a time and returns the first copy that is well
// formed and passes validator.
func (f *ReplicationFacade) Get(ctx context.Context, key string, validator Validator) ([]byte, error) {
	v, err := f.get(ctx, key, validator)
	f.metrics.ObserveFacade(f.schemeID, "get", err)
	return v, err
}

func (f *ReplicationFacade) get(ctx context.Context, key string, validator Validator) ([]byte, error) {
	rejected, malformed := 0, 0
	for _, s := range f.ranker.Ranking().Stores {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, values := f.orchestrator.FanOutGet(ctx, []kvs.Store{s}, key, 1)
		if n == 0 {
			continue
		}
		size, payload, err := encoding.Unframe(values[0])
		if err != nil || size != len(payload) {
			log.Warn("malformed replica", "key", key, "backend", s.ID())
			malformed++
			continue
		}
		if validator != nil && !validator(key, payload) {
			log.Warn("replica rejected by validator", "key", key, "backend", s.ID())
			rejected++
			continue
		}
		return payload, nil
	}
	switch {
	case rejected > 0:
		return nil, cloudkvs.Errorf(cloudkvs.ValidationFailure, key, "all %d readable replicas rejected", rejected)
	case malformed > 0:
		return nil, cloudkvs.Errorf(cloudkvs.DecodeFailure, key, "all %d readable replicas malformed", malformed)
	}
	return nil, cloudkvs.Errorf(cloudkvs.KeyNotFound, key, "no replica could be read from %d backends", len(f.stores))
}

func (f *ReplicationFacade) HasInternalEncryption() bool {
	return false
}

func (f *ReplicationFacade) Close(ctx context.Context) error {
	return nil
}
