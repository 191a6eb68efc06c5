// Package facade implements the redundancy schemes (replication, Reed-Solomon erasure coding
// and threshold secret sharing) on top of the fan-out orchestrator, the latency ranking that
// picks which backends to read first, and the registry that memoizes scheme instances.
package facade

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sharedcode/cloudkvs"
	"github.com/sharedcode/cloudkvs/encoding"
	"github.com/sharedcode/cloudkvs/kvs"
	"github.com/sharedcode/cloudkvs/metrics"
	"github.com/sharedcode/cloudkvs/parallelio"
)

// Validator lets the caller accept or reject a decoded candidate value, e.g. by checking
// its checksum after decryption.
type Validator func(key string, candidate []byte) bool

// Facade stores values across a fixed, ordered set of backends using one redundancy scheme.
type Facade interface {
	// Put stores value under key. A nil error means the scheme's write quorum acknowledged.
	Put(ctx context.Context, key string, value []byte) error
	// Get returns the value of key, checked by validator when it is not nil.
	Get(ctx context.Context, key string, validator Validator) ([]byte, error)
	// Delete removes key from every backend.
	Delete(ctx context.Context, key string) error
	// BytesUsed sums the backends' space accounting.
	BytesUsed(ctx context.Context) (int64, error)
	// Stores returns the backends in positional order.
	Stores() []kvs.Store
	// SchemeID returns the scheme identifier, e.g. "e-2-1".
	SchemeID() string
	// Key returns the registry identity: scheme id + "+" + backend id list.
	Key() string
	// HasInternalEncryption reports whether stored blocks reveal nothing about the value.
	HasInternalEncryption() bool
	// Close releases shared resources, e.g. codec pools.
	Close(ctx context.Context) error
}

// Kind is the redundancy scheme family.
type Kind byte

const (
	KindReplication   Kind = 'r'
	KindErasure       Kind = 'e'
	KindSecretSharing Kind = 's'
)

// Scheme is a parsed scheme identifier.
type Scheme struct {
	Kind Kind
	// N is the backend count.
	N int
	// K is the number of blocks or shares needed to read; 1 for replication.
	K int
	// M is the number of backends that may be lost.
	M int
	// R is the confidentiality threshold of secret sharing.
	R int
}

// ParseScheme parses "r-<n>", "e-<k>-<m>" or "s-<n>-<m>-<r>".
func ParseScheme(id string) (Scheme, error) {
	parts := strings.Split(strings.TrimSpace(id), "-")
	bad := func(format string, args ...any) (Scheme, error) {
		return Scheme{}, cloudkvs.Errorf(cloudkvs.ConfigurationError, id, "invalid scheme id %q: "+format, append([]any{id}, args...)...)
	}
	if len(parts) < 2 || len(parts[0]) != 1 {
		return bad("expected r-N, e-K-M or s-N-M-R")
	}
	nums := make([]int, len(parts)-1)
	for i, p := range parts[1:] {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return bad("%q is not a count", p)
		}
		nums[i] = v
	}
	switch Kind(parts[0][0]) {
	case KindReplication:
		if len(nums) != 1 {
			return bad("expected r-N")
		}
		if nums[0] < 1 {
			return bad("need at least one replica")
		}
		return Scheme{Kind: KindReplication, N: nums[0], K: 1, M: nums[0] - 1}, nil
	case KindErasure:
		if len(nums) != 2 {
			return bad("expected e-K-M")
		}
		k, m := nums[0], nums[1]
		if k < 1 || m < 1 {
			return bad("k and m must be positive")
		}
		if k+m > 256 {
			return bad("k+m cannot exceed 256")
		}
		return Scheme{Kind: KindErasure, N: k + m, K: k, M: m}, nil
	case KindSecretSharing:
		if len(nums) != 3 {
			return bad("expected s-N-M-R")
		}
		n, m, r := nums[0], nums[1], nums[2]
		if n <= m || m < 1 || r < 1 || r >= n-m || n > 256 {
			return bad("need 0 < r < n-m, m >= 1 and n <= 256")
		}
		return Scheme{Kind: KindSecretSharing, N: n, K: n - m, M: m, R: r}, nil
	}
	return bad("unknown scheme kind %q", parts[0])
}

func (s Scheme) String() string {
	switch s.Kind {
	case KindReplication:
		return fmt.Sprintf("r-%d", s.N)
	case KindErasure:
		return fmt.Sprintf("e-%d-%d", s.K, s.M)
	case KindSecretSharing:
		return fmt.Sprintf("s-%d-%d-%d", s.N, s.M, s.R)
	}
	return "unknown"
}

// FacadeKey returns the registry identity of scheme over stores.
func FacadeKey(schemeID string, stores []kvs.Store) string {
	return schemeID + "+" + kvs.JoinIDs(stores)
}

// base carries what every scheme shares.
type base struct {
	scheme       Scheme
	schemeID     string
	key          string
	stores       []kvs.Store
	ranker       *Ranker
	orchestrator *parallelio.Orchestrator
	metrics      *metrics.Metrics
}

func newBase(scheme Scheme, stores []kvs.Store, refresh time.Duration, o *parallelio.Orchestrator) (base, error) {
	id := scheme.String()
	if len(stores) != scheme.N {
		return base{}, cloudkvs.Errorf(cloudkvs.ConfigurationError, id, "scheme %s needs %d backends, got %d", id, scheme.N, len(stores))
	}
	seen := make(map[string]struct{}, len(stores))
	for _, s := range stores {
		if _, ok := seen[s.ID()]; ok {
			return base{}, cloudkvs.Errorf(cloudkvs.ConfigurationError, id, "backend %s listed twice", s.ID())
		}
		seen[s.ID()] = struct{}{}
	}
	if o == nil {
		o = parallelio.New(cloudkvs.DefaultOptions())
	}
	stores = append([]kvs.Store(nil), stores...)
	return base{
		scheme:       scheme,
		schemeID:     id,
		key:          FacadeKey(id, stores),
		stores:       stores,
		ranker:       NewRanker(stores, scheme.K, refresh),
		orchestrator: o,
		metrics:      metrics.Get(),
	}, nil
}

func (b *base) Stores() []kvs.Store {
	return append([]kvs.Store(nil), b.stores...)
}

func (b *base) SchemeID() string {
	return b.schemeID
}

func (b *base) Key() string {
	return b.key
}

func (b *base) Ranker() *Ranker {
	return b.ranker
}

func (b *base) Delete(ctx context.Context, key string) error {
	err := b.orchestrator.Delete(ctx, b.stores, key)
	b.metrics.ObserveFacade(b.schemeID, "delete", err)
	return err
}

func (b *base) BytesUsed(ctx context.Context) (int64, error) {
	return b.orchestrator.BytesUsed(ctx, b.stores)
}

// checkValueSize rejects values whose size a frame header cannot carry.
func checkValueSize(key string, size int) error {
	if err := encoding.CheckSize(size); err != nil {
		return cloudkvs.NewError(cloudkvs.ValueTooLarge, key, err)
	}
	return nil
}

// writeFramed frames each block with the value size and writes it to its store. It fails
// unless at least quorum stores acknowledged.
func (b *base) writeFramed(ctx context.Context, key string, size int, blocks [][]byte, quorum int) error {
	framed := make([][]byte, len(blocks))
	for i, blk := range blocks {
		framed[i] = encoding.Frame(size, blk)
	}
	acks := b.orchestrator.FanOutPut(ctx, b.stores, key, framed)
	if acks < quorum {
		return cloudkvs.Errorf(cloudkvs.QuorumFailure, key, "%s put acknowledged by %d of %d backends, need %d", b.schemeID, acks, len(b.stores), quorum)
	}
	return nil
}

// voteSize returns the declared size carried by the most frames, if at least quorum frames
// agree on it, else -1. Ties go to the smaller size.
func voteSize(frames [][]byte, quorum int) int {
	counts := make(map[int]int)
	for _, f := range frames {
		if f == nil {
			continue
		}
		if size := encoding.DeclaredSize(f); size >= 0 {
			counts[size]++
		}
	}
	best, bestCount := -1, 0
	for size, c := range counts {
		if c > bestCount || (c == bestCount && size < best) {
			best, bestCount = size, c
		}
	}
	if bestCount < quorum {
		return -1
	}
	return best
}

// payloadsOfSize returns, per position, the payload of frames declaring size with the
// expected payload length, nil elsewhere, plus how many positions qualified.
func payloadsOfSize(frames [][]byte, size, payloadLen int) ([][]byte, int) {
	r := make([][]byte, len(frames))
	count := 0
	for i, f := range frames {
		if f == nil {
			continue
		}
		declared, payload, err := encoding.Unframe(f)
		if err != nil || declared != size || len(payload) != payloadLen {
			continue
		}
		r[i] = payload
		count++
	}
	return r, count
}
