package secretsharing

import (
	"context"
	"fmt"
	log "log/slog"
	"sync"

	"github.com/sharedcode/cloudkvs"
)

const (
	// MaxCodecsAll bounds the codec slots of all pools in the process.
	MaxCodecsAll = 4096
	// CodecWorkers is the slot count of one pool.
	CodecWorkers = 64
	// MaxSecretSize is the largest secret a codec encodes.
	MaxSecretSize = 8 << 20
	// MaxShares bounds n over GF(2^8).
	MaxShares = 256
)

// Codec is a process-wide pool of codec slots for one (type, n, m, r) tuple. Encode and
// Decode each hold one slot for their duration. Get it with NewCodec and give it back with
// Release.
type Codec struct {
	Type CodecType
	N    int
	M    int
	R    int
	K    int

	key   string
	slots chan *coder
	size  int
	// Guarded by registry.locker.
	refs int
}

var registry = struct {
	locker sync.Mutex
	codecs map[string]*Codec
	slots  int
}{
	codecs: make(map[string]*Codec),
}

// Validate checks secret sharing parameters: 0 < r < k = n-m, m >= 1 and n <= MaxShares.
func Validate(n, m, r int) error {
	k := n - m
	switch {
	case m < 1:
		return fmt.Errorf("m must be at least 1, got %d", m)
	case k < 1:
		return fmt.Errorf("n must exceed m, got n=%d m=%d", n, m)
	case r < 1 || r >= k:
		return fmt.Errorf("r must satisfy 0 < r < k=%d, got %d", k, r)
	case n > MaxShares:
		return fmt.Errorf("n cannot exceed %d, got %d", MaxShares, n)
	}
	return nil
}

func codecKey(t CodecType, n, m, r int) string {
	return fmt.Sprintf("%d-%d-%d-%d", int(t), n, m, r)
}

// NewCodec returns the shared codec of (t, n, m, r), creating its slots on first use.
// Every successful call must be paired with a Release.
func NewCodec(t CodecType, n, m, r int) (*Codec, error) {
	if t != AONTRS && t != CAONTRS {
		return nil, cloudkvs.Errorf(cloudkvs.ConfigurationError, t.String(), "unsupported codec type %d", int(t))
	}
	if err := Validate(n, m, r); err != nil {
		return nil, cloudkvs.NewError(cloudkvs.ConfigurationError, codecKey(t, n, m, r), err)
	}
	key := codecKey(t, n, m, r)

	registry.locker.Lock()
	defer registry.locker.Unlock()
	if c, ok := registry.codecs[key]; ok {
		c.refs++
		return c, nil
	}
	size := min(CodecWorkers, MaxCodecsAll-registry.slots)
	if size <= 0 {
		return nil, cloudkvs.Errorf(cloudkvs.ConfigurationError, key, "codec slot budget of %d exhausted", MaxCodecsAll)
	}
	c := &Codec{
		Type:  t,
		N:     n,
		M:     m,
		R:     r,
		K:     n - m,
		key:   key,
		slots: make(chan *coder, size),
		size:  size,
		refs:  1,
	}
	for i := 0; i < size; i++ {
		cd, err := newCoder(t, n, m, r)
		if err != nil {
			return nil, cloudkvs.NewError(cloudkvs.ConfigurationError, key, err)
		}
		c.slots <- cd
	}
	registry.codecs[key] = c
	registry.slots += size
	log.Debug("created secret sharing codec pool", "codec", key, "slots", size)
	return c, nil
}

// Release drops one reference. Releasing the last reference removes the codec from the
// registry, then waits until every slot is back before freeing them; the codec must not be
// used afterwards.
func (c *Codec) Release(ctx context.Context) error {
	registry.locker.Lock()
	if c.refs <= 0 {
		registry.locker.Unlock()
		return fmt.Errorf("codec %s released more times than acquired", c.key)
	}
	c.refs--
	last := c.refs == 0
	if last {
		delete(registry.codecs, c.key)
	}
	registry.locker.Unlock()
	if !last {
		return nil
	}

	for i := 0; i < c.size; i++ {
		select {
		case <-c.slots:
		case <-ctx.Done():
			// Keep the budget charged; in-flight slots were not returned.
			return fmt.Errorf("draining codec %s: %w", c.key, ctx.Err())
		}
	}
	registry.locker.Lock()
	registry.slots -= c.size
	registry.locker.Unlock()
	log.Debug("destroyed secret sharing codec pool", "codec", c.key)
	return nil
}

// Slots is the slot count of the pool.
func (c *Codec) Slots() int {
	return c.size
}

func (c *Codec) acquire(ctx context.Context) (*coder, error) {
	select {
	case cd := <-c.slots:
		return cd, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Codec) release(cd *coder) {
	c.slots <- cd
}

// ShareSize returns the size of each share of a size byte secret.
func (c *Codec) ShareSize(size int) int {
	return ShareSize(c.Type, size, c.K)
}

// Encode splits secret into N shares of equal size.
func (c *Codec) Encode(ctx context.Context, secret []byte) ([][]byte, error) {
	cd, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer c.release(cd)
	return cd.encode(secret)
}

// Decode recovers the size byte secret from exactly K shares, ids[i] being the share
// number of shares[i]. A corrupted share makes it fail with ErrIntegrity.
func (c *Codec) Decode(ctx context.Context, shares [][]byte, ids []int, size int) ([]byte, error) {
	cd, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer c.release(cd)
	return cd.decode(shares, ids, size)
}

// registeredSlots is the slot total of all live pools.
func registeredSlots() int {
	registry.locker.Lock()
	defer registry.locker.Unlock()
	return registry.slots
}
