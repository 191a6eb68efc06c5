// Package secretsharing implements computational threshold secret sharing (AONT-RS and its
// convergent variant CAONT-RS): an all-or-nothing transform of the secret followed by a
// systematic Reed-Solomon code. Any k of the n shares recover the secret, and no share
// subset smaller than k reveals anything about it.
package secretsharing

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/klauspost/reedsolomon"
	"golang.org/x/crypto/chacha20"
)

// CodecType selects the all-or-nothing transform.
type CodecType int

const (
	// AONTRS uses a random key per secret and a zero canary for integrity.
	AONTRS CodecType = 1
	// CAONTRS derives the key from the secret itself, so equal secrets give equal shares.
	CAONTRS CodecType = 3
)

// DefaultCodecType is used by the "s-N-M-R" schemes.
const DefaultCodecType = CAONTRS

const (
	hashSize   = sha256.Size
	canarySize = 16
)

var (
	// ErrIntegrity means the shares decoded into something that is not the encoded secret,
	// i.e. at least one share was corrupted.
	ErrIntegrity = errors.New("secret integrity check failed")
	// ErrSecretTooLarge is returned when encoding more than MaxSecretSize bytes.
	ErrSecretTooLarge = errors.New("secret too large")
)

var zeroNonce = make([]byte, chacha20.NonceSize)

func (t CodecType) String() string {
	switch t {
	case AONTRS:
		return "aont-rs"
	case CAONTRS:
		return "caont-rs"
	}
	return fmt.Sprintf("codec-type-%d", int(t))
}

func (t CodecType) overhead() int {
	if t == AONTRS {
		return hashSize + canarySize
	}
	return hashSize
}

// ShareSize returns the size of each share of a size byte secret split k ways.
func ShareSize(t CodecType, size, k int) int {
	return (size + t.overhead() + k - 1) / k
}

// AlignedSecretSize is the size of the secret once padded to fill k shares, trailer excluded.
func AlignedSecretSize(t CodecType, size, k int) int {
	return ShareSize(t, size, k)*k - hashSize
}

// coder is one codec slot. It is not safe for concurrent use.
type coder struct {
	typ     CodecType
	n, k, r int
	rs      reedsolomon.Encoder
}

func newCoder(t CodecType, n, m, r int) (*coder, error) {
	rs, err := reedsolomon.New(n-m, m)
	if err != nil {
		return nil, err
	}
	return &coder{typ: t, n: n, k: n - m, r: r, rs: rs}, nil
}

// encode returns the n shares of secret.
func (c *coder) encode(secret []byte) ([][]byte, error) {
	if len(secret) > MaxSecretSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrSecretTooLarge, len(secret))
	}
	shareSize := ShareSize(c.typ, len(secret), c.k)
	aligned := shareSize*c.k - hashSize

	buf := make([]byte, shareSize*c.n)
	pkg := buf[:aligned]
	copy(pkg, secret)

	var key [hashSize]byte
	if c.typ == AONTRS {
		if _, err := rand.Read(key[:]); err != nil {
			return nil, err
		}
	} else {
		key = sha256.Sum256(pkg)
	}
	if err := xorKeyStream(key[:], pkg); err != nil {
		return nil, err
	}
	digest := sha256.Sum256(pkg)
	tail := buf[aligned : aligned+hashSize]
	subtle.XORBytes(tail, key[:], digest[:])

	shares := make([][]byte, c.n)
	for i := range shares {
		shares[i] = buf[i*shareSize : (i+1)*shareSize : (i+1)*shareSize]
	}
	if err := c.rs.Encode(shares); err != nil {
		return nil, err
	}
	return shares, nil
}

// decode recovers a size byte secret from k shares; ids[i] is the share number of shares[i].
func (c *coder) decode(shares [][]byte, ids []int, size int) ([]byte, error) {
	if len(shares) != c.k || len(ids) != c.k {
		return nil, fmt.Errorf("need exactly %d shares, got %d", c.k, len(shares))
	}
	shareSize := ShareSize(c.typ, size, c.k)
	aligned := shareSize*c.k - hashSize

	all := make([][]byte, c.n)
	for i, id := range ids {
		if id < 0 || id >= c.n {
			return nil, fmt.Errorf("share id %d out of range", id)
		}
		if all[id] != nil {
			return nil, fmt.Errorf("share id %d given twice", id)
		}
		if len(shares[i]) != shareSize {
			return nil, fmt.Errorf("share %d has %d bytes, expected %d", id, len(shares[i]), shareSize)
		}
		all[id] = shares[i]
	}
	if err := c.rs.ReconstructData(all); err != nil {
		return nil, err
	}

	data := make([]byte, 0, shareSize*c.k)
	for _, s := range all[:c.k] {
		data = append(data, s...)
	}
	pkg, tail := data[:aligned], data[aligned:]
	digest := sha256.Sum256(pkg)
	var key [hashSize]byte
	subtle.XORBytes(key[:], tail, digest[:])
	if err := xorKeyStream(key[:], pkg); err != nil {
		return nil, err
	}

	switch c.typ {
	case AONTRS:
		if !isZero(pkg[aligned-canarySize:]) {
			return nil, ErrIntegrity
		}
	default:
		if sha256.Sum256(pkg) != key {
			return nil, ErrIntegrity
		}
	}
	if size > aligned || !isZero(pkg[size:]) {
		return nil, ErrIntegrity
	}
	return pkg[:size:size], nil
}

func xorKeyStream(key, data []byte) error {
	s, err := chacha20.NewUnauthenticatedCipher(key, zeroNonce)
	if err != nil {
		return err
	}
	s.XORKeyStream(data, data)
	return nil
}

func isZero(b []byte) bool {
	return len(bytes.Trim(b, "\x00")) == 0
}
