package secretsharing

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"testing"
	"time"
)

func TestShareSize(t *testing.T) {
	if got := ShareSize(CAONTRS, 0, 4); got != 8 {
		t.Fatalf("ShareSize(0,4) got %d, expected 8", got)
	}
	if got := ShareSize(CAONTRS, 1024, 4); got != 264 {
		t.Fatalf("ShareSize(1024,4) got %d, expected 264", got)
	}
	if got := AlignedSecretSize(CAONTRS, 1000, 3); got < 1000 {
		t.Fatalf("aligned size %d smaller than secret", got)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		n, m, r int
		ok      bool
	}{
		{6, 2, 1, true},
		{4, 1, 2, true},
		{4, 0, 1, false},
		{4, 4, 1, false},
		{4, 1, 3, false},
		{4, 1, 0, false},
		{300, 10, 2, false},
	}
	for _, c := range cases {
		if err := Validate(c.n, c.m, c.r); (err == nil) != c.ok {
			t.Errorf("Validate(%d,%d,%d) = %v", c.n, c.m, c.r, err)
		}
	}
}

func TestCoder_RoundTripAnyK(t *testing.T) {
	for _, typ := range []CodecType{CAONTRS, AONTRS} {
		cd, err := newCoder(typ, 6, 2, 1)
		if err != nil {
			t.Fatal(err)
		}
		for _, size := range []int{0, 1, 31, 32, 33, 1024, 5000} {
			secret := make([]byte, size)
			rand.Read(secret)
			shares, err := cd.encode(secret)
			if err != nil {
				t.Fatalf("%v size %d: %v", typ, size, err)
			}
			if len(shares) != 6 {
				t.Fatalf("expected 6 shares, got %d", len(shares))
			}
			Combinations(6, 4, func(ids []int) bool {
				picked := make([][]byte, 4)
				for i, id := range ids {
					picked[i] = shares[id]
				}
				got, err := cd.decode(picked, append([]int(nil), ids...), size)
				if err != nil {
					t.Fatalf("%v size %d ids %v: %v", typ, size, ids, err)
				}
				if !bytes.Equal(got, secret) {
					t.Fatalf("%v size %d ids %v: wrong secret", typ, size, ids)
				}
				return true
			})
		}
	}
}

func TestCoder_ConvergentSharesAreDeterministic(t *testing.T) {
	cd, _ := newCoder(CAONTRS, 4, 1, 2)
	a, _ := cd.encode([]byte("same secret"))
	b, _ := cd.encode([]byte("same secret"))
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			t.Fatalf("share %d differs between encodings", i)
		}
	}
	// Data shares must not carry the plaintext.
	if bytes.Contains(bytes.Join(a, nil), []byte("same secret")) {
		t.Fatalf("plaintext leaked into shares")
	}
}

func TestCoder_DetectsCorruption(t *testing.T) {
	for _, typ := range []CodecType{CAONTRS, AONTRS} {
		cd, _ := newCoder(typ, 6, 2, 1)
		secret := make([]byte, 1024)
		rand.Read(secret)
		shares, _ := cd.encode(secret)
		shares[1][7] ^= 0x5a
		_, err := cd.decode([][]byte{shares[0], shares[1], shares[2], shares[3]}, []int{0, 1, 2, 3}, len(secret))
		if !errors.Is(err, ErrIntegrity) {
			t.Fatalf("%v: expected ErrIntegrity, got %v", typ, err)
		}
		got, err := cd.decode([][]byte{shares[0], shares[2], shares[3], shares[4]}, []int{0, 2, 3, 4}, len(secret))
		if err != nil || !bytes.Equal(got, secret) {
			t.Fatalf("%v: decode without the corrupted share failed: %v", typ, err)
		}
	}
}

func TestCoder_BadInput(t *testing.T) {
	cd, _ := newCoder(CAONTRS, 4, 1, 2)
	shares, _ := cd.encode([]byte("x"))
	if _, err := cd.decode(shares[:2], []int{0, 1}, 1); err == nil {
		t.Fatalf("expected error for too few shares")
	}
	if _, err := cd.decode(shares[:3], []int{0, 0, 1}, 1); err == nil {
		t.Fatalf("expected error for duplicate ids")
	}
	if _, err := cd.encode(make([]byte, MaxSecretSize+1)); !errors.Is(err, ErrSecretTooLarge) {
		t.Fatalf("expected ErrSecretTooLarge, got %v", err)
	}
}

func TestCodec_SharedAndDrained(t *testing.T) {
	ctx := context.Background()
	before := registeredSlots()
	c1, err := NewCodec(CAONTRS, 5, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := NewCodec(CAONTRS, 5, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if c1 != c2 {
		t.Fatalf("expected the same pooled codec")
	}
	if registeredSlots() != before+CodecWorkers {
		t.Fatalf("expected %d slots registered once", CodecWorkers)
	}

	shares, err := c1.Encode(ctx, []byte("pooled"))
	if err != nil {
		t.Fatal(err)
	}
	got, err := c2.Decode(ctx, shares[2:], []int{2, 3, 4}, len("pooled"))
	if err != nil || string(got) != "pooled" {
		t.Fatalf("Decode = %q, %v", got, err)
	}

	if err := c1.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if registeredSlots() != before+CodecWorkers {
		t.Fatalf("pool must stay alive while referenced")
	}

	// Hold a slot so the final release has to wait for it.
	cd, _ := c2.acquire(ctx)
	released := make(chan error, 1)
	go func() { released <- c2.Release(ctx) }()
	select {
	case <-released:
		t.Fatalf("release must wait for in-flight slots")
	case <-time.After(20 * time.Millisecond):
	}
	c2.release(cd)
	if err := <-released; err != nil {
		t.Fatal(err)
	}
	if registeredSlots() != before {
		t.Fatalf("expected slots to be returned to the budget")
	}
	if err := c2.Release(ctx); err == nil {
		t.Fatalf("expected error on extra release")
	}
}

func TestNewCodec_Invalid(t *testing.T) {
	if _, err := NewCodec(CAONTRS, 4, 1, 3); err == nil {
		t.Fatalf("expected r >= k to be rejected")
	}
	if _, err := NewCodec(CodecType(0), 4, 1, 2); err == nil {
		t.Fatalf("expected unsupported type to be rejected")
	}
}

func TestCombinations(t *testing.T) {
	var got [][]int
	Combinations(4, 2, func(idx []int) bool {
		got = append(got, append([]int(nil), idx...))
		return true
	})
	want := [][]int{{0, 1}, {0, 2}, {0, 3}, {1, 2}, {1, 3}, {2, 3}}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i][0] != want[i][0] || got[i][1] != want[i][1] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	count := 0
	Combinations(5, 3, func([]int) bool { count++; return count < 2 })
	if count != 2 {
		t.Fatalf("expected early stop after 2, got %d", count)
	}
	Combinations(2, 3, func([]int) bool { t.Fatalf("k > n must yield nothing"); return false })
}
