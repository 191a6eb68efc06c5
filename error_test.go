package cloudkvs

import (
	"errors"
	"testing"
)

func TestErrorCodes(t *testing.T) {
	err := Errorf(QuorumFailure, "k1", "only %d of %d", 1, 3)
	if !IsCode(err, QuorumFailure) {
		t.Fatalf("expected QuorumFailure, got %v", err)
	}
	if IsCode(err, DecodeFailure) {
		t.Fatalf("unexpected DecodeFailure match")
	}
	wrapped := errors.Join(errors.New("outer"), err)
	if !IsCode(wrapped, QuorumFailure) {
		t.Fatalf("expected wrapped QuorumFailure")
	}
	base := errors.New("disk gone")
	if !errors.Is(NewError(BackendIOError, "k", base), base) {
		t.Fatalf("expected Unwrap to expose the cause")
	}
	if ValueTooLarge.String() != "value too large" {
		t.Fatalf("ValueTooLarge = %q", ValueTooLarge.String())
	}
}
