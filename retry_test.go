package cloudkvs

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"
)

func TestRetryRounds_StopsOnSuccess(t *testing.T) {
	calls := 0
	n := RetryRounds(context.Background(), 3, time.Millisecond, func(ctx context.Context, attempt int) bool {
		calls++
		return attempt == 2
	})
	if n != 2 || calls != 2 {
		t.Fatalf("expected 2 rounds, got n=%d calls=%d", n, calls)
	}
}

func TestRetryRounds_ExhaustsRounds(t *testing.T) {
	n := RetryRounds(context.Background(), 3, 0, func(ctx context.Context, attempt int) bool {
		return false
	})
	if n != 3 {
		t.Fatalf("expected 3 rounds, got %d", n)
	}
}

func TestRetryRounds_ZeroRoundsRunsOnce(t *testing.T) {
	n := RetryRounds(context.Background(), 0, time.Millisecond, func(ctx context.Context, attempt int) bool {
		return false
	})
	if n != 1 {
		t.Fatalf("expected 1 round, got %d", n)
	}
}

func TestRetryRounds_CancelledContextStopsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	n := RetryRounds(ctx, 5, time.Hour, func(ctx context.Context, attempt int) bool {
		cancel()
		return false
	})
	if n != 1 {
		t.Fatalf("expected 1 round before cancellation, got %d", n)
	}
}

func TestIsPermanentError(t *testing.T) {
	cases := []struct {
		name string
		in   error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"EROFS", &os.PathError{Op: "write", Path: "/tmp/x", Err: syscall.EROFS}, true},
		{"ENOSPC", &os.PathError{Op: "write", Path: "/tmp/x", Err: syscall.ENOSPC}, true},
		{"EACCES", &os.PathError{Op: "open", Path: "/tmp/x", Err: syscall.EACCES}, true},
		{"EAGAIN", &os.SyscallError{Syscall: "read", Err: syscall.EAGAIN}, false},
		{"EBUSY", &os.PathError{Op: "rename", Path: "/tmp/x", Err: syscall.EBUSY}, false},
		{"s3 access denied text", errors.New("operation error S3: PutObject, AccessDenied: Access Denied"), true},
		{"plain timeout text", errors.New("i/o timeout"), false},
	}
	for _, tt := range cases {
		if got := IsPermanentError(tt.in); got != tt.want {
			t.Fatalf("%s: got %v want %v", tt.name, got, tt.want)
		}
	}
}
