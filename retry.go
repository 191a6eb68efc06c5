package cloudkvs

import (
	"context"
	"errors"
	log "log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"
)

var errRoundIncomplete = errors.New("round incomplete")

// RetryRounds runs round up to rounds times, spaced by a constant backoff, and stops as soon
// as round reports done. It returns the number of rounds that actually ran.
func RetryRounds(ctx context.Context, rounds int, backoff time.Duration, round func(ctx context.Context, attempt int) bool) int {
	if rounds <= 0 {
		rounds = 1
	}
	if backoff <= 0 {
		backoff = time.Millisecond
	}
	attempt := 0
	b := retry.WithMaxRetries(uint64(rounds-1), retry.NewConstant(backoff))
	if err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		if round(ctx, attempt) {
			return nil
		}
		return retry.RetryableError(errRoundIncomplete)
	}); err != nil && !errors.Is(err, errRoundIncomplete) {
		log.Debug("retry rounds ended early", "rounds", attempt, "error", err)
	}
	return attempt
}

// IsPermanentError reports whether a backend error will not go away by itself, e.g. denied
// credentials or a read-only or full device. Such backends are candidates for disabling.
func IsPermanentError(err error) bool {
	if err == nil {
		return false
	}
	// Context cancellations/timeouts say nothing about the backend itself.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, os.ErrPermission) {
		return true
	}
	switch {
	case errors.Is(err, syscall.EROFS), // read-only filesystem
		errors.Is(err, syscall.ENOSPC), // no space left on device
		errors.Is(err, syscall.EDQUOT), // disk quota exceeded
		errors.Is(err, syscall.EACCES), // permission denied
		errors.Is(err, syscall.EPERM),  // operation not permitted
		errors.Is(err, syscall.ENODEV),
		errors.Is(err, syscall.ENXIO):
		return true
	}

	// Last-resort heuristics for cloud SDK error texts.
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"read-only file system", "accessdenied", "access denied", "invalidaccesskeyid", "unauthorized", "forbidden"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
