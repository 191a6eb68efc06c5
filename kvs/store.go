// Package kvs contains the backend key-value store contract, the health state the rankers
// read, the in-memory and fault-injection stores, and the store registry.
package kvs

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
)

// FailPrefix marks a store id as unconditionally failing. The orchestrator never sends I/O
// to such stores, which lets tests simulate dead providers by configuration alone.
const FailPrefix = "FAIL-"

// Store is one provider's key-value store. Implementations never retry; callers turn
// failures into health penalties.
type Store interface {
	// ID is the store's stable identity, used for display and for registry keys.
	ID() string
	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error
	// Get returns the value of key. A missing key is (false, nil, nil).
	Get(ctx context.Context, key string) (bool, []byte, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns all keys in the store.
	List(ctx context.Context) ([]string, error)
	// BytesUsed reports the store's space accounting.
	BytesUsed(ctx context.Context) (int64, error)
	// Health returns the store's health state.
	Health() *Health
	Close() error
}

// Base carries the identity and health state shared by all store implementations.
type Base struct {
	id     string
	health *Health
}

// NewBase returns a Base for id.
func NewBase(id string, enabled bool, cost int) Base {
	return Base{
		id:     id,
		health: NewHealth(enabled, cost),
	}
}

func (b Base) ID() string {
	return b.id
}

func (b Base) Health() *Health {
	return b.health
}

func (b Base) String() string {
	return b.id
}

// IsFailing reports whether the store is marked unconditionally failing by its id.
func IsFailing(s Store) bool {
	return strings.HasPrefix(s.ID(), FailPrefix)
}

// JoinIDs returns the canonical id list of stores, "id1;id2;...;".
func JoinIDs(stores []Store) string {
	var sb strings.Builder
	for _, s := range stores {
		sb.WriteString(s.ID())
		sb.WriteByte(';')
	}
	return sb.String()
}

// SplitIDs parses an id list produced by JoinIDs. A missing trailing ';' is tolerated.
func SplitIDs(ids string) []string {
	parts := strings.Split(ids, ";")
	r := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			r = append(r, p)
		}
	}
	return r
}

// EmptyStore deletes every key of s and returns how many were deleted.
// It erases all data in the store, use with care.
func EmptyStore(ctx context.Context, s Store) (int, error) {
	keys, err := s.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing store %s failed: %w", s.ID(), err)
	}
	count := 0
	var lastErr error
	for _, k := range keys {
		if err := s.Delete(ctx, k); err != nil {
			log.Warn("failed to delete key while emptying store", "backend", s.ID(), "key", k, "error", err)
			lastErr = err
			continue
		}
		count++
	}
	if lastErr != nil {
		return count, errors.Join(fmt.Errorf("emptying store %s left %d keys", s.ID(), len(keys)-count), lastErr)
	}
	return count, nil
}
