// Package redis is the Redis backend: every key is a Redis string under a prefix.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/sharedcode/cloudkvs/kvs"
)

// scanBatch is the COUNT hint of SCAN iterations.
const scanBatch = 500

// Store keeps each key's value in the Redis string prefix+key.
type Store struct {
	kvs.Base
	conn   *Connection
	prefix string
}

// NewStore returns a store over conn. The store owns conn and closes it on Close.
func NewStore(id string, conn *Connection, prefix string) (*Store, error) {
	if conn == nil || conn.Client == nil {
		return nil, fmt.Errorf("redis store %s: connection is not open", id)
	}
	return &Store{
		Base:   kvs.NewBase(id, true, 0),
		conn:   conn,
		prefix: prefix,
	}, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := s.conn.Client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed for key %s: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (bool, []byte, error) {
	ba, err := s.conn.Client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		// Convert key not found into returning false and nil err.
		if errors.Is(err, redis.Nil) {
			return false, nil, nil
		}
		return false, nil, fmt.Errorf("redis get failed for key %s: %w", key, err)
	}
	return true, ba, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.conn.Client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis delete failed for key %s: %w", key, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.scan(ctx, func(names []string) error {
		for _, n := range names {
			keys = append(keys, strings.TrimPrefix(n, s.prefix))
		}
		return nil
	})
	return keys, err
}

// BytesUsed sums key and value lengths, fetching value lengths with pipelined STRLENs.
func (s *Store) BytesUsed(ctx context.Context) (int64, error) {
	var total int64
	err := s.scan(ctx, func(names []string) error {
		pipe := s.conn.Client.Pipeline()
		lens := make([]*redis.IntCmd, len(names))
		for i, n := range names {
			lens[i] = pipe.StrLen(ctx, n)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		for i, n := range names {
			total += int64(len(n)-len(s.prefix)) + lens[i].Val()
		}
		return nil
	})
	return total, err
}

func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) scan(ctx context.Context, fn func(names []string) error) error {
	var cursor uint64
	match := escapeGlob(s.prefix) + "*"
	for {
		names, next, err := s.conn.Client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return fmt.Errorf("redis scan failed: %w", err)
		}
		if len(names) > 0 {
			if err := fn(names); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func escapeGlob(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
