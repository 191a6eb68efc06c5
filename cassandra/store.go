// Package cassandra is the Cassandra backend: every key is a row of a blocks table.
package cassandra

import (
	"context"
	"errors"
	"fmt"

	"github.com/gocql/gocql"

	"github.com/sharedcode/cloudkvs/kvs"
)

// Store keeps each key's value in a row of the connection's blocks table.
type Store struct {
	kvs.Base
	conn *Connection
}

// NewStore returns a store over conn. The store owns conn and closes it on Close.
func NewStore(id string, conn *Connection) (*Store, error) {
	if conn == nil || conn.Session == nil {
		return nil, fmt.Errorf("cassandra store %s: connection is closed, call OpenConnection(config) to open it", id)
	}
	return &Store{
		Base: kvs.NewBase(id, true, 0),
		conn: conn,
	}, nil
}

func (s *Store) table() string {
	return s.conn.Keyspace + "." + s.conn.Table
}

func (s *Store) query(ctx context.Context, consistency gocql.Consistency, stmt string, values ...any) *gocql.Query {
	qry := s.conn.Session.Query(stmt, values...).WithContext(ctx)
	if consistency > gocql.Any {
		qry.Consistency(consistency)
	}
	return qry
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	stmt := fmt.Sprintf("INSERT INTO %s (k, v, sz) VALUES(?,?,?);", s.table())
	return s.query(ctx, s.conn.ConsistencyBook.Put, stmt, key, value, int64(len(value))).Exec()
}

func (s *Store) Get(ctx context.Context, key string) (bool, []byte, error) {
	stmt := fmt.Sprintf("SELECT v FROM %s WHERE k = ?;", s.table())
	var ba []byte
	err := s.query(ctx, s.conn.ConsistencyBook.Get, stmt, key).Scan(&ba)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return false, nil, nil
		}
		return false, nil, err
	}
	if ba == nil {
		ba = []byte{}
	}
	return true, ba, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE k = ?;", s.table())
	return s.query(ctx, s.conn.ConsistencyBook.Delete, stmt, key).Exec()
}

func (s *Store) List(ctx context.Context) ([]string, error) {
	iter := s.query(ctx, s.conn.ConsistencyBook.Get, fmt.Sprintf("SELECT k FROM %s;", s.table())).Iter()
	var keys []string
	var k string
	for iter.Scan(&k) {
		keys = append(keys, k)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) BytesUsed(ctx context.Context) (int64, error) {
	iter := s.query(ctx, s.conn.ConsistencyBook.Get, fmt.Sprintf("SELECT k, sz FROM %s;", s.table())).Iter()
	var total int64
	var k string
	var sz int64
	for iter.Scan(&k, &sz) {
		total += int64(len(k)) + sz
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) Close() error {
	s.conn.Close()
	return nil
}
