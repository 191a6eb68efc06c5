package cassandra

import (
	"fmt"
	"regexp"
	"time"

	log "log/slog"

	"github.com/gocql/gocql"
)

// Config contains configuration for connecting to a Cassandra cluster and the blocks table.
type Config struct {
	// ClusterHosts lists contact points for the Cassandra cluster.
	ClusterHosts []string
	// Keyspace is the keyspace holding the blocks table, created if missing.
	Keyspace string
	// Table is the blocks table, created if missing.
	Table string
	// Consistency is the default consistency level for queries.
	Consistency gocql.Consistency
	// ConnectionTimeout is the session connection timeout.
	ConnectionTimeout time.Duration
	// Authenticator is used when the cluster requires authentication.
	Authenticator gocql.Authenticator
	// ReplicationClause defines the keyspace replication (e.g., SimpleStrategy).
	ReplicationClause string

	// ConsistencyBook allows overriding per-API consistency levels.
	ConsistencyBook ConsistencyBook
}

// ConsistencyBook enumerates per-API consistency levels. gocql.Any means the default.
type ConsistencyBook struct {
	Put    gocql.Consistency
	Get    gocql.Consistency
	Delete gocql.Consistency
}

// Connection wraps a Cassandra session and its configuration.
type Connection struct {
	Session *gocql.Session
	Config
}

var identifier = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,47}$`)

// OpenConnection opens a session and makes sure the keyspace and blocks table exist.
func OpenConnection(config Config) (*Connection, error) {
	if config.Keyspace == "" {
		// default keyspace
		config.Keyspace = "cloudkvs"
	}
	if config.Table == "" {
		config.Table = "blocks"
	}
	if !identifier.MatchString(config.Keyspace) || !identifier.MatchString(config.Table) {
		return nil, fmt.Errorf("invalid cassandra keyspace %q or table %q", config.Keyspace, config.Table)
	}
	if len(config.ClusterHosts) == 0 {
		return nil, fmt.Errorf("cassandra cluster hosts are required")
	}
	if config.Consistency == gocql.Any {
		// Defaults to LocalQuorum consistency. You should set it to an appropriate level.
		config.Consistency = gocql.LocalQuorum
	}
	cluster := gocql.NewCluster(config.ClusterHosts...)
	cluster.Consistency = config.Consistency
	if config.ReplicationClause == "" {
		// Specify an appropriate replication feature.
		config.ReplicationClause = "{'class':'SimpleStrategy', 'replication_factor':1}"
	}
	if config.ConnectionTimeout > 0 {
		cluster.ConnectTimeout = config.ConnectionTimeout
	}
	if config.Authenticator != nil {
		cluster.Authenticator = config.Authenticator
		// Clear the authenticator, we don't need to keep it hanging around.
		config.Authenticator = nil
	}
	s, err := cluster.CreateSession()
	if err != nil {
		return nil, err
	}
	if err := s.Query(fmt.Sprintf("CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = %s;", config.Keyspace, config.ReplicationClause)).Exec(); err != nil {
		s.Close()
		return nil, err
	}
	// The value size is kept in its own column so space accounting does not read the blobs.
	if err := s.Query(fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.%s (k text PRIMARY KEY, v blob, sz bigint);", config.Keyspace, config.Table)).Exec(); err != nil {
		s.Close()
		return nil, err
	}
	log.Info("Opened Cassandra connection", "hosts", config.ClusterHosts, "keyspace", config.Keyspace, "table", config.Table)
	return &Connection{
		Session: s,
		Config:  config,
	}, nil
}

// Close closes the session.
func (c *Connection) Close() {
	if c != nil && c.Session != nil {
		c.Session.Close()
	}
}
