package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync/atomic"

	log "log/slog"

	"github.com/redis/go-redis/v9"
)

// Options holds configuration for connecting to a Redis server.
type Options struct {
	// Address is the host:port of the Redis server.
	Address string
	// URL is a redis:// URI. When set it takes precedence over the other fields.
	URL string
	// Password is the password used to authenticate.
	Password string
	// DB is the database index to select.
	DB int
	// TLSConfig contains TLS configuration for secure connections.
	TLSConfig *tls.Config
}

// DefaultOptions returns an Options with localhost defaults (no password, DB 0).
func DefaultOptions() Options {
	return Options{
		Address:  "localhost:6379",
		Password: "", // no password set
		DB:       0,  // use default DB
	}
}

// Connection wraps a redis.Client. Each backend owns its connection since backends may point
// at different servers.
type Connection struct {
	Client *redis.Client
	// restarted is set when the server's run_id changed between two connects. Data of a
	// non-persistent server is gone after a restart.
	restarted atomic.Bool
	runID     atomic.Value
}

// OpenConnection creates a client for options. The client dials lazily.
func OpenConnection(options Options) (*Connection, error) {
	var opts *redis.Options
	if options.URL != "" {
		var err error
		if opts, err = redis.ParseURL(options.URL); err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
	} else {
		if options.Address == "" {
			options.Address = DefaultOptions().Address
		}
		opts = &redis.Options{
			TLSConfig: options.TLSConfig,
			Addr:      options.Address,
			Password:  options.Password,
			DB:        options.DB,
		}
	}
	c := &Connection{}
	opts.OnConnect = func(ctx context.Context, cn *redis.Conn) error {
		// INFO server's run_id changes on restart.
		info, err := cn.Info(ctx, "server").Result()
		if err != nil {
			return err
		}
		c.observeRunID(parseRunID(info))
		return nil
	}
	log.Info("Opening Redis connection", "address", opts.Addr, "db", opts.DB)
	c.Client = redis.NewClient(opts)
	return c, nil
}

func parseRunID(info string) string {
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimRight(line, "\r")
		if id, ok := strings.CutPrefix(line, "run_id:"); ok {
			return id
		}
	}
	return ""
}

func (c *Connection) observeRunID(runID string) {
	if runID == "" {
		return
	}
	if last, _ := c.runID.Load().(string); last != "" && last != runID {
		log.Warn("Redis server restarted", "old_run_id", last, "new_run_id", runID)
		c.restarted.Store(true)
	}
	c.runID.Store(runID)
}

// IsRestarted reports whether the server restarted since this connection first reached it.
func (c *Connection) IsRestarted() bool {
	return c.restarted.Load()
}

// Ping tests connectivity to Redis.
func (c *Connection) Ping(ctx context.Context) error {
	if err := c.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (c *Connection) Close() error {
	if c == nil || c.Client == nil {
		return nil
	}
	log.Debug("Closing underlying Redis client")
	return c.Client.Close()
}
