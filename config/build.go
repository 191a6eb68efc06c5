package config

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"github.com/sharedcode/cloudkvs"
	"github.com/sharedcode/cloudkvs/aws_s3"
	"github.com/sharedcode/cloudkvs/cassandra"
	"github.com/sharedcode/cloudkvs/facade"
	"github.com/sharedcode/cloudkvs/fs"
	"github.com/sharedcode/cloudkvs/gcs"
	"github.com/sharedcode/cloudkvs/kvs"
	"github.com/sharedcode/cloudkvs/redis"
)

// BuildStore creates the store p describes, applying its health settings and delay filter.
func BuildStore(ctx context.Context, p ProviderConfig) (kvs.Store, error) {
	s, err := newStore(ctx, p)
	if err != nil {
		return nil, cloudkvs.NewError(cloudkvs.ConfigurationError, p.ID, err)
	}
	h := s.Health()
	h.SetEnabled(p.IsEnabled())
	h.SetCost(p.Cost)
	if p.ReadPenalty > 0 || p.WritePenalty > 0 {
		h.SetPenalty(p.ReadPenalty, p.WritePenalty)
	}
	if p.DelayMs > 0 {
		s = kvs.WithFilters(s, kvs.NewDelayFilter(time.Duration(p.DelayMs)*time.Millisecond))
	}
	return s, nil
}

func newStore(ctx context.Context, p ProviderConfig) (kvs.Store, error) {
	switch p.Type {
	case TypeMemory:
		return kvs.NewMemoryStore(p.ID), nil
	case TypeFaulty:
		return kvs.NewFaultyStore(p.ID, p.FailPeriod), nil
	case TypeFile:
		return fs.NewStore(ctx, p.ID, fs.StoreOptions{
			Folder:   p.Folder,
			DirectIO: p.DirectIO,
		})
	case TypeS3:
		client := aws_s3.Connect(aws_s3.Config{
			HostEndpointUrl: p.Endpoint,
			Region:          p.Region,
			Username:        p.Username,
			Password:        p.Password,
			UsePathStyle:    p.Endpoint != "",
		})
		return aws_s3.NewStore(p.ID, client, p.Bucket, p.Prefix)
	case TypeGCS:
		return gcs.NewStore(ctx, p.ID, gcs.Config{
			Bucket:          p.Bucket,
			Prefix:          p.Prefix,
			CredentialsFile: p.Credentials,
			Endpoint:        p.Endpoint,
		})
	case TypeRedis:
		opts := redis.DefaultOptions()
		if p.Address != "" {
			opts.Address = p.Address
		}
		if strings.HasPrefix(p.Address, "redis://") || strings.HasPrefix(p.Address, "rediss://") {
			opts.URL = p.Address
		}
		opts.Password = p.Password
		opts.DB = p.DB
		conn, err := redis.OpenConnection(opts)
		if err != nil {
			return nil, err
		}
		return redis.NewStore(p.ID, conn, p.Prefix)
	case TypeCassandra:
		cc := cassandra.Config{
			ClusterHosts: p.Hosts,
			Keyspace:     p.Keyspace,
			Table:        p.Table,
		}
		if p.Username != "" {
			cc.Authenticator = gocql.PasswordAuthenticator{Username: p.Username, Password: p.Password}
		}
		conn, err := cassandra.OpenConnection(cc)
		if err != nil {
			return nil, err
		}
		return cassandra.NewStore(p.ID, conn)
	}
	return nil, fmt.Errorf("unknown provider type %q", p.Type)
}

// Gateway is the running storage layer a configuration describes.
type Gateway struct {
	Config   *Config
	Manager  *kvs.Manager
	Registry *facade.Registry
}

// Open builds every provider, installs the process-wide worker pool, starts the latency
// prober and resolves the default facade. Stores built before a failure are closed.
func Open(ctx context.Context, c *Config) (*Gateway, error) {
	m := kvs.NewManager()
	for _, p := range c.Providers {
		s, err := BuildStore(ctx, p)
		if err == nil {
			err = m.Add(s)
		}
		if err != nil {
			return nil, errors.Join(err, m.Close())
		}
		log.Info("configured provider", "backend", p.ID, "type", p.Type, "enabled", p.IsEnabled(), "cost", p.Cost)
	}
	cloudkvs.SetDefaultWorkerPool(cloudkvs.NewWorkerPool(c.Workers))

	g := &Gateway{
		Config:   c,
		Manager:  m,
		Registry: facade.NewRegistry(m, c.FacadeOptions()),
	}
	if c.DefaultScheme != "" {
		stores := make([]kvs.Store, 0, len(c.DefaultProviders))
		for _, id := range c.DefaultProviders {
			s, _ := m.Get(id)
			stores = append(stores, s)
		}
		if _, err := g.Registry.SetDefault(c.DefaultScheme, stores); err != nil {
			return nil, errors.Join(err, m.Close())
		}
	}
	if c.ProbePeriod > 0 {
		m.StartProber(ctx, c.ProbePeriod, c.ProbeSize)
	}
	return g, nil
}

// Facade returns the facade of schemeID over the default providers, or the default facade
// when schemeID is empty.
func (g *Gateway) Facade(schemeID string) (facade.Facade, error) {
	if schemeID == "" {
		if f := g.Registry.Default(); f != nil {
			return f, nil
		}
		return nil, invalid("no default scheme configured")
	}
	ids := g.Config.DefaultProviders
	if len(ids) == 0 {
		for _, s := range g.Manager.Stores() {
			ids = append(ids, s.ID())
		}
	}
	stores := make([]kvs.Store, 0, len(ids))
	for _, id := range ids {
		s, ok := g.Manager.Get(id)
		if !ok {
			return nil, invalid("provider %q is not configured", id)
		}
		stores = append(stores, s)
	}
	return g.Registry.Resolve(schemeID, stores, 0)
}

// Close releases the facades then the stores.
func (g *Gateway) Close(ctx context.Context) error {
	return errors.Join(g.Registry.Close(ctx), g.Manager.Close())
}
