// Package gcs is the Google Cloud Storage backend: every key is an object under a prefix.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/sharedcode/cloudkvs/kvs"
)

// Config locates a bucket and the credentials to reach it.
type Config struct {
	Bucket string
	Prefix string
	// CredentialsFile is a service account JSON key. Empty uses the environment's default
	// credentials, or no authentication when Endpoint is set (emulators).
	CredentialsFile string
	// Endpoint overrides the storage API endpoint, e.g. "http://localhost:4443/storage/v1/".
	Endpoint string
}

// Store keeps each key as the object prefix+key.
type Store struct {
	kvs.Base
	client *gcs.Client
	bucket *gcs.BucketHandle
	prefix string
}

// NewStore connects to Google Cloud Storage. The bucket must exist.
func NewStore(ctx context.Context, id string, conf Config) (*Store, error) {
	if conf.Bucket == "" {
		return nil, fmt.Errorf("gcs store %s: bucket is required", id)
	}
	opts := []option.ClientOption{option.WithScopes(gcs.ScopeReadWrite)}
	switch {
	case conf.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(conf.CredentialsFile))
	case conf.Endpoint != "":
		opts = append(opts, option.WithoutAuthentication())
	}
	if conf.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(conf.Endpoint))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs store %s: failed to create google cloud client: %w", id, err)
	}
	return &Store{
		Base:   kvs.NewBase(id, true, 0),
		client: client,
		bucket: client.Bucket(conf.Bucket),
		prefix: conf.Prefix,
	}, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	w := s.bucket.Object(s.prefix + key).NewWriter(ctx)
	// Values are small blocks, a single request is enough.
	w.ChunkSize = 0
	if _, err := w.Write(value); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (s *Store) Get(ctx context.Context, key string) (bool, []byte, error) {
	r, err := s.bucket.Object(s.prefix + key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil, nil
		}
		return false, nil, err
	}
	defer r.Close()
	ba, err := io.ReadAll(r)
	if err != nil {
		return false, nil, err
	}
	return true, ba, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.bucket.Object(s.prefix + key).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return err
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.eachObject(ctx, func(attrs *gcs.ObjectAttrs) {
		keys = append(keys, strings.TrimPrefix(attrs.Name, s.prefix))
	})
	return keys, err
}

func (s *Store) BytesUsed(ctx context.Context) (int64, error) {
	var total int64
	err := s.eachObject(ctx, func(attrs *gcs.ObjectAttrs) {
		total += int64(len(attrs.Name)-len(s.prefix)) + attrs.Size
	})
	return total, err
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) eachObject(ctx context.Context, fn func(*gcs.ObjectAttrs)) error {
	it := s.bucket.Objects(ctx, &gcs.Query{Prefix: s.prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("unable to list objects in gcs bucket: %w", err)
		}
		fn(attrs)
	}
}
