package facade

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sharedcode/cloudkvs"
	"github.com/sharedcode/cloudkvs/kvs"
	"github.com/sharedcode/cloudkvs/parallelio"
	"github.com/sharedcode/cloudkvs/secretsharing"
)

// Options configures the facades a Registry builds.
type Options struct {
	// Orchestrator tunables shared by all facades.
	IO cloudkvs.Options
	// RefreshPeriod is the default ranking refresh period.
	RefreshPeriod time.Duration
	// RepairOnRead makes erasure facades rewrite blocks found missing by pessimistic reads.
	RepairOnRead bool
	// CodecType is the secret sharing codec of "s-" schemes.
	CodecType secretsharing.CodecType
}

// DefaultOptions returns the stock registry settings.
func DefaultOptions() Options {
	return Options{
		IO:            cloudkvs.DefaultOptions(),
		RefreshPeriod: cloudkvs.DefaultSortPeriod,
		CodecType:     secretsharing.DefaultCodecType,
	}
}

// Registry builds facades and memoizes them by scheme id and backend list, so callers
// resolving the same pair share ranking and codec state.
type Registry struct {
	locker       sync.Mutex
	facades      map[string]Facade
	defaultKey   string
	manager      *kvs.Manager
	orchestrator *parallelio.Orchestrator
	options      Options
}

// NewRegistry returns an empty registry. manager may be nil if facades are only resolved
// from explicit store lists.
func NewRegistry(manager *kvs.Manager, options Options) *Registry {
	if options.CodecType == 0 {
		options.CodecType = secretsharing.DefaultCodecType
	}
	return &Registry{
		facades:      make(map[string]Facade),
		manager:      manager,
		orchestrator: parallelio.New(options.IO),
		options:      options,
	}
}

// NewFacade builds an unregistered facade of schemeID over stores.
func NewFacade(schemeID string, stores []kvs.Store, refresh time.Duration, o *parallelio.Orchestrator, options Options) (Facade, error) {
	scheme, err := ParseScheme(schemeID)
	if err != nil {
		return nil, err
	}
	if len(stores) != scheme.N {
		return nil, cloudkvs.Errorf(cloudkvs.ConfigurationError, schemeID, "scheme %s needs %d backends, got %d", schemeID, scheme.N, len(stores))
	}
	switch scheme.Kind {
	case KindReplication:
		return NewReplication(scheme.N, stores, refresh, o)
	case KindErasure:
		f, err := NewErasure(scheme.K, scheme.M, stores, refresh, o)
		if err != nil {
			return nil, err
		}
		f.RepairOnRead = options.RepairOnRead
		return f, nil
	default:
		return NewSecretSharing(options.CodecType, scheme.N, scheme.M, scheme.R, stores, refresh, o)
	}
}

// Resolve returns the facade of schemeID over stores, building it on first use. A refresh
// period of zero takes the registry default.
func (r *Registry) Resolve(schemeID string, stores []kvs.Store, refresh time.Duration) (Facade, error) {
	scheme, err := ParseScheme(schemeID)
	if err != nil {
		return nil, err
	}
	// Canonical form, e.g. "e-02-1" and "e-2-1" are the same scheme.
	schemeID = scheme.String()
	key := FacadeKey(schemeID, stores)
	if refresh == 0 {
		refresh = r.options.RefreshPeriod
	}

	r.locker.Lock()
	defer r.locker.Unlock()
	if f, ok := r.facades[key]; ok {
		return f, nil
	}
	f, err := NewFacade(schemeID, stores, refresh, r.orchestrator, r.options)
	if err != nil {
		return nil, err
	}
	r.facades[key] = f
	log.Info("created facade", "facade", key)
	return f, nil
}

// FindOrBuild resolves a facade from a scheme id and a ';' separated backend id list.
func (r *Registry) FindOrBuild(schemeID, ids string) (Facade, error) {
	if r.manager == nil {
		return nil, cloudkvs.Errorf(cloudkvs.ConfigurationError, ids, "registry has no store manager")
	}
	stores, err := r.manager.StoresByIDs(ids)
	if err != nil {
		return nil, err
	}
	return r.Resolve(schemeID, stores, 0)
}

// SetDefault resolves and remembers the default facade.
func (r *Registry) SetDefault(schemeID string, stores []kvs.Store) (Facade, error) {
	f, err := r.Resolve(schemeID, stores, 0)
	if err != nil {
		return nil, err
	}
	r.locker.Lock()
	r.defaultKey = f.Key()
	r.locker.Unlock()
	return f, nil
}

// Default returns the default facade, or nil if none was set.
func (r *Registry) Default() Facade {
	r.locker.Lock()
	defer r.locker.Unlock()
	return r.facades[r.defaultKey]
}

// Facades returns the registered facades ordered by key.
func (r *Registry) Facades() []Facade {
	r.locker.Lock()
	defer r.locker.Unlock()
	fs := make([]Facade, 0, len(r.facades))
	for _, f := range r.facades {
		fs = append(fs, f)
	}
	slices.SortFunc(fs, func(a, b Facade) int { return strings.Compare(a.Key(), b.Key()) })
	return fs
}

// Close closes and forgets every facade.
func (r *Registry) Close(ctx context.Context) error {
	r.locker.Lock()
	fs := r.facades
	r.facades = make(map[string]Facade)
	r.defaultKey = ""
	r.locker.Unlock()

	var errs []error
	for key, f := range fs {
		if err := f.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing facade %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}
