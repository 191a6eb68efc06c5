// Package config loads the gateway configuration file and builds the stores, the store
// manager and the facade registry it describes.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sharedcode/cloudkvs"
	"github.com/sharedcode/cloudkvs/facade"
	"github.com/sharedcode/cloudkvs/kvs"
	"github.com/sharedcode/cloudkvs/secretsharing"
)

// Provider types.
const (
	TypeMemory    = "memory"
	TypeFile      = "file"
	TypeFaulty    = "faulty"
	TypeS3        = "s3"
	TypeGCS       = "gcs"
	TypeRedis     = "redis"
	TypeCassandra = "cassandra"
)

const (
	// DefaultProbePeriod is how often the background prober measures idle stores.
	DefaultProbePeriod = time.Minute
	// DefaultAdminListen is the admin HTTP listen address.
	DefaultAdminListen = "127.0.0.1:8470"
)

// Config is the gateway configuration file.
type Config struct {
	Providers []ProviderConfig `json:"providers" yaml:"providers"`
	// DefaultScheme is the scheme id of the default facade, e.g. "e-2-1". Empty means none.
	DefaultScheme string `json:"default_scheme" yaml:"default_scheme"`
	// DefaultProviders lists the default facade's provider ids, all providers if empty.
	DefaultProviders []string `json:"default_providers" yaml:"default_providers"`
	// SortPeriod is how often backend rankings are recomputed.
	SortPeriod time.Duration `json:"sort_period" yaml:"sort_period"`
	// Orchestrator tunables: read_timeout, write_timeout, retries, retry_backoff.
	cloudkvs.Options `yaml:",inline"`
	// Workers bounds concurrent backend calls process wide.
	Workers int `json:"workers" yaml:"workers"`
	// ProbeSize is the payload size of latency probes.
	ProbeSize int `json:"probe_size" yaml:"probe_size"`
	// ProbePeriod is the latency prober period, negative disables the prober.
	ProbePeriod time.Duration `json:"probe_period" yaml:"probe_period"`
	// RepairOnRead makes erasure facades rewrite missing blocks found by reads.
	RepairOnRead bool `json:"repair_on_read" yaml:"repair_on_read"`
	// Codec is the secret sharing codec, "caont-rs" (default) or "aont-rs".
	Codec string      `json:"codec" yaml:"codec"`
	Admin AdminConfig `json:"admin" yaml:"admin"`
}

// AdminConfig configures the admin HTTP server.
type AdminConfig struct {
	Listen string `json:"listen" yaml:"listen"`
	// OktaDomain enables Okta access token verification on the admin API.
	OktaDomain string `json:"okta_domain" yaml:"okta_domain"`
	// OktaClientID, when set, must match the "cid" claim of Okta access tokens.
	OktaClientID string `json:"okta_client_id" yaml:"okta_client_id"`
}

// ProviderConfig describes one backend store. Fields irrelevant to Type are ignored.
type ProviderConfig struct {
	ID   string `json:"id" yaml:"id"`
	Type string `json:"type" yaml:"type"`
	// Enabled defaults to true.
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Cost    int   `json:"cost" yaml:"cost"`

	// Bucket of s3 and gcs providers.
	Bucket string `json:"bucket" yaml:"bucket"`
	// Folder of file providers.
	Folder string `json:"folder" yaml:"folder"`
	// Prefix namespaces keys in shared buckets and Redis databases.
	Prefix   string `json:"prefix" yaml:"prefix"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	Region   string `json:"region" yaml:"region"`
	// Credentials is a credentials file (gcs service account key).
	Credentials string `json:"credentials" yaml:"credentials"`
	Username    string `json:"username" yaml:"username"`
	Password    string `json:"password" yaml:"password"`
	// Address is the Redis host:port or redis:// URL.
	Address string `json:"address" yaml:"address"`
	DB      int    `json:"db" yaml:"db"`
	// Hosts are the Cassandra contact points.
	Hosts    []string `json:"hosts" yaml:"hosts"`
	Keyspace string   `json:"keyspace" yaml:"keyspace"`
	Table    string   `json:"table" yaml:"table"`
	DirectIO bool     `json:"direct_io" yaml:"direct_io"`

	// DelayMs adds artificial latency to every put and get.
	DelayMs int `json:"delay_ms" yaml:"delay_ms"`
	// FailPeriod makes a faulty provider fail every FailPeriod-th call.
	FailPeriod int `json:"fail_period" yaml:"fail_period"`
	// ReadPenalty and WritePenalty are the latencies charged for failures.
	ReadPenalty  time.Duration `json:"read_penalty" yaml:"read_penalty"`
	WritePenalty time.Duration `json:"write_penalty" yaml:"write_penalty"`
}

// IsEnabled reports the provider's initial enabled state.
func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// Load reads and parses the configuration file at path. YAML and JSON are both accepted.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses, defaults and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, cloudkvs.NewError(cloudkvs.ConfigurationError, "", fmt.Errorf("parse config file: %w", err))
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	c.Options = c.Options.WithDefaults()
	if c.SortPeriod == 0 {
		c.SortPeriod = cloudkvs.DefaultSortPeriod
	}
	if c.Workers <= 0 {
		c.Workers = cloudkvs.DefaultWorkers
	}
	if c.ProbeSize <= 0 {
		c.ProbeSize = kvs.DefaultProbeSize
	}
	if c.ProbePeriod == 0 {
		c.ProbePeriod = DefaultProbePeriod
	}
	if c.Codec == "" {
		c.Codec = secretsharing.DefaultCodecType.String()
	}
	if c.Admin.Listen == "" {
		c.Admin.Listen = DefaultAdminListen
	}
	if c.DefaultScheme != "" && len(c.DefaultProviders) == 0 {
		for _, p := range c.Providers {
			c.DefaultProviders = append(c.DefaultProviders, p.ID)
		}
	}
}

func invalid(format string, args ...any) error {
	return cloudkvs.Errorf(cloudkvs.ConfigurationError, "", format, args...)
}

// Validate checks the configuration. Failures are configuration errors.
func (c *Config) Validate() error {
	ids := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.ID == "" {
			return invalid("providers[%d].id is required", i)
		}
		if strings.Contains(p.ID, ";") {
			return invalid("provider id %q must not contain ';'", p.ID)
		}
		if ids[p.ID] {
			return invalid("duplicate provider id %q", p.ID)
		}
		ids[p.ID] = true
		if err := p.validate(); err != nil {
			return err
		}
	}
	if _, err := c.CodecType(); err != nil {
		return err
	}
	if c.DefaultScheme != "" {
		scheme, err := facade.ParseScheme(c.DefaultScheme)
		if err != nil {
			return err
		}
		if len(c.DefaultProviders) != scheme.N {
			return invalid("default scheme %s needs %d providers, got %d", c.DefaultScheme, scheme.N, len(c.DefaultProviders))
		}
		for _, id := range c.DefaultProviders {
			if !ids[id] {
				return invalid("default provider %q is not configured", id)
			}
		}
	}
	return nil
}

func (p ProviderConfig) validate() error {
	switch p.Type {
	case TypeMemory, TypeFaulty:
	case TypeFile:
		if p.Folder == "" {
			return invalid("provider %s: folder is required", p.ID)
		}
	case TypeS3, TypeGCS:
		if p.Bucket == "" {
			return invalid("provider %s: bucket is required", p.ID)
		}
	case TypeRedis:
	case TypeCassandra:
		if len(p.Hosts) == 0 {
			return invalid("provider %s: hosts are required", p.ID)
		}
	default:
		return invalid("provider %s: unknown type %q", p.ID, p.Type)
	}
	if p.DelayMs < 0 {
		return invalid("provider %s: delay_ms must not be negative", p.ID)
	}
	return nil
}

// CodecType returns the configured secret sharing codec.
func (c *Config) CodecType() (secretsharing.CodecType, error) {
	switch strings.ToLower(c.Codec) {
	case "", secretsharing.CAONTRS.String():
		return secretsharing.CAONTRS, nil
	case secretsharing.AONTRS.String():
		return secretsharing.AONTRS, nil
	}
	return 0, invalid("unknown secret sharing codec %q", c.Codec)
}

// FacadeOptions returns the registry options the configuration describes.
func (c *Config) FacadeOptions() facade.Options {
	ct, _ := c.CodecType()
	return facade.Options{
		IO:            c.Options,
		RefreshPeriod: c.SortPeriod,
		RepairOnRead:  c.RepairOnRead,
		CodecType:     ct,
	}
}
