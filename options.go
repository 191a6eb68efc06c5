package cloudkvs

import "time"

const (
	// ReadTimeoutSeconds bounds the wait for one read completion within a fan-out round.
	ReadTimeoutSeconds = 60
	// WriteTimeoutSeconds bounds the wait for one write completion within a fan-out round.
	WriteTimeoutSeconds = 60
	// Retries is the number of fan-out rounds.
	Retries = 3
	// DefaultRetryBackoff spaces consecutive fan-out rounds.
	DefaultRetryBackoff = 10 * time.Millisecond
	// DefaultSortPeriod is how often backend rankings are recomputed.
	DefaultSortPeriod = 5 * time.Second
)

// Options holds the tunables of the fan-out orchestrator.
type Options struct {
	// ReadTimeout bounds each wait for a read completion in a round.
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`
	// WriteTimeout bounds each wait for a write completion in a round.
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	// Retries is the maximum number of rounds per fan-out call.
	Retries int `json:"retries" yaml:"retries"`
	// RetryBackoff is the pause between two rounds.
	RetryBackoff time.Duration `json:"retry_backoff" yaml:"retry_backoff"`
}

// DefaultOptions returns the stock orchestrator settings.
func DefaultOptions() Options {
	return Options{
		ReadTimeout:  ReadTimeoutSeconds * time.Second,
		WriteTimeout: WriteTimeoutSeconds * time.Second,
		Retries:      Retries,
		RetryBackoff: DefaultRetryBackoff,
	}
}

// WithDefaults fills zero fields from DefaultOptions.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = d.ReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.Retries <= 0 {
		o.Retries = d.Retries
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = d.RetryBackoff
	}
	return o
}
