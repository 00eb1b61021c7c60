package datasvc

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the global defaults for the data-access layer. Per-endpoint
// settings on Endpoint and per-call options both override these.
//
// Fields carry env tags so deployments can tune the layer without code
// changes; see ConfigFromEnv.
type Config struct {
	// DefaultProtocol applies to endpoints that do not name one.
	DefaultProtocol Protocol `env:"DATASVC_DEFAULT_PROTOCOL" envDefault:"REST"`

	// CacheEnabled turns read caching on or off globally.
	CacheEnabled bool `env:"DATASVC_CACHE_ENABLED" envDefault:"true"`

	// CacheTTL is the default freshness window for cached reads.
	CacheTTL time.Duration `env:"DATASVC_CACHE_TTL" envDefault:"5m"`

	// DebounceEnabled gates the Debounced entry point. When false,
	// Debounced behaves exactly like Fetch.
	DebounceEnabled bool `env:"DATASVC_DEBOUNCE_ENABLED" envDefault:"true"`

	// DebounceDelay is the default trailing-edge quiet period.
	DebounceDelay time.Duration `env:"DATASVC_DEBOUNCE_DELAY" envDefault:"300ms"`

	// RetryEnabled turns transient-failure retries on or off.
	RetryEnabled bool `env:"DATASVC_RETRY_ENABLED" envDefault:"true"`

	// MaxRetries is the number of re-issues after the initial attempt.
	MaxRetries int `env:"DATASVC_MAX_RETRIES" envDefault:"3"`

	// RetryBaseDelay seeds the backoff schedule.
	RetryBaseDelay time.Duration `env:"DATASVC_RETRY_BASE_DELAY" envDefault:"300ms"`

	// ExponentialBackoff selects doubling delays over a constant delay.
	ExponentialBackoff bool `env:"DATASVC_RETRY_EXPONENTIAL" envDefault:"true"`

	// StreamInactivityTimeout bounds how long a stream collection waits
	// between events before returning the partial sequence.
	StreamInactivityTimeout time.Duration `env:"DATASVC_STREAM_INACTIVITY_TIMEOUT" envDefault:"30s"`

	// RequestTimeout is applied to the underlying HTTP client when no
	// custom client is supplied. Zero means no timeout.
	RequestTimeout time.Duration `env:"DATASVC_REQUEST_TIMEOUT" envDefault:"30s"`

	// Endpoints maps feature names to their definitions. Usually supplied
	// via WithEndpoint options rather than directly.
	Endpoints map[string]Endpoint `env:"-"`
}

// DefaultConfig returns the stock configuration: REST protocol, caching
// and debouncing on, three exponential retries from 300ms.
func DefaultConfig() Config {
	return Config{
		DefaultProtocol:         ProtocolREST,
		CacheEnabled:            true,
		CacheTTL:                5 * time.Minute,
		DebounceEnabled:         true,
		DebounceDelay:           300 * time.Millisecond,
		RetryEnabled:            true,
		MaxRetries:              3,
		RetryBaseDelay:          300 * time.Millisecond,
		ExponentialBackoff:      true,
		StreamInactivityTimeout: 30 * time.Second,
		RequestTimeout:          30 * time.Second,
	}
}

// ConfigFromEnv builds a Config from DATASVC_* environment variables,
// using the same defaults as DefaultConfig for unset ones.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing environment config: %w", err)
	}
	return cfg, nil
}

// retryPolicy derives the engine policy from the global config.
func (c Config) retryPolicy() RetryPolicy {
	return RetryPolicy{
		Enabled:            c.RetryEnabled,
		MaxRetries:         c.MaxRetries,
		BaseDelay:          c.RetryBaseDelay,
		ExponentialBackoff: c.ExponentialBackoff,
	}
}
