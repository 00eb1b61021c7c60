package datasvc

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Option customizes a DataService at construction.
type Option func(*DataService)

// WithEndpoint registers a feature with its URL template and protocol.
// An empty protocol inherits the configured default.
func WithEndpoint(feature, urlTemplate string, protocol Protocol) Option {
	return func(s *DataService) {
		s.configEndpoints[feature] = Endpoint{
			Feature:     feature,
			URLTemplate: urlTemplate,
			Protocol:    protocol,
		}
	}
}

// WithEndpointConfig registers a fully specified endpoint, including
// per-feature cache and debounce overrides.
func WithEndpointConfig(ep Endpoint) Option {
	return func(s *DataService) {
		s.configEndpoints[ep.Feature] = ep
	}
}

// WithHTTPClient sets a custom HTTP client for all protocol drivers.
func WithHTTPClient(client *http.Client) Option {
	return func(s *DataService) {
		s.httpClient = client
	}
}

// WithLogger sets the structured logger. The default logger discards
// everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *DataService) {
		s.logger = logger
	}
}

// WithTelemetrySink routes operation events to the given sink instead of
// discarding them.
func WithTelemetrySink(sink TelemetrySink) Option {
	return func(s *DataService) {
		s.telemetry = sink
	}
}

// WithMetrics enables Prometheus metrics on the default registerer.
func WithMetrics() Option {
	return func(s *DataService) {
		s.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector uses an externally constructed collector, for
// custom registries.
func WithMetricsCollector(mc *MetricsCollector) Option {
	return func(s *DataService) {
		s.metrics = mc
	}
}

// WithCircuitBreaker enables circuit breaking around protocol dispatch.
func WithCircuitBreaker(config CircuitBreakerConfig) Option {
	return func(s *DataService) {
		s.breaker = NewCircuitBreaker(config)
	}
}

// WithRateLimiter enables token-bucket throttling of outbound dispatch.
func WithRateLimiter(maxTokens int, refillRate time.Duration) Option {
	return func(s *DataService) {
		s.limiter = NewRateLimiter(maxTokens, refillRate)
	}
}

// validateConfiguration checks the merged config and endpoint table for
// mistakes that would otherwise surface as confusing runtime failures.
func (s *DataService) validateConfiguration() error {
	var problems []string

	switch s.config.DefaultProtocol {
	case ProtocolREST, ProtocolSSE, ProtocolWebSocket:
	case "":
		problems = append(problems, "DefaultProtocol must be set")
	default:
		problems = append(problems, fmt.Sprintf("DefaultProtocol %q is not a known protocol", s.config.DefaultProtocol))
	}

	if s.config.MaxRetries < 0 {
		problems = append(problems, "MaxRetries must not be negative")
	}
	if s.config.RetryEnabled && s.config.MaxRetries > 0 && s.config.RetryBaseDelay <= 0 {
		problems = append(problems, "RetryBaseDelay must be positive when retries are enabled")
	}

	if s.config.CacheTTL < 0 {
		problems = append(problems, "CacheTTL must not be negative")
	}
	if s.config.DebounceDelay < 0 {
		problems = append(problems, "DebounceDelay must not be negative")
	}
	if s.config.StreamInactivityTimeout <= 0 {
		problems = append(problems, "StreamInactivityTimeout must be positive")
	}

	for feature, ep := range s.configEndpoints {
		if feature == "" {
			problems = append(problems, "endpoint registered with empty feature name")
			continue
		}
		if ep.URLTemplate == "" {
			problems = append(problems, fmt.Sprintf("endpoint %q has no URL template", feature))
		}
		switch ep.Protocol {
		case "", ProtocolREST, ProtocolSSE, ProtocolWebSocket:
		default:
			problems = append(problems, fmt.Sprintf("endpoint %q has unknown protocol %q", feature, ep.Protocol))
		}
		if ep.CacheTTL < 0 {
			problems = append(problems, fmt.Sprintf("endpoint %q has negative CacheTTL", feature))
		}
		if ep.DebounceDelay < 0 {
			problems = append(problems, fmt.Sprintf("endpoint %q has negative DebounceDelay", feature))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return &Error{
		Type:      ErrorTypeValidation,
		Message:   "invalid configuration: " + strings.Join(problems, "; "),
		Timestamp: time.Now(),
	}
}
