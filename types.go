package datasvc

import (
	"io"
	"time"
)

// Protocol identifies how an endpoint is reached.
type Protocol string

const (
	ProtocolREST      Protocol = "REST"
	ProtocolSSE       Protocol = "SSE"
	ProtocolWebSocket Protocol = "WEBSOCKET"
)

// Endpoint describes one named feature: its URL template, protocol, and
// optional per-feature overrides. Zero values inherit the global defaults.
// Endpoints are supplied at construction and never mutated afterwards.
type Endpoint struct {
	// Feature is the unique name features use to address this endpoint.
	Feature string

	// URLTemplate may contain :param placeholders, e.g.
	// "https://api.example.com/widgets/:widgetId".
	URLTemplate string

	// Protocol defaults to the configured DefaultProtocol when empty.
	Protocol Protocol

	// CacheTTL overrides the global cache TTL when positive.
	CacheTTL time.Duration

	// SWR overrides stale-while-revalidate for this feature. When nil the
	// global default applies (enabled).
	SWR *bool

	// DebounceDelay overrides the global debounce delay when positive.
	DebounceDelay time.Duration
}

// SessionContext carries session metadata attached to error telemetry
// events. It has no effect on routing or caching.
type SessionContext map[string]string

func (sc SessionContext) clone() SessionContext {
	if sc == nil {
		return nil
	}
	out := make(SessionContext, len(sc))
	for k, v := range sc {
		out[k] = v
	}
	return out
}

// FormData describes a multipart upload: one file part plus optional extra
// form fields.
type FormData struct {
	FileField string
	FileName  string
	Content   io.Reader
	Fields    map[string]string
}

// CallOption adjusts a single facade call.
type CallOption func(*callOptions)

type callOptions struct {
	pathParams    Params
	headers       map[string]string
	ttl           time.Duration
	noCache       bool
	debounceDelay time.Duration
}

// WithPathParams supplies URL template parameters for write methods, whose
// body is not consulted for :param substitution.
func WithPathParams(p Params) CallOption {
	return func(o *callOptions) { o.pathParams = p }
}

// WithHeader adds a header to the underlying request.
func WithHeader(key, value string) CallOption {
	return func(o *callOptions) {
		if o.headers == nil {
			o.headers = make(map[string]string)
		}
		o.headers[key] = value
	}
}

// WithCallTTL overrides the resolved cache TTL for this call only.
func WithCallTTL(ttl time.Duration) CallOption {
	return func(o *callOptions) { o.ttl = ttl }
}

// WithNoCache bypasses the cache for this call: no lookup, no populate.
func WithNoCache() CallOption {
	return func(o *callOptions) { o.noCache = true }
}

// WithDebounceDelay overrides the resolved debounce delay for this call.
func WithDebounceDelay(d time.Duration) CallOption {
	return func(o *callOptions) { o.debounceDelay = d }
}

func evalCallOptions(opts []CallOption) callOptions {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}
	return co
}
