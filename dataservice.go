package datasvc

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// DataService is the protocol-agnostic data-access facade. Reads flow
// through the cache, single-flight coordination and optional debouncing;
// writes always dispatch over HTTP and invalidate the cache for their
// endpoint on success. Construct with New and share one instance; all
// methods are safe for concurrent use.
type DataService struct {
	config          Config
	configEndpoints map[string]Endpoint

	httpClient *http.Client
	logger     zerolog.Logger
	telemetry  TelemetrySink
	metrics    *MetricsCollector
	breaker    *CircuitBreaker
	limiter    *RateLimiter

	registry  *Registry
	cache     *CacheStore
	flights   singleflight.Group
	debouncer *Debouncer
	rest      *restDriver
	sse       *sseDriver

	sessionMu sync.RWMutex
	session   SessionContext
}

// New constructs a DataService from the global config and options.
// Endpoints come from cfg.Endpoints and WithEndpoint options, options
// winning on conflict. Configuration problems surface here as a
// Validation error rather than at first use.
func New(cfg Config, opts ...Option) (*DataService, error) {
	s := &DataService{
		config:          cfg,
		configEndpoints: make(map[string]Endpoint, len(cfg.Endpoints)),
		logger:          zerolog.Nop(),
		telemetry:       NopSink{},
	}
	for name, ep := range cfg.Endpoints {
		ep.Feature = name
		s.configEndpoints[name] = ep
	}

	for _, opt := range opts {
		opt(s)
	}

	if err := s.validateConfiguration(); err != nil {
		return nil, err
	}

	if s.httpClient == nil {
		s.httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}

	s.registry = NewRegistry(s.configEndpoints, cfg.DefaultProtocol)
	s.cache = NewCacheStore()
	s.debouncer = NewDebouncer()
	s.rest = newRESTDriver(s.httpClient)
	s.sse = newSSEDriver(s.httpClient, cfg.StreamInactivityTimeout)

	return s, nil
}

// SetContext attaches session metadata to subsequent error telemetry
// events. It never affects routing, caching or request contents.
func (s *DataService) SetContext(sc SessionContext) {
	s.sessionMu.Lock()
	s.session = sc.clone()
	s.sessionMu.Unlock()
}

func (s *DataService) sessionSnapshot() SessionContext {
	s.sessionMu.RLock()
	defer s.sessionMu.RUnlock()
	return s.session.clone()
}

// Close releases background resources: pending debounce timers are
// cancelled, their waiters fail with a Shutdown error, and idle
// connections are closed. Calls already dispatched finish normally.
func (s *DataService) Close() {
	s.debouncer.Close()
	s.httpClient.CloseIdleConnections()
}

// Fetch performs a read for a feature. Parameters substitute into the
// endpoint's :param placeholders; leftovers become query parameters. Fresh
// cache entries are returned directly; with stale-while-revalidate, an
// expired entry is returned immediately while one background refresh runs.
// Concurrent identical fetches collapse into a single outbound call.
func (s *DataService) Fetch(ctx context.Context, feature string, params Params, opts ...CallOption) (any, error) {
	co := evalCallOptions(opts)
	return s.fetch(ctx, feature, params, co)
}

// Debounced performs a read after a trailing-edge quiet period: calls for
// the same feature within the delay window collapse into one execution
// carrying the last call's parameters, and every caller receives its
// result. With debouncing disabled in config it is identical to Fetch.
func (s *DataService) Debounced(ctx context.Context, feature string, params Params, opts ...CallOption) (any, error) {
	co := evalCallOptions(opts)
	if !s.config.DebounceEnabled {
		return s.fetch(ctx, feature, params, co)
	}

	ep, ok := s.registry.Lookup(feature)
	if !ok {
		err := &Error{
			Type:      ErrorTypeUnknownFeature,
			Feature:   feature,
			Message:   "no endpoint registered for feature",
			Timestamp: time.Now(),
		}
		s.recordError("debounced", feature, err)
		return nil, err
	}

	delay := resolveDebounceDelay(co, ep, s.config)
	if s.debouncer.Superseded(feature) {
		s.metrics.RecordDebounceCollapsed(feature)
	}

	// The trailing execution is owned by the timer, not by any single
	// caller, so it runs against the background context.
	v, err := s.debouncer.Call(ctx, feature, delay, func() (any, error) {
		return s.fetch(context.Background(), feature, params, co)
	})
	if err != nil {
		// Errors from the execution itself are already typed and
		// recorded; an interrupted wait surfaces as a raw context error.
		de, ok := err.(*Error)
		if !ok {
			de = &Error{
				Type:      ErrorTypeTransport,
				Feature:   feature,
				Message:   "wait for debounced execution interrupted",
				Timestamp: time.Now(),
				Cause:     err,
			}
			s.recordError("debounced", feature, de)
		}
		return nil, de
	}
	return v, nil
}

func (s *DataService) fetch(ctx context.Context, feature string, params Params, co callOptions) (any, error) {
	start := time.Now()
	s.metrics.RecordRequestStart("fetch", feature)
	defer s.metrics.RecordRequestEnd("fetch", feature)

	ep, ok := s.registry.Lookup(feature)
	if !ok {
		err := &Error{
			Type:      ErrorTypeUnknownFeature,
			Feature:   feature,
			Message:   "no endpoint registered for feature",
			Timestamp: time.Now(),
		}
		s.recordError("fetch", feature, err)
		return nil, err
	}

	resolved, remaining, err := s.resolveRead(feature, params, co)
	if err != nil {
		s.recordError("fetch", feature, err)
		return nil, err
	}

	policy := resolveCachePolicy(ep, s.config)
	if co.ttl > 0 {
		policy.ttl = co.ttl
	}
	key := cacheKey(resolved, remaining)
	cacheable := s.config.CacheEnabled && !co.noCache

	if cacheable {
		// Stale lookup first so an expired entry survives long enough to
		// be served on the revalidation path; Get would evict it.
		if entry, exists := s.cache.GetStale(key); exists {
			if !entry.Expired(time.Now()) {
				s.metrics.RecordCacheHit(feature)
				s.logger.Debug().Str("feature", feature).Str("key", key).Msg("cache hit")
				return entry.Data, nil
			}
			s.metrics.RecordCacheMiss(feature)
			if policy.swr {
				s.metrics.RecordStaleServe(feature)
				s.logger.Debug().Str("feature", feature).Str("key", key).Msg("serving stale while revalidating")
				s.revalidate(feature, ep, resolved, remaining, key, policy, co)
				return entry.Data, nil
			}
			s.cache.Delete(key)
		} else {
			s.metrics.RecordCacheMiss(feature)
		}
	}

	v, err, shared := s.flights.Do(key, func() (any, error) {
		res, err := s.dispatchRead(ctx, "fetch", ep, resolved, remaining, co)
		if err != nil {
			return nil, err
		}
		if cacheable {
			s.storeResult(key, res, policy)
		}
		return res.payload, nil
	})
	if shared {
		s.metrics.RecordFlightShared(feature)
	}
	if err != nil {
		s.recordError("fetch", feature, err)
		return nil, err
	}

	s.metrics.RecordRequest("fetch", feature, http.StatusOK, time.Since(start))
	s.telemetry.Record(Event{
		Operation: "fetch",
		Feature:   feature,
		URL:       resolved,
		Method:    http.MethodGet,
		Status:    http.StatusOK,
		Duration:  time.Since(start),
	})
	return v, nil
}

// revalidate launches one deduplicated background refresh for a stale
// entry. Refresh failures reach telemetry only; the stale data has already
// been served.
func (s *DataService) revalidate(feature string, ep Endpoint, resolved string, remaining Params, key string, policy cachePolicy, co callOptions) {
	go func() {
		_, err, _ := s.flights.Do(key, func() (any, error) {
			res, err := s.dispatchRead(context.Background(), "revalidate", ep, resolved, remaining, co)
			if err != nil {
				return nil, err
			}
			s.storeResult(key, res, policy)
			return res.payload, nil
		})
		if err != nil {
			s.metrics.RecordRevalidation(feature, "failure")
			s.recordError("revalidate", feature, err)
			return
		}
		s.metrics.RecordRevalidation(feature, "success")
	}()
}

// dispatchRead routes one outbound read through the guards and the
// protocol driver, applying retries on the request/response path.
func (s *DataService) dispatchRead(ctx context.Context, op string, ep Endpoint, resolved string, remaining Params, co callOptions) (*driverResult, error) {
	if err := s.allowDispatch(ep.Feature, resolved); err != nil {
		return nil, err
	}

	var res *driverResult
	var err error
	switch ep.Protocol {
	case ProtocolREST:
		res, err = s.withRetry(ep.Feature, func() (*driverResult, error) {
			return s.rest.do(ctx, ep.Feature, http.MethodGet, resolved, remaining, nil, "", co.headers)
		})

	case ProtocolSSE:
		var timedOut bool
		res, timedOut, err = s.sse.collect(ctx, ep.Feature, resolved, remaining, co.headers)
		if timedOut {
			// The caller still gets the partial sequence; the timeout is
			// an observability concern only.
			s.metrics.RecordError(ErrorTypeStreamTimeout, op, ep.Feature)
			s.telemetry.Record(Event{
				Operation: op,
				Feature:   ep.Feature,
				URL:       resolved,
				Method:    http.MethodGet,
				ErrorType: ErrorTypeStreamTimeout,
				Session:   s.sessionSnapshot(),
			})
		}

	case ProtocolWebSocket:
		err = websocketUnsupported(ep.Feature, resolved)

	default:
		err = &Error{
			Type:      ErrorTypeUnsupportedProtocol,
			Feature:   ep.Feature,
			Message:   "unknown protocol " + string(ep.Protocol),
			URL:       resolved,
			Timestamp: time.Now(),
		}
	}

	s.observeDispatch(err)
	return res, err
}

// allowDispatch consults the opt-in rate limiter and circuit breaker.
func (s *DataService) allowDispatch(feature, resolved string) error {
	if s.limiter != nil && !s.limiter.Allow() {
		return &Error{
			Type:      ErrorTypeThrottled,
			Feature:   feature,
			Message:   "local rate limit exceeded",
			URL:       resolved,
			Timestamp: time.Now(),
		}
	}
	if s.breaker != nil && !s.breaker.Allow() {
		return &Error{
			Type:      ErrorTypeCircuitOpen,
			Feature:   feature,
			Message:   "circuit breaker is open",
			URL:       resolved,
			Timestamp: time.Now(),
		}
	}
	return nil
}

func (s *DataService) observeDispatch(err error) {
	if s.breaker == nil {
		return
	}
	if err != nil && IsTransient(err) {
		s.breaker.RecordFailure()
		return
	}
	if err == nil {
		s.breaker.RecordSuccess()
	}
}

// withRetry wraps a driver call in the configured retry schedule.
func (s *DataService) withRetry(feature string, op func() (*driverResult, error)) (*driverResult, error) {
	engine := newRetryEngine(s.config.retryPolicy())
	engine.onRetry = func(attempt int, delay time.Duration, err error) {
		s.metrics.RecordRetry(feature, attempt)
		s.logger.Debug().
			Str("feature", feature).
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(err).
			Msg("retrying after transient failure")
	}
	v, err := engine.Execute(func() (any, error) {
		res, err := op()
		if err != nil {
			return nil, err
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*driverResult), nil
}

// storeResult caches a read result, honoring response cache directives.
func (s *DataService) storeResult(key string, res *driverResult, policy cachePolicy) {
	directives := parseCacheControl(res.header.Get("Cache-Control"))
	ttl, ok := directives.effectiveTTL(policy.ttl)
	if !ok || ttl <= 0 {
		return
	}
	s.cache.Put(key, res.payload, ttl)
	s.metrics.RecordCacheSize(s.cache.Len())
}

// resolveRead resolves the URL template for a read, letting explicit path
// params take precedence over the main parameter bag.
func (s *DataService) resolveRead(feature string, params Params, co callOptions) (string, Params, error) {
	merged := params
	if len(co.pathParams) > 0 {
		merged = params.clone()
		if merged == nil {
			merged = make(Params, len(co.pathParams))
		}
		for k, v := range co.pathParams {
			merged[k] = v
		}
	}
	return s.registry.Resolve(feature, merged)
}

// recordError emits the error to metrics, telemetry and the logger with
// the current session snapshot attached.
func (s *DataService) recordError(op, feature string, err error) {
	de, ok := err.(*Error)
	if !ok {
		de = &Error{Type: "Unknown", Feature: feature, Message: err.Error()}
	}
	s.metrics.RecordError(de.Type, op, feature)
	s.telemetry.Record(Event{
		Operation:    op,
		Feature:      feature,
		URL:          de.URL,
		Method:       de.Method,
		Status:       de.StatusCode,
		ErrorType:    de.Type,
		ErrorDetails: de.Message,
		Session:      s.sessionSnapshot(),
	})
	s.logger.Error().
		Str("operation", op).
		Str("feature", feature).
		Str("error_type", de.Type).
		Err(err).
		Msg("operation failed")
}

// CacheLen returns the number of cached entries, for diagnostics.
func (s *DataService) CacheLen() int {
	return s.cache.Len()
}

// ClearCache drops every cached entry.
func (s *DataService) ClearCache() {
	s.cache.Clear()
	s.metrics.RecordCacheSize(0)
}
