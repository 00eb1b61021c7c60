package datasvc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Record(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *captureSink) byType(errorType string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.ErrorType == errorType {
			out = append(out, ev)
		}
	}
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryBaseDelay = time.Millisecond
	cfg.DebounceDelay = 50 * time.Millisecond
	return cfg
}

func newTestService(t *testing.T, cfg Config, opts ...Option) *DataService {
	t.Helper()
	s, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("constructing service: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func countingServer(t *testing.T, hits *int64, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(hits, 1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		opts   []Option
	}{
		{"missing protocol", func(c *Config) { c.DefaultProtocol = "" }, nil},
		{"bogus protocol", func(c *Config) { c.DefaultProtocol = "CARRIER-PIGEON" }, nil},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, nil},
		{"negative ttl", func(c *Config) { c.CacheTTL = -time.Second }, nil},
		{"endpoint without template", nil, []Option{WithEndpoint("broken", "", ProtocolREST)}},
		{"endpoint bad protocol", nil, []Option{WithEndpoint("broken", "https://x", "SMOKE-SIGNAL")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			_, err := New(cfg, tt.opts...)
			if err == nil {
				t.Fatal("expected validation error")
			}
			var de *Error
			if !errors.As(err, &de) || de.Type != ErrorTypeValidation {
				t.Errorf("expected Validation error, got %v", err)
			}
		})
	}
}

func TestFetchCachesResults(t *testing.T) {
	var hits int64
	server := countingServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"hit":%d}`, atomic.LoadInt64(&hits))
	})

	s := newTestService(t, testConfig(),
		WithEndpoint("widgets", server.URL+"/widgets", ProtocolREST),
		WithHTTPClient(server.Client()),
	)

	v1, err := s.Fetch(context.Background(), "widgets", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v2, err := s.Fetch(context.Background(), "widgets", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if atomic.LoadInt64(&hits) != 1 {
		t.Errorf("expected 1 request, got %d", hits)
	}
	if fmt.Sprint(v1) != fmt.Sprint(v2) {
		t.Errorf("cached fetch should return identical data: %v vs %v", v1, v2)
	}
}

func TestFetchDifferentParamsNotShared(t *testing.T) {
	var hits int64
	server := countingServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"q":%q}`, r.URL.RawQuery)
	})

	s := newTestService(t, testConfig(),
		WithEndpoint("widgets", server.URL+"/widgets", ProtocolREST),
		WithHTTPClient(server.Client()),
	)

	s.Fetch(context.Background(), "widgets", Params{"page": 1})
	s.Fetch(context.Background(), "widgets", Params{"page": 2})

	if atomic.LoadInt64(&hits) != 2 {
		t.Errorf("distinct params must not share cache entries, got %d requests", hits)
	}
}

func TestFetchNoCacheOption(t *testing.T) {
	var hits int64
	server := countingServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	})

	s := newTestService(t, testConfig(),
		WithEndpoint("widgets", server.URL+"/widgets", ProtocolREST),
		WithHTTPClient(server.Client()),
	)

	s.Fetch(context.Background(), "widgets", nil, WithNoCache())
	s.Fetch(context.Background(), "widgets", nil, WithNoCache())

	if atomic.LoadInt64(&hits) != 2 {
		t.Errorf("no-cache fetches must always dispatch, got %d requests", hits)
	}
}

func TestFetchSingleFlight(t *testing.T) {
	var hits int64
	server := countingServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(150 * time.Millisecond)
		w.Write([]byte(`{"ok":true}`))
	})

	s := newTestService(t, testConfig(),
		WithEndpoint("widgets", server.URL+"/widgets", ProtocolREST),
		WithHTTPClient(server.Client()),
	)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := s.Fetch(context.Background(), "widgets", nil); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := atomic.LoadInt64(&hits); got != 1 {
		t.Errorf("concurrent identical fetches should collapse to 1 request, got %d", got)
	}
}

func TestFetchStaleWhileRevalidate(t *testing.T) {
	var hits int64
	server := countingServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"version":%d}`, atomic.LoadInt64(&hits))
	})

	s := newTestService(t, testConfig(),
		WithEndpointConfig(Endpoint{
			Feature:     "widgets",
			URLTemplate: server.URL + "/widgets",
			Protocol:    ProtocolREST,
			CacheTTL:    20 * time.Millisecond,
		}),
		WithHTTPClient(server.Client()),
	)

	v1, err := s.Fetch(context.Background(), "widgets", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	// The entry is now expired: the stale payload comes back immediately
	// and a background refresh is kicked off.
	v2, err := s.Fetch(context.Background(), "widgets", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fmt.Sprint(v2) != fmt.Sprint(v1) {
		t.Errorf("stale serve should return the cached payload, got %v want %v", v2, v1)
	}

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt64(&hits) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("background revalidation never reached the server")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestFetchSWRDisabledBlocks(t *testing.T) {
	var hits int64
	server := countingServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"version":%d}`, atomic.LoadInt64(&hits))
	})

	swr := false
	s := newTestService(t, testConfig(),
		WithEndpointConfig(Endpoint{
			Feature:     "widgets",
			URLTemplate: server.URL + "/widgets",
			Protocol:    ProtocolREST,
			CacheTTL:    20 * time.Millisecond,
			SWR:         &swr,
		}),
		WithHTTPClient(server.Client()),
	)

	s.Fetch(context.Background(), "widgets", nil)
	time.Sleep(50 * time.Millisecond)

	v, err := s.Fetch(context.Background(), "widgets", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := v.(map[string]any)
	if m["version"] != float64(2) {
		t.Errorf("with revalidation disabled the caller should block for fresh data, got %v", v)
	}
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	var hits int64
	server := countingServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt64(&hits) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	})

	s := newTestService(t, testConfig(),
		WithEndpoint("widgets", server.URL+"/widgets", ProtocolREST),
		WithHTTPClient(server.Client()),
	)

	v, err := s.Fetch(context.Background(), "widgets", nil)
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if v.(map[string]any)["ok"] != true {
		t.Errorf("unexpected payload: %v", v)
	}
	if atomic.LoadInt64(&hits) != 3 {
		t.Errorf("expected 3 attempts, got %d", hits)
	}
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var hits int64
	server := countingServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	s := newTestService(t, testConfig(),
		WithEndpoint("widgets", server.URL+"/widgets", ProtocolREST),
		WithHTTPClient(server.Client()),
	)

	_, err := s.Fetch(context.Background(), "widgets", nil)
	var de *Error
	if !errors.As(err, &de) || de.Type != ErrorTypeClient {
		t.Fatalf("expected ClientError, got %v", err)
	}
	if atomic.LoadInt64(&hits) != 1 {
		t.Errorf("404 must not be retried, got %d attempts", hits)
	}
}

func TestFetchRetries429(t *testing.T) {
	var hits int64
	server := countingServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		if atomic.LoadInt64(&hits) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("{}"))
	})

	s := newTestService(t, testConfig(),
		WithEndpoint("widgets", server.URL+"/widgets", ProtocolREST),
		WithHTTPClient(server.Client()),
	)

	if _, err := s.Fetch(context.Background(), "widgets", nil); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if atomic.LoadInt64(&hits) != 2 {
		t.Errorf("expected 2 attempts, got %d", hits)
	}
}

func TestFetchUnknownFeature(t *testing.T) {
	s := newTestService(t, testConfig())

	_, err := s.Fetch(context.Background(), "ghost", nil)
	var de *Error
	if !errors.As(err, &de) || de.Type != ErrorTypeUnknownFeature {
		t.Fatalf("expected UnknownFeature, got %v", err)
	}
}

func TestFetchWebSocketUnsupported(t *testing.T) {
	s := newTestService(t, testConfig(),
		WithEndpoint("live", "wss://example.com/live", ProtocolWebSocket),
	)

	_, err := s.Fetch(context.Background(), "live", nil)
	var de *Error
	if !errors.As(err, &de) || de.Type != ErrorTypeUnsupportedProtocol {
		t.Fatalf("expected UnsupportedProtocol, got %v", err)
	}
}

func TestFetchRespectsNoStoreResponse(t *testing.T) {
	var hits int64
	server := countingServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Write([]byte("{}"))
	})

	s := newTestService(t, testConfig(),
		WithEndpoint("widgets", server.URL+"/widgets", ProtocolREST),
		WithHTTPClient(server.Client()),
	)

	s.Fetch(context.Background(), "widgets", nil)
	s.Fetch(context.Background(), "widgets", nil)

	if atomic.LoadInt64(&hits) != 2 {
		t.Errorf("no-store responses must not be cached, got %d requests", hits)
	}
}

func TestDebouncedCollapsesBurst(t *testing.T) {
	var hits int64
	server := countingServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	})

	cfg := testConfig()
	cfg.DebounceDelay = 100 * time.Millisecond
	s := newTestService(t, cfg,
		WithEndpoint("search", server.URL+"/search", ProtocolREST),
		WithHTTPClient(server.Client()),
	)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := s.Debounced(context.Background(), "search", Params{"q": n}, WithNoCache()); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt64(&hits); got != 1 {
		t.Errorf("burst should collapse to 1 request, got %d", got)
	}
}

func TestDebouncedDisabledBehavesLikeFetch(t *testing.T) {
	var hits int64
	server := countingServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	})

	cfg := testConfig()
	cfg.DebounceEnabled = false
	s := newTestService(t, cfg,
		WithEndpoint("search", server.URL+"/search", ProtocolREST),
		WithHTTPClient(server.Client()),
	)

	started := time.Now()
	if _, err := s.Debounced(context.Background(), "search", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(started); elapsed > 40*time.Millisecond {
		t.Errorf("disabled debounce should dispatch immediately, took %v", elapsed)
	}
	if atomic.LoadInt64(&hits) != 1 {
		t.Errorf("expected 1 request, got %d", hits)
	}
}

func TestDebouncedCancelledWaitReturnsTypedError(t *testing.T) {
	var hits int64
	server := countingServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	})

	s := newTestService(t, testConfig(),
		WithEndpoint("search", server.URL+"/search", ProtocolREST),
		WithHTTPClient(server.Client()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Debounced(ctx, "search", nil)
	var de *Error
	if !errors.As(err, &de) {
		t.Fatalf("expected typed error, got %v", err)
	}
	if de.Feature != "search" {
		t.Errorf("error should carry the feature, got %q", de.Feature)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("cause should be the context error, got %v", err)
	}
}

func TestCloseUnblocksPendingDebounced(t *testing.T) {
	var hits int64
	server := countingServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	})

	cfg := testConfig()
	cfg.DebounceDelay = time.Hour
	s := newTestService(t, cfg,
		WithEndpoint("search", server.URL+"/search", ProtocolREST),
		WithHTTPClient(server.Client()),
	)

	errs := make(chan error, 1)
	go func() {
		_, err := s.Debounced(context.Background(), "search", nil)
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	s.Close()

	select {
	case err := <-errs:
		var de *Error
		if !errors.As(err, &de) || de.Type != ErrorTypeShutdown {
			t.Errorf("expected Shutdown error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Debounced caller still blocked after Close")
	}
	if atomic.LoadInt64(&hits) != 0 {
		t.Errorf("pending debounced call must not dispatch after Close, got %d requests", hits)
	}
}

func TestSetContextAttachedToErrorTelemetry(t *testing.T) {
	sink := &captureSink{}
	s := newTestService(t, testConfig(), WithTelemetrySink(sink))

	s.SetContext(SessionContext{"user": "u-42", "tenant": "acme"})
	s.Fetch(context.Background(), "ghost", nil)

	events := sink.byType(ErrorTypeUnknownFeature)
	if len(events) != 1 {
		t.Fatalf("expected 1 error event, got %d", len(events))
	}
	if events[0].Session["user"] != "u-42" || events[0].Session["tenant"] != "acme" {
		t.Errorf("session metadata missing from error event: %+v", events[0].Session)
	}
}

func TestSSEStreamThroughFacade(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"n\":1}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "event: done\ndata: x\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	s := newTestService(t, testConfig(),
		WithEndpoint("events", server.URL+"/events", ProtocolSSE),
		WithHTTPClient(server.Client()),
	)

	v, err := s.Fetch(context.Background(), "events", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	payloads, ok := v.([]any)
	if !ok || len(payloads) != 1 {
		t.Errorf("expected collected sequence of 1, got %v", v)
	}
}

func TestFetchPathSubstitution(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("{}"))
	}))
	defer server.Close()

	s := newTestService(t, testConfig(),
		WithEndpoint("widget", server.URL+"/widgets/:widgetId", ProtocolREST),
		WithHTTPClient(server.Client()),
	)

	if _, err := s.Fetch(context.Background(), "widget", Params{"widgetId": "w-9"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/widgets/w-9" {
		t.Errorf("unexpected path: %q", gotPath)
	}
}

func TestRateLimiterRejectsWhenExhausted(t *testing.T) {
	var hits int64
	server := countingServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	})

	s := newTestService(t, testConfig(),
		WithEndpoint("widgets", server.URL+"/widgets", ProtocolREST),
		WithHTTPClient(server.Client()),
		WithRateLimiter(1, time.Hour),
	)

	if _, err := s.Fetch(context.Background(), "widgets", nil, WithNoCache()); err != nil {
		t.Fatalf("first call should pass, got %v", err)
	}
	_, err := s.Fetch(context.Background(), "widgets", nil, WithNoCache())
	var de *Error
	if !errors.As(err, &de) || de.Type != ErrorTypeThrottled {
		t.Fatalf("expected Throttled, got %v", err)
	}
	if atomic.LoadInt64(&hits) != 1 {
		t.Errorf("throttled call must not reach the server, got %d requests", hits)
	}
}

func TestCircuitBreakerRejectsAfterFailures(t *testing.T) {
	var hits int64
	server := countingServer(t, &hits, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	cfg := testConfig()
	cfg.RetryEnabled = false
	s := newTestService(t, cfg,
		WithEndpoint("widgets", server.URL+"/widgets", ProtocolREST),
		WithHTTPClient(server.Client()),
		WithCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Hour}),
	)

	s.Fetch(context.Background(), "widgets", nil, WithNoCache())
	s.Fetch(context.Background(), "widgets", nil, WithNoCache())

	_, err := s.Fetch(context.Background(), "widgets", nil, WithNoCache())
	var de *Error
	if !errors.As(err, &de) || de.Type != ErrorTypeCircuitOpen {
		t.Fatalf("expected CircuitOpen, got %v", err)
	}
	if atomic.LoadInt64(&hits) != 2 {
		t.Errorf("open breaker must not dispatch, got %d requests", hits)
	}
}

func TestFetchAsDecodesPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"w-1","name":"gizmo","count":3}`))
	}))
	defer server.Close()

	s := newTestService(t, testConfig(),
		WithEndpoint("widget", server.URL+"/widget", ProtocolREST),
		WithHTTPClient(server.Client()),
	)

	type widget struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	w, err := FetchAs[widget](context.Background(), s, "widget", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.ID != "w-1" || w.Name != "gizmo" || w.Count != 3 {
		t.Errorf("unexpected decoded widget: %+v", w)
	}
}

func TestCacheHelpers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	}))
	defer server.Close()

	s := newTestService(t, testConfig(),
		WithEndpoint("widgets", server.URL+"/widgets", ProtocolREST),
		WithHTTPClient(server.Client()),
	)

	s.Fetch(context.Background(), "widgets", nil)
	if s.CacheLen() != 1 {
		t.Errorf("expected 1 cached entry, got %d", s.CacheLen())
	}
	s.ClearCache()
	if s.CacheLen() != 0 {
		t.Errorf("expected empty cache, got %d", s.CacheLen())
	}
}

func TestFetchErrorMentionsFeature(t *testing.T) {
	s := newTestService(t, testConfig())

	_, err := s.Fetch(context.Background(), "missing-feature", nil)
	if err == nil || !strings.Contains(err.Error(), "missing-feature") {
		t.Errorf("error should identify the feature, got %v", err)
	}
}
