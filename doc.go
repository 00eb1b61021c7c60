// Package datasvc provides a protocol-agnostic data-access layer that sits
// between application features and a set of backend endpoints, unifying
// request/response (REST), streaming (SSE) and a deprecated push protocol
// behind one Fetch(feature, params) contract:
//
//   - Response caching with per-feature TTL and stale-while-revalidate
//   - Single-flight de-duplication of concurrent identical requests
//   - Trailing-edge debouncing of high-frequency call bursts
//   - Retries with exponential or constant backoff for transient failures
//   - Cache invalidation by URL prefix on successful writes
//   - Prometheus metrics and an injectable structured telemetry sink
//
// Design goals:
//   - Small surface area: a Config plus functional options configure everything
//   - Safe concurrent use of a single *DataService instance
//   - Per-feature behavior (protocol, TTL, SWR, debounce delay) independently
//     configurable with conservative global defaults
//
// Typical usage:
//
//	svc, err := datasvc.New(datasvc.DefaultConfig(),
//	    datasvc.WithEndpoint("metrics", "https://api.example.com/metrics", datasvc.ProtocolREST),
//	    datasvc.WithEndpoint("widget", "https://api.example.com/widgets/:widgetId", datasvc.ProtocolREST),
//	    datasvc.WithMetrics(),
//	)
//	if err != nil { ... }
//	defer svc.Close()
//
//	data, err := svc.Fetch(ctx, "widget", datasvc.Params{"widgetId": "w1"})
//
// Writes (CreateData, UpdateData, DeleteData, BatchUpdate) always dispatch
// through the REST driver and invalidate cached reads under the endpoint's
// resolved URL. UploadFile behaves as a write but leaves the cache untouched.
package datasvc
