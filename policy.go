package datasvc

import "time"

// Hard-coded fallbacks used when neither the endpoint nor the global
// config supplies a value.
const (
	fallbackCacheTTL      = 5 * time.Minute
	fallbackDebounceDelay = 300 * time.Millisecond
)

// cachePolicy is the per-call cache behavior after resolving endpoint
// overrides against global defaults.
type cachePolicy struct {
	ttl time.Duration
	swr bool
}

// resolveCachePolicy falls back through per-endpoint config, the global
// default, then the hard-coded default, in that order. Features without
// explicit cache configuration get the global TTL with
// stale-while-revalidate enabled; that conservative default is part of the
// observable staleness contract.
func resolveCachePolicy(ep Endpoint, cfg Config) cachePolicy {
	p := cachePolicy{ttl: fallbackCacheTTL, swr: true}
	if cfg.CacheTTL > 0 {
		p.ttl = cfg.CacheTTL
	}
	if ep.CacheTTL > 0 {
		p.ttl = ep.CacheTTL
	}
	if ep.SWR != nil {
		p.swr = *ep.SWR
	}
	return p
}

// resolveDebounceDelay falls back through the per-call override, the
// endpoint override, the global default, then the hard-coded default.
func resolveDebounceDelay(co callOptions, ep Endpoint, cfg Config) time.Duration {
	switch {
	case co.debounceDelay > 0:
		return co.debounceDelay
	case ep.DebounceDelay > 0:
		return ep.DebounceDelay
	case cfg.DebounceDelay > 0:
		return cfg.DebounceDelay
	default:
		return fallbackDebounceDelay
	}
}
