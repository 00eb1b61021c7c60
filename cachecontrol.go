package datasvc

import (
	"strconv"
	"strings"
	"time"
)

// cacheDirectives holds the subset of Cache-Control directives the read
// path honors: no-store/no-cache suppress caching and max-age overrides
// the config-resolved TTL. Everything else about the cache policy stays
// config-driven.
type cacheDirectives struct {
	NoStore bool
	NoCache bool
	MaxAge  *time.Duration
}

// parseCacheControl parses a Cache-Control header into structured
// directives. Unknown directives are ignored.
func parseCacheControl(header string) cacheDirectives {
	var d cacheDirectives
	if header == "" {
		return d
	}

	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "=") {
			kv := strings.SplitN(part, "=", 2)
			if len(kv) != 2 {
				continue
			}
			key := strings.TrimSpace(kv[0])
			value := strings.Trim(strings.TrimSpace(kv[1]), "\"")
			if key == "max-age" {
				if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
					maxAge := time.Duration(seconds) * time.Second
					d.MaxAge = &maxAge
				}
			}
			continue
		}
		switch part {
		case "no-store":
			d.NoStore = true
		case "no-cache":
			d.NoCache = true
		}
	}
	return d
}

// effectiveTTL applies response cache directives to the config-resolved
// TTL. The second return is false when the response must not be cached.
func (d cacheDirectives) effectiveTTL(resolved time.Duration) (time.Duration, bool) {
	if d.NoStore || d.NoCache {
		return 0, false
	}
	if d.MaxAge != nil {
		return *d.MaxAge, true
	}
	return resolved, true
}
