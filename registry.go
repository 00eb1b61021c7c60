package datasvc

import (
	"net/url"
	"strings"
	"time"
)

// Registry is the static mapping from feature name to endpoint descriptor.
// It is built once at construction and read-only afterwards, so lookups
// need no locking.
type Registry struct {
	endpoints       map[string]Endpoint
	defaultProtocol Protocol
}

// NewRegistry builds a registry from the supplied endpoints. Endpoints
// without an explicit protocol inherit defaultProtocol.
func NewRegistry(endpoints map[string]Endpoint, defaultProtocol Protocol) *Registry {
	eps := make(map[string]Endpoint, len(endpoints))
	for name, ep := range endpoints {
		ep.Feature = name
		if ep.Protocol == "" {
			ep.Protocol = defaultProtocol
		}
		eps[name] = ep
	}
	return &Registry{endpoints: eps, defaultProtocol: defaultProtocol}
}

// Lookup returns the endpoint descriptor for a feature.
func (r *Registry) Lookup(feature string) (Endpoint, bool) {
	ep, ok := r.endpoints[feature]
	return ep, ok
}

// Resolve substitutes :param placeholders in the feature's URL template
// with URL-encoded values from params and returns the resolved URL together
// with the parameters that were not consumed by substitution. The input
// params map is never mutated. Placeholders without a matching parameter
// are left in place.
func (r *Registry) Resolve(feature string, params Params) (string, Params, error) {
	ep, ok := r.endpoints[feature]
	if !ok {
		return "", nil, &Error{
			Type:      ErrorTypeUnknownFeature,
			Feature:   feature,
			Message:   "no endpoint registered for feature",
			Timestamp: time.Now(),
		}
	}

	remaining := params.clone()
	segments := strings.Split(ep.URLTemplate, "/")
	for i, seg := range segments {
		if len(seg) < 2 || seg[0] != ':' {
			continue
		}
		name := seg[1:]
		v, ok := remaining[name]
		if !ok {
			continue
		}
		segments[i] = url.PathEscape(stringifyParam(v))
		delete(remaining, name)
	}

	return strings.Join(segments, "/"), remaining, nil
}

// Features returns the registered feature names.
func (r *Registry) Features() []string {
	out := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		out = append(out, name)
	}
	return out
}
