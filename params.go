package datasvc

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Params is the loosely-typed parameter bag accompanying every call.
// Supported value kinds are strings, booleans, numbers, nested
// map[string]any and slices of those; anything else (funcs, channels,
// cyclic structures) is a programming error and panics during cache-key
// canonicalization.
type Params map[string]any

func (p Params) clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// canonicalParams renders the parameter bag as deterministic JSON.
// encoding/json sorts map keys, so two bags equal as sets of key/value
// pairs always produce identical output regardless of insertion order.
func canonicalParams(p Params) string {
	if len(p) == 0 {
		return ""
	}
	b, err := json.Marshal(map[string]any(p))
	if err != nil {
		panic(fmt.Sprintf("datasvc: params are not canonicalizable: %v", err))
	}
	return string(b)
}

// cacheKey derives the cache key for a resolved call: the substituted URL
// followed by the canonical JSON of the remaining parameters. Keys for the
// same endpoint therefore share the resolved URL as a common prefix, which
// is what write invalidation relies on.
func cacheKey(resolvedURL string, remaining Params) string {
	return resolvedURL + canonicalParams(remaining)
}

// stringifyParam renders a single parameter value for URL interpolation and
// query strings. Compound values fall back to compact JSON.
func stringifyParam(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			panic(fmt.Sprintf("datasvc: param value %T is not serializable: %v", v, err))
		}
		return string(b)
	}
}
