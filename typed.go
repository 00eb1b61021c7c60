package datasvc

import (
	"context"
	"encoding/json"
	"time"
)

// FetchAs performs a Fetch and decodes the payload into T. Payloads pass
// through a JSON round trip, so T follows normal encoding/json rules.
func FetchAs[T any](ctx context.Context, s *DataService, feature string, params Params, opts ...CallOption) (T, error) {
	var zero T
	v, err := s.Fetch(ctx, feature, params, opts...)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return zero, &Error{
			Type:      ErrorTypeValidation,
			Feature:   feature,
			Message:   "payload is not serializable",
			Timestamp: time.Now(),
			Cause:     err,
		}
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, &Error{
			Type:      ErrorTypeValidation,
			Feature:   feature,
			Message:   "payload does not match requested type",
			Timestamp: time.Now(),
			Cause:     err,
		}
	}
	return out, nil
}
