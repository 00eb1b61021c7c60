package datasvc

import "time"

// The WebSocket protocol predates this layer and was never carried over.
// The driver is retained so endpoints still configured with it fail with a
// clear, typed error instead of silently misbehaving.
func websocketUnsupported(feature, rawurl string) error {
	return &Error{
		Type:      ErrorTypeUnsupportedProtocol,
		Feature:   feature,
		Message:   "WEBSOCKET endpoints are no longer supported",
		URL:       rawurl,
		Timestamp: time.Now(),
	}
}
