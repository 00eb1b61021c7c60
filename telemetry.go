package datasvc

import (
	"time"

	"github.com/rs/zerolog"
)

// Event is the structured record emitted for every facade operation.
type Event struct {
	Operation    string
	Feature      string
	URL          string
	Method       string
	Status       int
	Duration     time.Duration
	RequestSize  int
	ResponseSize int

	// ErrorType and ErrorDetails are set on failures only.
	ErrorType    string
	ErrorDetails string

	// Session carries the metadata attached via SetContext; populated on
	// error events only.
	Session SessionContext
}

// TelemetrySink receives operation events. Emission is fire-and-forget:
// implementations must not block and must tolerate concurrent calls. The
// layer never assumes a transport for these events.
type TelemetrySink interface {
	Record(ev Event)
}

// NopSink discards all events. It is the default sink.
type NopSink struct{}

// Record implements TelemetrySink.
func (NopSink) Record(Event) {}

// LoggerSink writes events through a zerolog logger: errors at error
// level, everything else at debug level.
type LoggerSink struct {
	logger zerolog.Logger
}

// NewLoggerSink creates a sink emitting structured log lines.
func NewLoggerSink(logger zerolog.Logger) *LoggerSink {
	return &LoggerSink{logger: logger}
}

// Record implements TelemetrySink.
func (s *LoggerSink) Record(ev Event) {
	var e *zerolog.Event
	if ev.ErrorType != "" {
		e = s.logger.Error().Str("error_type", ev.ErrorType).Str("error", ev.ErrorDetails)
		for k, v := range ev.Session {
			e = e.Str("session_"+k, v)
		}
	} else {
		e = s.logger.Debug()
	}
	e.Str("operation", ev.Operation).
		Str("feature", ev.Feature).
		Str("url", ev.URL).
		Str("method", ev.Method).
		Int("status", ev.Status).
		Dur("duration", ev.Duration)
	if ev.RequestSize > 0 {
		e = e.Int("request_size", ev.RequestSize)
	}
	if ev.ResponseSize > 0 {
		e = e.Int("response_size", ev.ResponseSize)
	}
	e.Msg("datasvc operation")
}
