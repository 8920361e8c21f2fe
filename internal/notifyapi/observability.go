package notifyapi

import (
	"github.com/rs/zerolog"
)

// CallEvent records metadata about a single API call.
type CallEvent struct {
	Endpoint   string
	StatusCode int
	LatencyMs  int64
	Attempts   int
	Success    bool
	ErrorCode  string
}

// Observer receives events about API calls for logging.
type Observer interface {
	OnCallComplete(event CallEvent)
}

// LogObserver writes call events to a zerolog logger. Successful calls are
// logged at debug level, failures at warn.
type LogObserver struct {
	log zerolog.Logger
}

// NewLogObserver creates an Observer that logs events to log.
func NewLogObserver(log zerolog.Logger) *LogObserver {
	return &LogObserver{log: log.With().Str("component", "notifyapi").Logger()}
}

func (o *LogObserver) OnCallComplete(event CallEvent) {
	ev := o.log.Debug()
	if !event.Success {
		ev = o.log.Warn().Str("error_code", event.ErrorCode)
	}
	ev.Str("endpoint", event.Endpoint).
		Int("status_code", event.StatusCode).
		Int64("latency_ms", event.LatencyMs).
		Int("attempts", event.Attempts).
		Msg("api call")
}

// NoopObserver discards all events. Useful for tests.
type NoopObserver struct{}

func (NoopObserver) OnCallComplete(CallEvent) {}
