// Package lifecycle delivers broadcast lifecycle events to external
// persistence without blocking the signaling path.
package lifecycle

import (
	"github.com/dkeye/one2many/internal/domain"
	"github.com/rs/zerolog/log"
)

// Sink persists one event. Implementations may block; AsyncRecorder calls
// them from its workers only.
type Sink interface {
	Publish(ev domain.Event) error
}

// LogSink writes events to the process log.
type LogSink struct{}

func (LogSink) Publish(ev domain.Event) error {
	log.Info().
		Str("module", "lifecycle").
		Str("event_id", ev.ID).
		Str("kind", string(ev.Kind)).
		Fields(ev.Fields).
		Msg("lifecycle event")
	return nil
}
