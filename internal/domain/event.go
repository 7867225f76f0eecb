package domain

import "time"

type EventKind string

const (
	EventWebinarStart     EventKind = "webinar_start"
	EventWebinarStop      EventKind = "webinar_stop"
	EventRecordingStarted EventKind = "recording_started"
	EventFileRotated      EventKind = "file_rotated"
	EventViewerJoin       EventKind = "viewer_join"
	EventViewerLeave      EventKind = "viewer_leave"
)

// Event is one lifecycle record handed to external persistence.
type Event struct {
	ID     string         `json:"id"`
	Kind   EventKind      `json:"kind"`
	Time   time.Time      `json:"time"`
	Fields map[string]any `json:"fields,omitempty"`
}
