package core

import "github.com/dkeye/one2many/internal/domain"

// LifecycleRecorder receives broadcast lifecycle events for external
// persistence. Calls are fire-and-forget; implementations log failures.
type LifecycleRecorder interface {
	RecordEvent(kind domain.EventKind, fields map[string]any)
}

// NopRecorder drops every event.
type NopRecorder struct{}

func (NopRecorder) RecordEvent(domain.EventKind, map[string]any) {}
