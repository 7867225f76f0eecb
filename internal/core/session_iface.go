package core

import (
	"context"

	"github.com/dkeye/one2many/internal/domain"
)

// SessionID identifies one signaling connection for the lifetime of the process.
type SessionID string

// PresenterSession binds presenter meta-data and the media resources it owns.
// A session with a nil Pipeline is a placeholder whose setup is still running.
type PresenterSession struct {
	ID        SessionID
	Name      domain.PresenterName
	Pipeline  Pipeline
	Endpoint  WebRTCEndpoint
	Recorder  RecorderEndpoint
	Recording *domain.Recording
	Ready     bool

	// Cancel stops goroutines scoped to this presenter (recording rotation).
	Cancel context.CancelFunc
}

// ViewerSession references its presenter by id only; it never keeps
// the presenter alive.
type ViewerSession struct {
	ID          SessionID
	PresenterID SessionID
	Endpoint    WebRTCEndpoint
	Conn        SignalConnection

	// Joined is set once the viewer was answered and its join announced.
	Joined bool
}
