package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// TransportState mirrors the media connection state reported by an endpoint.
type TransportState string

const (
	TransportNew          TransportState = "new"
	TransportConnecting   TransportState = "connecting"
	TransportConnected    TransportState = "connected"
	TransportDisconnected TransportState = "disconnected"
	TransportFailed       TransportState = "failed"
	TransportClosed       TransportState = "closed"
)

// Engine creates media pipelines. Implementations may dial a remote
// media server or host the media plane in process.
type Engine interface {
	CreatePipeline(ctx context.Context) (Pipeline, error)
}

// MediaElement is anything a pipeline owns and can release.
type MediaElement interface {
	Release()
}

// Pipeline hosts and interconnects the endpoints of one broadcast.
// Release cascades to every endpoint created from it.
type Pipeline interface {
	MediaElement
	CreateWebRTCEndpoint(ctx context.Context) (WebRTCEndpoint, error)
	CreateRecorderEndpoint(ctx context.Context, basePath string) (RecorderEndpoint, error)
}

type WebRTCEndpoint interface {
	MediaElement
	// ProcessOffer applies a remote offer and returns the local answer SDP.
	ProcessOffer(ctx context.Context, sdpOffer string) (string, error)
	// GatherCandidates starts delivering local candidates to the OnCandidate callback.
	GatherCandidates(ctx context.Context) error
	AddCandidate(webrtc.ICECandidateInit) error
	// ConnectTo forwards this endpoint's incoming media to sink (one way).
	ConnectTo(ctx context.Context, sink MediaElement) error
	OnCandidate(func(webrtc.ICECandidateInit))
	OnStateChange(func(TransportState))
}

type RecorderEndpoint interface {
	MediaElement
	// Record starts writing media received from connected sources.
	Record(ctx context.Context) error
	// Rotate closes the current files and continues into new ones.
	Rotate(ctx context.Context) error
	// Files lists every file written so far, oldest first.
	Files() []string
}
