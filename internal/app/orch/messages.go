package orch

import (
	"fmt"

	"github.com/dkeye/one2many/internal/core"
	"github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"
)

const (
	MsgPresenterResponse = "presenterResponse"
	MsgViewerResponse    = "viewerResponse"
	MsgIceCandidate      = "iceCandidate"
	MsgStopCommunication = "stopCommunication"
	MsgError             = "error"

	Accepted = "accepted"
	Rejected = "rejected"
)

// Response answers a presenter or viewer request.
type Response struct {
	ID          string `json:"id"`
	Response    string `json:"response"`
	PresenterID string `json:"presenterId,omitempty"`
	SDPAnswer   string `json:"sdpAnswer,omitempty"`
	Message     string `json:"message,omitempty"`
}

type IceCandidateMessage struct {
	ID        string                  `json:"id"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type StopCommunicationMessage struct {
	ID string `json:"id"`
}

type ErrorMessage struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

func RejectedResponse(id string, err error) Response {
	return Response{ID: id, Response: Rejected, Message: err.Error()}
}

// Push encodes v and queues it on conn without blocking.
func Push(conn core.SignalConnection, v any) error {
	if conn == nil {
		return fmt.Errorf("no connection")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %T: %w", v, err)
	}
	return conn.TrySend(b)
}
