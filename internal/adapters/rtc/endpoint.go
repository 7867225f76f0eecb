package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/one2many/internal/app/sfu"
	"github.com/dkeye/one2many/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Endpoint is one side of a WebRTC media session. Media it receives is
// fanned out through its relays to whatever it was connected to; media it
// sends comes from its two local tracks.
type Endpoint struct {
	id       string
	pipeline *Pipeline
	pc       *webrtc.PeerConnection
	relays   *sfu.RelayManager
	video    *webrtc.TrackLocalStaticRTP
	audio    *webrtc.TrackLocalStaticRTP

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	onICE         func(webrtc.ICECandidateInit)
	onState       func(core.TransportState)
	gathering     bool
	localPending  []webrtc.ICECandidateInit
	remoteSet     bool
	remotePending []webrtc.ICECandidateInit

	releaseOnce sync.Once
}

func newEndpoint(id string, p *Pipeline) (*Endpoint, error) {
	pc, err := p.engine.api.NewPeerConnection(p.engine.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	ep := &Endpoint{
		id:       id,
		pipeline: p,
		pc:       pc,
		relays:   sfu.NewRelayManager(id),
		ctx:      ctx,
		cancel:   cancel,
	}

	if ep.video, err = webrtc.NewTrackLocalStaticRTP(videoCodec, "video", p.id); err != nil {
		ep.close()
		return nil, fmt.Errorf("new video track: %w", err)
	}
	if ep.audio, err = webrtc.NewTrackLocalStaticRTP(audioCodec, "audio", p.id); err != nil {
		ep.close()
		return nil, fmt.Errorf("new audio track: %w", err)
	}
	for _, track := range []*webrtc.TrackLocalStaticRTP{ep.video, ep.audio} {
		sender, err := pc.AddTrack(track)
		if err != nil {
			ep.close()
			return nil, fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
		go drainRTCP(sender)
	}

	ep.bindHandlers()
	return ep, nil
}

// drainRTCP reads incoming RTCP so the sender's interceptors keep running.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (e *Endpoint) bindHandlers() {
	e.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "rtc").Str("endpoint", e.id).Str("ice_state", s.String()).Msg("ICE state")
	})

	e.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("endpoint", e.id).Str("peer_connection_state", s.String()).Msg("Peer state")
		e.mu.Lock()
		cb := e.onState
		e.mu.Unlock()
		if cb != nil {
			cb(core.TransportState(s.String()))
		}
	})

	e.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		ci := cand.ToJSON()
		e.mu.Lock()
		if !e.gathering || e.onICE == nil {
			e.localPending = append(e.localPending, ci)
			e.mu.Unlock()
			return
		}
		cb := e.onICE
		e.mu.Unlock()
		cb(ci)
	})

	e.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("endpoint", e.id).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		e.relays.StartRelay(e.ctx, track.Kind(), track)
	})
}

func (e *Endpoint) elementID() string { return e.id }

func (e *Endpoint) ProcessOffer(ctx context.Context, sdpOffer string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdpOffer}
	if err := e.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}

	e.mu.Lock()
	e.remoteSet = true
	pending := e.remotePending
	e.remotePending = nil
	e.mu.Unlock()
	for _, c := range pending {
		if err := e.pc.AddICECandidate(c); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("endpoint", e.id).Msg("add early candidate")
		}
	}

	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return e.pc.LocalDescription().SDP, nil
}

// GatherCandidates releases local candidates discovered so far and lets
// later ones flow straight to the OnCandidate callback.
func (e *Endpoint) GatherCandidates(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	if e.onICE == nil {
		e.mu.Unlock()
		return fmt.Errorf("endpoint %s: no candidate callback", e.id)
	}
	e.gathering = true
	pending := e.localPending
	e.localPending = nil
	cb := e.onICE
	e.mu.Unlock()

	for _, c := range pending {
		cb(c)
	}
	return nil
}

// AddCandidate applies a remote candidate, holding it until the remote
// description is known.
func (e *Endpoint) AddCandidate(c webrtc.ICECandidateInit) error {
	e.mu.Lock()
	if !e.remoteSet {
		e.remotePending = append(e.remotePending, c)
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()
	return e.pc.AddICECandidate(c)
}

func (e *Endpoint) ConnectTo(ctx context.Context, sink core.MediaElement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var (
		el           element
		video, audio *sfu.OutTrack
	)
	switch s := sink.(type) {
	case *Endpoint:
		el, video, audio = s, sfu.NewOutTrack(s.video), sfu.NewOutTrack(s.audio)
	case *Recorder:
		el, video, audio = s, s.videoOut, s.audioOut
	default:
		return fmt.Errorf("cannot connect to %T", sink)
	}
	if !e.pipeline.owns(el) {
		return ErrForeignElement
	}
	id := sfu.SinkID(el.elementID())
	e.relays.Subscribe(id, webrtc.RTPCodecTypeVideo, video)
	e.relays.Subscribe(id, webrtc.RTPCodecTypeAudio, audio)

	// A sink released during the subscription may have missed detach.
	if !e.pipeline.owns(el) {
		e.relays.Unsubscribe(id)
		return ErrForeignElement
	}
	log.Info().Str("module", "rtc").Str("endpoint", e.id).Msg("connected sink")
	return nil
}

func (e *Endpoint) OnCandidate(fn func(webrtc.ICECandidateInit)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onICE = fn
}

func (e *Endpoint) OnStateChange(fn func(core.TransportState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onState = fn
}

func (e *Endpoint) Release() {
	e.releaseOnce.Do(func() {
		e.close()
		e.pipeline.detach(e.id)
	})
}

func (e *Endpoint) close() {
	e.cancel()
	e.relays.Close()
	if err := e.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("endpoint", e.id).Msg("close error")
	} else {
		log.Info().Str("module", "rtc").Str("endpoint", e.id).Msg("closed")
	}
}
