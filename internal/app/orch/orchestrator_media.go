package orch

import (
	"context"
	"time"

	"github.com/dkeye/one2many/internal/app"
	"github.com/dkeye/one2many/internal/core"
	"github.com/dkeye/one2many/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// OnIceCandidate applies a remote candidate to the session's endpoint, or
// buffers it until the endpoint exists.
func (o *Orchestrator) OnIceCandidate(sid core.SessionID, c webrtc.ICECandidateInit) {
	o.iceMu.Lock()
	defer o.iceMu.Unlock()

	var sink app.CandidateSink
	if p, ok := o.Registry.Presenter(sid); ok && p.Endpoint != nil {
		sink = p.Endpoint
	} else if v, ok := o.Registry.Viewer(sid); ok && v.Endpoint != nil {
		sink = v.Endpoint
	}
	if sink == nil {
		o.Candidates.Enqueue(sid, c)
		return
	}
	if err := sink.AddCandidate(c); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("add candidate")
	}
}

// forwardCandidate sends locally discovered candidates to the peer.
func (o *Orchestrator) forwardCandidate(sid core.SessionID, conn core.SignalConnection) func(webrtc.ICECandidateInit) {
	return func(c webrtc.ICECandidateInit) {
		if err := Push(conn, IceCandidateMessage{ID: MsgIceCandidate, Candidate: c}); err != nil {
			log.Debug().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("send candidate")
		}
	}
}

func (o *Orchestrator) onPresenterState(ctx context.Context, t app.Ticket, state core.TransportState) {
	log.Debug().Str("module", "orch").Str("sid", string(t.SID)).Str("state", string(state)).Msg("presenter transport state")
	if state != core.TransportConnected {
		return
	}

	// Claim the recording under the registry lock so a reconnect does not
	// start it twice.
	var recorder core.RecorderEndpoint
	started := time.Now()
	p, ok := o.Registry.UpdatePresenter(t, func(p *core.PresenterSession) {
		if p.Recorder != nil && p.Recording == nil {
			recorder = p.Recorder
			p.Recording = &domain.Recording{StartedAt: started}
		}
	})
	if !ok || recorder == nil {
		return
	}

	if err := awaitErr(ctx, o.timeout(), "start recording", recorder.Record); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("sid", string(t.SID)).Msg("recording failed to start")
		// Release the claim so the next connected state retries.
		o.Registry.UpdatePresenter(t, func(p *core.PresenterSession) { p.Recording = nil })
		return
	}
	files := recorder.Files()
	o.Registry.UpdatePresenter(t, func(p *core.PresenterSession) {
		p.Recording = &domain.Recording{Files: files, StartedAt: started}
	})
	log.Info().Str("module", "orch").Str("sid", string(t.SID)).Strs("files", files).Msg("recording started")
	o.record(domain.EventRecordingStarted, map[string]any{
		"presenter_id": string(t.SID),
		"name":         string(p.Name),
		"files":        files,
	})

	if o.Recording.RotateEvery > 0 {
		go o.rotate(ctx, t, recorder, started)
	}
}

// rotate moves the recording into new files every RotateEvery until the
// presenter is torn down.
func (o *Orchestrator) rotate(ctx context.Context, t app.Ticket, recorder core.RecorderEndpoint, started time.Time) {
	ticker := time.NewTicker(o.Recording.RotateEvery)
	defer ticker.Stop()

	for rotations := 1; ; rotations++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := awaitErr(ctx, o.timeout(), "rotate recording", recorder.Rotate); err != nil {
			log.Error().Err(err).Str("module", "orch").Str("sid", string(t.SID)).Msg("recording rotation failed")
			continue
		}
		files := recorder.Files()
		n := rotations
		if _, ok := o.Registry.UpdatePresenter(t, func(p *core.PresenterSession) {
			p.Recording = &domain.Recording{Files: files, StartedAt: started, Rotations: n}
		}); !ok {
			return
		}
		o.record(domain.EventFileRotated, map[string]any{
			"presenter_id": string(t.SID),
			"files":        files,
			"rotation":     n,
		})
	}
}
