package orch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dkeye/one2many/internal/app"
	"github.com/dkeye/one2many/internal/core"
	"github.com/dkeye/one2many/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// StartPresenter runs RegisterPresenter and NegotiatePresenter back to back.
func (o *Orchestrator) StartPresenter(ctx context.Context, sid core.SessionID, conn core.SignalConnection, sdpOffer string, name domain.PresenterName) error {
	t, err := o.RegisterPresenter(sid, conn, name)
	if err != nil {
		return err
	}
	return o.NegotiatePresenter(ctx, t, conn, sdpOffer)
}

// RegisterPresenter admits sid as a presenter placeholder. It never waits
// on the engine, so the transport calls it before reading the next message.
// A rejection is answered on conn.
func (o *Orchestrator) RegisterPresenter(sid core.SessionID, conn core.SignalConnection, name domain.PresenterName) (app.Ticket, error) {
	if _, ok := o.Registry.Viewer(sid); ok {
		log.Info().Str("module", "orch").Str("sid", string(sid)).Msg("viewer becomes presenter")
		o.Stop(sid)
	}

	t, err := o.Registry.RegisterPresenter(sid, name)
	if err != nil {
		if errors.Is(err, app.ErrPresenterActive) {
			o.Stop(sid)
		}
		o.rejectPresenter(sid, conn, err)
		return app.Ticket{}, err
	}
	o.Candidates.Clear(sid)
	return t, nil
}

// NegotiatePresenter creates the presenter's pipeline and endpoint, answers
// the offer and marks the presenter ready. On failure the presenter is torn
// down, unless a newer registration already replaced it.
func (o *Orchestrator) NegotiatePresenter(ctx context.Context, t app.Ticket, conn core.SignalConnection, sdpOffer string) error {
	answer, err := o.setupPresenter(ctx, t, conn, sdpOffer)
	if err != nil {
		if o.Registry.Alive(t) {
			o.Stop(t.SID)
		}
		o.rejectPresenter(t.SID, conn, err)
		return err
	}

	if err := Push(conn, Response{ID: MsgPresenterResponse, Response: Accepted, PresenterID: string(t.SID), SDPAnswer: answer}); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(t.SID)).Msg("send presenter answer")
	}

	p, ok := o.Registry.Presenter(t.SID)
	if !ok || !o.Registry.Alive(t) {
		return nil
	}
	if err := awaitErr(ctx, o.timeout(), "gather candidates", p.Endpoint.GatherCandidates); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("sid", string(t.SID)).Msg("presenter candidate gathering failed")
		if o.Registry.Alive(t) {
			o.Stop(t.SID)
		}
		return err
	}
	return nil
}

func (o *Orchestrator) setupPresenter(ctx context.Context, t app.Ticket, conn core.SignalConnection, sdpOffer string) (string, error) {
	sid := t.SID
	timeout := o.timeout()

	pipeline, err := await(ctx, timeout, "create pipeline", o.Engine.CreatePipeline, core.Pipeline.Release)
	if err != nil {
		return "", err
	}
	pctx, cancel := context.WithCancel(context.Background())
	if _, ok := o.Registry.UpdatePresenter(t, func(p *core.PresenterSession) {
		p.Pipeline = pipeline
		p.Cancel = cancel
	}); !ok {
		cancel()
		pipeline.Release()
		return "", app.ErrNoActivePresenter
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Msg("presenter pipeline created")

	// From here on the pipeline is registered, so teardown releases
	// whatever is created from it.
	endpoint, err := await(ctx, timeout, "create endpoint", pipeline.CreateWebRTCEndpoint, core.WebRTCEndpoint.Release)
	if err != nil {
		return "", err
	}

	var recorder core.RecorderEndpoint
	if o.Recording.Enabled {
		p, _ := o.Registry.Presenter(sid)
		recorder, err = await(ctx, timeout, "create recorder", func(ctx context.Context) (core.RecorderEndpoint, error) {
			return pipeline.CreateRecorderEndpoint(ctx, o.recordingBase(p.Name))
		}, core.RecorderEndpoint.Release)
		if err != nil {
			endpoint.Release()
			return "", err
		}
	}

	endpoint.OnCandidate(o.forwardCandidate(sid, conn))
	endpoint.OnStateChange(func(state core.TransportState) {
		o.onPresenterState(pctx, t, state)
	})

	if !o.attachPresenter(t, endpoint, recorder) {
		return "", app.ErrNoActivePresenter
	}

	answer, err := await(ctx, timeout, "process offer", func(ctx context.Context) (string, error) {
		return endpoint.ProcessOffer(ctx, sdpOffer)
	}, nil)
	if err != nil {
		return "", err
	}
	if !o.Registry.Alive(t) {
		return "", app.ErrNoActivePresenter
	}

	if recorder != nil {
		if err := awaitErr(ctx, timeout, "connect recorder", func(ctx context.Context) error {
			return endpoint.ConnectTo(ctx, recorder)
		}); err != nil {
			return "", err
		}
	}

	p, ok := o.Registry.UpdatePresenter(t, func(p *core.PresenterSession) { p.Ready = true })
	if !ok {
		return "", app.ErrNoActivePresenter
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("name", string(p.Name)).Msg("presenter ready")
	o.record(domain.EventWebinarStart, map[string]any{
		"presenter_id": string(sid),
		"name":         string(p.Name),
		"recording":    recorder != nil,
	})
	return answer, nil
}

// attachPresenter stores the endpoints and flushes candidates buffered for
// the session into the new endpoint.
func (o *Orchestrator) attachPresenter(t app.Ticket, endpoint core.WebRTCEndpoint, recorder core.RecorderEndpoint) bool {
	o.iceMu.Lock()
	defer o.iceMu.Unlock()
	if _, ok := o.Registry.UpdatePresenter(t, func(p *core.PresenterSession) {
		p.Endpoint = endpoint
		p.Recorder = recorder
	}); !ok {
		endpoint.Release()
		if recorder != nil {
			recorder.Release()
		}
		return false
	}
	if n := o.Candidates.DrainInto(t.SID, endpoint); n > 0 {
		log.Debug().Str("module", "orch").Str("sid", string(t.SID)).Int("candidates", n).Msg("flushed buffered candidates")
	}
	return true
}

func (o *Orchestrator) recordingBase(name domain.PresenterName) string {
	label := "presenter"
	if name != "" {
		label = filepath.Base(string(name))
	}
	return filepath.Join(o.Recording.Dir, fmt.Sprintf("%s-%s", label, uuid.NewString()))
}

func (o *Orchestrator) rejectPresenter(sid core.SessionID, conn core.SignalConnection, err error) {
	log.Info().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("presenter rejected")
	o.observer().Rejected(rejectReason(err))
	if err := Push(conn, RejectedResponse(MsgPresenterResponse, err)); err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("send presenter rejection")
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, app.ErrPresenterActive):
		return "presenter_active"
	case errors.Is(err, app.ErrNoActivePresenter):
		return "no_active_presenter"
	case errors.Is(err, app.ErrSessionIsPresenter), errors.Is(err, app.ErrViewerActive):
		return "session_busy"
	case errors.Is(err, context.DeadlineExceeded):
		return "engine_timeout"
	default:
		return "engine_error"
	}
}
