package orch

import (
	"context"

	"github.com/dkeye/one2many/internal/app"
	"github.com/dkeye/one2many/internal/core"
	"github.com/dkeye/one2many/internal/domain"
	"github.com/rs/zerolog/log"
)

// StartViewer runs RegisterViewer and NegotiateViewer back to back.
func (o *Orchestrator) StartViewer(ctx context.Context, sid core.SessionID, conn core.SignalConnection, sdpOffer string, key app.PresenterKey) error {
	t, p, err := o.RegisterViewer(sid, conn, key)
	if err != nil {
		return err
	}
	return o.NegotiateViewer(ctx, t, p, conn, sdpOffer)
}

// RegisterViewer resolves the presenter and records the viewer against it.
// A rejection is answered on conn.
func (o *Orchestrator) RegisterViewer(sid core.SessionID, conn core.SignalConnection, key app.PresenterKey) (app.Ticket, core.PresenterSession, error) {
	if _, ok := o.Registry.Viewer(sid); ok {
		log.Info().Str("module", "orch").Str("sid", string(sid)).Msg("viewer switches presenter")
		o.Stop(sid)
	}

	t, p, err := o.Registry.RegisterViewer(sid, key, conn)
	if err != nil {
		o.rejectViewer(sid, conn, err)
		return app.Ticket{}, core.PresenterSession{}, err
	}
	o.Candidates.Clear(sid)
	return t, p, nil
}

// NegotiateViewer creates the viewer's endpoint in the presenter's pipeline,
// answers the offer and connects the presenter to it. A failure tears down
// this viewer only. viewer_join is recorded only while the viewer is still
// registered, so it never follows its viewer_leave.
func (o *Orchestrator) NegotiateViewer(ctx context.Context, t app.Ticket, p core.PresenterSession, conn core.SignalConnection, sdpOffer string) error {
	endpoint, answer, err := o.setupViewer(ctx, t, p, conn, sdpOffer)
	if err != nil {
		if o.Registry.Alive(t) {
			o.Stop(t.SID)
		}
		o.rejectViewer(t.SID, conn, err)
		return err
	}

	if err := Push(conn, Response{ID: MsgViewerResponse, Response: Accepted, PresenterID: string(p.ID), SDPAnswer: answer}); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(t.SID)).Msg("send viewer answer")
	}
	if err := awaitErr(ctx, o.timeout(), "gather candidates", endpoint.GatherCandidates); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("sid", string(t.SID)).Msg("viewer candidate gathering failed")
		if o.Registry.Alive(t) {
			o.Stop(t.SID)
		}
		return err
	}

	if _, ok := o.Registry.UpdateViewer(t, func(v *core.ViewerSession) { v.Joined = true }); !ok {
		log.Info().Str("module", "orch").Str("sid", string(t.SID)).Msg("viewer stopped while gathering")
		return app.ErrNoActivePresenter
	}
	o.record(domain.EventViewerJoin, map[string]any{
		"viewer_id":    string(t.SID),
		"presenter_id": string(p.ID),
	})
	return nil
}

func (o *Orchestrator) setupViewer(ctx context.Context, t app.Ticket, p core.PresenterSession, conn core.SignalConnection, sdpOffer string) (core.WebRTCEndpoint, string, error) {
	sid := t.SID
	timeout := o.timeout()

	endpoint, err := await(ctx, timeout, "create endpoint", p.Pipeline.CreateWebRTCEndpoint, core.WebRTCEndpoint.Release)
	if err != nil {
		return nil, "", err
	}
	endpoint.OnCandidate(o.forwardCandidate(sid, conn))
	endpoint.OnStateChange(func(state core.TransportState) {
		log.Debug().Str("module", "orch").Str("sid", string(sid)).Str("state", string(state)).Msg("viewer transport state")
	})

	if !o.attachViewer(t, endpoint) {
		return nil, "", app.ErrNoActivePresenter
	}

	answer, err := await(ctx, timeout, "process offer", func(ctx context.Context) (string, error) {
		return endpoint.ProcessOffer(ctx, sdpOffer)
	}, nil)
	if err != nil {
		return nil, "", err
	}

	// The presenter may have stopped while the offer was processed.
	cur, ok := o.Registry.Presenter(p.ID)
	if !ok || !cur.Ready || cur.Endpoint == nil || !o.Registry.Alive(t) {
		return nil, "", app.ErrNoActivePresenter
	}
	if err := awaitErr(ctx, timeout, "connect presenter", func(ctx context.Context) error {
		return cur.Endpoint.ConnectTo(ctx, endpoint)
	}); err != nil {
		return nil, "", err
	}
	if !o.Registry.Alive(t) {
		return nil, "", app.ErrNoActivePresenter
	}

	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("presenter", string(p.ID)).Msg("viewer connected")
	return endpoint, answer, nil
}

func (o *Orchestrator) attachViewer(t app.Ticket, endpoint core.WebRTCEndpoint) bool {
	o.iceMu.Lock()
	defer o.iceMu.Unlock()
	if _, ok := o.Registry.UpdateViewer(t, func(v *core.ViewerSession) { v.Endpoint = endpoint }); !ok {
		endpoint.Release()
		return false
	}
	if n := o.Candidates.DrainInto(t.SID, endpoint); n > 0 {
		log.Debug().Str("module", "orch").Str("sid", string(t.SID)).Int("candidates", n).Msg("flushed buffered candidates")
	}
	return true
}

func (o *Orchestrator) rejectViewer(sid core.SessionID, conn core.SignalConnection, err error) {
	log.Info().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("viewer rejected")
	o.observer().Rejected(rejectReason(err))
	if err := Push(conn, RejectedResponse(MsgViewerResponse, err)); err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("send viewer rejection")
	}
}
