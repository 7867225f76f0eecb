package signal

import (
	"context"
	"errors"

	"github.com/dkeye/one2many/internal/app"
	"github.com/dkeye/one2many/internal/app/orch"
	"github.com/dkeye/one2many/internal/core"
	"github.com/dkeye/one2many/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrTooManyRequests = errors.New("Too many requests. Try again later...")
	ErrMissingOffer    = errors.New("Missing sdpOffer")
)

func (ctl *SignalWSController) handlePresenter(ctx context.Context, sid core.SessionID, c *WsSignalConn, msg inbound) {
	if err := ctl.precheck(sid, msg); err != nil {
		ctl.reject(sid, c, orch.MsgPresenterResponse, err)
		return
	}
	name, err := domain.NewPresenterName(msg.PresenterName)
	if err != nil {
		ctl.reject(sid, c, orch.MsgPresenterResponse, err)
		return
	}

	t, err := ctl.Orch.RegisterPresenter(sid, c, name)
	if err != nil {
		return
	}
	go func() {
		if err := ctl.Orch.NegotiatePresenter(ctx, t, c, msg.SDPOffer); err != nil {
			log.Info().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("presenter setup failed")
		}
	}()
}

func (ctl *SignalWSController) handleViewer(ctx context.Context, sid core.SessionID, c *WsSignalConn, msg inbound) {
	if err := ctl.precheck(sid, msg); err != nil {
		ctl.reject(sid, c, orch.MsgViewerResponse, err)
		return
	}
	name, err := domain.NewPresenterName(msg.PresenterName)
	if err != nil {
		ctl.reject(sid, c, orch.MsgViewerResponse, err)
		return
	}

	key := app.PresenterKey{ID: core.SessionID(msg.PresenterID), Name: name}
	t, p, err := ctl.Orch.RegisterViewer(sid, c, key)
	if err != nil {
		return
	}
	go func() {
		if err := ctl.Orch.NegotiateViewer(ctx, t, p, c, msg.SDPOffer); err != nil {
			log.Info().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("viewer setup failed")
		}
	}()
}

func (ctl *SignalWSController) handleCandidate(sid core.SessionID, c *WsSignalConn, msg inbound) {
	if msg.Candidate == nil {
		ctl.sendError(sid, c, "Invalid message: missing candidate")
		return
	}
	ctl.Orch.OnIceCandidate(sid, *msg.Candidate)
}

func (ctl *SignalWSController) precheck(sid core.SessionID, msg inbound) error {
	if !ctl.Limiter.Allow(sid) {
		return ErrTooManyRequests
	}
	if msg.SDPOffer == "" {
		return ErrMissingOffer
	}
	return nil
}

func (ctl *SignalWSController) reject(sid core.SessionID, c *WsSignalConn, id string, err error) {
	log.Info().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("id", id).Msg("request rejected")
	if ctl.Orch.Observer != nil {
		if errors.Is(err, ErrTooManyRequests) {
			ctl.Orch.Observer.Rejected("rate_limited")
		} else {
			ctl.Orch.Observer.Rejected("bad_request")
		}
	}
	ctl.sendJSON(sid, c, orch.RejectedResponse(id, err))
}
