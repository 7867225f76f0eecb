package signal

import (
	"context"
	"time"

	"github.com/dkeye/one2many/internal/app/orch"
	"github.com/dkeye/one2many/internal/core"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// inbound is the union of every client message; id selects the variant.
type inbound struct {
	ID            string                   `json:"id"`
	SDPOffer      string                   `json:"sdpOffer,omitempty"`
	PresenterName string                   `json:"presenterName,omitempty"`
	PresenterID   string                   `json:"presenterId,omitempty"`
	Candidate     *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping failed")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		cancel()
		ctl.Orch.Stop(sid)
		if ctl.Limiter != nil {
			ctl.Limiter.Forget(sid)
		}
		c.Close()
		if ctl.Conns != nil {
			ctl.Conns.Dec()
		}
	}()

	if ctl.opts.ReadLimit > 0 {
		c.conn.SetReadLimit(ctl.opts.ReadLimit)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				}
				return
			}
			ctl.handleSignal(ctx, sid, c, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad json")
		ctl.sendError(sid, c, "Invalid message")
		return
	}
	log.Debug().Str("module", "signal").Str("sid", string(sid)).Str("id", msg.ID).Msg("message received")

	switch msg.ID {
	case "presenter":
		ctl.handlePresenter(ctx, sid, c, msg)
	case "viewer":
		ctl.handleViewer(ctx, sid, c, msg)
	case "stop":
		ctl.handleStop(sid)
	case "onIceCandidate":
		ctl.handleCandidate(sid, c, msg)
	default:
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("id", msg.ID).Msg("unknown signal")
		ctl.sendError(sid, c, "Invalid message "+string(data))
	}
}

func (ctl *SignalWSController) sendJSON(sid core.SessionID, c *WsSignalConn, v any) {
	if err := orch.Push(c, v); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("sendJSON")
	}
}
