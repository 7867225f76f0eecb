package signal

import (
	"github.com/dkeye/one2many/internal/app/orch"
	"github.com/dkeye/one2many/internal/core"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleStop(sid core.SessionID) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("stop")
	ctl.Orch.Stop(sid)
}

func (ctl *SignalWSController) sendError(sid core.SessionID, c *WsSignalConn, message string) {
	ctl.sendJSON(sid, c, orch.ErrorMessage{ID: orch.MsgError, Message: message})
}
