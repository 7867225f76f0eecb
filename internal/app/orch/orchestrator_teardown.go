package orch

import (
	"github.com/dkeye/one2many/internal/core"
	"github.com/dkeye/one2many/internal/domain"
	"github.com/rs/zerolog/log"
)

// Stop tears down whatever sid currently is. It is safe to call any number
// of times, including while setup for sid is still running.
func (o *Orchestrator) Stop(sid core.SessionID) {
	defer o.Candidates.Clear(sid)

	if p, viewers, ok := o.Registry.RemovePresenter(sid); ok {
		o.teardownPresenter(p, viewers)
		return
	}
	if v, ok := o.Registry.RemoveViewer(sid); ok {
		o.teardownViewer(v)
	}
}

func (o *Orchestrator) teardownPresenter(p core.PresenterSession, viewers []core.ViewerSession) {
	log.Info().Str("module", "orch").Str("sid", string(p.ID)).Int("viewers", len(viewers)).Msg("presenter teardown")

	for _, v := range viewers {
		if err := Push(v.Conn, StopCommunicationMessage{ID: MsgStopCommunication}); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("sid", string(v.ID)).Msg("notify viewer")
		}
		o.Candidates.Clear(v.ID)
		if v.Joined {
			o.record(domain.EventViewerLeave, map[string]any{
				"viewer_id":    string(v.ID),
				"presenter_id": string(p.ID),
				"reason":       "presenter_stopped",
			})
		}
		o.observer().TornDown("viewer")
	}

	if p.Cancel != nil {
		p.Cancel()
	}

	// Only a presenter that announced webinar_start gets a webinar_stop.
	if p.Ready {
		fields := map[string]any{
			"presenter_id": string(p.ID),
			"name":         string(p.Name),
		}
		if rec := lastRecording(p); rec.Active() {
			fields["files"] = rec.Files
			fields["rotations"] = rec.Rotations
			fields["started_at"] = rec.StartedAt
		}
		o.record(domain.EventWebinarStop, fields)
	}

	if p.Pipeline != nil {
		safely(p.ID, "release pipeline", p.Pipeline.Release)
	}
	o.observer().TornDown("presenter")
}

// lastRecording prefers the recorder's own file list, which includes a
// rotation that has not reached the registry yet.
func lastRecording(p core.PresenterSession) *domain.Recording {
	if p.Recording == nil {
		return nil
	}
	rec := *p.Recording
	if p.Recorder != nil {
		safely(p.ID, "list recording files", func() {
			if files := p.Recorder.Files(); len(files) > len(rec.Files) {
				rec.Files = files
			}
		})
	}
	return &rec
}

func (o *Orchestrator) teardownViewer(v core.ViewerSession) {
	log.Info().Str("module", "orch").Str("sid", string(v.ID)).Str("presenter", string(v.PresenterID)).Msg("viewer teardown")
	if v.Endpoint != nil {
		safely(v.ID, "release endpoint", v.Endpoint.Release)
	}
	if v.Joined {
		o.record(domain.EventViewerLeave, map[string]any{
			"viewer_id":    string(v.ID),
			"presenter_id": string(v.PresenterID),
			"reason":       "stopped",
		})
	}
	o.observer().TornDown("viewer")
}
