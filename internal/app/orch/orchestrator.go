package orch

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/one2many/internal/app"
	"github.com/dkeye/one2many/internal/core"
	"github.com/dkeye/one2many/internal/domain"
	"github.com/rs/zerolog/log"
)

const defaultTimeout = 10 * time.Second

// Observer is told about rejected requests and finished teardowns.
type Observer interface {
	Rejected(reason string)
	TornDown(role string)
}

type nopObserver struct{}

func (nopObserver) Rejected(string) {}
func (nopObserver) TornDown(string) {}

type RecordingOptions struct {
	Enabled     bool
	Dir         string
	RotateEvery time.Duration
}

// Orchestrator drives presenter and viewer sessions through pipeline and
// endpoint setup, routes ICE candidates and tears sessions down.
type Orchestrator struct {
	Registry   *app.Registry
	Candidates *app.CandidateQueue
	Engine     core.Engine
	Lifecycle  core.LifecycleRecorder
	Observer   Observer
	Recording  RecordingOptions

	// Timeout bounds every engine call. Zero means ten seconds.
	Timeout time.Duration

	// iceMu orders endpoint attachment (with its queue drain) against
	// candidate delivery.
	iceMu  sync.Mutex
	nextID atomic.Uint64
}

// NewSessionID hands out identifiers "1", "2", ... that are never reused.
func (o *Orchestrator) NewSessionID() core.SessionID {
	return core.SessionID(strconv.FormatUint(o.nextID.Add(1), 10))
}

func (o *Orchestrator) timeout() time.Duration {
	if o.Timeout <= 0 {
		return defaultTimeout
	}
	return o.Timeout
}

func (o *Orchestrator) observer() Observer {
	if o.Observer == nil {
		return nopObserver{}
	}
	return o.Observer
}

func (o *Orchestrator) record(kind domain.EventKind, fields map[string]any) {
	if o.Lifecycle == nil {
		return
	}
	o.Lifecycle.RecordEvent(kind, fields)
}

// safely runs a teardown step, logging a panic instead of propagating it.
func safely(sid core.SessionID, step string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "orch").Str("sid", string(sid)).Str("step", step).Interface("panic", r).Msg("teardown step failed")
		}
	}()
	fn()
}
