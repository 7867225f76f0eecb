package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/one2many/internal/core"
	"github.com/dkeye/one2many/internal/domain"
	"github.com/goccy/go-json"
	"github.com/pion/webrtc/v4"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	c.frames = append(c.frames, append(core.Frame(nil), f...))
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) messages(id string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, f := range c.frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err != nil {
			panic(err)
		}
		if m["id"] == id {
			out = append(out, m)
		}
	}
	return out
}

type fakeEndpoint struct {
	id string

	answer     string
	offerErr   error
	offerBlock chan struct{}
	connectErr error

	// connectBlock holds ConnectTo until closed; connecting reports entry.
	connectBlock chan struct{}
	connecting   atomic.Bool

	mu         sync.Mutex
	candidates []webrtc.ICECandidateInit
	sinks      []core.MediaElement
	gathered   bool
	onCand     func(webrtc.ICECandidateInit)
	onState    func(core.TransportState)

	released atomic.Int32
}

func (e *fakeEndpoint) ProcessOffer(ctx context.Context, sdp string) (string, error) {
	if e.offerBlock != nil {
		<-e.offerBlock
	}
	if e.offerErr != nil {
		return "", e.offerErr
	}
	return e.answer, nil
}

func (e *fakeEndpoint) GatherCandidates(context.Context) error {
	e.mu.Lock()
	e.gathered = true
	cb := e.onCand
	e.mu.Unlock()
	if cb != nil {
		cb(webrtc.ICECandidateInit{Candidate: "candidate:local-" + e.id})
	}
	return nil
}

func (e *fakeEndpoint) AddCandidate(c webrtc.ICECandidateInit) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candidates = append(e.candidates, c)
	return nil
}

func (e *fakeEndpoint) ConnectTo(_ context.Context, sink core.MediaElement) error {
	e.connecting.Store(true)
	if e.connectBlock != nil {
		<-e.connectBlock
	}
	if e.connectErr != nil {
		return e.connectErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, sink)
	return nil
}

func (e *fakeEndpoint) OnCandidate(fn func(webrtc.ICECandidateInit)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCand = fn
}

func (e *fakeEndpoint) OnStateChange(fn func(core.TransportState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onState = fn
}

func (e *fakeEndpoint) setState(s core.TransportState) {
	e.mu.Lock()
	cb := e.onState
	e.mu.Unlock()
	cb(s)
}

func (e *fakeEndpoint) Release() { e.released.Add(1) }

func (e *fakeEndpoint) receivedCandidates() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.candidates))
	for _, c := range e.candidates {
		out = append(out, c.Candidate)
	}
	return out
}

func (e *fakeEndpoint) connectedSinks() []core.MediaElement {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]core.MediaElement(nil), e.sinks...)
}

type fakeRecorder struct {
	base string

	mu        sync.Mutex
	recording bool
	part      int
	files     []string

	// failRecord makes that many Record calls fail.
	failRecord atomic.Int32
	released   atomic.Int32
}

func (r *fakeRecorder) Record(context.Context) error {
	if r.failRecord.Add(-1) >= 0 {
		return errors.New("disk full")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = true
	r.files = append(r.files, fmt.Sprintf("%s-%03d.ivf", r.base, r.part))
	return nil
}

func (r *fakeRecorder) Rotate(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.part++
	r.files = append(r.files, fmt.Sprintf("%s-%03d.ivf", r.base, r.part))
	return nil
}

func (r *fakeRecorder) Files() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.files...)
}

func (r *fakeRecorder) Release() { r.released.Add(1) }

type fakePipeline struct {
	// configure runs on every endpoint before it is handed out.
	configure   func(*fakeEndpoint)
	endpointErr error

	mu        sync.Mutex
	endpoints []*fakeEndpoint
	recorders []*fakeRecorder

	released atomic.Int32
}

func (p *fakePipeline) CreateWebRTCEndpoint(context.Context) (core.WebRTCEndpoint, error) {
	if p.endpointErr != nil {
		return nil, p.endpointErr
	}
	p.mu.Lock()
	ep := &fakeEndpoint{id: fmt.Sprintf("ep%d", len(p.endpoints)+1), answer: "v=0 answer"}
	p.endpoints = append(p.endpoints, ep)
	configure := p.configure
	p.mu.Unlock()
	if configure != nil {
		configure(ep)
	}
	return ep, nil
}

func (p *fakePipeline) CreateRecorderEndpoint(_ context.Context, base string) (core.RecorderEndpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec := &fakeRecorder{base: base}
	p.recorders = append(p.recorders, rec)
	return rec, nil
}

// Release cascades like a real pipeline.
func (p *fakePipeline) Release() {
	p.released.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ep := range p.endpoints {
		ep.Release()
	}
	for _, rec := range p.recorders {
		rec.Release()
	}
}

func (p *fakePipeline) endpoint(i int) *fakeEndpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i >= len(p.endpoints) {
		return nil
	}
	return p.endpoints[i]
}

func (p *fakePipeline) endpointCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints)
}

type fakeEngine struct {
	err   error
	block chan struct{}
	// configure is copied into every new pipeline.
	configure func(*fakeEndpoint)

	mu        sync.Mutex
	pipelines []*fakePipeline
}

func (e *fakeEngine) CreatePipeline(context.Context) (core.Pipeline, error) {
	if e.block != nil {
		<-e.block
	}
	if e.err != nil {
		return nil, e.err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p := &fakePipeline{configure: e.configure}
	e.pipelines = append(e.pipelines, p)
	return p, nil
}

func (e *fakeEngine) pipeline(i int) *fakePipeline {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i >= len(e.pipelines) {
		return nil
	}
	return e.pipelines[i]
}

type recordedEvent struct {
	kind   domain.EventKind
	fields map[string]any
}

type fakeLifecycle struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (l *fakeLifecycle) RecordEvent(kind domain.EventKind, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, recordedEvent{kind, fields})
}

func (l *fakeLifecycle) ofKind(kind domain.EventKind) []recordedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []recordedEvent
	for _, ev := range l.events {
		if ev.kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

type countingObserver struct {
	mu        sync.Mutex
	rejected  map[string]int
	teardowns map[string]int
}

func (o *countingObserver) Rejected(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.rejected == nil {
		o.rejected = make(map[string]int)
	}
	o.rejected[reason]++
}

func (o *countingObserver) TornDown(role string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.teardowns == nil {
		o.teardowns = make(map[string]int)
	}
	o.teardowns[role]++
}

func jsonUnmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }
