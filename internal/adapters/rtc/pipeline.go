package rtc

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/one2many/internal/app/sfu"
	"github.com/dkeye/one2many/internal/core"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrPipelineReleased = errors.New("pipeline released")
	ErrForeignElement   = errors.New("element belongs to another pipeline")
)

// element is what a Pipeline tracks for cascading release.
type element interface {
	core.MediaElement
	elementID() string
}

type Pipeline struct {
	id     string
	engine *Engine

	mu       sync.Mutex
	elements map[string]element
	released bool
}

func newPipeline(id string, engine *Engine) *Pipeline {
	log.Info().Str("module", "rtc").Str("pipeline", id).Msg("pipeline created")
	return &Pipeline{
		id:       id,
		engine:   engine,
		elements: make(map[string]element),
	}
}

func (p *Pipeline) add(el element) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return ErrPipelineReleased
	}
	p.elements[el.elementID()] = el
	return nil
}

// detach forgets id and stops every source from forwarding to it.
func (p *Pipeline) detach(id string) {
	p.mu.Lock()
	delete(p.elements, id)
	sources := make([]*Endpoint, 0, len(p.elements))
	for _, el := range p.elements {
		if ep, ok := el.(*Endpoint); ok {
			sources = append(sources, ep)
		}
	}
	p.mu.Unlock()

	for _, ep := range sources {
		ep.relays.Unsubscribe(sfu.SinkID(id))
	}
}

func (p *Pipeline) owns(el element) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.elements[el.elementID()]
	return ok
}

func (p *Pipeline) CreateWebRTCEndpoint(ctx context.Context) (core.WebRTCEndpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ep, err := newEndpoint(uuid.NewString(), p)
	if err != nil {
		return nil, err
	}
	if err := p.add(ep); err != nil {
		ep.close()
		return nil, err
	}
	return ep, nil
}

func (p *Pipeline) CreateRecorderEndpoint(ctx context.Context, basePath string) (core.RecorderEndpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec := newRecorder(uuid.NewString(), basePath, p)
	if err := p.add(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Release releases every element created from this pipeline.
func (p *Pipeline) Release() {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return
	}
	p.released = true
	elements := make([]element, 0, len(p.elements))
	for _, el := range p.elements {
		elements = append(elements, el)
	}
	p.mu.Unlock()

	for _, el := range elements {
		el.Release()
	}
	log.Info().Str("module", "rtc").Str("pipeline", p.id).Int("elements", len(elements)).Msg("pipeline released")
}
