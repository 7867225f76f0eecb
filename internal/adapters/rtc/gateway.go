package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/one2many/internal/core"
	"github.com/rs/zerolog/log"
)

// Dialer brings up a media engine.
type Dialer func(ctx context.Context) (core.Engine, error)

// Gateway is the process-wide handle to the media engine. The engine is
// dialed on first use and cached; a failed dial is reported to that
// request only and retried on the next one.
type Gateway struct {
	dial Dialer

	mu     sync.Mutex
	engine core.Engine
}

func NewGateway(dial Dialer) *Gateway {
	return &Gateway{dial: dial}
}

func (g *Gateway) get(ctx context.Context) (core.Engine, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.engine != nil {
		return g.engine, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	engine, err := g.dial(ctx)
	if err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("could not reach media engine")
		return nil, fmt.Errorf("could not reach media engine: %w", err)
	}
	g.engine = engine
	log.Info().Str("module", "rtc").Msg("media engine ready")
	return engine, nil
}

func (g *Gateway) CreatePipeline(ctx context.Context) (core.Pipeline, error) {
	engine, err := g.get(ctx)
	if err != nil {
		return nil, err
	}
	return engine.CreatePipeline(ctx)
}
