package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/one2many/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

// Counter is satisfied by a prometheus counter.
type Counter interface {
	Inc()
}

// AsyncRecorder queues events and hands them to a Sink from a fixed set of
// workers. RecordEvent never blocks: when the queue is full the event is
// dropped and counted.
type AsyncRecorder struct {
	sink    Sink
	workers int
	queue   chan domain.Event
	Dropped Counter

	mu     sync.RWMutex
	closed bool
	now    func() time.Time
}

func NewAsyncRecorder(sink Sink, workers, queueSize int) *AsyncRecorder {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &AsyncRecorder{
		sink:    sink,
		workers: workers,
		queue:   make(chan domain.Event, queueSize),
		now:     time.Now,
	}
}

func (r *AsyncRecorder) RecordEvent(kind domain.EventKind, fields map[string]any) {
	ev := domain.Event{
		ID:     uuid.NewString(),
		Kind:   kind,
		Time:   r.now().UTC(),
		Fields: fields,
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop(ev, "recorder closed")
		return
	}
	select {
	case r.queue <- ev:
	default:
		r.drop(ev, "queue full")
	}
}

func (r *AsyncRecorder) drop(ev domain.Event, reason string) {
	log.Warn().Str("module", "lifecycle").Str("kind", string(ev.Kind)).Str("reason", reason).Msg("lifecycle event dropped")
	if r.Dropped != nil {
		r.Dropped.Inc()
	}
}

// Run delivers queued events until ctx is done, then flushes what is left.
func (r *AsyncRecorder) Run(ctx context.Context) error {
	p := pool.New().WithMaxGoroutines(r.workers)
	for i := 0; i < r.workers; i++ {
		p.Go(func() {
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-r.queue:
					r.deliver(ev)
				}
			}
		})
	}
	p.Wait()

	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	close(r.queue)
	for ev := range r.queue {
		r.deliver(ev)
	}
	log.Info().Str("module", "lifecycle").Msg("lifecycle recorder stopped")
	return nil
}

func (r *AsyncRecorder) deliver(ev domain.Event) {
	if err := r.sink.Publish(ev); err != nil {
		log.Error().Err(err).Str("module", "lifecycle").Str("kind", string(ev.Kind)).Str("event_id", ev.ID).Msg("lifecycle publish failed")
	}
}
