package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/one2many/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	mu     sync.Mutex
	events []domain.Event
	block  chan struct{}
	err    error
}

func (s *memSink) Publish(ev domain.Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *memSink) kinds() []domain.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventKind, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Kind)
	}
	return out
}

type atomicCounter struct{ n atomic.Int32 }

func (c *atomicCounter) Inc() { c.n.Add(1) }

func TestAsyncRecorderDelivers(t *testing.T) {
	sink := &memSink{}
	r := NewAsyncRecorder(sink, 2, 8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	r.RecordEvent(domain.EventWebinarStart, map[string]any{"presenter_id": "1"})
	require.Eventually(t, func() bool { return len(sink.kinds()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	sink.mu.Lock()
	ev := sink.events[0]
	sink.mu.Unlock()
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "1", ev.Fields["presenter_id"])
	assert.False(t, ev.Time.IsZero())
}

func TestAsyncRecorderDropsWhenFull(t *testing.T) {
	sink := &memSink{}
	r := NewAsyncRecorder(sink, 1, 2)
	dropped := &atomicCounter{}
	r.Dropped = dropped

	// Nothing drains the queue yet.
	r.RecordEvent(domain.EventViewerJoin, nil)
	r.RecordEvent(domain.EventViewerJoin, nil)
	r.RecordEvent(domain.EventViewerLeave, nil)
	assert.EqualValues(t, 1, dropped.n.Load())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.Run(ctx))

	// Run flushes what was queued before it stopped.
	assert.Equal(t, []domain.EventKind{domain.EventViewerJoin, domain.EventViewerJoin}, sink.kinds())

	r.RecordEvent(domain.EventWebinarStop, nil)
	assert.EqualValues(t, 2, dropped.n.Load())
}

func TestAsyncRecorderSwallowsSinkErrors(t *testing.T) {
	sink := &memSink{err: errors.New("broker unavailable")}
	r := NewAsyncRecorder(sink, 1, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	r.RecordEvent(domain.EventFileRotated, nil)
	r.RecordEvent(domain.EventFileRotated, nil)
	require.Eventually(t, func() bool { return len(sink.kinds()) == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestRecordEventNeverBlocks(t *testing.T) {
	sink := &memSink{block: make(chan struct{})}
	r := NewAsyncRecorder(sink, 1, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			r.RecordEvent(domain.EventViewerJoin, nil)
		}
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("RecordEvent blocked on a stuck sink")
	}

	cancel()
	close(sink.block)
	assert.NoError(t, <-done)
}

func TestLogSink(t *testing.T) {
	assert.NoError(t, LogSink{}.Publish(domain.Event{ID: "x", Kind: domain.EventWebinarStart, Fields: map[string]any{"a": 1}}))
}
