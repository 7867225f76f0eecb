package sfu

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// RelayManager owns the relays of one source endpoint, one per media kind,
// and remembers subscriptions so a track that shows up after a sink
// connected is still forwarded to it.
type RelayManager struct {
	name string

	mu     sync.RWMutex
	relays map[webrtc.RTPCodecType]*Relay
	subs   map[SinkID]map[webrtc.RTPCodecType]*OutTrack
	closed bool
}

func NewRelayManager(name string) *RelayManager {
	return &RelayManager{
		name:   name,
		relays: make(map[webrtc.RTPCodecType]*Relay),
		subs:   make(map[SinkID]map[webrtc.RTPCodecType]*OutTrack),
	}
}

// StartRelay creates a Relay for the given source track and starts its loop.
func (m *RelayManager) StartRelay(ctx context.Context, kind webrtc.RTPCodecType, src Source) *Relay {
	logger := log.With().
		Str("module", "relay").
		Str("source", m.name).
		Str("kind", kind.String()).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(src, cancel)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		close(relay.done)
		return relay
	}
	if old, ok := m.relays[kind]; ok {
		logger.Info().Msg("replacing existing relay")
		old.markAllDelete()
		old.cancel()
	}
	m.relays[kind] = relay
	for sink, byKind := range m.subs {
		if ot, ok := byKind[kind]; ok {
			relay.AddOutTrack(sink, ot)
		}
	}
	m.mu.Unlock()

	logger.Info().Msg("starting relay loop")
	go relay.loop(relayCtx, &logger)
	return relay
}

// Subscribe registers ot as sink's output for kind, replacing any earlier
// one. The caller keeps ot to mute and resume the subscription.
func (m *RelayManager) Subscribe(sink SinkID, kind webrtc.RTPCodecType, ot *OutTrack) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		ot.MarkDelete()
		return
	}
	byKind, ok := m.subs[sink]
	if !ok {
		byKind = make(map[webrtc.RTPCodecType]*OutTrack)
		m.subs[sink] = byKind
	}
	if old, ok := byKind[kind]; ok {
		old.MarkDelete()
	}
	byKind[kind] = ot
	if relay, ok := m.relays[kind]; ok {
		relay.AddOutTrack(sink, ot)
	}
}

// Unsubscribe marks every OutTrack of sink for deletion.
func (m *RelayManager) Unsubscribe(sink SinkID) {
	m.mu.Lock()
	byKind := m.subs[sink]
	delete(m.subs, sink)
	m.mu.Unlock()
	for _, ot := range byKind {
		ot.MarkDelete()
	}
}

// Subscribers reports how many sinks are subscribed.
func (m *RelayManager) Subscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// HasRelay reports whether a relay is running for kind.
func (m *RelayManager) HasRelay(kind webrtc.RTPCodecType) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.relays[kind]
	return ok
}

// Close stops every relay and drops all subscriptions.
func (m *RelayManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	relays := m.relays
	subs := m.subs
	m.relays = make(map[webrtc.RTPCodecType]*Relay)
	m.subs = make(map[SinkID]map[webrtc.RTPCodecType]*OutTrack)
	m.mu.Unlock()

	for _, relay := range relays {
		relay.markAllDelete()
		relay.cancel()
	}
	for _, byKind := range subs {
		for _, ot := range byKind {
			ot.MarkDelete()
		}
	}
}
