package app

import (
	"sync"

	"github.com/dkeye/one2many/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// CandidateSink is the part of an endpoint that accepts remote candidates.
type CandidateSink interface {
	AddCandidate(webrtc.ICECandidateInit) error
}

// DefaultCandidateLimit bounds each session's queue when no limit is set.
const DefaultCandidateLimit = 64

// CandidateQueue buffers remote ICE candidates that arrive before the
// session's endpoint exists. Candidates for unknown sessions are kept too,
// since registration may still be racing with candidate delivery.
// Each session holds at most Limit candidates; the oldest is dropped first.
type CandidateQueue struct {
	Limit int

	mu     sync.Mutex
	queues map[core.SessionID][]webrtc.ICECandidateInit
	full   map[core.SessionID]struct{}
}

func NewCandidateQueue() *CandidateQueue {
	return &CandidateQueue{
		Limit:  DefaultCandidateLimit,
		queues: make(map[core.SessionID][]webrtc.ICECandidateInit),
		full:   make(map[core.SessionID]struct{}),
	}
}

func (q *CandidateQueue) limit() int {
	if q.Limit <= 0 {
		return DefaultCandidateLimit
	}
	return q.Limit
}

func (q *CandidateQueue) Enqueue(sid core.SessionID, c webrtc.ICECandidateInit) {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := q.queues[sid]
	if limit := q.limit(); len(pending) >= limit {
		if _, warned := q.full[sid]; !warned {
			q.full[sid] = struct{}{}
			log.Warn().Str("module", "app.candidates").Str("sid", string(sid)).Int("limit", limit).Msg("candidate queue full, dropping oldest")
		}
		pending = pending[len(pending)-limit+1:]
	}
	q.queues[sid] = append(pending, c)
}

// Drain removes and returns the buffered candidates in arrival order.
func (q *CandidateQueue) Drain(sid core.SessionID) []webrtc.ICECandidateInit {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.queues[sid]
	delete(q.queues, sid)
	delete(q.full, sid)
	return out
}

// DrainInto flushes the buffered candidates into sink, oldest first.
// A candidate the sink refuses is logged and skipped; it is not re-queued.
func (q *CandidateQueue) DrainInto(sid core.SessionID, sink CandidateSink) int {
	pending := q.Drain(sid)
	for _, c := range pending {
		if err := sink.AddCandidate(c); err != nil {
			log.Warn().Err(err).Str("module", "app.candidates").Str("sid", string(sid)).Msg("drop buffered candidate")
		}
	}
	return len(pending)
}

func (q *CandidateQueue) Clear(sid core.SessionID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.queues, sid)
	delete(q.full, sid)
}

func (q *CandidateQueue) Len(sid core.SessionID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[sid])
}
