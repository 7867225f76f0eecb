package app

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dkeye/one2many/internal/core"
	"github.com/dkeye/one2many/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrPresenterActive    = errors.New("presenter already active")
	ErrNoActivePresenter  = errors.New("No active presenter. Try again later...")
	ErrSessionIsPresenter = errors.New("This session is already acting as presenter")
	ErrViewerActive       = errors.New("This session is already watching a presenter")
)

// PresenterActiveError rejects a presenter request while presenter ID is live.
type PresenterActiveError struct {
	ID core.SessionID
}

func (e *PresenterActiveError) Error() string {
	return fmt.Sprintf("Another user is currently acting as presenter %s. Try again later ...", e.ID)
}

func (e *PresenterActiveError) Is(target error) bool { return target == ErrPresenterActive }

// PresenterKey selects the presenter a viewer wants. Empty fields are skipped.
type PresenterKey struct {
	ID   core.SessionID
	Name domain.PresenterName
}

// Registry is the single source of truth for presenter and viewer sessions,
// plus the name index used to find presenters. Lookups return copies so a
// caller never observes a half-updated entry.
type Registry struct {
	mu         sync.RWMutex
	presenters map[core.SessionID]*presenterEntry
	viewers    map[core.SessionID]*viewerEntry
	names      map[domain.PresenterName]core.SessionID
	last       core.SessionID
	seq        uint64
	policy     Policy
}

type presenterEntry struct {
	seq     uint64
	session core.PresenterSession
}

type viewerEntry struct {
	seq     uint64
	session core.ViewerSession
}

// Ticket identifies one registration of a session. Continuations of
// asynchronous setup hold it so they never touch a newer registration
// that reuses the same session id.
type Ticket struct {
	SID core.SessionID
	seq uint64
}

func NewRegistry(policy Policy) *Registry {
	if policy == nil {
		policy = MultiPresenterPolicy{}
	}
	return &Registry{
		presenters: make(map[core.SessionID]*presenterEntry),
		viewers:    make(map[core.SessionID]*viewerEntry),
		names:      make(map[domain.PresenterName]core.SessionID),
		policy:     policy,
	}
}

// RegisterPresenter inserts a placeholder presenter (no media, not ready)
// so concurrent resolvers see "exists but not ready" instead of "missing".
func (r *Registry) RegisterPresenter(sid core.SessionID, name domain.PresenterName) (Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.presenters[sid]; ok {
		return Ticket{}, &PresenterActiveError{ID: sid}
	}
	if _, ok := r.viewers[sid]; ok {
		return Ticket{}, ErrViewerActive
	}
	live := r.presenterIDsLocked()
	if r.policy.OnPresenterRequest(sid, live) == RejectBusy {
		return Ticket{}, &PresenterActiveError{ID: live[0]}
	}

	r.seq++
	r.presenters[sid] = &presenterEntry{
		seq:     r.seq,
		session: core.PresenterSession{ID: sid, Name: name},
	}
	if name != "" {
		r.names[name] = sid
	}
	r.last = sid
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("name", string(name)).Msg("registered presenter")
	return Ticket{SID: sid, seq: r.seq}, nil
}

// RegisterViewer resolves key to a ready presenter and records the viewer
// in the same critical section, so a presenter teardown that starts right
// after will find and notify this viewer.
func (r *Registry) RegisterViewer(sid core.SessionID, key PresenterKey, conn core.SignalConnection) (Ticket, core.PresenterSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.presenters[sid]; ok {
		return Ticket{}, core.PresenterSession{}, ErrSessionIsPresenter
	}
	if _, ok := r.viewers[sid]; ok {
		return Ticket{}, core.PresenterSession{}, ErrViewerActive
	}
	p, ok := r.resolveLocked(key)
	if !ok {
		return Ticket{}, core.PresenterSession{}, ErrNoActivePresenter
	}

	r.seq++
	r.viewers[sid] = &viewerEntry{
		seq:     r.seq,
		session: core.ViewerSession{ID: sid, PresenterID: p.session.ID, Conn: conn},
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("presenter", string(p.session.ID)).Msg("registered viewer")
	return Ticket{SID: sid, seq: r.seq}, p.session, nil
}

// ResolvePresenter applies the viewer resolution order: explicit id, then
// name index, then the most recently registered presenter. Only ready
// presenters qualify.
func (r *Registry) ResolvePresenter(key PresenterKey) (core.PresenterSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.resolveLocked(key)
	if !ok {
		return core.PresenterSession{}, false
	}
	return p.session, true
}

func (r *Registry) resolveLocked(key PresenterKey) (*presenterEntry, bool) {
	if key.ID != "" {
		if p, ok := r.presenters[key.ID]; ok && p.session.Ready {
			return p, true
		}
	}
	if key.Name != "" {
		// Stale names are tolerated: the id must still map to a ready presenter.
		if id, ok := r.names[key.Name]; ok {
			if p, ok := r.presenters[id]; ok && p.session.Ready {
				return p, true
			}
		}
	}
	if r.last != "" {
		if p, ok := r.presenters[r.last]; ok && p.session.Ready {
			return p, true
		}
	}
	return nil, false
}

func (r *Registry) Presenter(sid core.SessionID) (core.PresenterSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.presenters[sid]; ok {
		return p.session, true
	}
	return core.PresenterSession{}, false
}

func (r *Registry) Viewer(sid core.SessionID) (core.ViewerSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if v, ok := r.viewers[sid]; ok {
		return v.session, true
	}
	return core.ViewerSession{}, false
}

// UpdatePresenter mutates the registration identified by t. It reports
// false when that registration is gone. fn runs under the registry lock
// and must not block.
func (r *Registry) UpdatePresenter(t Ticket, fn func(*core.PresenterSession)) (core.PresenterSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.presenters[t.SID]
	if !ok || p.seq != t.seq {
		return core.PresenterSession{}, false
	}
	fn(&p.session)
	return p.session, true
}

// UpdateViewer is UpdatePresenter for viewers.
func (r *Registry) UpdateViewer(t Ticket, fn func(*core.ViewerSession)) (core.ViewerSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.viewers[t.SID]
	if !ok || v.seq != t.seq {
		return core.ViewerSession{}, false
	}
	fn(&v.session)
	return v.session, true
}

// Alive reports whether the registration behind t still exists.
func (r *Registry) Alive(t Ticket) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.presenters[t.SID]; ok && p.seq == t.seq {
		return true
	}
	if v, ok := r.viewers[t.SID]; ok && v.seq == t.seq {
		return true
	}
	return false
}

// RemovePresenter removes the presenter and every viewer that references it.
// The second call for the same id finds nothing, which keeps teardown
// notifications exactly-once.
func (r *Registry) RemovePresenter(sid core.SessionID) (core.PresenterSession, []core.ViewerSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.presenters[sid]
	if !ok {
		return core.PresenterSession{}, nil, false
	}
	var orphans []core.ViewerSession
	for vid, v := range r.viewers {
		if v.session.PresenterID == sid {
			orphans = append(orphans, v.session)
			delete(r.viewers, vid)
		}
	}
	delete(r.presenters, sid)
	if r.last == sid {
		r.last = r.latestPresenterLocked()
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].ID < orphans[j].ID })
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Int("viewers", len(orphans)).Msg("removed presenter")
	return p.session, orphans, true
}

func (r *Registry) RemoveViewer(sid core.SessionID) (core.ViewerSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.viewers[sid]
	if !ok {
		return core.ViewerSession{}, false
	}
	delete(r.viewers, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("removed viewer")
	return v.session, true
}

func (r *Registry) ViewersOf(presenter core.SessionID) []core.ViewerSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.ViewerSession, 0)
	for _, v := range r.viewers {
		if v.session.PresenterID == presenter {
			out = append(out, v.session)
		}
	}
	return out
}

// Presenters lists ready presenters for the API, oldest first.
func (r *Registry) Presenters() []domain.PresenterInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]*presenterEntry, 0, len(r.presenters))
	for _, p := range r.presenters {
		if p.session.Ready {
			entries = append(entries, p)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	counts := make(map[core.SessionID]int, len(entries))
	for _, v := range r.viewers {
		counts[v.session.PresenterID]++
	}
	out := make([]domain.PresenterInfo, 0, len(entries))
	for _, p := range entries {
		out = append(out, domain.PresenterInfo{
			ID:      string(p.session.ID),
			Name:    p.session.Name,
			Viewers: counts[p.session.ID],
		})
	}
	return out
}

// Counts returns the number of presenter and viewer entries, placeholders included.
func (r *Registry) Counts() (presenters, viewers int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.presenters), len(r.viewers)
}

func (r *Registry) presenterIDsLocked() []core.SessionID {
	entries := make([]*presenterEntry, 0, len(r.presenters))
	for _, p := range r.presenters {
		entries = append(entries, p)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	ids := make([]core.SessionID, 0, len(entries))
	for _, p := range entries {
		ids = append(ids, p.session.ID)
	}
	return ids
}

func (r *Registry) latestPresenterLocked() core.SessionID {
	var (
		best core.SessionID
		seq  uint64
	)
	for id, p := range r.presenters {
		if p.seq > seq {
			best, seq = id, p.seq
		}
	}
	return best
}
