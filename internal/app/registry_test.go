package app

import (
	"fmt"
	"sync"
	"testing"

	"github.com/dkeye/one2many/internal/core"
	"github.com/dkeye/one2many/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopConn struct{}

func (nopConn) TrySend(core.Frame) error { return nil }

func (nopConn) Close() {}

func readyPresenter(t *testing.T, r *Registry, sid core.SessionID, name domain.PresenterName) Ticket {
	t.Helper()
	tk, err := r.RegisterPresenter(sid, name)
	require.NoError(t, err)
	_, ok := r.UpdatePresenter(tk, func(p *core.PresenterSession) { p.Ready = true })
	require.True(t, ok)
	return tk
}

func TestRegisterPresenterCreatesPlaceholder(t *testing.T) {
	r := NewRegistry(nil)

	_, err := r.RegisterPresenter("1", "alice")
	require.NoError(t, err)

	p, ok := r.Presenter("1")
	require.True(t, ok)
	assert.False(t, p.Ready)
	assert.Nil(t, p.Pipeline)
	assert.Nil(t, p.Endpoint)
	assert.Equal(t, domain.PresenterName("alice"), p.Name)

	_, ok = r.ResolvePresenter(PresenterKey{Name: "alice"})
	assert.False(t, ok, "placeholder must not resolve")
	assert.Empty(t, r.Presenters())
}

func TestRegisterPresenterRejectsDuplicate(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.RegisterPresenter("1", "alice")
	require.NoError(t, err)

	_, err = r.RegisterPresenter("1", "alice")
	require.ErrorIs(t, err, ErrPresenterActive)
	var busy *PresenterActiveError
	require.ErrorAs(t, err, &busy)
	assert.Equal(t, core.SessionID("1"), busy.ID)
}

func TestRegisterPresenterRejectsViewerSession(t *testing.T) {
	r := NewRegistry(nil)
	readyPresenter(t, r, "1", "alice")
	_, _, err := r.RegisterViewer("2", PresenterKey{}, nopConn{})
	require.NoError(t, err)

	_, err = r.RegisterPresenter("2", "bob")
	assert.ErrorIs(t, err, ErrViewerActive)
}

func TestSinglePresenterPolicy(t *testing.T) {
	r := NewRegistry(SinglePresenterPolicy{})
	readyPresenter(t, r, "1", "alice")

	_, err := r.RegisterPresenter("2", "bob")
	require.ErrorIs(t, err, ErrPresenterActive)
	assert.Equal(t, "Another user is currently acting as presenter 1. Try again later ...", err.Error())

	r.RemovePresenter("1")
	_, err = r.RegisterPresenter("2", "bob")
	assert.NoError(t, err)
}

func TestResolveOrder(t *testing.T) {
	r := NewRegistry(nil)
	readyPresenter(t, r, "1", "alice")
	readyPresenter(t, r, "2", "bob")

	tests := []struct {
		name string
		key  PresenterKey
		want core.SessionID
	}{
		{"explicit id wins", PresenterKey{ID: "1", Name: "bob"}, "1"},
		{"name index", PresenterKey{Name: "alice"}, "1"},
		{"unknown id falls back to name", PresenterKey{ID: "42", Name: "alice"}, "1"},
		{"unknown name falls back to last", PresenterKey{Name: "carol"}, "2"},
		{"empty key uses last", PresenterKey{}, "2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := r.ResolvePresenter(tt.key)
			require.True(t, ok)
			assert.Equal(t, tt.want, p.ID)
		})
	}
}

func TestResolveWithoutPresenters(t *testing.T) {
	r := NewRegistry(nil)
	_, ok := r.ResolvePresenter(PresenterKey{})
	assert.False(t, ok)

	_, _, err := r.RegisterViewer("1", PresenterKey{Name: "alice"}, nopConn{})
	require.ErrorIs(t, err, ErrNoActivePresenter)
	assert.Equal(t, "No active presenter. Try again later...", err.Error())
	_, ok = r.Viewer("1")
	assert.False(t, ok)
}

func TestStaleNameIsValidated(t *testing.T) {
	r := NewRegistry(nil)
	readyPresenter(t, r, "1", "alice")
	readyPresenter(t, r, "2", "bob")
	r.RemovePresenter("1")

	// "alice" still points at "1"; resolution falls through to the last presenter.
	p, ok := r.ResolvePresenter(PresenterKey{Name: "alice"})
	require.True(t, ok)
	assert.Equal(t, core.SessionID("2"), p.ID)

	r.RemovePresenter("2")
	_, ok = r.ResolvePresenter(PresenterKey{Name: "alice"})
	assert.False(t, ok)
}

func TestNameIsOverwrittenByNewPresenter(t *testing.T) {
	r := NewRegistry(nil)
	readyPresenter(t, r, "1", "alice")
	readyPresenter(t, r, "2", "alice")
	readyPresenter(t, r, "3", "bob")

	p, ok := r.ResolvePresenter(PresenterKey{Name: "alice"})
	require.True(t, ok)
	assert.Equal(t, core.SessionID("2"), p.ID)
}

func TestRegisterViewerAgainstPresenter(t *testing.T) {
	r := NewRegistry(nil)
	readyPresenter(t, r, "1", "alice")

	_, _, err := r.RegisterViewer("1", PresenterKey{}, nopConn{})
	assert.ErrorIs(t, err, ErrSessionIsPresenter)

	tk, p, err := r.RegisterViewer("2", PresenterKey{Name: "alice"}, nopConn{})
	require.NoError(t, err)
	assert.Equal(t, core.SessionID("1"), p.ID)
	assert.Equal(t, core.SessionID("2"), tk.SID)

	_, _, err = r.RegisterViewer("2", PresenterKey{}, nopConn{})
	assert.ErrorIs(t, err, ErrViewerActive)

	v, ok := r.Viewer("2")
	require.True(t, ok)
	assert.Equal(t, core.SessionID("1"), v.PresenterID)
	assert.Nil(t, v.Endpoint)
}

func TestRemovePresenterReturnsItsViewers(t *testing.T) {
	r := NewRegistry(nil)
	readyPresenter(t, r, "1", "alice")
	readyPresenter(t, r, "2", "bob")
	for _, sid := range []core.SessionID{"3", "4"} {
		_, _, err := r.RegisterViewer(sid, PresenterKey{ID: "1"}, nopConn{})
		require.NoError(t, err)
	}
	_, _, err := r.RegisterViewer("5", PresenterKey{ID: "2"}, nopConn{})
	require.NoError(t, err)

	p, viewers, ok := r.RemovePresenter("1")
	require.True(t, ok)
	assert.Equal(t, core.SessionID("1"), p.ID)
	require.Len(t, viewers, 2)
	assert.Equal(t, core.SessionID("3"), viewers[0].ID)
	assert.Equal(t, core.SessionID("4"), viewers[1].ID)

	_, _, ok = r.RemovePresenter("1")
	assert.False(t, ok)

	presenters, remaining := r.Counts()
	assert.Equal(t, 1, presenters)
	assert.Equal(t, 1, remaining)
	assert.Len(t, r.ViewersOf("2"), 1)
}

func TestTicketsGuardAgainstReregistration(t *testing.T) {
	r := NewRegistry(nil)
	old, err := r.RegisterPresenter("1", "alice")
	require.NoError(t, err)
	r.RemovePresenter("1")
	fresh, err := r.RegisterPresenter("1", "alice")
	require.NoError(t, err)

	assert.False(t, r.Alive(old))
	assert.True(t, r.Alive(fresh))

	_, ok := r.UpdatePresenter(old, func(p *core.PresenterSession) { p.Ready = true })
	assert.False(t, ok)
	p, _ := r.Presenter("1")
	assert.False(t, p.Ready)
}

func TestUpdateViewer(t *testing.T) {
	r := NewRegistry(nil)
	readyPresenter(t, r, "1", "alice")
	tk, _, err := r.RegisterViewer("2", PresenterKey{}, nopConn{})
	require.NoError(t, err)

	_, ok := r.UpdateViewer(tk, func(v *core.ViewerSession) { v.PresenterID = "x" })
	assert.True(t, ok)

	r.RemoveViewer("2")
	_, ok = r.UpdateViewer(tk, func(v *core.ViewerSession) {})
	assert.False(t, ok)
	_, ok = r.RemoveViewer("2")
	assert.False(t, ok)
}

func TestLookupsReturnCopies(t *testing.T) {
	r := NewRegistry(nil)
	readyPresenter(t, r, "1", "alice")

	p, _ := r.Presenter("1")
	p.Ready = false
	p.Name = "mallory"

	again, _ := r.Presenter("1")
	assert.True(t, again.Ready)
	assert.Equal(t, domain.PresenterName("alice"), again.Name)
}

func TestPresentersListing(t *testing.T) {
	r := NewRegistry(nil)
	readyPresenter(t, r, "1", "alice")
	_, err := r.RegisterPresenter("2", "pending")
	require.NoError(t, err)
	readyPresenter(t, r, "3", "")
	_, _, err = r.RegisterViewer("4", PresenterKey{ID: "1"}, nopConn{})
	require.NoError(t, err)

	assert.Equal(t, []domain.PresenterInfo{
		{ID: "1", Name: "alice", Viewers: 1},
		{ID: "3", Viewers: 0},
	}, r.Presenters())
}

func TestConcurrentViewersAndTeardown(t *testing.T) {
	r := NewRegistry(nil)
	readyPresenter(t, r, "p", "alice")

	var wg sync.WaitGroup
	registered := make(chan core.SessionID, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sid := core.SessionID(fmt.Sprintf("v%d", i))
			if _, _, err := r.RegisterViewer(sid, PresenterKey{Name: "alice"}, nopConn{}); err == nil {
				registered <- sid
			}
		}(i)
	}
	var removed []core.ViewerSession
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, removed, _ = r.RemovePresenter("p")
	}()
	wg.Wait()
	close(registered)

	// Every viewer that got in was handed to the teardown; none is left behind.
	assert.Len(t, removed, len(registered))
	_, viewers := r.Counts()
	assert.Zero(t, viewers)
}
