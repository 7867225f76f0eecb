package app

import "github.com/dkeye/one2many/internal/core"

type Admission int

const (
	Admit Admission = iota
	RejectBusy
)

// Policy decides whether a new presenter may start while others are live.
type Policy interface {
	OnPresenterRequest(sid core.SessionID, live []core.SessionID) Admission
}

// MultiPresenterPolicy lets any number of presenters broadcast at once;
// viewers pick one by name or id.
type MultiPresenterPolicy struct{}

func (MultiPresenterPolicy) OnPresenterRequest(core.SessionID, []core.SessionID) Admission {
	return Admit
}

// SinglePresenterPolicy keeps at most one presenter system-wide.
type SinglePresenterPolicy struct{}

func (SinglePresenterPolicy) OnPresenterRequest(_ core.SessionID, live []core.SessionID) Admission {
	if len(live) > 0 {
		return RejectBusy
	}
	return Admit
}

// PolicyFor maps the presenters.multi setting to a Policy.
func PolicyFor(multi bool) Policy {
	if multi {
		return MultiPresenterPolicy{}
	}
	return SinglePresenterPolicy{}
}
