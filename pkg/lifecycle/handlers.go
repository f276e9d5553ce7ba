package lifecycle

import (
	"fmt"
	"runtime/debug"

	"github.com/fluxorio/appbridge/pkg/core"
)

// Handlers is the application's callback table. Every slot is optional;
// a nil slot means the event is ignored.
type Handlers struct {
	Activate   func(userData any)
	Deactivate func(userData any)
	Suspend    func(userData any)
	Relaunch   func(parameters string, userData any)
	LowMemory  func(state LowMemoryState, userData any)
}

// Dispatch invokes the callback matching e, if set.
//
// It reports whether a callback ran. Unknown events are never dispatched.
// A panicking callback is recovered and reported as core.ErrCallbackPanic so
// the caller's event loop keeps running.
func Dispatch(e Event, h *Handlers, userData any) (dispatched bool, err error) {
	if h == nil || e == nil {
		return false, nil
	}

	var call func()
	switch ev := e.(type) {
	case Relaunched:
		if h.Relaunch != nil {
			call = func() { h.Relaunch(ev.Parameters, userData) }
		}
	case Activating:
		if h.Activate != nil {
			call = func() { h.Activate(userData) }
		}
	case Deactivating:
		if h.Deactivate != nil {
			call = func() { h.Deactivate(userData) }
		}
	case Suspending:
		if h.Suspend != nil {
			call = func() { h.Suspend(userData) }
		}
	case LowMemory:
		if h.LowMemory != nil {
			call = func() { h.LowMemory(ev.State, userData) }
		}
	case Unknown:
	}
	if call == nil {
		return false, nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = core.ErrCallbackPanic.Wrap(fmt.Errorf("%s: %v\n%s", e.Kind(), r, debug.Stack()))
		}
	}()
	dispatched = true
	call()
	return dispatched, nil
}
