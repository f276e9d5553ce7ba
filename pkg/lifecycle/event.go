// Package lifecycle turns validated Application Manager payloads into typed
// lifecycle events and dispatches them to application callbacks.
package lifecycle

import "fmt"

// Wire names of the lifecycle events
const (
	KindRelaunched   = "relaunched"
	KindActivating   = "activating"
	KindDeactivating = "deactivating"
	KindSuspending   = "suspending"
	KindLowMemory    = "lowmemory"
)

// Event is one of Relaunched, Activating, Deactivating, Suspending,
// LowMemory or Unknown. The set is closed.
type Event interface {
	// Kind returns the event name as it appears on the wire
	Kind() string
	isEvent()
}

// Relaunched is sent when the application is launched again while running
type Relaunched struct {
	Parameters string
}

// Activating is sent when the application moves to the foreground
type Activating struct{}

// Deactivating is sent when the application moves to the background
type Deactivating struct{}

// Suspending is sent before the application is suspended
type Suspending struct{}

// LowMemory reports a change of the system memory pressure
type LowMemory struct {
	State LowMemoryState
}

// Unknown carries an event name this package does not recognize
type Unknown struct {
	Name string
}

func (Relaunched) Kind() string   { return KindRelaunched }
func (Activating) Kind() string   { return KindActivating }
func (Deactivating) Kind() string { return KindDeactivating }
func (Suspending) Kind() string   { return KindSuspending }
func (LowMemory) Kind() string    { return KindLowMemory }
func (u Unknown) Kind() string    { return u.Name }

func (Relaunched) isEvent()   {}
func (Activating) isEvent()   {}
func (Deactivating) isEvent() {}
func (Suspending) isEvent()   {}
func (LowMemory) isEvent()    {}
func (Unknown) isEvent()      {}

// LowMemoryState is the memory pressure level carried by LowMemory
type LowMemoryState int

const (
	Normal LowMemoryState = iota
	Low
	Critical
)

func (s LowMemoryState) String() string {
	switch s {
	case Normal:
		return "normal"
	case Low:
		return "low"
	case Critical:
		return "critical"
	default:
		return fmt.Sprintf("LowMemoryState(%d)", int(s))
	}
}

// ParseLowMemoryState maps a wire value to a LowMemoryState
func ParseLowMemoryState(s string) (LowMemoryState, bool) {
	switch s {
	case "normal":
		return Normal, true
	case "low":
		return Low, true
	case "critical":
		return Critical, true
	default:
		return Normal, false
	}
}
