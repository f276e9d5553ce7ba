// Package fsm is a small synchronous state machine. Rules map a (state,
// event) pair to a target state, optionally behind a guard and with hooks
// that run before the change is committed. Listeners observe every state
// change after the machine lock is released.
package fsm

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// State identifies a machine state
type State string

// Event identifies a trigger passed to Fire
type Event string

// EventReset is reported to listeners when Reset changes the state
const EventReset Event = "reset"

var (
	// ErrNoTransition is returned when no rule matches the current state and event
	ErrNoTransition = errors.New("fsm: no transition")
	// ErrGuardRejected is returned when a guard vetoes the transition
	ErrGuardRejected = errors.New("fsm: guard rejected transition")
)

// Change describes one fired rule
type Change struct {
	Machine string
	Event   Event
	From    State
	To      State
	Data    any
}

// Guard decides from the Fire data whether a rule may fire
type Guard func(data any) bool

// Hook runs while a rule fires, before the new state is committed.
// A non-nil error aborts the transition.
type Hook func(ctx context.Context, c Change) error

type edge struct {
	from  State
	event Event
}

type rule struct {
	to    State
	guard Guard
	hooks []Hook
}

// Machine is a synchronous state machine. Fire runs on the caller's
// goroutine and the machine is safe for concurrent use.
type Machine struct {
	name    string
	initial State

	mu    sync.Mutex
	state State
	rules map[edge]*rule

	listenerMu sync.RWMutex
	listeners  []func(Change)
}

// New creates a Machine in state initial
func New(name string, initial State) *Machine {
	return &Machine{
		name:    name,
		initial: initial,
		state:   initial,
		rules:   make(map[edge]*rule),
	}
}

// Name returns the machine name
func (m *Machine) Name() string {
	return m.name
}

// State returns the current state
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Accepts reports whether a rule exists for event in the current state.
// Guards are not evaluated.
func (m *Machine) Accepts(event Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rules[edge{m.state, event}]
	return ok
}

// Fire applies the rule for event in the current state and returns the
// resulting state.
//
// Errors wrap ErrNoTransition or ErrGuardRejected, or carry the first hook
// error. In every error case the state is unchanged. Listeners are notified
// only when the state actually changes.
func (m *Machine) Fire(ctx context.Context, event Event, data any) (State, error) {
	m.mu.Lock()
	from := m.state
	r, ok := m.rules[edge{from, event}]
	if !ok {
		m.mu.Unlock()
		return from, fmt.Errorf("%w: event %s in state %s", ErrNoTransition, event, from)
	}

	c := Change{Machine: m.name, Event: event, From: from, To: r.to, Data: data}
	if r.guard != nil && !r.guard(data) {
		m.mu.Unlock()
		return from, fmt.Errorf("%w: %s -> %s on %s", ErrGuardRejected, from, r.to, event)
	}
	for _, hook := range r.hooks {
		if err := hook(ctx, c); err != nil {
			m.mu.Unlock()
			return from, fmt.Errorf("fsm: %s hook: %w", event, err)
		}
	}
	m.state = r.to
	m.mu.Unlock()

	if r.to != from {
		m.notify(c)
	}
	return r.to, nil
}

// Reset puts the machine back in its initial state without running hooks.
// It is the only way to move against the configured rules.
func (m *Machine) Reset() {
	m.mu.Lock()
	from := m.state
	m.state = m.initial
	m.mu.Unlock()

	if from != m.initial {
		m.notify(Change{Machine: m.name, Event: EventReset, From: from, To: m.initial})
	}
}

// OnChange registers a listener for state changes
func (m *Machine) OnChange(listener func(Change)) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.listeners = append(m.listeners, listener)
}

func (m *Machine) notify(c Change) {
	m.listenerMu.RLock()
	listeners := make([]func(Change), len(m.listeners))
	copy(listeners, m.listeners)
	m.listenerMu.RUnlock()

	for _, l := range listeners {
		l(c)
	}
}
