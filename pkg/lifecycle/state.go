// Package lifecycle owns the host's handshake state, its single shutdown
// token and the supervisor that ties shutdown to signals and to the parent
// process.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// State is a handshake state.
type State int32

const (
	Uninitialized State = iota
	ParamsReceived
	Composing
	Ready
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case ParamsReceived:
		return "ParamsReceived"
	case Composing:
		return "Composing"
	case Ready:
		return "Ready"
	case ShuttingDown:
		return "ShuttingDown"
	case Stopped:
		return "Stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool { return s == Stopped }

var edges = map[State][]State{
	Uninitialized:  {ParamsReceived, ShuttingDown, Stopped},
	ParamsReceived: {Composing, Stopped},
	Composing:      {Ready, Stopped},
	Ready:          {ShuttingDown},
	ShuttingDown:   {Stopped},
}

// Legal reports whether from -> to is an edge of the state graph.
func Legal(from, to State) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ErrStopped is returned by WaitFor when the machine stopped before
// reaching the awaited state.
var ErrStopped = errors.New("lifecycle: stopped")

// TransitionFunc observes a completed transition.
type TransitionFunc func(from, to State)

// Machine is the handshake state. It is mutated only through Transition
// and Fail, both compare-and-set.
type Machine struct {
	mu        sync.Mutex
	state     State
	visited   uint32
	changed   chan struct{}
	observers []TransitionFunc
}

// NewMachine returns a machine in Uninitialized.
func NewMachine() *Machine {
	return &Machine{
		state:   Uninitialized,
		visited: 1 << Uninitialized,
		changed: make(chan struct{}),
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Is reports whether the machine is currently in s.
func (m *Machine) Is(s State) bool { return m.State() == s }

// OnTransition registers an observer. Observers run synchronously after the
// state changed, outside the machine's lock.
func (m *Machine) OnTransition(fn TransitionFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Transition moves from -> to if the machine is in from and the edge is
// legal. Only one of several racing callers succeeds.
func (m *Machine) Transition(from, to State) bool {
	m.mu.Lock()
	if m.state != from || !Legal(from, to) {
		m.mu.Unlock()
		return false
	}
	observers := m.set(to)
	m.mu.Unlock()

	notify(observers, from, to)
	return true
}

// Fail moves any non-terminal state directly to Stopped and returns the
// state it left.
func (m *Machine) Fail() (State, bool) {
	m.mu.Lock()
	from := m.state
	if from.Terminal() {
		m.mu.Unlock()
		return from, false
	}
	observers := m.set(Stopped)
	m.mu.Unlock()

	notify(observers, from, Stopped)
	return from, true
}

// set must be called with mu held.
func (m *Machine) set(to State) []TransitionFunc {
	m.state = to
	m.visited |= 1 << to
	close(m.changed)
	m.changed = make(chan struct{})
	return append([]TransitionFunc(nil), m.observers...)
}

func notify(observers []TransitionFunc, from, to State) {
	for _, fn := range observers {
		fn(from, to)
	}
}

// WaitFor blocks until the machine has been in s. It returns ErrStopped if
// the machine stopped without ever reaching s.
func (m *Machine) WaitFor(ctx context.Context, s State) error {
	for {
		m.mu.Lock()
		reached := m.visited&(1<<s) != 0
		stopped := m.state == Stopped
		changed := m.changed
		m.mu.Unlock()

		switch {
		case reached:
			return nil
		case stopped:
			return ErrStopped
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
