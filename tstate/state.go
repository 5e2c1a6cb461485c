// Package tstate enforces the lifecycle of a ticket session as an explicit
// set of allowed transitions.
package tstate

import (
	"fmt"
	"sync"
)

// State is a named, comparable lifecycle state.
type State interface {
	comparable
	fmt.Stringer
}

// Transition is one allowed edge of the machine.
type Transition[S State] struct {
	From S
	To   S
	Name string
}

// TransitionError reports a transition that is not an edge of the machine.
type TransitionError[S State] struct {
	From S
	To   S
}

func (e *TransitionError[S]) Error() string {
	return fmt.Sprintf("tstate: invalid transition %s -> %s", e.From, e.To)
}

type edge[S State] struct {
	from, to S
}

// Machine holds the current state and rejects transitions that were not
// declared at construction.
type Machine[S State] struct {
	mu       sync.Mutex
	current  S
	edges    map[edge[S]]string
	outgoing map[S]int
	onChange func(from, to S, name string)
}

// New returns a machine in the initial state. onChange, if not nil, is called
// with the machine lock held after each successful transition and must not
// call back into the machine.
func New[S State](initial S, transitions []Transition[S], onChange func(from, to S, name string)) *Machine[S] {
	m := &Machine[S]{
		current:  initial,
		edges:    make(map[edge[S]]string, len(transitions)),
		outgoing: make(map[S]int),
		onChange: onChange,
	}
	for _, t := range transitions {
		m.edges[edge[S]{t.From, t.To}] = t.Name
		m.outgoing[t.From]++
	}
	return m
}

// Current returns the current state.
func (m *Machine[S]) Current() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Terminal reports whether the current state has no outgoing transitions.
func (m *Machine[S]) Terminal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outgoing[m.current] == 0
}

// CanTransitionTo reports whether to is reachable in one step.
func (m *Machine[S]) CanTransitionTo(to S) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.edges[edge[S]{m.current, to}]
	return ok
}

// TransitionTo moves to the given state or returns a *TransitionError.
func (m *Machine[S]) TransitionTo(to S) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.move(m.current, to)
}

// TransitionFrom moves from -> to only if the machine is currently in from.
// It lets two goroutines race to close a session without both succeeding.
func (m *Machine[S]) TransitionFrom(from, to S) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != from {
		return &TransitionError[S]{From: m.current, To: to}
	}
	return m.move(from, to)
}

func (m *Machine[S]) move(from, to S) error {
	name, ok := m.edges[edge[S]{from, to}]
	if !ok {
		return &TransitionError[S]{From: from, To: to}
	}
	m.current = to
	if m.onChange != nil {
		m.onChange(from, to, name)
	}
	return nil
}
