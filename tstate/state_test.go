package tstate

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

type testState int

const (
	stateWaiting testState = iota
	stateReady
	stateDenied
	stateDone
)

func (s testState) String() string {
	switch s {
	case stateWaiting:
		return "waiting"
	case stateReady:
		return "ready"
	case stateDenied:
		return "denied"
	case stateDone:
		return "done"
	default:
		return "unknown"
	}
}

var testTransitions = []Transition[testState]{
	{From: stateWaiting, To: stateReady, Name: "accept"},
	{From: stateWaiting, To: stateDenied, Name: "deny"},
	{From: stateWaiting, To: stateDone, Name: "abort"},
	{From: stateReady, To: stateDone, Name: "close"},
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		name    string
		initial testState
		to      testState
		wantErr bool
	}{
		{name: "waiting -> ready", initial: stateWaiting, to: stateReady},
		{name: "waiting -> denied", initial: stateWaiting, to: stateDenied},
		{name: "ready -> done", initial: stateReady, to: stateDone},
		{name: "denied is terminal", initial: stateDenied, to: stateReady, wantErr: true},
		{name: "no skipping back", initial: stateReady, to: stateWaiting, wantErr: true},
		{name: "ready cannot be denied", initial: stateReady, to: stateDenied, wantErr: true},
		{name: "self loop", initial: stateWaiting, to: stateWaiting, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(tt.initial, testTransitions, nil)
			if got := m.CanTransitionTo(tt.to); got == tt.wantErr {
				t.Errorf("CanTransitionTo() = %v, want %v", got, !tt.wantErr)
			}
			err := m.TransitionTo(tt.to)
			if (err != nil) != tt.wantErr {
				t.Fatalf("TransitionTo() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var te *TransitionError[testState]
				if !errors.As(err, &te) {
					t.Fatalf("error %T is not a *TransitionError", err)
				}
				if m.Current() != tt.initial {
					t.Errorf("state changed on failed transition: %v", m.Current())
				}
				return
			}
			if m.Current() != tt.to {
				t.Errorf("Current() = %v, want %v", m.Current(), tt.to)
			}
		})
	}
}

func TestTerminal(t *testing.T) {
	m := New(stateWaiting, testTransitions, nil)
	if m.Terminal() {
		t.Fatal("waiting reported terminal")
	}
	if err := m.TransitionTo(stateDenied); err != nil {
		t.Fatal(err)
	}
	if !m.Terminal() {
		t.Fatal("denied not reported terminal")
	}
}

func TestOnChange(t *testing.T) {
	var names []string
	m := New(stateWaiting, testTransitions, func(from, to testState, name string) {
		names = append(names, from.String()+">"+to.String()+":"+name)
	})
	if err := m.TransitionTo(stateReady); err != nil {
		t.Fatal(err)
	}
	_ = m.TransitionTo(stateDenied)
	if err := m.TransitionTo(stateDone); err != nil {
		t.Fatal(err)
	}
	want := []string{"waiting>ready:accept", "ready>done:close"}
	if len(names) != len(want) {
		t.Fatalf("callbacks = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("callback[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestTransitionFromRace(t *testing.T) {
	m := New(stateReady, testTransitions, nil)
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.TransitionFrom(stateReady, stateDone) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("TransitionFrom succeeded %d times, want 1", wins.Load())
	}
}
