package target

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrInvalidTransition = errors.New("invalid state transition")

// State is the lifecycle state of a target.
type State int32

const (
	Stopped State = iota
	Running
	Exited
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Exited:
		return "exited"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// StateMachine holds the state of one target and wakes up waiters on every
// transition. The zero value is not usable, use NewStateMachine.
type StateMachine struct {
	mu      sync.Mutex
	state   State
	changed chan struct{}
}

func NewStateMachine() *StateMachine {
	return &StateMachine{changed: make(chan struct{})}
}

func (m *StateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Resume moves a stopped target to running.
func (m *StateMachine) Resume() error { return m.transition(Stopped, Running) }

// Stop records that a running target delivered a stop.
func (m *StateMachine) Stop() error { return m.transition(Running, Stopped) }

// Exit records that a running target went away.
func (m *StateMachine) Exit() error { return m.transition(Running, Exited) }

// Wait blocks until pred accepts the current state or ctx is done.
func (m *StateMachine) Wait(ctx context.Context, pred func(State) bool) (State, error) {
	for {
		m.mu.Lock()
		s, ch := m.state, m.changed
		m.mu.Unlock()

		if pred(s) {
			return s, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return s, ctx.Err()
		}
	}
}

func (m *StateMachine) transition(from, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != from {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
	}
	m.set(to)
	return nil
}

func (m *StateMachine) set(s State) {
	m.state = s
	close(m.changed)
	m.changed = make(chan struct{})
}
