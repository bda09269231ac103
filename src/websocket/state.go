package websocket

import (
	"fmt"
	"sync"
)

// State is the lifecycle stage of one feed connection.
type State string

const (
	StateInit         State = "INIT"
	StateConnecting   State = "CONNECTING"
	StateSubscribed   State = "SUBSCRIBED"
	StateReconnecting State = "RECONNECTING"
	StateTerminated   State = "TERMINATED"
)

var transitions = map[State][]State{
	StateInit:         {StateConnecting, StateTerminated},
	StateConnecting:   {StateSubscribed, StateReconnecting, StateTerminated},
	StateSubscribed:   {StateReconnecting, StateTerminated},
	StateReconnecting: {StateSubscribed, StateTerminated},
}

// -----------------------------------------------------------------------------

// Machine guards the state of a connection. TERMINATED is final.
type Machine struct {
	mu       sync.RWMutex
	state    State
	onChange func(from, to State)
}

// -----------------------------------------------------------------------------

func NewMachine(onChange func(from, to State)) *Machine {
	return &Machine{state: StateInit, onChange: onChange}
}

// -----------------------------------------------------------------------------

// Current returns the state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// -----------------------------------------------------------------------------

// To moves the machine to next. Moving to the current state is a no-op.
func (m *Machine) To(next State) error {
	m.mu.Lock()
	from := m.state
	if from == next {
		m.mu.Unlock()
		return nil
	}
	if !CanTransition(from, next) {
		m.mu.Unlock()
		return fmt.Errorf("invalid feed transition %s -> %s", from, next)
	}
	m.state = next
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange(from, next)
	}
	return nil
}

// -----------------------------------------------------------------------------

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
