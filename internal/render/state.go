package render

import (
	"errors"
	"fmt"
	"sync"
)

type State int

const (
	StateIdle State = iota
	StateMetadataLoaded
	StateSeeking
	StateRecording
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateMetadataLoaded:
		return "metadata_loaded"
	case StateSeeking:
		return "seeking"
	case StateRecording:
		return "recording"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeSuccess
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "none"
	}
}

var ErrInvalidTransition = errors.New("invalid render state transition")

type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Every non-terminal state may fail straight to Stopped.
var transitions = map[State][]State{
	StateIdle:           {StateMetadataLoaded, StateStopped},
	StateMetadataLoaded: {StateSeeking, StateStopped},
	StateSeeking:        {StateRecording, StateStopped},
	StateRecording:      {StateStopped},
}

func isValidTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Machine tracks the lifecycle of one render.
type Machine struct {
	mu      sync.Mutex
	state   State
	outcome Outcome
}

func NewMachine() *Machine {
	return &Machine{state: StateIdle}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Outcome() Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcome
}

// Transition moves to a non-terminal state.
func (m *Machine) Transition(to State) error {
	if to == StateStopped {
		return m.Stop(OutcomeFailure)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !isValidTransition(m.state, to) {
		return &TransitionError{From: m.state, To: to}
	}
	m.state = to
	return nil
}

// Stop enters the terminal state. Success is only reachable from Recording.
func (m *Machine) Stop(outcome Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !isValidTransition(m.state, StateStopped) || (outcome == OutcomeSuccess && m.state != StateRecording) {
		return &TransitionError{From: m.state, To: StateStopped}
	}
	m.state = StateStopped
	m.outcome = outcome
	return nil
}
