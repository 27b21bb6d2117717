// Package status tracks the phase of an import run.
package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/textile/internal/bus"
)

// Phase is one step of an import run.
type Phase string

const (
	Idle       Phase = "IDLE"
	Analyzing  Phase = "ANALYZING"
	Importing  Phase = "IMPORTING"
	Finalizing Phase = "FINALIZING"
	Completed  Phase = "COMPLETED"
	Failed     Phase = "FAILED"
	Cancelled  Phase = "CANCELLED"
)

var validTransitions = map[Phase][]Phase{
	Idle:       {Analyzing, Failed},
	Analyzing:  {Importing, Failed, Cancelled},
	Importing:  {Finalizing, Failed, Cancelled},
	Finalizing: {Completed, Failed},
	Completed:  {Idle},
	Failed:     {Idle},
	Cancelled:  {Idle},
}

// Terminal reports whether p ends a run.
func (p Phase) Terminal() bool {
	return p == Completed || p == Failed || p == Cancelled
}

// Machine enforces the phase order of a single run.
type Machine struct {
	mu      sync.RWMutex
	current Phase
	bus     *bus.Bus
}

// NewMachine creates a machine in the Idle phase. b may be nil.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Idle,
		bus:     b,
	}
}

// Current returns the current phase.
func (m *Machine) Current() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition moves to the given phase or returns an error if the move is not
// allowed from the current one.
func (m *Machine) Transition(to Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Emit(bus.ImportStatusChanged, PhaseChange{From: from, To: to})
	return nil
}

// PhaseChange is the payload of import.status_changed events.
type PhaseChange struct {
	From Phase
	To   Phase
}
