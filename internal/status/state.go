package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/campussublets/subletd/internal/bus"
)

// State represents the change-feed connection state.
type State string

const (
	Booting    State = "BOOTING"
	Connecting State = "CONNECTING"
	Live       State = "LIVE"
	Retrying   State = "RETRYING"
	Degraded   State = "DEGRADED"
	Stopped    State = "STOPPED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:    {Connecting, Stopped},
	Connecting: {Live, Retrying, Degraded, Stopped},
	Live:       {Retrying, Connecting, Stopped},
	Retrying:   {Connecting, Degraded, Stopped},
	Degraded:   {Connecting, Stopped},
	Stopped:    {},
}

// Machine is a validated feed-state machine that publishes transitions
// on the bus.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindFeedStatusChanged,
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for feed status change events.
type StatusChange struct {
	From State `json:"from"`
	To   State `json:"to"`
}
