package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/duet/internal/bus"
)

// State represents the push-channel connection state.
type State string

const (
	Idle         State = "IDLE"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Reconnecting State = "RECONNECTING"
	Closed       State = "CLOSED"
)

// validTransitions defines allowed state transitions. Closed is terminal.
var validTransitions = map[State][]State{
	Idle:         {Connecting, Closed},
	Connecting:   {Connected, Idle, Closed},
	Connected:    {Reconnecting, Idle, Closed},
	Reconnecting: {Connected, Idle, Closed},
	Closed:       {},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	since   time.Time
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Idle state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Idle,
		since:   time.Now(),
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Since returns when the current state was entered.
func (m *Machine) Since() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.since
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to)
}

// TransitionFrom moves to a new state only if the machine is currently in from.
// It reports whether the transition happened.
func (m *Machine) TransitionFrom(from, to State) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != from {
		return false, nil
	}
	if err := m.transitionLocked(to); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Machine) transitionLocked(to State) error {
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.since = time.Now()
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindChannelStateChanged,
			Timestamp: m.since,
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for state change events.
type StatusChange struct {
	From State `json:"from"`
	To   State `json:"to"`
}
