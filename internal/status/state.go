package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Novaisolutions/TOI-MONITOR-sub001/internal/bus"
)

// State represents the health of the update delivery path.
type State string

const (
	// Starting: engine booting, nothing subscribed yet.
	Starting State = "STARTING"
	// Live: the change feed is subscribed and delivering events.
	Live State = "LIVE"
	// Degraded: the change feed is down; polling carries all updates.
	Degraded State = "DEGRADED"
	// Stopped: engine shut down.
	Stopped State = "STOPPED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Starting: {Live, Degraded, Stopped},
	Live:     {Degraded, Stopped},
	Degraded: {Live, Stopped},
	Stopped:  {Starting},
}

// Machine tracks and enforces feed health transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Starting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Starting,
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
// Transitioning to the current state is a no-op.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == m.current {
		return nil
	}
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
	From State
	To   State
}
