package session

import "fmt"

// State is the lifecycle state of a Session
type State string

const (
	StateConnecting   State = "connecting"
	StateActive       State = "active"
	StateAccumulating State = "accumulating"
	StatePersisting   State = "persisting"
	StateStopped      State = "stopped"
)

// Trigger is a named input to the Machine
type Trigger string

const (
	TriggerConnected     Trigger = "connected"
	TriggerConnectFailed Trigger = "connect_failed"
	TriggerTurnActivity  Trigger = "turn_activity"
	TriggerTurnComplete  Trigger = "turn_complete"
	TriggerFlushed       Trigger = "flushed"
	TriggerReconnect     Trigger = "reconnect"
	TriggerStop          Trigger = "stop"
)

// ErrInvalidTransition is returned when a trigger does not apply to the current state
type ErrInvalidTransition struct {
	From    State
	Trigger Trigger
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid transition: %s on %s", e.Trigger, e.From)
}

// Machine is the session state machine. It counts flushes in flight so that
// Persisting only returns to Active once every queued turn has been written.
// Not safe for concurrent use; the session event loop owns it.
type Machine struct {
	state    State
	inflight int
}

// NewMachine returns a machine in StateConnecting
func NewMachine() *Machine {
	return &Machine{state: StateConnecting}
}

// State returns the current state
func (m *Machine) State() State {
	return m.state
}

// InFlight returns the number of turns queued for persistence
func (m *Machine) InFlight() int {
	return m.inflight
}

// Fire applies a trigger and returns the new state.
func (m *Machine) Fire(t Trigger) (State, error) {
	if m.state == StateStopped {
		return m.state, ErrInvalidTransition{From: m.state, Trigger: t}
	}
	if t == TriggerStop {
		m.state = StateStopped
		return m.state, nil
	}

	next, ok := m.next(t)
	if !ok {
		return m.state, ErrInvalidTransition{From: m.state, Trigger: t}
	}
	m.state = next
	return m.state, nil
}

func (m *Machine) next(t Trigger) (State, bool) {
	switch t {
	case TriggerConnected:
		if m.state != StateConnecting {
			return "", false
		}
		return m.idle(), true

	case TriggerConnectFailed:
		if m.state != StateConnecting {
			return "", false
		}
		return StateStopped, true

	case TriggerTurnActivity:
		if m.state == StateConnecting {
			return "", false
		}
		return StateAccumulating, true

	case TriggerTurnComplete:
		switch m.state {
		case StateAccumulating:
			m.inflight++
			return StatePersisting, true
		case StateActive, StatePersisting:
			// Nothing new to persist
			return m.state, true
		}
		return "", false

	case TriggerFlushed:
		if m.inflight == 0 {
			return "", false
		}
		m.inflight--
		if m.state == StatePersisting {
			return m.idle(), true
		}
		return m.state, true

	case TriggerReconnect:
		if m.state == StateAccumulating {
			// The partial turn is flushed before the adapter restarts
			m.inflight++
		}
		return StateConnecting, true
	}
	return "", false
}

// idle is Active, or Persisting while flushes are outstanding
func (m *Machine) idle() State {
	if m.inflight > 0 {
		return StatePersisting
	}
	return StateActive
}
