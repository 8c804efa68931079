package game

import (
	"errors"
	"fmt"
)

type State string

const (
	StateCreated            State = "created"
	StateAwaitingCommitment State = "awaiting_commitment"
	StateReady              State = "ready"
	StateChatting           State = "chatting"
	StateAwaitingAnswer     State = "awaiting_answer"
	StateResolved           State = "resolved"
	StateCancelled          State = "cancelled"
)

func (s State) Terminal() bool { return s == StateResolved || s == StateCancelled }

type Event string

const (
	EventInitialization         Event = "initialization"
	EventCommitmentAcknowledged Event = "commitment_acknowledged"
	EventInitializationFailed   Event = "initialization_failed"
	EventChat                   Event = "chat"
	EventAnswer                 Event = "answer"
	EventResolve                Event = "resolve"
	EventDisconnect             Event = "disconnect"

	// EventMalformed is a frame that could not be decoded. No state accepts it.
	EventMalformed Event = "malformed_frame"
)

const DefaultMaxViolations = 3

var transitions = map[State]map[Event]State{
	StateCreated: {
		EventInitialization: StateAwaitingCommitment,
	},
	StateAwaitingCommitment: {
		EventCommitmentAcknowledged: StateReady,
		EventInitializationFailed:   StateCreated,
	},
	StateReady: {
		EventChat:   StateChatting,
		EventAnswer: StateAwaitingAnswer,
	},
	StateChatting: {
		EventChat:   StateChatting,
		EventAnswer: StateAwaitingAnswer,
	},
	StateAwaitingAnswer: {
		EventResolve: StateResolved,
	},
}

var ErrProtocol = errors.New("game: protocol error")

// ProtocolError rejects an event that is not legal in the current state.
type ProtocolError struct {
	Event      Event
	State      State
	Violations int
	// Concluded is set when the session was already terminal.
	Concluded bool
	// Cancelled is set when this violation exhausted the session's budget.
	Cancelled bool
}

func (e *ProtocolError) Error() string {
	if e.Concluded {
		return fmt.Sprintf("game: %s rejected: session already %s", e.Event, e.State)
	}
	return fmt.Sprintf("game: %s not allowed in state %s", e.Event, e.State)
}

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// Machine holds one session's protocol state. It is not safe for concurrent
// use; the owning coordinator serializes access.
type Machine struct {
	state         State
	violations    int
	maxViolations int
	initialized   int
}

func NewMachine(maxViolations int) *Machine {
	if maxViolations <= 0 {
		maxViolations = DefaultMaxViolations
	}
	return &Machine{state: StateCreated, maxViolations: maxViolations}
}

func (m *Machine) State() State { return m.state }

func (m *Machine) Violations() int { return m.violations }

// Initializations counts initializations that reached Ready.
func (m *Machine) Initializations() int { return m.initialized }

// Fire applies ev. Illegal events leave the state unchanged and count as a
// violation; past the violation bound the session is cancelled.
func (m *Machine) Fire(ev Event) (State, error) {
	if m.state.Terminal() {
		return m.state, &ProtocolError{Event: ev, State: m.state, Violations: m.violations, Concluded: true}
	}
	if ev == EventDisconnect {
		m.state = StateCancelled
		return m.state, nil
	}

	next, ok := transitions[m.state][ev]
	if !ok {
		m.violations++
		perr := &ProtocolError{Event: ev, State: m.state, Violations: m.violations}
		if m.violations > m.maxViolations {
			m.state = StateCancelled
			perr.Cancelled = true
		}
		return m.state, perr
	}

	if ev == EventCommitmentAcknowledged {
		m.initialized++
	}
	m.state = next
	return m.state, nil
}
