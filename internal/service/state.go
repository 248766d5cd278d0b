package service

import "fmt"

// State of a call.
type State int

const (
	StateCreated State = iota
	StatePrepared
	StateSent
	StateDecoded
	StateRecorded
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateCreated:  "created",
	StatePrepared: "prepared",
	StateSent:     "sent",
	StateDecoded:  "decoded",
	StateRecorded: "recorded",
	StateDone:     "done",
	StateFailed:   "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// next is the single forward edge out of each non-terminal state.
var next = map[State]State{
	StateCreated:  StatePrepared,
	StatePrepared: StateSent,
	StateSent:     StateDecoded,
	StateDecoded:  StateRecorded,
	StateRecorded: StateDone,
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return next[from] == to
}

// machine tracks one call's progress.
type machine struct {
	state   State
	history []State
}

func newMachine() *machine {
	return &machine{state: StateCreated, history: []State{StateCreated}}
}

func (m *machine) to(s State) error {
	if !CanTransition(m.state, s) {
		return fmt.Errorf("illegal transition %s -> %s", m.state, s)
	}
	m.state = s
	m.history = append(m.history, s)
	return nil
}

// advance moves along an edge of the success path. The engine never
// requests an illegal edge, so one is a bug and panics.
func (m *machine) advance(s State) {
	if err := m.to(s); err != nil {
		panic(err)
	}
}

func (m *machine) fail() {
	if !m.state.Terminal() {
		m.state = StateFailed
		m.history = append(m.history, StateFailed)
	}
}
