package presence

import "fmt"

// State is the presence state of one connection.
type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateJoined
	StateActive
	StateIdle
	StateDisconnected
)

var stateNames = map[State]string{
	StateConnecting:    "CONNECTING",
	StateAuthenticated: "AUTHENTICATED",
	StateJoined:        "JOINED",
	StateActive:        "ACTIVE",
	StateIdle:          "IDLE",
	StateDisconnected:  "DISCONNECTED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var transitions = map[State][]State{
	StateConnecting:    {StateAuthenticated, StateDisconnected},
	StateAuthenticated: {StateJoined, StateActive, StateIdle, StateDisconnected},
	StateJoined:        {StateActive, StateIdle, StateDisconnected},
	StateActive:        {StateActive, StateIdle, StateDisconnected},
	StateIdle:          {StateActive, StateIdle, StateDisconnected},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Next applies the effect of a client event on the current state.
// Unrelated events leave the state unchanged.
func Next(current State, event string) State {
	var to State
	switch event {
	case EventTypingStart, EventTypingStop, EventUserActive:
		to = StateActive
	case EventUserIdle:
		to = StateIdle
	default:
		return current
	}
	if CanTransition(current, to) {
		return to
	}
	return current
}
