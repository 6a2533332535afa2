// Package presence defines the presence event catalogue, the notices the
// hub relays to class rooms and the per-connection presence state machine.
package presence

import (
	"encoding/json"
	"time"

	"socialwall/pkg/types"
)

// Client to server events.
const (
	EventTypingStart   = "typing:start"
	EventTypingStop    = "typing:stop"
	EventUserActive    = "user:active"
	EventUserIdle      = "user:idle"
	EventAuthenticated = "authenticated"
)

// Server to client events.
const (
	EventUserJoined        = "user:joined"
	EventUserLeft          = "user:left"
	EventUserTyping        = "user:typing"
	EventUserStoppedTyping = "user:stopped_typing"
	EventStatusChanged     = "user:status_changed"
)

// Status values carried by user:status_changed.
const (
	StatusActive = "active"
	StatusIdle   = "idle"
)

// Notice is the payload of every presence event sent to a room.
type Notice struct {
	Type      string          `json:"type"`
	ClassID   string          `json:"classId"`
	User      types.User      `json:"user"`
	Timestamp time.Time       `json:"timestamp"`
	Context   json.RawMessage `json:"context,omitempty"`
	Status    string          `json:"status,omitempty"`
}

// Signal describes how a client event is relayed.
type Signal struct {
	Relay           string
	Status          string
	CarriesContext  bool
	RefreshActivity bool
}

var signals = map[string]Signal{
	EventTypingStart: {Relay: EventUserTyping, CarriesContext: true, RefreshActivity: true},
	EventTypingStop:  {Relay: EventUserStoppedTyping, CarriesContext: true, RefreshActivity: true},
	EventUserActive:  {Relay: EventStatusChanged, Status: StatusActive, RefreshActivity: true},
	EventUserIdle:    {Relay: EventStatusChanged, Status: StatusIdle},
}

// LookupSignal returns the relay rule of a client event. The authenticated
// milestone is not a relayed signal.
func LookupSignal(event string) (Signal, bool) {
	s, ok := signals[event]
	return s, ok
}

// IsClientEvent reports whether event may be sent by clients.
func IsClientEvent(event string) bool {
	_, ok := signals[event]
	return ok || event == EventAuthenticated
}

// Joined builds the user:joined notice.
func Joined(classID string, user types.User, at time.Time) Notice {
	return Notice{Type: EventUserJoined, ClassID: classID, User: user, Timestamp: at}
}

// Left builds the user:left notice.
func Left(classID string, user types.User, at time.Time) Notice {
	return Notice{Type: EventUserLeft, ClassID: classID, User: user, Timestamp: at}
}

// Relay builds the notice relayed for a client signal.
func Relay(s Signal, classID string, user types.User, at time.Time, context json.RawMessage) Notice {
	n := Notice{Type: s.Relay, ClassID: classID, User: user, Timestamp: at, Status: s.Status}
	if s.CarriesContext && len(context) > 0 {
		n.Context = context
	}
	return n
}
