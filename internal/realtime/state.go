package realtime

import "time"

// State is the connection manager's lifecycle state. Exactly one is active.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateErroring
	StateWaiting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateErroring:
		return "error"
	case StateWaiting:
		return "waiting"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Event types published on the bus.
const (
	EventState      = "realtime.state"
	EventAdded      = "notification.added"
	EventSuppressed = "notification.suppressed"
	EventRemoved    = "notification.removed"
	EventCleared    = "notification.cleared"
)

// StateChange is the Data of an EventState event.
type StateChange struct {
	From     State     `json:"from"`
	To       State     `json:"to"`
	Failures int       `json:"failures"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}
