// Package session drives one realtime conversation: it owns the connection,
// the capture pipeline and the state machine that ties them together.
package session

// State is a session's lifecycle state. A session moves strictly forward:
// Idle, Connecting, Active, Stopping, Stopped. Connecting and Idle may skip
// straight to Stopping or Stopped.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Live reports whether the session holds, or is acquiring, a connection.
func (s State) Live() bool {
	return s == StateConnecting || s == StateActive
}
