package hrlive

// ConnectionState represents the current state of the real-time connection.
type ConnectionState int

const (
	// StateDisconnected means there is no transport and no connection attempt in flight.
	StateDisconnected ConnectionState = iota

	// StateConnecting means a dial (first attempt or reconnection) is in progress.
	StateConnecting

	// StateConnected means the transport is up and events are flowing.
	StateConnected

	// StateError means the last connection attempt failed.
	StateError
)

// String returns the string representation of a ConnectionState.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// StateEvent represents a state change event.
type StateEvent struct {
	OldState ConnectionState
	NewState ConnectionState
	Error    error // Optional error that caused the state change
	Attempt  int   // Reconnection attempt number, 0 for an explicit Open
}
