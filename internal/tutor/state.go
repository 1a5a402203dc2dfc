package tutor

import "fmt"

// State is the lifecycle state of a [Controller].
type State int

const (
	// StateIdle is the initial state before any connect.
	StateIdle State = iota

	// StateConnecting covers the handshake and device acquisition.
	StateConnecting

	// StateOpen means capture and playback are live.
	StateOpen

	// StateClosed is reached on an orderly disconnect or remote close.
	StateClosed

	// StateError is reached when connecting or the open session failed. The
	// failure is available from [Snapshot.Error].
	StateError
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler so states render as names
// in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// active reports whether a session exists in this state.
func (s State) active() bool {
	return s == StateConnecting || s == StateOpen
}
