package session

import "errors"

// ErrSessionClosed is returned by Exchange once the owning context has
// closed the session, or after the transport underneath it went away.
var ErrSessionClosed = errors.New("session closed")

// State represents what state a connection handle is currently in.
type State int

const (
	StateActive       State = iota // 0 - transport up, exchanges allowed
	StateDisconnected              // 1 - transport dropped underneath us, terminal
	StateClosed                    // 2 - owner closed the session, terminal
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// isValidTransition defines which state changes are legal.
// Both Disconnected and Closed are terminal; a new connect builds a new handle.
func isValidTransition(from, to State) bool {
	allowed := map[State][]State{
		StateActive:       {StateDisconnected, StateClosed},
		StateDisconnected: {}, // terminal, no exits
		StateClosed:       {}, // terminal, no exits
	}

	for _, valid := range allowed[from] {
		if to == valid {
			return true
		}
	}
	return false
}
