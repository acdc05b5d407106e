package relay

// State is a connection's position in its lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateUpgrading
	StateAwaitingIdentity
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateUpgrading:
		return "upgrading"
	case StateAwaitingIdentity:
		return "awaiting-identity"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
