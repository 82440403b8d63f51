package link

// State is the connection state of a link.
type State int32

// Link states. Exhausted is terminal.
const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Exhausted
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}
