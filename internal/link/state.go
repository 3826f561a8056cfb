// internal/link/state.go
package link

// State is the connection lifecycle state. Only one connection is live per Machine.
type State uint8

const (
	Disconnected State = iota
	Scanning
	Connecting
	Connected
	Disconnecting
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Scanning:
		return "scanning"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	case Error:
		return "error"
	default:
		return "invalid"
	}
}

// MarshalText renders the state name in JSON status payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
