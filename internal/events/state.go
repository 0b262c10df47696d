package events

// State is the connection state of one device task.
type State int32

// Task states. Cancelled is terminal.
const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateReceiving
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateReceiving:
		return "receiving"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name, so maps of states encode readably.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Observer receives task lifecycle notifications. Implementations must be
// safe for concurrent use and must not block.
type Observer interface {
	StateChanged(deviceID string, from, to State)
	ConnectFailed(deviceID string)
	EventForwarded(deviceID string)
}

type noopObserver struct{}

func (noopObserver) StateChanged(string, State, State) {}
func (noopObserver) ConnectFailed(string)              {}
func (noopObserver) EventForwarded(string)             {}
