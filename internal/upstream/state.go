package upstream

// ConnState is the Upstream Feed Client's connection state machine,
// per spec.md §4.3.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateAuthenticating
	StateLive
	StateDraining
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateLive:
		return "live"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}
