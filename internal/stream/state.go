package stream

type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Status is the read-only view the dashboard polls. Attempts counts
// failed connection attempts since the last successful open.
type Status struct {
	Provider  string          `json:"provider"`
	State     ConnectionState `json:"-"`
	StateName string          `json:"state"`
	Endpoint  string          `json:"endpoint"`
	Fallback  bool            `json:"fallback"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"lastError,omitempty"`
}
