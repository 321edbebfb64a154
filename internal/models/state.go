package models

// ConnState is the lifecycle state of a live client connection.
// Connecting → Authenticated → Closed, or Connecting → Closed when the
// handshake fails. A reconnect is always a new connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAuthenticated
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Identity is an authenticated user as derived from server-side session state
type Identity struct {
	UserID    string `json:"userId"`
	UserEmail string `json:"userEmail"`
}
