// Package stream owns the life of one active sender/receiver connection:
// the session state machine, the pump goroutines moving frames between the
// capture/network/playback stages, the jitter buffer smoothing arrival
// timing into steady playback, and the connect handshake.
package stream

// Status is the connection state surfaced to the UI collaborator.
type Status int

const (
	// StatusIdle means no resources are held.
	StatusIdle Status = iota
	// StatusListening means a receiver is bound, its code is published,
	// and it is awaiting a connection.
	StatusListening
	// StatusConnecting means discovery or the link handshake is in
	// progress on the sender side.
	StatusConnecting
	// StatusConnected means bidirectional frame flow is active. Only in
	// this state are the audio source and sink actively pulled/pushed.
	StatusConnected
	// StatusDisconnected means the link was lost or the peer stopped.
	StatusDisconnected
	// StatusError means an unrecoverable failure occurred; the reason
	// accompanies the transition.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusListening:
		return "listening"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Role distinguishes the two ends of a session.
type Role int

const (
	RoleSender Role = iota
	RoleReceiver
)

func (r Role) String() string {
	if r == RoleSender {
		return "sender"
	}
	return "receiver"
}

// StatusFunc receives status transitions. The reason is empty except for
// StatusError and informational disconnects. Callbacks are invoked from
// the session's control flow; keep them fast.
type StatusFunc func(status Status, reason string)
