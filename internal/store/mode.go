package store

// Mode selects the lifetime and naming behaviour of a created node.
type Mode int

const (
	// Persistent nodes survive the creating session.
	Persistent Mode = iota
	// Ephemeral nodes are tied to the adapter's lease and disappear when
	// the lease expires without a keepalive — the session-loss signal
	// the rest of the cluster treats as authoritative failure.
	Ephemeral
	// EphemeralSequential is Ephemeral plus a monotonically increasing
	// suffix appended to the requested path, emulating zk's sequential
	// create since etcd has no native equivalent.
	EphemeralSequential
)

func (m Mode) String() string {
	switch m {
	case Persistent:
		return "persistent"
	case Ephemeral:
		return "ephemeral"
	case EphemeralSequential:
		return "ephemeral-sequential"
	default:
		return "unknown"
	}
}

// SessionEventType distinguishes the two events SubscribeSessionEvents
// ever delivers.
type SessionEventType int

const (
	Disconnected SessionEventType = iota
	Reconnected
)

// SessionEvent is delivered to SubscribeSessionEvents handlers.
type SessionEvent struct {
	Type SessionEventType
}
