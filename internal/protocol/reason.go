package protocol

// DisconnectReason tells a client-requested close apart from a lost channel.
// Only ClientRequested triggers a session reset.
type DisconnectReason int

const (
	NetworkLost DisconnectReason = iota
	ClientRequested
	ServerClosed
	Timeout
)

func (r DisconnectReason) String() string {
	switch r {
	case ClientRequested:
		return "io client disconnect"
	case ServerClosed:
		return "io server disconnect"
	case Timeout:
		return "ping timeout"
	default:
		return "transport close"
	}
}

// ParseDisconnectReason maps the textual reasons used by socket-style
// transports onto the tagged variant. Unknown strings count as NetworkLost.
func ParseDisconnectReason(s string) DisconnectReason {
	switch s {
	case "io client disconnect":
		return ClientRequested
	case "io server disconnect":
		return ServerClosed
	case "ping timeout":
		return Timeout
	default:
		return NetworkLost
	}
}

// ResetsSession reports whether the reason starts a fresh logical session.
func (r DisconnectReason) ResetsSession() bool {
	return r == ClientRequested
}
