package core

import "github.com/weftlabs/weft/src/message"

// StatusKind enumerates the out-of-band events an endpoint reports.
type StatusKind uint8

const (
	// PeerAdded fires when a peering handshake completes.
	PeerAdded StatusKind = iota
	// PeerRemoved fires on graceful unpeering.
	PeerRemoved
	// PeerLost fires when a peer drops without a goodbye.
	PeerLost
	// PeerUnavailable fires when a handshake cannot complete.
	PeerUnavailable
	// CannotRemovePeer fires when unpeering targets an unknown handle.
	CannotRemovePeer
)

var statusKinds = []string{"peer_added", "peer_removed", "peer_lost",
	"peer_unavailable", "cannot_remove_peer"}

// String returns the snake_case name of the kind.
func (k StatusKind) String() string {
	return statusKinds[k]
}

// StatusEvent is one entry on the endpoint's status channel.
type StatusEvent struct {
	Kind   StatusKind
	Addr   string
	ID     message.EntityID
	Reason string
}
