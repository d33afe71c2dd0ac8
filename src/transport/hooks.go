package transport

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/weftlabs/weft/src/message"
	"github.com/weftlabs/weft/src/topic"
)

// CoreHooks is the transport's view of the core that drives it. The
// transport calls back into the core for local delivery, routing
// state, and peer lifecycle notifications.
type CoreHooks interface {
	// Filter returns the filter the endpoint advertises to its peers:
	// its local subscriptions and store channels, plus the peers'
	// filters when forwarding is on.
	Filter() topic.Filter

	// Options returns the engine's control toggles.
	Options() *Options

	// Cache returns the routing cache mapping conduit addresses to
	// endpoint ids.
	Cache() *lru.Cache[string, message.EndpointID]

	// AddPeerFilter folds a peer's filter into the core's routing
	// state.
	AddPeerFilter(f topic.Filter)

	// PeerConnected fires when a handshake completes.
	PeerConnected(id message.EntityID, addr string)

	// PeerRemoved fires on graceful removal.
	PeerRemoved(id message.EntityID, addr string)

	// PeerDisconnected fires on non-graceful removal.
	PeerDisconnected(id message.EntityID, addr string, reason string)

	// PeerUnavailable fires when a handshake cannot complete.
	PeerUnavailable(addr string)

	// CannotRemovePeer fires when removal targets an unknown handle.
	CannotRemovePeer(addr string)

	// ShipData delivers a data message to matching local subscribers.
	ShipData(dm message.DataMessage, sender message.EntityID)

	// ShipCommand delivers a command message to matching local stores.
	ShipCommand(cm message.CommandMessage, sender message.EntityID)

	// ShuttingDown reports whether the endpoint is winding down.
	ShuttingDown() bool
}
