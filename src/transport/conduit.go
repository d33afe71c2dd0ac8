package transport

// Envelope is a protocol message together with the conduit address it
// arrived from.
type Envelope struct {
	From string
	Msg  ProtocolMessage
}

// Conduit is the byte carrier between transports. How bytes move is
// out of scope for the engine; the transport only needs addressed,
// ordered, reliable delivery of protocol messages.
type Conduit interface {
	// Consumer returns a channel that can be used to consume
	// incoming protocol messages.
	Consumer() <-chan Envelope

	// LocalAddr is used to return our local address to distinguish
	// from our peers.
	LocalAddr() string

	// Send delivers a protocol message to the target address. It
	// fails when the target is unreachable.
	Send(target string, msg ProtocolMessage) error

	// Close permanently shuts the conduit down.
	Close() error
}
