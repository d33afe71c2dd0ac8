package common

import "fmt"

// ErrCode classifies the errors surfaced by the messaging engine.
type ErrCode uint32

const (
	// KeyNotFound is returned by store lookups on absent keys.
	KeyNotFound ErrCode = iota
	// InvalidArgument means a nil or malformed handle was supplied.
	InvalidArgument
	// CannotAddDownstream means a stream setup was refused.
	CannotAddDownstream
	// PeerAlreadyConnected is the idempotent-peering outcome. Callers
	// treat it as success; it is surfaced at debug level only.
	PeerAlreadyConnected
	// InvalidStreamState means a handshake failed after ack-open.
	InvalidStreamState
	// TTLExpired means a node message ran out of hops.
	TTLExpired
	// PeerUnavailable means a handshake could not complete because the
	// remote went down mid-way.
	PeerUnavailable
	// StoreUninitialized means a clone was read before it received its
	// snapshot from the master.
	StoreUninitialized
	// TransportShutdown means an operation was invoked on a terminated
	// transport.
	TransportShutdown
	// Timeout means a synchronous request ran out of time.
	Timeout
	// TypeMismatch means a store command could not be applied to the
	// current value, e.g. adding a string delta to an integer.
	TypeMismatch
)

// WeftErr carries an error code, the component that raised it, and an
// optional detail string.
type WeftErr struct {
	component string
	code      ErrCode
	detail    string
}

// NewWeftErr ...
func NewWeftErr(component string, code ErrCode, detail string) WeftErr {
	return WeftErr{
		component: component,
		code:      code,
		detail:    detail,
	}
}

// Error ...
func (e WeftErr) Error() string {
	m := ""
	switch e.code {
	case KeyNotFound:
		m = "No Such Key"
	case InvalidArgument:
		m = "Invalid Argument"
	case CannotAddDownstream:
		m = "Cannot Add Downstream"
	case PeerAlreadyConnected:
		m = "Peer Already Connected"
	case InvalidStreamState:
		m = "Invalid Stream State"
	case TTLExpired:
		m = "TTL Expired"
	case PeerUnavailable:
		m = "Peer Unavailable"
	case StoreUninitialized:
		m = "Store Uninitialized"
	case TransportShutdown:
		m = "Transport Shutdown"
	case Timeout:
		m = "Timeout"
	case TypeMismatch:
		m = "Type Mismatch"
	}

	return fmt.Sprintf("%s, %s, %s", e.component, e.detail, m)
}

// Is checks that an error is a WeftErr and that its code matches the
// provided code.
func Is(err error, code ErrCode) bool {
	weftErr, ok := err.(WeftErr)
	return ok && weftErr.code == code
}
