package message

import "fmt"

// EndpointID identifies an endpoint across the overlay: the 32-bit
// hash of the endpoint's public key. Zero is reserved for "no
// endpoint".
type EndpointID uint32

// EntityID names a publisher, store instance, or similar local object:
// the hosting endpoint plus a local 64-bit counter. The endpoint uses
// object 0 when referring to itself.
type EntityID struct {
	Endpoint EndpointID
	Object   uint64
}

// NoneEntity returns the invalid entity id.
func NoneEntity() EntityID {
	return EntityID{}
}

// EndpointEntity returns the entity id an endpoint uses for itself.
func EndpointEntity(endpoint EndpointID) EntityID {
	return EntityID{Endpoint: endpoint}
}

// IsNone reports whether the id is invalid, i.e. carries no endpoint.
func (e EntityID) IsNone() bool {
	return e.Endpoint == 0
}

// Less orders entity ids lexicographically on (endpoint, object).
func (e EntityID) Less(other EntityID) bool {
	if e.Endpoint != other.Endpoint {
		return e.Endpoint < other.Endpoint
	}
	return e.Object < other.Object
}

// String ...
func (e EntityID) String() string {
	if e.IsNone() {
		return "none"
	}
	return fmt.Sprintf("%d/%d", e.Endpoint, e.Object)
}
