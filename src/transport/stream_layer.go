package transport

import (
	"crypto/tls"
	"errors"
	"net"
	"time"
)

var (
	errNotAdvertisable = errors.New("local bind address is not advertisable")
	errNotTCP          = errors.New("local address is not a TCP address")
)

// StreamLayer is the connection-oriented abstraction beneath the TCP
// conduit, so that the same conduit runs over plain TCP or TLS.
type StreamLayer interface {
	net.Listener

	// Dial is used to create a new outgoing connection.
	Dial(address string, timeout time.Duration) (net.Conn, error)

	// AdvertiseAddr is the address peers should dial back.
	AdvertiseAddr() string
}

// TCPStreamLayer implements StreamLayer for plain TCP.
type TCPStreamLayer struct {
	advertise string
	listener  *net.TCPListener
}

// NewTCPStreamLayer binds a TCP listener on bindAddr. The advertise
// address, when set, overrides the bind address in handshakes.
func NewTCPStreamLayer(bindAddr string, advertise string) (*TCPStreamLayer, error) {
	list, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}

	stream := &TCPStreamLayer{
		advertise: advertise,
		listener:  list.(*net.TCPListener),
	}

	// Verify that we have a usable advertise address
	addr, ok := stream.listener.Addr().(*net.TCPAddr)
	if !ok {
		list.Close()
		return nil, errNotTCP
	}
	if addr.IP.IsUnspecified() && advertise == "" {
		list.Close()
		return nil, errNotAdvertisable
	}
	return stream, nil
}

// Dial implements the StreamLayer interface.
func (t *TCPStreamLayer) Dial(address string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", address, timeout)
}

// Accept implements the net.Listener interface.
func (t *TCPStreamLayer) Accept() (net.Conn, error) {
	return t.listener.Accept()
}

// Close implements the net.Listener interface.
func (t *TCPStreamLayer) Close() error {
	return t.listener.Close()
}

// Addr implements the net.Listener interface.
func (t *TCPStreamLayer) Addr() net.Addr {
	return t.listener.Addr()
}

// AdvertiseAddr implements the StreamLayer interface.
func (t *TCPStreamLayer) AdvertiseAddr() string {
	if t.advertise != "" {
		return t.advertise
	}
	return t.listener.Addr().String()
}

// TLSStreamLayer wraps a TCP stream layer with TLS on both directions.
type TLSStreamLayer struct {
	*TCPStreamLayer
	config *tls.Config
}

// NewTLSStreamLayer ...
func NewTLSStreamLayer(bindAddr string, advertise string, config *tls.Config) (*TLSStreamLayer, error) {
	inner, err := NewTCPStreamLayer(bindAddr, advertise)
	if err != nil {
		return nil, err
	}
	return &TLSStreamLayer{TCPStreamLayer: inner, config: config}, nil
}

// Dial implements the StreamLayer interface.
func (t *TLSStreamLayer) Dial(address string, timeout time.Duration) (net.Conn, error) {
	conn, err := t.TCPStreamLayer.Dial(address, timeout)
	if err != nil {
		return nil, err
	}
	return tls.Client(conn, t.config), nil
}

// Accept implements the net.Listener interface.
func (t *TLSStreamLayer) Accept() (net.Conn, error) {
	conn, err := t.TCPStreamLayer.Accept()
	if err != nil {
		return nil, err
	}
	return tls.Server(conn, t.config), nil
}
