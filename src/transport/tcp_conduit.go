package transport

import (
	"bufio"
	"math"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"

	"github.com/weftlabs/weft/src/common"
)

const (
	// we need a high buffer size to keep large batches in one flush
	bufSize = math.MaxUint16
)

// frame is what actually travels on a connection: the sender's
// advertised address plus one encoded protocol message. The remote TCP
// address is an ephemeral port, so the dial-back address has to ride
// along.
type frame struct {
	From    string
	Payload []byte
}

type tcpConn struct {
	target string
	conn   net.Conn
	w      *bufio.Writer
	enc    *codec.Encoder
}

func (c *tcpConn) release() error {
	return c.conn.Close()
}

// TCPConduit carries protocol messages over a stream layer. Each
// target gets one persistent connection so delivery stays ordered.
type TCPConduit struct {
	logger *logrus.Entry

	stream StreamLayer

	connLock sync.Mutex
	conns    map[string]*tcpConn

	consumeCh chan Envelope

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex

	timeout time.Duration
}

// NewTCPConduit creates a conduit on top of the given stream layer and
// starts its accept loop.
func NewTCPConduit(stream StreamLayer, timeout time.Duration, logger *logrus.Entry) *TCPConduit {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	c := &TCPConduit{
		logger:     logger,
		stream:     stream,
		conns:      map[string]*tcpConn{},
		consumeCh:  make(chan Envelope, 4096),
		shutdownCh: make(chan struct{}),
		timeout:    timeout,
	}

	go c.listen()

	return c
}

// Consumer implements the Conduit interface.
func (c *TCPConduit) Consumer() <-chan Envelope {
	return c.consumeCh
}

// LocalAddr implements the Conduit interface.
func (c *TCPConduit) LocalAddr() string {
	return c.stream.AdvertiseAddr()
}

// IsShutdown ...
func (c *TCPConduit) IsShutdown() bool {
	select {
	case <-c.shutdownCh:
		return true
	default:
		return false
	}
}

// Send implements the Conduit interface.
func (c *TCPConduit) Send(target string, msg ProtocolMessage) error {
	if c.IsShutdown() {
		return common.NewWeftErr("tcp", common.TransportShutdown,
			"conduit is shut down")
	}

	payload, err := EncodeProtocolMessage(msg)
	if err != nil {
		return err
	}

	conn, err := c.getConn(target)
	if err != nil {
		return common.NewWeftErr("tcp", common.PeerUnavailable, err.Error())
	}

	if c.timeout > 0 {
		conn.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}

	if err := conn.enc.Encode(frame{From: c.LocalAddr(), Payload: payload}); err != nil {
		c.dropConn(target, conn)
		return err
	}
	if err := conn.w.Flush(); err != nil {
		c.dropConn(target, conn)
		return err
	}
	return nil
}

func (c *TCPConduit) getConn(target string) (*tcpConn, error) {
	c.connLock.Lock()
	defer c.connLock.Unlock()

	if conn, ok := c.conns[target]; ok {
		return conn, nil
	}

	raw, err := c.stream.Dial(target, c.timeout)
	if err != nil {
		return nil, err
	}

	w := bufio.NewWriterSize(raw, bufSize)
	jh := new(codec.JsonHandle)
	conn := &tcpConn{
		target: target,
		conn:   raw,
		w:      w,
		enc:    codec.NewEncoder(w, jh),
	}
	c.conns[target] = conn
	return conn, nil
}

func (c *TCPConduit) dropConn(target string, conn *tcpConn) {
	c.connLock.Lock()
	defer c.connLock.Unlock()
	if c.conns[target] == conn {
		delete(c.conns, target)
	}
	conn.release()
}

// listen accepts incoming connections and decodes frames off each.
func (c *TCPConduit) listen() {
	for {
		conn, err := c.stream.Accept()
		if err != nil {
			if c.IsShutdown() {
				return
			}
			c.logger.WithError(err).Error("Failed to accept connection")
			continue
		}
		c.logger.WithFields(logrus.Fields{
			"node": c.LocalAddr(),
			"from": conn.RemoteAddr().String(),
		}).Debug("Accepted connection")

		go c.handleConn(conn)
	}
}

func (c *TCPConduit) handleConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReaderSize(conn, bufSize)
	jh := new(codec.JsonHandle)
	dec := codec.NewDecoder(r, jh)

	for {
		var f frame
		if err := dec.Decode(&f); err != nil {
			if !c.IsShutdown() {
				c.logger.WithError(err).Debug("Connection closed")
			}
			return
		}
		msg, err := DecodeProtocolMessage(f.Payload)
		if err != nil {
			c.logger.WithError(err).Warn("Failed to decode protocol message")
			continue
		}

		select {
		case c.consumeCh <- Envelope{From: f.From, Msg: msg}:
		case <-c.shutdownCh:
			return
		}
	}
}

// Close implements the Conduit interface.
func (c *TCPConduit) Close() error {
	c.shutdownLock.Lock()
	defer c.shutdownLock.Unlock()

	if c.shutdown {
		return nil
	}
	c.shutdown = true
	close(c.shutdownCh)

	c.connLock.Lock()
	for target, conn := range c.conns {
		conn.release()
		delete(c.conns, target)
	}
	c.connLock.Unlock()

	return c.stream.Close()
}
