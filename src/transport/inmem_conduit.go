package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/weftlabs/weft/src/common"
)

// InmemRegistry connects in-memory conduits to each other. It is
// intended for testing single-process overlays.
type InmemRegistry struct {
	sync.RWMutex
	conduits map[string]*InmemConduit
	seq      uint64
}

// NewInmemRegistry ...
func NewInmemRegistry() *InmemRegistry {
	return &InmemRegistry{conduits: map[string]*InmemConduit{}}
}

// NewConduit registers a fresh conduit. An empty addr gets a
// generated one.
func (r *InmemRegistry) NewConduit(addr string) *InmemConduit {
	r.Lock()
	defer r.Unlock()
	if addr == "" {
		r.seq++
		addr = fmt.Sprintf("inmem-%d", r.seq)
	}
	c := &InmemConduit{
		registry:   r,
		localAddr:  addr,
		consumerCh: make(chan Envelope, 4096),
		timeout:    5 * time.Second,
	}
	r.conduits[addr] = c
	return c
}

func (r *InmemRegistry) lookup(addr string) (*InmemConduit, bool) {
	r.RLock()
	defer r.RUnlock()
	c, ok := r.conduits[addr]
	return c, ok
}

func (r *InmemRegistry) remove(addr string) {
	r.Lock()
	defer r.Unlock()
	delete(r.conduits, addr)
}

// InmemConduit implements the Conduit interface, to allow the engine
// to be tested in-memory without going over a network.
type InmemConduit struct {
	sync.RWMutex
	registry   *InmemRegistry
	localAddr  string
	consumerCh chan Envelope
	timeout    time.Duration
	closed     bool
}

// Consumer implements the Conduit interface.
func (c *InmemConduit) Consumer() <-chan Envelope {
	return c.consumerCh
}

// LocalAddr implements the Conduit interface.
func (c *InmemConduit) LocalAddr() string {
	return c.localAddr
}

// Send implements the Conduit interface.
func (c *InmemConduit) Send(target string, msg ProtocolMessage) error {
	peer, ok := c.registry.lookup(target)
	if !ok {
		return common.NewWeftErr("inmem", common.PeerUnavailable,
			fmt.Sprintf("failed to connect to peer: %v", target))
	}

	peer.RLock()
	closed := peer.closed
	peer.RUnlock()
	if closed {
		return common.NewWeftErr("inmem", common.PeerUnavailable,
			fmt.Sprintf("peer conduit closed: %v", target))
	}

	select {
	case peer.consumerCh <- Envelope{From: c.localAddr, Msg: msg}:
		return nil
	case <-time.After(c.timeout):
		return common.NewWeftErr("inmem", common.Timeout,
			"send timed out")
	}
}

// Close implements the Conduit interface.
func (c *InmemConduit) Close() error {
	c.Lock()
	defer c.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.registry.remove(c.localAddr)
	return nil
}
