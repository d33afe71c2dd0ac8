// Package fanout implements the downstream manager: a buffering stage
// that fans messages out to a set of outbound paths, each with its own
// filter, credit window, and delivery function.
package fanout

import (
	"github.com/sirupsen/logrus"

	"github.com/weftlabs/weft/src/common"
	"github.com/weftlabs/weft/src/message"
	"github.com/weftlabs/weft/src/topic"
)

// Slot identifies one outbound path within a manager.
type Slot uint64

// PathKind distinguishes what sits at the far end of a path.
type PathKind uint8

const (
	// PeerPath reaches a remote endpoint.
	PeerPath PathKind = iota
	// WorkerPath reaches a local data subscriber.
	WorkerPath
	// StorePath reaches a local master or clone.
	StorePath
)

var pathKinds = []string{"peer", "worker", "store"}

// String ...
func (k PathKind) String() string {
	return pathKinds[k]
}

// Deliver hands a batch to the far end of a path. Returning an error
// marks the path gone.
type Deliver func(items []message.NodeMessage) error

// Path is one outbound path: its filter, its credit window, and the
// items queued for it.
type Path struct {
	Slot   Slot
	Kind   PathKind
	Addr   message.EndpointID
	filter topic.Filter
	credit uint64
	queue  []message.NodeMessage

	deliver Deliver
}

// Filter returns the path's current filter.
func (p *Path) Filter() topic.Filter {
	return p.filter
}

// Credit returns the path's remaining credit.
func (p *Path) Credit() uint64 {
	return p.credit
}

// QueueLen returns the number of items pending on the path.
func (p *Path) QueueLen() int {
	return len(p.queue)
}

func (p *Path) accepts(m message.NodeMessage, activeSender message.EndpointID) bool {
	if p.Kind == PeerPath {
		if p.Addr != 0 && p.Addr == activeSender {
			return false
		}
		if p.Addr != 0 && p.Addr == m.Sender.Endpoint {
			return false
		}
	}
	return p.filter.Matches(m.Topic())
}

// Manager buffers messages centrally and distributes them to its
// paths. It is driven by a single goroutine and does no locking.
type Manager struct {
	name         string
	paths        map[Slot]*Path
	buf          []message.NodeMessage
	activeSender message.EndpointID
	logger       *logrus.Entry
}

// NewManager ...
func NewManager(name string, logger *logrus.Entry) *Manager {
	return &Manager{
		name:   name,
		paths:  map[Slot]*Path{},
		logger: logger.WithField("manager", name),
	}
}

// AddPath registers a new outbound path under slot.
func (m *Manager) AddPath(slot Slot, kind PathKind, addr message.EndpointID,
	f topic.Filter, credit uint64, deliver Deliver) error {
	if _, ok := m.paths[slot]; ok {
		return common.NewWeftErr(m.name, common.CannotAddDownstream,
			"slot already in use")
	}
	m.paths[slot] = &Path{
		Slot:    slot,
		Kind:    kind,
		Addr:    addr,
		filter:  f,
		credit:  credit,
		deliver: deliver,
	}
	return nil
}

// RemovePath drops the path; anything still queued on it is discarded.
func (m *Manager) RemovePath(slot Slot) bool {
	p, ok := m.paths[slot]
	if !ok {
		return false
	}
	if n := len(p.queue); n > 0 {
		m.logger.WithFields(logrus.Fields{
			"slot":    slot,
			"dropped": n,
		}).Debug("Removing path with queued items")
	}
	delete(m.paths, slot)
	return true
}

// Path returns the path registered under slot.
func (m *Manager) Path(slot Slot) (*Path, bool) {
	p, ok := m.paths[slot]
	return p, ok
}

// Paths returns all registered paths.
func (m *Manager) Paths() []*Path {
	out := make([]*Path, 0, len(m.paths))
	for _, p := range m.paths {
		out = append(out, p)
	}
	return out
}

// PathByAddr returns the peer path bound to addr.
func (m *Manager) PathByAddr(addr message.EndpointID) (*Path, bool) {
	for _, p := range m.paths {
		if p.Kind == PeerPath && p.Addr == addr {
			return p, true
		}
	}
	return nil, false
}

// SetFilter replaces the filter of an existing path.
func (m *Manager) SetFilter(slot Slot, f topic.Filter) bool {
	p, ok := m.paths[slot]
	if !ok {
		return false
	}
	p.filter = f
	return true
}

// Grant extends a path's credit window.
func (m *Manager) Grant(slot Slot, n uint64) bool {
	p, ok := m.paths[slot]
	if !ok {
		return false
	}
	p.credit += n
	return true
}

// SetActiveSender marks addr as the peer whose inbound batch is being
// dispatched. Fan-out to that peer's path is suppressed until the
// marker is cleared. Callers must FanOutFlush before changing it.
func (m *Manager) SetActiveSender(addr message.EndpointID) {
	m.activeSender = addr
}

// ClearActiveSender ...
func (m *Manager) ClearActiveSender() {
	m.activeSender = 0
}

// Push appends a message to the central buffer. It never blocks.
func (m *Manager) Push(msg message.NodeMessage) {
	m.buf = append(m.buf, msg)
}

// FanOutFlush moves everything in the central buffer to the per-path
// queues of the paths whose filter matches, honoring the active-sender
// exclusion in force at the time of the call.
func (m *Manager) FanOutFlush() {
	if len(m.buf) == 0 {
		return
	}
	for _, msg := range m.buf {
		for _, p := range m.paths {
			if p.accepts(msg, m.activeSender) {
				p.queue = append(p.queue, msg)
			}
		}
	}
	m.buf = m.buf[:0]
}

// Emit delivers each path's queued items up to its credit. Paths whose
// delivery fails are removed; their slots are returned so the caller
// can tear down the other direction.
func (m *Manager) Emit() []Slot {
	var gone []Slot
	for slot, p := range m.paths {
		if len(p.queue) == 0 || p.credit == 0 {
			continue
		}
		n := uint64(len(p.queue))
		if n > p.credit {
			n = p.credit
		}
		batch := make([]message.NodeMessage, n)
		copy(batch, p.queue[:n])
		if err := p.deliver(batch); err != nil {
			m.logger.WithFields(logrus.Fields{
				"slot":  slot,
				"error": err,
			}).Debug("Path gone")
			gone = append(gone, slot)
			continue
		}
		p.queue = append(p.queue[:0], p.queue[n:]...)
		p.credit -= n
	}
	for _, slot := range gone {
		delete(m.paths, slot)
	}
	return gone
}

// Clean reports whether nothing is buffered centrally or on any path.
func (m *Manager) Clean() bool {
	if len(m.buf) > 0 {
		return false
	}
	for _, p := range m.paths {
		if len(p.queue) > 0 {
			return false
		}
	}
	return true
}

// Stalled reports whether the manager holds items it cannot deliver:
// every path with queued items is out of credit.
func (m *Manager) Stalled() bool {
	stalled := false
	for _, p := range m.paths {
		if len(p.queue) == 0 {
			continue
		}
		if p.credit > 0 {
			return false
		}
		stalled = true
	}
	return stalled
}
