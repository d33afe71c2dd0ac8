// Package core assembles the endpoint: a single event loop that drives
// the transport state machine, routes matching data messages to local
// subscriptions, feeds command messages to attached stores, and keeps
// the advertised filter in sync with everything the endpoint consumes.
package core

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/weftlabs/weft/src/common"
	"github.com/weftlabs/weft/src/fanout"
	"github.com/weftlabs/weft/src/flare"
	"github.com/weftlabs/weft/src/message"
	"github.com/weftlabs/weft/src/store"
	"github.com/weftlabs/weft/src/topic"
	"github.com/weftlabs/weft/src/transport"
)

const (
	cacheSize    = 512
	statusSize   = 128
	tickInterval = time.Second
)

// storeActor is the loop-side face shared by masters and clones.
type storeActor interface {
	Name() string
	Entity() message.EntityID
	ChannelFilter() topic.Filter
	Enqueue(cm message.CommandMessage, sender message.EntityID)
	HasPending() bool
	Process()
	Tick(now time.Time)
	Stats() map[string]string
}

// Endpoint is one node of the overlay. All engine state is owned by a
// single event loop goroutine; the public methods hand work to that
// loop and wait for the result, so they are safe to call from any
// goroutine.
type Endpoint struct {
	id    message.EndpointID
	self  message.EntityID
	opts  *transport.Options
	clk   clock.Clock
	cache *lru.Cache[string, message.EndpointID]

	conduit transport.Conduit
	trans   *transport.Transport
	recFile *os.File

	subs     map[fanout.Slot]*Subscription
	nextSlot fanout.Slot

	stores     map[string]storeActor
	backends   map[string]store.Backend
	nextObject uint64

	ownFilter   topic.Filter
	peerFilters topic.Filter
	advertised  topic.Filter

	mailbox    chan func()
	statusCh   chan StatusEvent
	shutdownCh chan struct{}
	doneCh     chan struct{}
	once       sync.Once

	logger *logrus.Entry
}

// NewEndpoint builds an endpoint on top of the given conduit and starts
// its event loop.
func NewEndpoint(id message.EndpointID, conduit transport.Conduit,
	opts *transport.Options, clk clock.Clock, logger *logrus.Entry) (*Endpoint, error) {
	if id == 0 {
		return nil, common.NewWeftErr("endpoint", common.InvalidArgument,
			"endpoint id must be non-zero")
	}
	if opts == nil {
		opts = transport.DefaultOptions()
	}
	cache, err := lru.New[string, message.EndpointID](cacheSize)
	if err != nil {
		return nil, err
	}

	ep := &Endpoint{
		id:         id,
		self:       message.EndpointEntity(id),
		opts:       opts,
		clk:        clk,
		cache:      cache,
		conduit:    conduit,
		subs:       map[fanout.Slot]*Subscription{},
		stores:     map[string]storeActor{},
		backends:   map[string]store.Backend{},
		ownFilter:  topic.Filter{},
		advertised: topic.Filter{},
		mailbox:    make(chan func(), mailboxSize),
		statusCh:   make(chan StatusEvent, statusSize),
		shutdownCh: make(chan struct{}),
		doneCh:     make(chan struct{}),
		logger:     logger.WithField("endpoint", id),
	}
	ep.trans = transport.NewTransport(ep.self, conduit, ep, logger)

	if opts.RecordingDir != "" {
		if err := ep.openRecorder(); err != nil {
			return nil, err
		}
	}

	go ep.loop()
	return ep, nil
}

func (ep *Endpoint) openRecorder() error {
	if err := os.MkdirAll(ep.opts.RecordingDir, 0o755); err != nil {
		return err
	}
	name := strings.NewReplacer(":", "_", "/", "_").Replace(ep.conduit.LocalAddr())
	f, err := os.Create(filepath.Join(ep.opts.RecordingDir, name+".rec"))
	if err != nil {
		return err
	}
	ep.recFile = f
	ep.trans.SetRecorder(message.NewRecorder(f, ep.opts.RecordCap))
	return nil
}

// ID returns the endpoint's overlay id.
func (ep *Endpoint) ID() message.EndpointID {
	return ep.id
}

// Entity returns the entity id the endpoint uses for itself.
func (ep *Endpoint) Entity() message.EntityID {
	return ep.self
}

// LocalAddr returns the conduit address peers dial.
func (ep *Endpoint) LocalAddr() string {
	return ep.conduit.LocalAddr()
}

// Status returns the endpoint's out-of-band event channel. Events are
// dropped when the channel is full.
func (ep *Endpoint) Status() <-chan StatusEvent {
	return ep.statusCh
}

func (ep *Endpoint) loop() {
	ticker := ep.clk.Ticker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case env, ok := <-ep.conduit.Consumer():
			if !ok {
				ep.teardown()
				return
			}
			ep.trans.HandleEnvelope(env)
			ep.processStores()
		case fn := <-ep.mailbox:
			fn()
			ep.processStores()
		case <-ticker.C:
			now := ep.clk.Now()
			for _, st := range ep.stores {
				st.Tick(now)
			}
			ep.processStores()
		case <-ep.shutdownCh:
			ep.teardown()
			return
		}
	}
}

func (ep *Endpoint) teardown() {
	if err := ep.trans.Shutdown(); err != nil {
		ep.logger.WithError(err).Debug("Transport shutdown failed")
	}
	for name, b := range ep.backends {
		if err := b.Close(); err != nil {
			ep.logger.WithFields(logrus.Fields{
				"store": name,
				"error": err,
			}).Warn("Failed to close store backend")
		}
	}
	if ep.recFile != nil {
		ep.recFile.Close()
	}
	close(ep.statusCh)
	close(ep.doneCh)
}

// processStores drains every store inbox until no store has pending
// work. A master's forwarded commands may land in a co-located clone's
// inbox, so a single pass is not enough.
func (ep *Endpoint) processStores() {
	for {
		progress := false
		for _, st := range ep.stores {
			if st.HasPending() {
				st.Process()
				progress = true
			}
		}
		if !progress {
			return
		}
	}
}

// Run implements store.Runner. It schedules fn on the event loop.
func (ep *Endpoint) Run(fn func()) error {
	select {
	case ep.mailbox <- fn:
		return nil
	case <-ep.shutdownCh:
		return common.NewWeftErr("endpoint", common.TransportShutdown,
			"endpoint is shutting down")
	}
}

// call runs fn on the event loop and waits for it to finish.
func (ep *Endpoint) call(fn func()) error {
	done := make(chan struct{})
	if err := ep.Run(func() {
		fn()
		close(done)
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ep.doneCh:
		return common.NewWeftErr("endpoint", common.TransportShutdown,
			"endpoint is shutting down")
	}
}

// Publish sends a data message to every subscriber of t across the
// overlay, including local ones.
func (ep *Endpoint) Publish(t topic.Topic, d message.Data) error {
	if !t.IsValid() {
		return common.NewWeftErr("endpoint", common.InvalidArgument,
			"cannot publish to an empty topic")
	}
	return ep.call(func() {
		ep.PublishData(t, d, ep.self)
	})
}

// PublishData implements store.Publisher. Must run on the event loop.
func (ep *Endpoint) PublishData(t topic.Topic, d message.Data, sender message.EntityID) {
	dm := message.DataMessage{Topic: t, Value: d}
	ep.ShipData(dm, sender)
	ep.trans.Publish(message.NewDataNodeMessage(ep.opts.TTL, sender, t, d))
}

// PublishCommand implements store.Publisher. Must run on the event
// loop.
func (ep *Endpoint) PublishCommand(t topic.Topic, cmd message.Command, sender message.EntityID) {
	cm := message.CommandMessage{Topic: t, Cmd: cmd}
	ep.ShipCommand(cm, sender)
	ep.trans.Publish(message.NewCommandNodeMessage(ep.opts.TTL, sender, t, cmd))
}

// Subscribe attaches a local consumer for every topic matching f.
func (ep *Endpoint) Subscribe(f topic.Filter) (*Subscription, error) {
	signal, err := flare.New()
	if err != nil {
		return nil, err
	}
	sub := &Subscription{
		filter:  f.Clone(),
		mailbox: make(chan message.DataMessage, mailboxSize),
		signal:  signal,
		ep:      ep,
	}
	if err := ep.call(func() {
		ep.nextSlot++
		sub.slot = ep.nextSlot
		ep.subs[sub.slot] = sub
		ep.recomputeFilter()
	}); err != nil {
		signal.Close()
		return nil, err
	}
	return sub, nil
}

func (ep *Endpoint) unsubscribe(s *Subscription) {
	ep.call(func() {
		delete(ep.subs, s.slot)
		ep.recomputeFilter()
	})
}

// AttachMaster creates the authoritative replica of a named store on
// this endpoint, served from the given backend.
func (ep *Endpoint) AttachMaster(name string, backend store.Backend) (*store.Master, error) {
	var m *store.Master
	var attachErr error
	err := ep.call(func() {
		if _, ok := ep.stores[name]; ok {
			attachErr = common.NewWeftErr("endpoint", common.InvalidArgument,
				"store "+name+" already attached")
			return
		}
		ep.nextObject++
		self := message.EntityID{Endpoint: ep.id, Object: ep.nextObject}
		m = store.NewMaster(name, self, backend, ep, ep, ep.clk, ep.logger)
		ep.stores[name] = m
		ep.backends[name] = backend
		ep.recomputeFilter()
	})
	if err != nil {
		return nil, err
	}
	return m, attachErr
}

// AttachClone creates a read replica of a named store on this endpoint.
// The clone resolves its master through the overlay and fills itself
// from a snapshot.
func (ep *Endpoint) AttachClone(name string) (*store.Clone, error) {
	var c *store.Clone
	var attachErr error
	err := ep.call(func() {
		if _, ok := ep.stores[name]; ok {
			attachErr = common.NewWeftErr("endpoint", common.InvalidArgument,
				"store "+name+" already attached")
			return
		}
		ep.nextObject++
		self := message.EntityID{Endpoint: ep.id, Object: ep.nextObject}
		c = store.NewClone(name, self, ep, ep, ep.clk, ep.logger)
		ep.stores[name] = c
		ep.recomputeFilter()
		c.Start()
	})
	if err != nil {
		return nil, err
	}
	return c, attachErr
}

// DetachStore removes a named store from the endpoint, closing its
// backend if it has one.
func (ep *Endpoint) DetachStore(name string) error {
	var detachErr error
	err := ep.call(func() {
		if _, ok := ep.stores[name]; !ok {
			detachErr = common.NewWeftErr("endpoint", common.InvalidArgument,
				"no store named "+name)
			return
		}
		delete(ep.stores, name)
		if b, ok := ep.backends[name]; ok {
			delete(ep.backends, name)
			if err := b.Close(); err != nil {
				ep.logger.WithError(err).Warn("Failed to close store backend")
			}
		}
		ep.recomputeFilter()
	})
	if err != nil {
		return err
	}
	return detachErr
}

// PeerWith starts the peering handshake with the endpoint at addr.
func (ep *Endpoint) PeerWith(addr string) error {
	var peerErr error
	if err := ep.call(func() {
		peerErr = ep.trans.StartPeering(addr)
	}); err != nil {
		return err
	}
	return peerErr
}

// Unpeer gracefully removes the peering with addr.
func (ep *Endpoint) Unpeer(addr string) {
	ep.call(func() {
		ep.trans.RemovePeer(addr, "", false, true)
	})
}

// Block pauses delivery from the given peer.
func (ep *Endpoint) Block(addr string) {
	ep.call(func() {
		ep.trans.Block(addr)
	})
}

// Unblock resumes delivery from the given peer.
func (ep *Endpoint) Unblock(addr string) {
	ep.call(func() {
		ep.trans.Unblock(addr)
	})
}

// Peers returns a view of the endpoint's neighbors.
func (ep *Endpoint) Peers() []transport.PeerInfo {
	var out []transport.PeerInfo
	ep.call(func() {
		out = ep.trans.Peers()
	})
	return out
}

// StoreInfo describes one attached store.
type StoreInfo struct {
	Name   string
	Role   string
	Entity message.EntityID
}

// Stores returns a view of the stores attached to this endpoint.
func (ep *Endpoint) Stores() []StoreInfo {
	var out []StoreInfo
	ep.call(func() {
		for name, st := range ep.stores {
			role := "clone"
			if _, ok := st.(*store.Master); ok {
				role = "master"
			}
			out = append(out, StoreInfo{
				Name:   name,
				Role:   role,
				Entity: st.Entity(),
			})
		}
	})
	return out
}

// Stats gathers counters from the transport and every attached store.
func (ep *Endpoint) Stats() map[string]map[string]string {
	out := map[string]map[string]string{}
	ep.call(func() {
		out["transport"] = ep.trans.Stats()
		for name, st := range ep.stores {
			out["store/"+name] = st.Stats()
		}
	})
	return out
}

// Shutdown winds the endpoint down: all peerings close silently, store
// backends close, and the event loop exits. Safe to call more than
// once.
func (ep *Endpoint) Shutdown() {
	ep.once.Do(func() {
		close(ep.shutdownCh)
	})
	<-ep.doneCh
}

// recomputeFilter rebuilds the advertised filter from local
// subscriptions, store channels, and (when forwarding) everything the
// peers advertise. Changes are broadcast so upstream endpoints extend
// their routes.
func (ep *Endpoint) recomputeFilter() {
	f := topic.Filter{}
	for _, s := range ep.subs {
		f = topic.Union(f, s.filter)
	}
	for _, st := range ep.stores {
		f = topic.Union(f, st.ChannelFilter())
	}
	ep.ownFilter = f

	advertised := f
	if ep.opts.Forward {
		advertised = topic.Union(f, ep.peerFilters)
	}
	if !advertised.Equal(ep.advertised) {
		ep.advertised = advertised
		ep.trans.BroadcastFilterUpdate(advertised)
	}
}

func (ep *Endpoint) emitStatus(e StatusEvent) {
	select {
	case ep.statusCh <- e:
	default:
		ep.logger.WithField("kind", e.Kind.String()).Debug("Status channel full, dropping event")
	}
}

// Filter implements transport.CoreHooks.
func (ep *Endpoint) Filter() topic.Filter {
	return ep.advertised
}

// Options implements transport.CoreHooks.
func (ep *Endpoint) Options() *transport.Options {
	return ep.opts
}

// Cache implements transport.CoreHooks.
func (ep *Endpoint) Cache() *lru.Cache[string, message.EndpointID] {
	return ep.cache
}

// AddPeerFilter implements transport.CoreHooks: it folds a peer's
// filter into the routing state.
func (ep *Endpoint) AddPeerFilter(f topic.Filter) {
	ep.peerFilters = topic.Union(ep.peerFilters, f)
	ep.recomputeFilter()
}

// PeerConnected implements transport.CoreHooks.
func (ep *Endpoint) PeerConnected(id message.EntityID, addr string) {
	ep.emitStatus(StatusEvent{Kind: PeerAdded, Addr: addr, ID: id})
}

// PeerRemoved implements transport.CoreHooks.
func (ep *Endpoint) PeerRemoved(id message.EntityID, addr string) {
	ep.emitStatus(StatusEvent{Kind: PeerRemoved, Addr: addr, ID: id})
}

// PeerDisconnected implements transport.CoreHooks.
func (ep *Endpoint) PeerDisconnected(id message.EntityID, addr string, reason string) {
	ep.emitStatus(StatusEvent{Kind: PeerLost, Addr: addr, ID: id, Reason: reason})
}

// PeerUnavailable implements transport.CoreHooks.
func (ep *Endpoint) PeerUnavailable(addr string) {
	ep.emitStatus(StatusEvent{Kind: PeerUnavailable, Addr: addr})
}

// CannotRemovePeer implements transport.CoreHooks.
func (ep *Endpoint) CannotRemovePeer(addr string) {
	ep.emitStatus(StatusEvent{Kind: CannotRemovePeer, Addr: addr})
}

// ShipData implements transport.CoreHooks: it hands a data message to
// every matching local subscription. A full mailbox drops the message
// rather than stalling the loop.
func (ep *Endpoint) ShipData(dm message.DataMessage, sender message.EntityID) {
	for _, sub := range ep.subs {
		if !sub.filter.Matches(dm.Topic) {
			continue
		}
		select {
		case sub.mailbox <- dm:
			if err := sub.signal.Fire(); err != nil {
				ep.logger.WithError(err).Warn("Failed to signal subscription")
			}
		default:
			ep.logger.WithField("topic", dm.Topic).Warn("Subscription mailbox full, dropping message")
		}
	}
}

// ShipCommand implements transport.CoreHooks: it queues a command
// message on every local store listening on its channel.
func (ep *Endpoint) ShipCommand(cm message.CommandMessage, sender message.EntityID) {
	for _, st := range ep.stores {
		if st.Entity() == sender {
			continue
		}
		if st.ChannelFilter().Matches(cm.Topic) {
			st.Enqueue(cm, sender)
		}
	}
}

// ShuttingDown implements transport.CoreHooks.
func (ep *Endpoint) ShuttingDown() bool {
	select {
	case <-ep.shutdownCh:
		return true
	default:
		return false
	}
}
