// Package transport implements the per-endpoint streaming state
// machine: the peering handshake, inbound batch dispatch with
// TTL-bounded forwarding, per-peer blocking, and path teardown. It is
// parameterized by a CoreHooks implementation for local delivery and
// by a Conduit for moving protocol messages between endpoints.
package transport

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/weftlabs/weft/src/common"
	"github.com/weftlabs/weft/src/fanout"
	"github.com/weftlabs/weft/src/message"
	"github.com/weftlabs/weft/src/topic"
)

type peerState struct {
	addr      string
	id        message.EntityID
	filter    topic.Filter
	inSlot    uint64
	outSlot   uint64
	inOpen    bool
	outAcked  bool
	pending   bool
	announced bool
}

func (s *peerState) peered() bool {
	return s.inOpen && s.outAcked
}

// PeerInfo is a read-only view of one neighbor.
type PeerInfo struct {
	Addr   string
	ID     message.EntityID
	Filter topic.Filter
	Peered bool
}

// Transport is the streaming stage of one endpoint. It is driven by a
// single goroutine (the endpoint's event loop) and does no locking.
type Transport struct {
	self     message.EntityID
	conduit  Conduit
	hooks    CoreHooks
	outbound *fanout.Manager

	peers       map[string]*peerState
	blocked     map[string]bool
	blockedMsgs map[string][][]message.NodeMessage
	nextSlot    uint64

	recorder *message.Recorder

	batchesIn  uint64
	forwarded  uint64
	ttlDropped uint64

	logger *logrus.Entry
}

// NewTransport ...
func NewTransport(self message.EntityID, conduit Conduit, hooks CoreHooks,
	logger *logrus.Entry) *Transport {
	return &Transport{
		self:        self,
		conduit:     conduit,
		hooks:       hooks,
		outbound:    fanout.NewManager("peers", logger),
		peers:       map[string]*peerState{},
		blocked:     map[string]bool{},
		blockedMsgs: map[string][][]message.NodeMessage{},
		logger:      logger.WithField("addr", conduit.LocalAddr()),
	}
}

// SetRecorder installs a message recorder. The transport owns it
// exclusively.
func (t *Transport) SetRecorder(r *message.Recorder) {
	t.recorder = r
}

// LocalAddr ...
func (t *Transport) LocalAddr() string {
	return t.conduit.LocalAddr()
}

// StartPeering begins the three-step handshake with the endpoint at
// addr. Repeated calls for a pending or established peer succeed as
// no-ops.
func (t *Transport) StartPeering(addr string) error {
	if addr == "" {
		return common.NewWeftErr("transport", common.InvalidArgument,
			"cannot peer with an empty address")
	}
	if addr == t.conduit.LocalAddr() {
		return common.NewWeftErr("transport", common.InvalidArgument,
			"cannot peer with self")
	}
	if _, ok := t.peers[addr]; ok {
		t.logger.WithField("peer", addr).Debug("Peering already in progress or established")
		return nil
	}

	t.peers[addr] = &peerState{addr: addr, pending: true}
	msg := ProtocolMessage{
		Type:   PeerRequestMsg,
		Origin: t.self,
		Filter: t.hooks.Filter(),
	}
	if err := t.conduit.Send(addr, msg); err != nil {
		delete(t.peers, addr)
		t.hooks.PeerUnavailable(addr)
		return err
	}
	return nil
}

// HandleEnvelope processes one protocol message from the conduit.
func (t *Transport) HandleEnvelope(env Envelope) {
	switch env.Msg.Type {
	case PeerRequestMsg:
		t.handlePeerRequest(env.From, env.Msg)
	case PeerAckMsg:
		t.handlePeerAck(env.From, env.Msg)
	case OpenStreamMsg:
		t.handleOpenStream(env.From, env.Msg)
	case AckOpenMsg:
		t.handleAckOpen(env.From, env.Msg)
	case AckBatchMsg:
		t.handleAckBatch(env.From, env.Msg)
	case BatchMsg:
		t.handleBatchMsg(env.From, env.Msg)
	case FilterUpdateMsg:
		t.UpdatePeer(env.From, env.Msg.Filter)
	case CloseMsg, DropMsg:
		t.removePeer(env.From, "", false, true, false)
	case ForcedCloseMsg, ForcedDropMsg:
		t.removePeer(env.From, env.Msg.Reason, false, false, false)
	default:
		t.logger.WithField("type", env.Msg.Type).Warn("Unknown protocol message")
	}
}

func (t *Transport) handlePeerRequest(from string, msg ProtocolMessage) {
	state, ok := t.peers[from]
	if ok && state.peered() {
		t.logger.WithField("peer", from).Debug("Peer already connected")
		return
	}
	if !ok {
		state = &peerState{addr: from}
		t.peers[from] = state
	}
	state.id = msg.Origin
	state.filter = msg.Filter

	if err := t.send(from, ProtocolMessage{Type: PeerAckMsg, Origin: t.self}); err != nil {
		t.dropHandshake(from)
		return
	}
	t.openOutbound(state)
}

func (t *Transport) handlePeerAck(from string, msg ProtocolMessage) {
	state, ok := t.peers[from]
	if !ok || !state.pending {
		t.logger.WithField("peer", from).Debug("Unexpected peer ack")
		return
	}
	state.pending = false
	state.id = msg.Origin
	t.openOutbound(state)
}

// openOutbound allocates the outbound slot towards a peer and
// announces the stream. The path starts with zero credit; the first
// window arrives with the ack.
func (t *Transport) openOutbound(state *peerState) {
	if state.outSlot != 0 {
		return
	}
	t.nextSlot++
	state.outSlot = t.nextSlot

	addr := state.addr
	slot := state.outSlot
	deliver := func(items []message.NodeMessage) error {
		return t.conduit.Send(addr, ProtocolMessage{
			Type:   BatchMsg,
			Origin: t.self,
			Slot:   slot,
			Items:  items,
		})
	}
	if err := t.outbound.AddPath(fanout.Slot(slot), fanout.PeerPath,
		state.id.Endpoint, state.filter, 0, deliver); err != nil {
		t.logger.WithField("peer", addr).WithError(err).Error("Failed to add outbound path")
		t.dropHandshake(addr)
		return
	}

	if err := t.send(addr, ProtocolMessage{
		Type:   OpenStreamMsg,
		Origin: t.self,
		Slot:   slot,
		Filter: t.hooks.Filter(),
	}); err != nil {
		t.outbound.RemovePath(fanout.Slot(slot))
		t.dropHandshake(addr)
	}
}

func (t *Transport) handleOpenStream(from string, msg ProtocolMessage) {
	state, ok := t.peers[from]
	if !ok {
		state = &peerState{addr: from}
		t.peers[from] = state
	}
	state.id = msg.Origin
	state.inSlot = msg.Slot
	state.inOpen = true
	state.filter = msg.Filter
	if state.outSlot != 0 {
		t.outbound.SetFilter(fanout.Slot(state.outSlot), msg.Filter)
		if p, found := t.outbound.Path(fanout.Slot(state.outSlot)); found {
			p.Addr = msg.Origin.Endpoint
		}
	}

	if err := t.send(from, ProtocolMessage{
		Type:   AckOpenMsg,
		Origin: t.self,
		Slot:   msg.Slot,
		Rebind: msg.Slot,
		Credit: DefaultCredit,
	}); err != nil {
		t.dropHandshake(from)
		return
	}
	t.checkPeered(state)
}

func (t *Transport) handleAckOpen(from string, msg ProtocolMessage) {
	state, ok := t.peers[from]
	if !ok {
		t.logger.WithField("peer", from).Debug("Ack for unknown peer")
		return
	}
	if msg.Slot != state.outSlot {
		t.logger.WithFields(logrus.Fields{
			"peer":     from,
			"slot":     msg.Slot,
			"expected": state.outSlot,
		}).Warn("Stream ack for wrong slot")
		t.removePeer(from, "invalid stream state", false, false, true)
		return
	}
	state.outAcked = true
	t.outbound.Grant(fanout.Slot(state.outSlot), msg.Credit)
	t.checkPeered(state)
	t.emit()
}

func (t *Transport) checkPeered(state *peerState) {
	if !state.peered() || state.announced {
		return
	}
	state.announced = true
	t.hooks.Cache().Add(state.addr, state.id.Endpoint)
	t.hooks.AddPeerFilter(state.filter)
	t.hooks.PeerConnected(state.id, state.addr)
	t.logger.WithFields(logrus.Fields{
		"peer": state.addr,
		"id":   state.id.String(),
	}).Debug("Peered")
}

func (t *Transport) handleAckBatch(from string, msg ProtocolMessage) {
	state, ok := t.peers[from]
	if !ok || msg.Slot != state.outSlot {
		return
	}
	t.outbound.Grant(fanout.Slot(state.outSlot), msg.Credit)
	t.emit()
}

func (t *Transport) handleBatchMsg(from string, msg ProtocolMessage) {
	state, ok := t.peers[from]
	if !ok || !state.inOpen || msg.Slot != state.inSlot {
		t.logger.WithFields(logrus.Fields{
			"peer": from,
			"slot": msg.Slot,
		}).Debug("Batch on unknown stream")
		return
	}
	t.batchesIn++
	t.handleBatch(state, msg.Items)
}

// handleBatch dispatches one inbound batch. Output buffered before the
// call is flushed first so the active-sender exclusion only applies to
// messages produced while handling this batch.
func (t *Transport) handleBatch(state *peerState, items []message.NodeMessage) {
	t.outbound.FanOutFlush()
	t.outbound.SetActiveSender(state.id.Endpoint)
	defer func() {
		t.outbound.FanOutFlush()
		t.outbound.ClearActiveSender()
		t.emit()
	}()

	if t.blocked[state.addr] {
		t.blockedMsgs[state.addr] = append(t.blockedMsgs[state.addr], items)
		return
	}

	t.dispatch(items)

	if err := t.send(state.addr, ProtocolMessage{
		Type:   AckBatchMsg,
		Origin: t.self,
		Slot:   state.inSlot,
		Credit: uint64(len(items)),
	}); err != nil {
		t.removePeer(state.addr, err.Error(), false, false, false)
	}
}

func (t *Transport) dispatch(items []message.NodeMessage) {
	opts := t.hooks.Options()
	for _, m := range items {
		if m.IsData() {
			t.hooks.ShipData(*m.Data, m.Sender)
		} else if m.Command != nil {
			t.hooks.ShipCommand(*m.Command, m.Sender)
		}

		if !opts.Forward {
			continue
		}
		if m.Topic().IsCloneChannel() {
			continue
		}
		m.TTL--
		if m.TTL == 0 {
			t.ttlDropped++
			t.logger.WithField("topic", m.Topic()).Warn("Dropping message with expired TTL")
			continue
		}
		t.forwarded++
		t.record(m)
		t.outbound.Push(m)
	}
}

// Publish pushes a locally originated node message to all matching
// peers.
func (t *Transport) Publish(m message.NodeMessage) {
	t.record(m)
	t.outbound.Push(m)
	t.outbound.FanOutFlush()
	t.emit()
}

func (t *Transport) record(m message.NodeMessage) {
	if t.recorder == nil {
		return
	}
	if err := t.recorder.Record(m); err != nil {
		t.logger.WithError(err).Warn("Failed to record message")
	}
}

func (t *Transport) emit() {
	gone := t.outbound.Emit()
	for _, slot := range gone {
		for addr, state := range t.peers {
			if fanout.Slot(state.outSlot) == slot {
				t.removePeer(addr, "path closed", false, false, false)
				break
			}
		}
	}
}

// Block pauses delivery from the given peer. Inbound batches are
// buffered until Unblock.
func (t *Transport) Block(addr string) {
	t.blocked[addr] = true
}

// Unblock resumes delivery from the given peer, draining buffered
// batches in order. If the peer's inbound stream is gone, the buffered
// batches are dropped.
func (t *Transport) Unblock(addr string) {
	delete(t.blocked, addr)
	queued := t.blockedMsgs[addr]
	delete(t.blockedMsgs, addr)

	state, ok := t.peers[addr]
	if !ok || !state.inOpen {
		t.logger.WithFields(logrus.Fields{
			"peer":    addr,
			"batches": len(queued),
		}).Debug("Dropping batches buffered for a vanished peer")
		return
	}
	for _, items := range queued {
		t.handleBatch(state, items)
	}
}

// RemovePeer tears both directions of the pairing down and notifies
// the remote side. It reports whether the handle was known.
func (t *Transport) RemovePeer(addr string, reason string, silent, graceful bool) bool {
	return t.removePeer(addr, reason, silent, graceful, true)
}

func (t *Transport) removePeer(addr string, reason string, silent, graceful, notify bool) bool {
	state, ok := t.peers[addr]
	if !ok {
		t.hooks.CannotRemovePeer(addr)
		return false
	}

	if notify {
		msg := ProtocolMessage{Type: CloseMsg, Origin: t.self, Slot: state.outSlot}
		if !graceful {
			msg.Type = ForcedCloseMsg
			msg.Reason = reason
		}
		if err := t.conduit.Send(addr, msg); err != nil {
			t.logger.WithField("peer", addr).WithError(err).Debug("Close notification failed")
		}
	}

	if n := len(t.blockedMsgs[addr]); n > 0 {
		t.logger.WithFields(logrus.Fields{
			"peer":    addr,
			"batches": n,
		}).Debug("Discarding batches buffered for removed peer")
	}
	delete(t.blocked, addr)
	delete(t.blockedMsgs, addr)
	if state.outSlot != 0 {
		t.outbound.RemovePath(fanout.Slot(state.outSlot))
	}
	delete(t.peers, addr)
	t.hooks.Cache().Remove(addr)

	if !silent {
		if state.pending || !state.announced {
			t.hooks.PeerUnavailable(addr)
		} else if graceful {
			t.hooks.PeerRemoved(state.id, addr)
		} else {
			t.hooks.PeerDisconnected(state.id, addr, reason)
		}
	}
	return true
}

func (t *Transport) dropHandshake(addr string) {
	delete(t.peers, addr)
	t.hooks.PeerUnavailable(addr)
}

// UpdatePeer replaces the filter associated with an existing peer. An
// unknown handle is ignored with a debug trace.
func (t *Transport) UpdatePeer(addr string, f topic.Filter) bool {
	state, ok := t.peers[addr]
	if !ok || state.outSlot == 0 {
		t.logger.WithField("peer", addr).Debug("Filter update for unknown peer")
		return false
	}
	state.filter = f
	t.outbound.SetFilter(fanout.Slot(state.outSlot), f)
	t.hooks.AddPeerFilter(f)
	return true
}

// BroadcastFilterUpdate pushes the endpoint's own filter to every
// peer, out of band.
func (t *Transport) BroadcastFilterUpdate(f topic.Filter) {
	for addr, state := range t.peers {
		if !state.peered() {
			continue
		}
		if err := t.send(addr, ProtocolMessage{
			Type:   FilterUpdateMsg,
			Origin: t.self,
			Filter: f,
		}); err != nil {
			t.logger.WithField("peer", addr).WithError(err).Debug("Filter update failed")
		}
	}
}

// Peers returns a view of all known neighbors.
func (t *Transport) Peers() []PeerInfo {
	out := make([]PeerInfo, 0, len(t.peers))
	for _, s := range t.peers {
		out = append(out, PeerInfo{
			Addr:   s.addr,
			ID:     s.id,
			Filter: s.filter.Clone(),
			Peered: s.peered(),
		})
	}
	return out
}

// PeerCount returns the number of fully peered neighbors.
func (t *Transport) PeerCount() int {
	n := 0
	for _, s := range t.peers {
		if s.peered() {
			n++
		}
	}
	return n
}

// Done reports whether the transport has wound down: no pending
// handshakes, no open inbound streams, and a clean outbound manager.
func (t *Transport) Done() bool {
	for _, s := range t.peers {
		if s.pending || s.inOpen {
			return false
		}
	}
	return t.outbound.Clean()
}

// Idle reports whether the transport cannot make progress right now.
func (t *Transport) Idle() bool {
	if t.outbound.Stalled() {
		return true
	}
	if !t.outbound.Clean() {
		return false
	}
	for _, queued := range t.blockedMsgs {
		if len(queued) > 0 {
			return false
		}
	}
	return true
}

// Shutdown closes all peerings and the conduit.
func (t *Transport) Shutdown() error {
	for addr := range t.peers {
		t.removePeer(addr, "shutting down", true, true, true)
	}
	return t.conduit.Close()
}

// Stats returns the transport's message counters.
func (t *Transport) Stats() map[string]string {
	return map[string]string{
		"batches_in":  fmt.Sprint(t.batchesIn),
		"forwarded":   fmt.Sprint(t.forwarded),
		"ttl_dropped": fmt.Sprint(t.ttlDropped),
		"peers":       fmt.Sprint(t.PeerCount()),
	}
}

func (t *Transport) send(addr string, msg ProtocolMessage) error {
	return t.conduit.Send(addr, msg)
}
