package core

import (
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/weftlabs/weft/src/common"
	"github.com/weftlabs/weft/src/message"
	"github.com/weftlabs/weft/src/store"
	"github.com/weftlabs/weft/src/topic"
	"github.com/weftlabs/weft/src/transport"
)

func newTestEndpoint(t *testing.T, reg *transport.InmemRegistry,
	id message.EndpointID, opts *transport.Options) *Endpoint {
	t.Helper()
	conduit := reg.NewConduit(fmt.Sprintf("node-%d", id))
	ep, err := NewEndpoint(id, conduit, opts, clock.New(), common.NewTestEntry(t))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(ep.Shutdown)
	return ep
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func peer(t *testing.T, a, b *Endpoint) {
	t.Helper()
	if err := a.PeerWith(b.LocalAddr()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "peering", func() bool {
		return peered(a, b.LocalAddr()) && peered(b, a.LocalAddr())
	})
}

func peered(ep *Endpoint, addr string) bool {
	for _, p := range ep.Peers() {
		if p.Addr == addr && p.Peered {
			return true
		}
	}
	return false
}

func peerSeesTopic(ep *Endpoint, addr string, t topic.Topic) bool {
	for _, p := range ep.Peers() {
		if p.Addr == addr && p.Filter.Matches(t) {
			return true
		}
	}
	return false
}

func TestPublishSubscribe(t *testing.T) {
	reg := transport.NewInmemRegistry()
	n1 := newTestEndpoint(t, reg, 1, nil)
	n2 := newTestEndpoint(t, reg, 2, nil)
	peer(t, n1, n2)

	sub, err := n2.Subscribe(topic.NewFilter("zeek/events"))
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()
	waitFor(t, "filter propagation", func() bool {
		return peerSeesTopic(n1, n2.LocalAddr(), "zeek/events/ssh")
	})

	if err := n1.Publish("zeek/events/ssh", message.StringData("login")); err != nil {
		t.Fatal(err)
	}
	dm, err := sub.Next(5 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if dm.Topic != "zeek/events/ssh" {
		t.Fatalf("got topic %s", dm.Topic)
	}
	if !dm.Value.Equal(message.StringData("login")) {
		t.Fatalf("got %s", dm.Value)
	}

	// Non-matching topics stay away.
	if err := n1.Publish("other/topic", message.IntegerData(1)); err != nil {
		t.Fatal(err)
	}
	if dm, ok := sub.Poll(); ok {
		t.Fatalf("unexpected message on %s", dm.Topic)
	}
}

func TestLocalDelivery(t *testing.T) {
	reg := transport.NewInmemRegistry()
	n1 := newTestEndpoint(t, reg, 1, nil)

	sub, err := n1.Subscribe(topic.NewFilter("local"))
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()

	if err := n1.Publish("local/data", message.IntegerData(42)); err != nil {
		t.Fatal(err)
	}
	dm, err := sub.Next(5 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !dm.Value.Equal(message.IntegerData(42)) {
		t.Fatalf("got %s", dm.Value)
	}
}

func TestChainRouting(t *testing.T) {
	reg := transport.NewInmemRegistry()
	n0 := newTestEndpoint(t, reg, 10, nil)
	n1 := newTestEndpoint(t, reg, 11, nil)
	n2 := newTestEndpoint(t, reg, 12, nil)
	peer(t, n0, n1)
	peer(t, n1, n2)

	sub, err := n2.Subscribe(topic.NewFilter("chain"))
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()

	// The subscription travels n2 -> n1 -> n0 before a publish at n0
	// can route all the way back.
	waitFor(t, "transitive filter propagation", func() bool {
		return peerSeesTopic(n0, n1.LocalAddr(), "chain/x")
	})

	if err := n0.Publish("chain/x", message.StringData("hop")); err != nil {
		t.Fatal(err)
	}
	dm, err := sub.Next(5 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !dm.Value.Equal(message.StringData("hop")) {
		t.Fatalf("got %s", dm.Value)
	}
}

func TestFanOutTreeBroadcast(t *testing.T) {
	reg := transport.NewInmemRegistry()
	hub := newTestEndpoint(t, reg, 20, nil)

	hubSub, err := hub.Subscribe(topic.NewFilter("b"))
	if err != nil {
		t.Fatal(err)
	}
	defer hubSub.Cancel()

	leaves := make([]*Endpoint, 4)
	subs := make([]*Subscription, 4)
	for i := range leaves {
		leaves[i] = newTestEndpoint(t, reg, message.EndpointID(21+i), nil)
		peer(t, hub, leaves[i])
		subs[i], err = leaves[i].Subscribe(topic.NewFilter("a"))
		if err != nil {
			t.Fatal(err)
		}
		defer subs[i].Cancel()
	}
	for i := range leaves {
		leaf := leaves[i]
		waitFor(t, "leaf filter propagation", func() bool {
			return peerSeesTopic(hub, leaf.LocalAddr(), "a")
		})
	}

	if err := hub.Publish("a", message.StringData("ping")); err != nil {
		t.Fatal(err)
	}

	for i, sub := range subs {
		dm, err := sub.Next(5 * time.Second)
		if err != nil {
			t.Fatalf("leaf %d: %v", i, err)
		}
		if dm.Topic != "a" || !dm.Value.Equal(message.StringData("ping")) {
			t.Fatalf("leaf %d got (%s, %s)", i, dm.Topic, dm.Value)
		}
	}

	// On a tree the active-sender rule elides every duplicate: each
	// leaf sees exactly one copy and nothing reflects to the origin.
	time.Sleep(200 * time.Millisecond)
	for i, sub := range subs {
		if dm, ok := sub.Poll(); ok {
			t.Fatalf("leaf %d got a duplicate on %s", i, dm.Topic)
		}
	}
	if dm, ok := hubSub.Poll(); ok {
		t.Fatalf("origin got its own message back on %s", dm.Topic)
	}
}

func TestUnpeerPartitionsOverlay(t *testing.T) {
	reg := transport.NewInmemRegistry()
	nodes := make([]*Endpoint, 6)
	for i := range nodes {
		nodes[i] = newTestEndpoint(t, reg, message.EndpointID(30+i), nil)
	}

	// A line n0-n1-n3-n4-n5 with the leaf n2 hanging off the router n1.
	peer(t, nodes[0], nodes[1])
	peer(t, nodes[1], nodes[3])
	peer(t, nodes[3], nodes[4])
	peer(t, nodes[4], nodes[5])
	peer(t, nodes[1], nodes[2])

	sub, err := nodes[5].Subscribe(topic.NewFilter("e"))
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()
	waitFor(t, "end-to-end filter propagation", func() bool {
		return peerSeesTopic(nodes[0], nodes[1].LocalAddr(), "e")
	})

	if err := nodes[0].Publish("e", message.StringData("first")); err != nil {
		t.Fatal(err)
	}
	dm, err := sub.Next(5 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !dm.Value.Equal(message.StringData("first")) {
		t.Fatalf("got %s", dm.Value)
	}

	// Severing the n1-n3 edge cuts the only route to n5.
	nodes[3].Unpeer(nodes[1].LocalAddr())
	waitFor(t, "unpeer", func() bool {
		return !peered(nodes[3], nodes[1].LocalAddr()) &&
			!peered(nodes[1], nodes[3].LocalAddr())
	})

	if err := nodes[0].Publish("e", message.StringData("second")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if dm, ok := sub.Poll(); ok {
		t.Fatalf("message crossed the partition: (%s, %s)", dm.Topic, dm.Value)
	}
}

func TestStatusEvents(t *testing.T) {
	reg := transport.NewInmemRegistry()
	n1 := newTestEndpoint(t, reg, 1, nil)
	n2 := newTestEndpoint(t, reg, 2, nil)

	if err := n1.PeerWith(n2.LocalAddr()); err != nil {
		t.Fatal(err)
	}
	ev := nextStatus(t, n1, PeerAdded)
	if ev.Addr != n2.LocalAddr() {
		t.Fatalf("peer added for %s", ev.Addr)
	}
	nextStatus(t, n2, PeerAdded)

	n1.Unpeer(n2.LocalAddr())
	nextStatus(t, n1, PeerRemoved)
}

func nextStatus(t *testing.T, ep *Endpoint, want StatusKind) StatusEvent {
	t.Helper()
	for {
		select {
		case ev, ok := <-ep.Status():
			if !ok {
				t.Fatalf("status channel closed before %s", want)
			}
			if ev.Kind == want {
				return ev
			}
		case <-time.After(10 * time.Second):
			t.Fatalf("no %s status event", want)
		}
	}
}

func TestPeerUnavailable(t *testing.T) {
	reg := transport.NewInmemRegistry()
	n1 := newTestEndpoint(t, reg, 1, nil)

	if err := n1.PeerWith("nowhere"); err == nil {
		t.Fatal("expected an error peering with an unknown address")
	}
	nextStatus(t, n1, PeerUnavailable)
}

func TestMasterCloneReplication(t *testing.T) {
	reg := transport.NewInmemRegistry()
	n1 := newTestEndpoint(t, reg, 1, nil)
	n2 := newTestEndpoint(t, reg, 2, nil)
	peer(t, n1, n2)

	master, err := n1.AttachMaster("prices", store.NewInmemBackend())
	if err != nil {
		t.Fatal(err)
	}
	if err := master.Put(message.StringData("gold"), message.IntegerData(100),
		nil, time.Second); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "master channel propagation", func() bool {
		return peerSeesTopic(n2, n1.LocalAddr(), topic.MasterTopic("prices"))
	})
	clone, err := n2.AttachClone("prices")
	if err != nil {
		t.Fatal(err)
	}

	value, err := clone.Get(message.StringData("gold"), 10*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !value.Equal(message.IntegerData(100)) {
		t.Fatalf("got %s, want 100", value)
	}

	// A write through the clone round-trips via the master.
	if err := clone.Put(message.StringData("silver"), message.IntegerData(5),
		nil, time.Second); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "write convergence", func() bool {
		v, err := clone.Get(message.StringData("silver"), time.Second)
		return err == nil && v.Equal(message.IntegerData(5))
	})

	v, err := master.Get(message.StringData("silver"), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Equal(message.IntegerData(5)) {
		t.Fatalf("master has %s, want 5", v)
	}
}

func TestStoreEventsReachSubscribers(t *testing.T) {
	reg := transport.NewInmemRegistry()
	n1 := newTestEndpoint(t, reg, 1, nil)
	n2 := newTestEndpoint(t, reg, 2, nil)
	peer(t, n1, n2)

	sub, err := n2.Subscribe(topic.NewFilter(topic.StoreEventsTopic("prices")))
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()
	waitFor(t, "filter propagation", func() bool {
		return peerSeesTopic(n1, n2.LocalAddr(), topic.StoreEventsTopic("prices"))
	})

	master, err := n1.AttachMaster("prices", store.NewInmemBackend())
	if err != nil {
		t.Fatal(err)
	}
	if err := master.Put(message.StringData("k"), message.IntegerData(1),
		nil, time.Second); err != nil {
		t.Fatal(err)
	}

	dm, err := sub.Next(5 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	items, ok := dm.Value.AsItems()
	if !ok || len(items) == 0 {
		t.Fatalf("malformed store event %s", dm.Value)
	}
	if op, _ := items[0].AsString(); op != "insert" {
		t.Fatalf("got op %s, want insert", op)
	}
}

func TestColocatedMasterAndClone(t *testing.T) {
	reg := transport.NewInmemRegistry()
	n1 := newTestEndpoint(t, reg, 1, nil)

	master, err := n1.AttachMaster("prices", store.NewInmemBackend())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := n1.AttachClone("prices"); err == nil {
		t.Fatal("expected a second store with the same name to be rejected")
	}

	if err := master.Put(message.StringData("k"), message.IntegerData(1),
		nil, time.Second); err != nil {
		t.Fatal(err)
	}
	if err := n1.DetachStore("prices"); err != nil {
		t.Fatal(err)
	}
	if err := n1.DetachStore("prices"); err == nil {
		t.Fatal("expected detach of a missing store to fail")
	}
}

func TestEndpointStats(t *testing.T) {
	reg := transport.NewInmemRegistry()
	n1 := newTestEndpoint(t, reg, 1, nil)
	if _, err := n1.AttachMaster("prices", store.NewInmemBackend()); err != nil {
		t.Fatal(err)
	}

	stats := n1.Stats()
	if _, ok := stats["transport"]; !ok {
		t.Fatal("missing transport stats")
	}
	if got := stats["store/prices"]["role"]; got != "master" {
		t.Fatalf("store role %q, want master", got)
	}
}

func TestShutdownIdempotent(t *testing.T) {
	reg := transport.NewInmemRegistry()
	conduit := reg.NewConduit("solo")
	ep, err := NewEndpoint(7, conduit, nil, clock.New(), common.NewTestEntry(t))
	if err != nil {
		t.Fatal(err)
	}
	ep.Shutdown()
	ep.Shutdown()

	if err := ep.Publish("t", message.IntegerData(1)); !common.Is(err, common.TransportShutdown) {
		t.Fatalf("expected transport shutdown error, got %v", err)
	}
}
