package store

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/weftlabs/weft/src/common"
	"github.com/weftlabs/weft/src/message"
	"github.com/weftlabs/weft/src/topic"
)

func newTestClone(t *testing.T, clk clock.Clock) (*Clone, *capturePublisher) {
	t.Helper()
	pub := &capturePublisher{}
	self := message.EntityID{Endpoint: 2, Object: 200}
	c := NewClone("prices", self, pub, syncRunner{}, clk, common.NewTestEntry(t))
	return c, pub
}

func masterID() message.EntityID {
	return message.EntityID{Endpoint: 1, Object: 100}
}

func deliver(c *Clone, cmd message.Command) {
	c.Enqueue(message.CommandMessage{
		Topic: topic.CloneTopic(c.Name()),
		Cmd:   cmd,
	}, cmd.Publisher)
	c.Process()
}

func snapshotOf(seq uint64, entries ...message.SnapshotEntry) message.Command {
	return message.SnapshotCommand(seq, entries, masterID())
}

func forwardedPut(seq uint64, key, value message.Data) message.Command {
	cmd := message.PutCommand(key, value, nil, masterID())
	cmd.Seq = seq
	return cmd
}

func TestCloneStartRequestsSnapshot(t *testing.T) {
	c, pub := newTestClone(t, clock.NewMock())
	c.Start()
	if len(pub.cmds) != 1 {
		t.Fatalf("expected one command, got %d", len(pub.cmds))
	}
	if pub.cmds[0].cmd.Tag != message.SnapshotRequestTag {
		t.Fatalf("got %s, want snapshot_request", pub.cmds[0].cmd.Tag)
	}
	if pub.cmds[0].topic != topic.MasterTopic("prices") {
		t.Fatalf("request on wrong topic %s", pub.cmds[0].topic)
	}
}

func TestCloneUninitializedGet(t *testing.T) {
	c, _ := newTestClone(t, clock.NewMock())
	c.Start()
	_, err := c.Get(message.StringData("k"), 50*time.Millisecond)
	if !common.Is(err, common.StoreUninitialized) {
		t.Fatalf("expected store uninitialized, got %v", err)
	}
}

func TestCloneSnapshotAndForwardedCommands(t *testing.T) {
	c, _ := newTestClone(t, clock.NewMock())
	c.Start()

	deliver(c, snapshotOf(5,
		message.SnapshotEntry{Key: message.StringData("a"), Value: message.IntegerData(1)}))

	value, err := c.Get(message.StringData("a"), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !value.Equal(message.IntegerData(1)) {
		t.Fatalf("got %s, want 1", value)
	}

	deliver(c, forwardedPut(6, message.StringData("b"), message.IntegerData(2)))
	value, err = c.Get(message.StringData("b"), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !value.Equal(message.IntegerData(2)) {
		t.Fatalf("got %s, want 2", value)
	}

	erase := message.EraseCommand(message.StringData("a"), masterID())
	erase.Seq = 7
	deliver(c, erase)
	if _, err := c.Get(message.StringData("a"), time.Second); !common.Is(err, common.KeyNotFound) {
		t.Fatalf("erased key still readable: %v", err)
	}

	keys, err := c.Keys(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected 1 key, got %d", len(keys))
	}
}

func TestCloneSequenceGapResyncs(t *testing.T) {
	c, pub := newTestClone(t, clock.NewMock())
	c.Start()
	deliver(c, snapshotOf(1))
	pub.reset()

	// Seq 3 arrives after 1: a forwarded command was lost.
	deliver(c, forwardedPut(3, message.StringData("k"), message.IntegerData(1)))

	if len(pub.cmds) != 1 || pub.cmds[0].cmd.Tag != message.SnapshotRequestTag {
		t.Fatalf("expected a snapshot re-request, got %v", pub.cmds)
	}
	if _, err := c.Get(message.StringData("k"), 50*time.Millisecond); !common.Is(err, common.StoreUninitialized) {
		t.Fatalf("expected store uninitialized after gap, got %v", err)
	}

	// A fresh snapshot restores service.
	deliver(c, snapshotOf(4,
		message.SnapshotEntry{Key: message.StringData("k"), Value: message.IntegerData(1)}))
	value, err := c.Get(message.StringData("k"), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !value.Equal(message.IntegerData(1)) {
		t.Fatalf("got %s, want 1", value)
	}
}

func TestCloneKeepaliveDriftResyncs(t *testing.T) {
	c, pub := newTestClone(t, clock.NewMock())
	c.Start()
	deliver(c, snapshotOf(2))
	pub.reset()

	deliver(c, message.KeepAliveCommand(2, masterID()))
	if len(pub.cmds) != 0 {
		t.Fatal("matching keepalive triggered a resync")
	}

	deliver(c, message.KeepAliveCommand(9, masterID()))
	if len(pub.cmds) != 1 || pub.cmds[0].cmd.Tag != message.SnapshotRequestTag {
		t.Fatalf("expected a snapshot re-request, got %v", pub.cmds)
	}
}

func TestCloneSilentMasterResyncs(t *testing.T) {
	clk := clock.NewMock()
	c, pub := newTestClone(t, clk)
	c.Start()
	deliver(c, snapshotOf(1))
	pub.reset()

	clk.Add(staleAfter)
	c.Tick(clk.Now())

	if len(pub.cmds) != 1 || pub.cmds[0].cmd.Tag != message.SnapshotRequestTag {
		t.Fatalf("expected a snapshot re-request, got %v", pub.cmds)
	}
}

func TestCloneLocalExpiry(t *testing.T) {
	clk := clock.NewMock()
	c, _ := newTestClone(t, clk)
	c.Start()

	ttl := time.Minute
	deliver(c, snapshotOf(1,
		message.SnapshotEntry{Key: message.StringData("k"), Value: message.IntegerData(1), Expiry: &ttl}))

	// A live master keeps the clone fresh with keepalives, so only the
	// entry's own expiry is in play.
	clk.Add(30 * time.Second)
	deliver(c, message.KeepAliveCommand(1, masterID()))
	c.Tick(clk.Now())
	if _, err := c.Get(message.StringData("k"), time.Second); err != nil {
		t.Fatalf("entry expired too early: %v", err)
	}

	clk.Add(31 * time.Second)
	deliver(c, message.KeepAliveCommand(1, masterID()))
	c.Tick(clk.Now())
	if _, err := c.Get(message.StringData("k"), time.Second); !common.Is(err, common.KeyNotFound) {
		t.Fatalf("expired key still readable: %v", err)
	}
}

func TestCloneWritesRelayToMaster(t *testing.T) {
	c, pub := newTestClone(t, clock.NewMock())
	c.Start()
	deliver(c, snapshotOf(1))
	pub.reset()

	key := message.StringData("k")
	if err := c.Put(key, message.IntegerData(1), nil, time.Second); err != nil {
		t.Fatal(err)
	}
	if err := c.Add(key, message.IntegerData(2), time.Second); err != nil {
		t.Fatal(err)
	}
	if err := c.Erase(key, time.Second); err != nil {
		t.Fatal(err)
	}

	want := []message.CommandTag{message.PutTag, message.AddTag, message.EraseTag}
	if len(pub.cmds) != len(want) {
		t.Fatalf("expected %d relayed commands, got %d", len(want), len(pub.cmds))
	}
	for i, w := range want {
		if pub.cmds[i].cmd.Tag != w {
			t.Fatalf("relay %d: got %s, want %s", i, pub.cmds[i].cmd.Tag, w)
		}
		if pub.cmds[i].topic != topic.MasterTopic("prices") {
			t.Fatalf("relay %d on wrong topic %s", i, pub.cmds[i].topic)
		}
	}

	// The shadow only changes once the master forwards the command
	// back, so the relayed put is not yet visible.
	if _, err := c.Get(key, time.Second); !common.Is(err, common.KeyNotFound) {
		t.Fatalf("relayed write applied locally: %v", err)
	}
}
