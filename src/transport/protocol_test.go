package transport

import (
	"testing"
	"time"

	"github.com/weftlabs/weft/src/message"
	"github.com/weftlabs/weft/src/topic"
)

func TestProtocolMessageRoundTrip(t *testing.T) {
	sender := message.EntityID{Endpoint: 5, Object: 1}
	m := ProtocolMessage{
		Type:   BatchMsg,
		Origin: sender,
		Slot:   3,
		Items: []message.NodeMessage{
			message.NewDataNodeMessage(20, sender, "a/b", message.StringData("hi")),
		},
	}

	enc, err := EncodeProtocolMessage(m)
	if err != nil {
		t.Fatal(err)
	}

	got, err := DecodeProtocolMessage(enc)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != BatchMsg || got.Origin != sender || got.Slot != 3 {
		t.Fatalf("unexpected header: %+v", got)
	}
	if len(got.Items) != 1 || got.Items[0].Topic() != "a/b" {
		t.Fatalf("unexpected items: %+v", got.Items)
	}
}

func TestProtocolFilterRoundTrip(t *testing.T) {
	m := ProtocolMessage{
		Type:   FilterUpdateMsg,
		Origin: message.EndpointEntity(1),
		Filter: topic.NewFilter("a", "b/c"),
	}

	enc, err := EncodeProtocolMessage(m)
	if err != nil {
		t.Fatal(err)
	}

	got, err := DecodeProtocolMessage(enc)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Filter.Equal(m.Filter) {
		t.Fatalf("filter not preserved: %v", got.Filter)
	}
}

func TestTCPConduit(t *testing.T) {
	layerA, err := NewTCPStreamLayer("127.0.0.1:0", "")
	if err != nil {
		t.Fatal(err)
	}
	layerB, err := NewTCPStreamLayer("127.0.0.1:0", "")
	if err != nil {
		t.Fatal(err)
	}

	a := NewTCPConduit(layerA, 2*time.Second, nil)
	defer a.Close()
	b := NewTCPConduit(layerB, 2*time.Second, nil)
	defer b.Close()

	msg := ProtocolMessage{
		Type:   PeerRequestMsg,
		Origin: message.EndpointEntity(1),
		Filter: topic.NewFilter("a"),
	}
	if err := a.Send(b.LocalAddr(), msg); err != nil {
		t.Fatal(err)
	}

	select {
	case env := <-b.Consumer():
		if env.From != a.LocalAddr() {
			t.Fatalf("unexpected sender address: %s", env.From)
		}
		if env.Msg.Type != PeerRequestMsg || !env.Msg.Filter.Equal(msg.Filter) {
			t.Fatalf("unexpected message: %+v", env.Msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}
