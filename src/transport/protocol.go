package transport

import (
	"github.com/ugorji/go/codec"

	"github.com/weftlabs/weft/src/message"
	"github.com/weftlabs/weft/src/topic"
)

// MsgType enumerates the protocol messages exchanged between
// transports.
type MsgType uint8

const (
	// PeerRequestMsg is handshake step 1, carrying the initiator's
	// filter.
	PeerRequestMsg MsgType = iota
	// PeerAckMsg is handshake step 2, the responder's acceptance.
	PeerAckMsg
	// OpenStreamMsg announces a new outbound stream of the sender.
	OpenStreamMsg
	// AckOpenMsg accepts a stream and grants its first credit window.
	AckOpenMsg
	// AckBatchMsg acknowledges a processed batch and regrants credit.
	AckBatchMsg
	// CloseMsg shuts a stream down gracefully.
	CloseMsg
	// ForcedCloseMsg shuts a stream down with a reason.
	ForcedCloseMsg
	// DropMsg abandons an inbound stream gracefully.
	DropMsg
	// ForcedDropMsg abandons an inbound stream with a reason.
	ForcedDropMsg
	// BatchMsg carries node messages on an open stream.
	BatchMsg
	// FilterUpdateMsg replaces the sender's filter on the receiving
	// side.
	FilterUpdateMsg
)

var msgTypes = []string{"peer_request", "peer_ack", "open_stream",
	"ack_open", "ack_batch", "close", "forced_close", "drop",
	"forced_drop", "batch", "filter_update"}

// String ...
func (t MsgType) String() string {
	return msgTypes[t]
}

// ProtocolMessage is one message of the peering and streaming
// protocol. The populated fields depend on the type.
type ProtocolMessage struct {
	Type   MsgType
	Origin message.EntityID
	Filter topic.Filter
	Slot   uint64
	Rebind uint64
	Credit uint64
	Reason string
	Items  []message.NodeMessage
}

type wireProtocolMessage struct {
	Type   MsgType
	Origin message.EntityID
	Filter []topic.Topic  `codec:",omitempty"`
	Slot   uint64         `codec:",omitempty"`
	Rebind uint64         `codec:",omitempty"`
	Credit uint64         `codec:",omitempty"`
	Reason string         `codec:",omitempty"`
	Items  [][]byte       `codec:",omitempty"`
}

// EncodeProtocolMessage renders a protocol message for a byte
// carrier. Batch items travel in node-message wire form.
func EncodeProtocolMessage(m ProtocolMessage) ([]byte, error) {
	w := wireProtocolMessage{
		Type:   m.Type,
		Origin: m.Origin,
		Filter: m.Filter,
		Slot:   m.Slot,
		Rebind: m.Rebind,
		Credit: m.Credit,
		Reason: m.Reason,
	}
	if len(m.Items) > 0 {
		w.Items = make([][]byte, len(m.Items))
		for i, item := range m.Items {
			enc, err := message.EncodeNodeMessage(item)
			if err != nil {
				return nil, err
			}
			w.Items[i] = enc
		}
	}

	var out []byte
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	if err := codec.NewEncoderBytes(&out, jh).Encode(w); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeProtocolMessage parses a protocol message off a byte carrier.
func DecodeProtocolMessage(data []byte) (ProtocolMessage, error) {
	var w wireProtocolMessage
	jh := new(codec.JsonHandle)
	if err := codec.NewDecoderBytes(data, jh).Decode(&w); err != nil {
		return ProtocolMessage{}, err
	}

	m := ProtocolMessage{
		Type:   w.Type,
		Origin: w.Origin,
		Filter: w.Filter,
		Slot:   w.Slot,
		Rebind: w.Rebind,
		Credit: w.Credit,
		Reason: w.Reason,
	}
	if len(w.Items) > 0 {
		m.Items = make([]message.NodeMessage, len(w.Items))
		for i, enc := range w.Items {
			item, err := message.DecodeNodeMessage(enc)
			if err != nil {
				return ProtocolMessage{}, err
			}
			m.Items[i] = item
		}
	}
	return m, nil
}
