package message

import (
	"encoding/binary"
	"time"

	"github.com/ugorji/go/codec"

	"github.com/weftlabs/weft/src/common"
	"github.com/weftlabs/weft/src/topic"
)

// Wire form of a node message: a fixed 15-byte header (big-endian TTL,
// sender endpoint, sender object, content tag) followed by the encoded
// payload.
const (
	wireHeaderLen = 15

	dataContentTag    byte = 0
	commandContentTag byte = 1
)

type wireData struct {
	Kind    DataKind
	Boolean bool         `codec:",omitempty"`
	Integer int64        `codec:",omitempty"`
	Real    float64      `codec:",omitempty"`
	Str     string       `codec:",omitempty"`
	Bytes   []byte       `codec:",omitempty"`
	Items   []wireData   `codec:",omitempty"`
	Entries []wireDataKV `codec:",omitempty"`
}

type wireDataKV struct {
	Key   wireData
	Value wireData
}

type wireSnapshotEntry struct {
	Key    wireData
	Value  wireData
	Expiry *time.Duration `codec:",omitempty"`
}

type wireCommand struct {
	Tag       CommandTag
	Key       wireData
	Value     wireData
	Expiry    *time.Duration `codec:",omitempty"`
	Publisher EntityID
	Seq       uint64              `codec:",omitempty"`
	Entries   []wireSnapshotEntry `codec:",omitempty"`
}

type wireDataMessage struct {
	Topic topic.Topic
	Value wireData
}

type wireCommandMessage struct {
	Topic topic.Topic
	Cmd   wireCommand
}

func toWireData(d Data) wireData {
	w := wireData{Kind: d.kind}
	switch d.kind {
	case BooleanKind:
		w.Boolean = d.b
	case IntegerKind:
		w.Integer = d.i
	case RealKind:
		w.Real = d.r
	case StringKind:
		w.Str = d.s
	case BytesKind:
		w.Bytes = d.by
	case ListKind, SetKind, RecordKind:
		w.Items = make([]wireData, len(d.items))
		for i, x := range d.items {
			w.Items[i] = toWireData(x)
		}
	case TableKind:
		w.Entries = make([]wireDataKV, len(d.tab))
		for i, e := range d.tab {
			w.Entries[i] = wireDataKV{Key: toWireData(e.Key), Value: toWireData(e.Value)}
		}
	}
	return w
}

func fromWireData(w wireData) Data {
	switch w.Kind {
	case BooleanKind:
		return BooleanData(w.Boolean)
	case IntegerKind:
		return IntegerData(w.Integer)
	case RealKind:
		return RealData(w.Real)
	case StringKind:
		return StringData(w.Str)
	case BytesKind:
		return BytesData(w.Bytes)
	case ListKind, RecordKind:
		items := make([]Data, len(w.Items))
		for i, x := range w.Items {
			items[i] = fromWireData(x)
		}
		if w.Kind == ListKind {
			return ListData(items...)
		}
		return RecordData(items...)
	case SetKind:
		items := make([]Data, len(w.Items))
		for i, x := range w.Items {
			items[i] = fromWireData(x)
		}
		return SetData(items...)
	case TableKind:
		entries := make([]TableEntry, len(w.Entries))
		for i, e := range w.Entries {
			entries[i] = TableEntry{Key: fromWireData(e.Key), Value: fromWireData(e.Value)}
		}
		return TableData(entries...)
	}
	return NoneData()
}

func toWireCommand(c Command) wireCommand {
	w := wireCommand{
		Tag:       c.Tag,
		Key:       toWireData(c.Key),
		Value:     toWireData(c.Value),
		Expiry:    c.Expiry,
		Publisher: c.Publisher,
		Seq:       c.Seq,
	}
	if len(c.Entries) > 0 {
		w.Entries = make([]wireSnapshotEntry, len(c.Entries))
		for i, e := range c.Entries {
			w.Entries[i] = wireSnapshotEntry{
				Key:    toWireData(e.Key),
				Value:  toWireData(e.Value),
				Expiry: e.Expiry,
			}
		}
	}
	return w
}

func fromWireCommand(w wireCommand) Command {
	c := Command{
		Tag:       w.Tag,
		Key:       fromWireData(w.Key),
		Value:     fromWireData(w.Value),
		Expiry:    w.Expiry,
		Publisher: w.Publisher,
		Seq:       w.Seq,
	}
	if len(w.Entries) > 0 {
		c.Entries = make([]SnapshotEntry, len(w.Entries))
		for i, e := range w.Entries {
			c.Entries[i] = SnapshotEntry{
				Key:    fromWireData(e.Key),
				Value:  fromWireData(e.Value),
				Expiry: e.Expiry,
			}
		}
	}
	return c
}

// EncodeData renders a single value in canonical form, for storage
// backends that key on bytes.
func EncodeData(d Data) ([]byte, error) {
	var out []byte
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	if err := codec.NewEncoderBytes(&out, jh).Encode(toWireData(d)); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeData parses a value encoded by EncodeData.
func DecodeData(b []byte) (Data, error) {
	var w wireData
	jh := new(codec.JsonHandle)
	if err := codec.NewDecoderBytes(b, jh).Decode(&w); err != nil {
		return Data{}, err
	}
	return fromWireData(w), nil
}

// EncodeNodeMessage renders a node message in wire form.
func EncodeNodeMessage(m NodeMessage) ([]byte, error) {
	var payload []byte
	var tag byte
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoderBytes(&payload, jh)
	switch {
	case m.Data != nil:
		tag = dataContentTag
		if err := enc.Encode(wireDataMessage{Topic: m.Data.Topic, Value: toWireData(m.Data.Value)}); err != nil {
			return nil, err
		}
	case m.Command != nil:
		tag = commandContentTag
		if err := enc.Encode(wireCommandMessage{Topic: m.Command.Topic, Cmd: toWireCommand(m.Command.Cmd)}); err != nil {
			return nil, err
		}
	default:
		return nil, common.NewWeftErr("message", common.InvalidArgument, "node message carries no payload")
	}

	out := make([]byte, wireHeaderLen+len(payload))
	binary.BigEndian.PutUint16(out[0:2], m.TTL)
	binary.BigEndian.PutUint32(out[2:6], uint32(m.Sender.Endpoint))
	binary.BigEndian.PutUint64(out[6:14], m.Sender.Object)
	out[14] = tag
	copy(out[wireHeaderLen:], payload)
	return out, nil
}

// DecodeNodeMessage parses a wire-form node message.
func DecodeNodeMessage(data []byte) (NodeMessage, error) {
	if len(data) < wireHeaderLen {
		return NodeMessage{}, common.NewWeftErr("message", common.InvalidArgument, "truncated node message header")
	}

	m := NodeMessage{
		TTL: binary.BigEndian.Uint16(data[0:2]),
		Sender: EntityID{
			Endpoint: EndpointID(binary.BigEndian.Uint32(data[2:6])),
			Object:   binary.BigEndian.Uint64(data[6:14]),
		},
	}

	jh := new(codec.JsonHandle)
	dec := codec.NewDecoderBytes(data[wireHeaderLen:], jh)
	switch data[14] {
	case dataContentTag:
		var w wireDataMessage
		if err := dec.Decode(&w); err != nil {
			return NodeMessage{}, err
		}
		m.Data = &DataMessage{Topic: w.Topic, Value: fromWireData(w.Value)}
	case commandContentTag:
		var w wireCommandMessage
		if err := dec.Decode(&w); err != nil {
			return NodeMessage{}, err
		}
		m.Command = &CommandMessage{Topic: w.Topic, Cmd: fromWireCommand(w.Cmd)}
	default:
		return NodeMessage{}, common.NewWeftErr("message", common.InvalidArgument, "unknown content tag")
	}
	return m, nil
}
