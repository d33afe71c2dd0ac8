package store

import (
	"time"

	"github.com/weftlabs/weft/src/message"
)

// Store events are lists published on the store's event topic:
//
//	[op, key, (old,) new, expiry, publisher_endpoint, publisher_object]
//
// Erase events carry no value or expiry slots:
//
//	[erase, key, publisher_endpoint, publisher_object]
//
// The expiry slot carries the remaining duration in nanoseconds, or
// none. A none publisher appends two none slots.

func publisherSlots(p message.EntityID) (message.Data, message.Data) {
	if p.IsNone() {
		return message.NoneData(), message.NoneData()
	}
	return message.IntegerData(int64(p.Endpoint)), message.IntegerData(int64(p.Object))
}

func expirySlot(d *time.Duration) message.Data {
	if d == nil {
		return message.NoneData()
	}
	return message.IntegerData(int64(*d))
}

// InsertEvent ...
func InsertEvent(key, value message.Data, expiry *time.Duration, publisher message.EntityID) message.Data {
	pe, po := publisherSlots(publisher)
	return message.ListData(message.StringData("insert"), key, value,
		expirySlot(expiry), pe, po)
}

// UpdateEvent ...
func UpdateEvent(key, oldValue, newValue message.Data, expiry *time.Duration,
	publisher message.EntityID) message.Data {
	pe, po := publisherSlots(publisher)
	return message.ListData(message.StringData("update"), key, oldValue,
		newValue, expirySlot(expiry), pe, po)
}

// EraseEvent ...
func EraseEvent(key message.Data, publisher message.EntityID) message.Data {
	pe, po := publisherSlots(publisher)
	return message.ListData(message.StringData("erase"), key, pe, po)
}

// Event is the decoded form of a store event.
type Event struct {
	Op        string
	Key       message.Data
	OldValue  message.Data
	Value     message.Data
	Expiry    *time.Duration
	Publisher message.EntityID
}

func parsePublisher(endpoint, object message.Data) message.EntityID {
	e, ok := endpoint.AsInteger()
	if !ok {
		return message.EntityID{}
	}
	o, _ := object.AsInteger()
	return message.EntityID{Endpoint: message.EndpointID(e), Object: uint64(o)}
}

func parseExpiry(d message.Data) *time.Duration {
	ns, ok := d.AsInteger()
	if !ok {
		return nil
	}
	exp := time.Duration(ns)
	return &exp
}

// ParseEvent decodes a store event list. It reports false when the
// value does not have one of the three event shapes.
func ParseEvent(d message.Data) (Event, bool) {
	items, ok := d.AsItems()
	if !ok || len(items) == 0 {
		return Event{}, false
	}
	op, ok := items[0].AsString()
	if !ok {
		return Event{}, false
	}
	switch op {
	case "insert":
		if len(items) != 6 {
			return Event{}, false
		}
		return Event{
			Op:        op,
			Key:       items[1],
			Value:     items[2],
			Expiry:    parseExpiry(items[3]),
			Publisher: parsePublisher(items[4], items[5]),
		}, true
	case "update":
		if len(items) != 7 {
			return Event{}, false
		}
		return Event{
			Op:        op,
			Key:       items[1],
			OldValue:  items[2],
			Value:     items[3],
			Expiry:    parseExpiry(items[4]),
			Publisher: parsePublisher(items[5], items[6]),
		}, true
	case "erase":
		if len(items) != 4 {
			return Event{}, false
		}
		return Event{
			Op:        op,
			Key:       items[1],
			Publisher: parsePublisher(items[2], items[3]),
		}, true
	}
	return Event{}, false
}
