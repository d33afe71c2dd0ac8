// Package message defines the three message shapes carried by the
// distribution engine (data messages, command messages, and the node
// messages that wrap them for peer-to-peer hops), the dynamically
// typed values they transport, and their wire encoding.
package message

import (
	"fmt"
	"sort"
	"strings"
)

// DataKind enumerates the variants of a Data value.
type DataKind uint8

const (
	// NoneKind is the absent value.
	NoneKind DataKind = iota
	// BooleanKind ...
	BooleanKind
	// IntegerKind is a signed 64-bit integer.
	IntegerKind
	// RealKind is a 64-bit float.
	RealKind
	// StringKind ...
	StringKind
	// BytesKind is an opaque byte string.
	BytesKind
	// ListKind is an ordered sequence of values.
	ListKind
	// TableKind is a key-value mapping with Data keys.
	TableKind
	// SetKind is an ordered set of values.
	SetKind
	// RecordKind is a fixed sequence of fields.
	RecordKind
)

var dataKinds = []string{"none", "boolean", "integer", "real", "string",
	"bytes", "list", "table", "set", "record"}

// String ...
func (k DataKind) String() string {
	return dataKinds[k]
}

// TableEntry is one key-value pair of a table.
type TableEntry struct {
	Key   Data
	Value Data
}

// Data is a dynamically typed value: one of none, boolean, integer,
// real, string, bytes, list, table, set, or record. Values are
// immutable once constructed.
type Data struct {
	kind  DataKind
	b     bool
	i     int64
	r     float64
	s     string
	by    []byte
	items []Data
	tab   []TableEntry
}

// NoneData returns the absent value.
func NoneData() Data {
	return Data{kind: NoneKind}
}

// BooleanData ...
func BooleanData(b bool) Data {
	return Data{kind: BooleanKind, b: b}
}

// IntegerData ...
func IntegerData(i int64) Data {
	return Data{kind: IntegerKind, i: i}
}

// RealData ...
func RealData(r float64) Data {
	return Data{kind: RealKind, r: r}
}

// StringData ...
func StringData(s string) Data {
	return Data{kind: StringKind, s: s}
}

// BytesData ...
func BytesData(by []byte) Data {
	cp := make([]byte, len(by))
	copy(cp, by)
	return Data{kind: BytesKind, by: cp}
}

// ListData builds a list from the given items.
func ListData(items ...Data) Data {
	cp := make([]Data, len(items))
	copy(cp, items)
	return Data{kind: ListKind, items: cp}
}

// RecordData builds a record from the given fields.
func RecordData(fields ...Data) Data {
	cp := make([]Data, len(fields))
	copy(cp, fields)
	return Data{kind: RecordKind, items: cp}
}

// SetData builds a set from the given items. Duplicates are elided and
// the items are kept in canonical order.
func SetData(items ...Data) Data {
	cp := make([]Data, 0, len(items))
	for _, x := range items {
		found := false
		for _, y := range cp {
			if x.Equal(y) {
				found = true
				break
			}
		}
		if !found {
			cp = append(cp, x)
		}
	}
	sort.Slice(cp, func(i, j int) bool { return cp[i].String() < cp[j].String() })
	return Data{kind: SetKind, items: cp}
}

// TableData builds a table from the given entries, keyed in canonical
// order. A later entry with a duplicate key wins.
func TableData(entries ...TableEntry) Data {
	cp := make([]TableEntry, 0, len(entries))
	for _, e := range entries {
		replaced := false
		for i, x := range cp {
			if x.Key.Equal(e.Key) {
				cp[i] = e
				replaced = true
				break
			}
		}
		if !replaced {
			cp = append(cp, e)
		}
	}
	sort.Slice(cp, func(i, j int) bool { return cp[i].Key.String() < cp[j].Key.String() })
	return Data{kind: TableKind, tab: cp}
}

// Kind returns the variant of the value.
func (d Data) Kind() DataKind {
	return d.kind
}

// IsNone ...
func (d Data) IsNone() bool {
	return d.kind == NoneKind
}

// AsBoolean returns the boolean payload; ok is false for other kinds.
func (d Data) AsBoolean() (value bool, ok bool) {
	return d.b, d.kind == BooleanKind
}

// AsInteger ...
func (d Data) AsInteger() (value int64, ok bool) {
	return d.i, d.kind == IntegerKind
}

// AsReal ...
func (d Data) AsReal() (value float64, ok bool) {
	return d.r, d.kind == RealKind
}

// AsString ...
func (d Data) AsString() (value string, ok bool) {
	return d.s, d.kind == StringKind
}

// AsBytes ...
func (d Data) AsBytes() (value []byte, ok bool) {
	return d.by, d.kind == BytesKind
}

// AsItems returns the elements of a list, set, or record.
func (d Data) AsItems() (items []Data, ok bool) {
	switch d.kind {
	case ListKind, SetKind, RecordKind:
		return d.items, true
	}
	return nil, false
}

// AsTable returns the entries of a table.
func (d Data) AsTable() (entries []TableEntry, ok bool) {
	return d.tab, d.kind == TableKind
}

// SetContains reports whether a set value holds x.
func (d Data) SetContains(x Data) bool {
	if d.kind != SetKind {
		return false
	}
	for _, y := range d.items {
		if y.Equal(x) {
			return true
		}
	}
	return false
}

// Equal compares two values structurally.
func (d Data) Equal(other Data) bool {
	if d.kind != other.kind {
		return false
	}
	switch d.kind {
	case NoneKind:
		return true
	case BooleanKind:
		return d.b == other.b
	case IntegerKind:
		return d.i == other.i
	case RealKind:
		return d.r == other.r
	case StringKind:
		return d.s == other.s
	case BytesKind:
		return string(d.by) == string(other.by)
	case ListKind, SetKind, RecordKind:
		if len(d.items) != len(other.items) {
			return false
		}
		for i := range d.items {
			if !d.items[i].Equal(other.items[i]) {
				return false
			}
		}
		return true
	case TableKind:
		if len(d.tab) != len(other.tab) {
			return false
		}
		for i := range d.tab {
			if !d.tab[i].Key.Equal(other.tab[i].Key) ||
				!d.tab[i].Value.Equal(other.tab[i].Value) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders the value for logs and store-event comparisons.
func (d Data) String() string {
	switch d.kind {
	case NoneKind:
		return "none"
	case BooleanKind:
		return fmt.Sprintf("%t", d.b)
	case IntegerKind:
		return fmt.Sprintf("%d", d.i)
	case RealKind:
		return fmt.Sprintf("%g", d.r)
	case StringKind:
		return d.s
	case BytesKind:
		return fmt.Sprintf("%X", d.by)
	case ListKind, RecordKind:
		return renderItems(d.items, "(", ")")
	case SetKind:
		return renderItems(d.items, "{", "}")
	case TableKind:
		parts := make([]string, len(d.tab))
		for i, e := range d.tab {
			parts[i] = e.Key.String() + " -> " + e.Value.String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return "?"
}

func renderItems(items []Data, open, close string) string {
	parts := make([]string, len(items))
	for i, x := range items {
		parts[i] = x.String()
	}
	return open + strings.Join(parts, ", ") + close
}
