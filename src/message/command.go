package message

import "time"

// CommandTag enumerates the store commands.
type CommandTag uint8

const (
	// PutTag writes a key, optionally with an expiry.
	PutTag CommandTag = iota
	// EraseTag removes a key.
	EraseTag
	// ClearTag wipes the whole store.
	ClearTag
	// AddTag performs typed addition on the current value.
	AddTag
	// SubtractTag performs typed subtraction on the current value.
	SubtractTag
	// SnapshotRequestTag asks a master for its full state.
	SnapshotRequestTag
	// SnapshotTag carries a master's full state to a clone.
	SnapshotTag
	// KeepAliveTag is a liveness beacon from master to clones.
	KeepAliveTag
)

var commandTags = []string{"put", "erase", "clear", "add", "subtract",
	"snapshot_request", "snapshot", "keepalive"}

// String ...
func (t CommandTag) String() string {
	return commandTags[t]
}

// SnapshotEntry is one key of a snapshot, with its value and optional
// expiry deadline relative to the snapshot instant.
type SnapshotEntry struct {
	Key    Data
	Value  Data
	Expiry *time.Duration
}

// Command is a single store operation. The populated fields depend on
// the tag: Put uses Key/Value/Expiry, Erase uses Key, Add and Subtract
// use Key/Value as the delta, Snapshot uses Seq/Entries, KeepAlive
// uses Seq. Every mutating command names its publisher.
type Command struct {
	Tag       CommandTag
	Key       Data
	Value     Data
	Expiry    *time.Duration
	Publisher EntityID
	Seq       uint64
	Entries   []SnapshotEntry
}

// PutCommand ...
func PutCommand(key, value Data, expiry *time.Duration, publisher EntityID) Command {
	return Command{Tag: PutTag, Key: key, Value: value, Expiry: expiry, Publisher: publisher}
}

// EraseCommand ...
func EraseCommand(key Data, publisher EntityID) Command {
	return Command{Tag: EraseTag, Key: key, Publisher: publisher}
}

// ClearCommand ...
func ClearCommand(publisher EntityID) Command {
	return Command{Tag: ClearTag, Publisher: publisher}
}

// AddCommand ...
func AddCommand(key, delta Data, publisher EntityID) Command {
	return Command{Tag: AddTag, Key: key, Value: delta, Publisher: publisher}
}

// SubtractCommand ...
func SubtractCommand(key, delta Data, publisher EntityID) Command {
	return Command{Tag: SubtractTag, Key: key, Value: delta, Publisher: publisher}
}

// SnapshotRequestCommand ...
func SnapshotRequestCommand(requester EntityID) Command {
	return Command{Tag: SnapshotRequestTag, Publisher: requester}
}

// SnapshotCommand captures a master's state after command seq.
func SnapshotCommand(seq uint64, entries []SnapshotEntry, publisher EntityID) Command {
	return Command{Tag: SnapshotTag, Seq: seq, Entries: entries, Publisher: publisher}
}

// KeepAliveCommand ...
func KeepAliveCommand(seq uint64, publisher EntityID) Command {
	return Command{Tag: KeepAliveTag, Seq: seq, Publisher: publisher}
}

// IsMutation reports whether the command changes store state when
// applied.
func (c Command) IsMutation() bool {
	switch c.Tag {
	case PutTag, EraseTag, ClearTag, AddTag, SubtractTag:
		return true
	}
	return false
}
