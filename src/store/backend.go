// Package store implements master/clone key-value replication on top
// of the distribution engine. A master owns the authoritative copy of
// a named dataset; clones hold eventually-consistent shadows and
// forward writes to their master over the store's reserved channels.
package store

import (
	"time"

	"github.com/weftlabs/weft/src/message"
)

// Entry is a stored value with an optional absolute expiry deadline.
type Entry struct {
	Value  message.Data
	Expiry *time.Time
}

// StoredEntry is one key of a backend snapshot.
type StoredEntry struct {
	Key    message.Data
	Value  message.Data
	Expiry *time.Time
}

// Backend is the storage engine behind a master.
type Backend interface {
	// Get returns the entry for key or a KeyNotFound error.
	Get(key message.Data) (Entry, error)

	// Put stores an entry under key, replacing any previous one.
	Put(key message.Data, e Entry) error

	// Erase removes key. It reports whether the key existed.
	Erase(key message.Data) (bool, error)

	// Clear wipes the whole store.
	Clear() error

	// Keys lists all stored keys.
	Keys() ([]message.Data, error)

	// Snapshot captures the full state.
	Snapshot() ([]StoredEntry, error)

	// Expire removes entries whose deadline lies at or before now and
	// returns their keys.
	Expire(now time.Time) ([]message.Data, error)

	// Close releases backend resources.
	Close() error
}
