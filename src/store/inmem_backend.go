package store

import (
	"time"

	"github.com/weftlabs/weft/src/common"
	"github.com/weftlabs/weft/src/message"
)

type inmemEntry struct {
	key   message.Data
	value message.Data
	exp   *time.Time
}

// InmemBackend keeps all entries in a map. It implements the Backend
// interface and is the default engine for masters.
type InmemBackend struct {
	entries map[string]inmemEntry
}

// NewInmemBackend ...
func NewInmemBackend() *InmemBackend {
	return &InmemBackend{entries: map[string]inmemEntry{}}
}

func backendKey(key message.Data) (string, error) {
	b, err := message.EncodeData(key)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Get implements the Backend interface.
func (b *InmemBackend) Get(key message.Data) (Entry, error) {
	k, err := backendKey(key)
	if err != nil {
		return Entry{}, err
	}
	e, ok := b.entries[k]
	if !ok {
		return Entry{}, common.NewWeftErr("store", common.KeyNotFound, key.String())
	}
	return Entry{Value: e.value, Expiry: e.exp}, nil
}

// Put implements the Backend interface.
func (b *InmemBackend) Put(key message.Data, e Entry) error {
	k, err := backendKey(key)
	if err != nil {
		return err
	}
	b.entries[k] = inmemEntry{key: key, value: e.Value, exp: e.Expiry}
	return nil
}

// Erase implements the Backend interface.
func (b *InmemBackend) Erase(key message.Data) (bool, error) {
	k, err := backendKey(key)
	if err != nil {
		return false, err
	}
	_, ok := b.entries[k]
	delete(b.entries, k)
	return ok, nil
}

// Clear implements the Backend interface.
func (b *InmemBackend) Clear() error {
	b.entries = map[string]inmemEntry{}
	return nil
}

// Keys implements the Backend interface.
func (b *InmemBackend) Keys() ([]message.Data, error) {
	out := make([]message.Data, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e.key)
	}
	return out, nil
}

// Snapshot implements the Backend interface.
func (b *InmemBackend) Snapshot() ([]StoredEntry, error) {
	out := make([]StoredEntry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, StoredEntry{Key: e.key, Value: e.value, Expiry: e.exp})
	}
	return out, nil
}

// Expire implements the Backend interface.
func (b *InmemBackend) Expire(now time.Time) ([]message.Data, error) {
	var out []message.Data
	for k, e := range b.entries {
		if e.exp != nil && !e.exp.After(now) {
			out = append(out, e.key)
			delete(b.entries, k)
		}
	}
	return out, nil
}

// Close implements the Backend interface.
func (b *InmemBackend) Close() error {
	b.entries = nil
	return nil
}
