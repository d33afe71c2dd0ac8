package store

import (
	"time"

	"github.com/dgraph-io/badger"
	"github.com/ugorji/go/codec"

	"github.com/weftlabs/weft/src/common"
	"github.com/weftlabs/weft/src/message"
)

type badgerValue struct {
	Value  []byte
	Expiry int64 `codec:",omitempty"`
}

// BadgerBackend persists a master's state in a badger database, so the
// dataset survives endpoint restarts. Expiry deadlines are stored as
// absolute unix nanoseconds.
type BadgerBackend struct {
	db   *badger.DB
	path string
}

// NewBadgerBackend opens (or creates) a database at path.
func NewBadgerBackend(path string) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(path)
	opts.SyncWrites = false
	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerBackend{db: handle, path: path}, nil
}

// Path returns the database directory.
func (b *BadgerBackend) Path() string {
	return b.path
}

func encodeBadgerValue(e Entry) ([]byte, error) {
	value, err := message.EncodeData(e.Value)
	if err != nil {
		return nil, err
	}
	bv := badgerValue{Value: value}
	if e.Expiry != nil {
		bv.Expiry = e.Expiry.UnixNano()
	}
	var out []byte
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	if err := codec.NewEncoderBytes(&out, jh).Encode(bv); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeBadgerValue(data []byte) (Entry, error) {
	var bv badgerValue
	jh := new(codec.JsonHandle)
	if err := codec.NewDecoderBytes(data, jh).Decode(&bv); err != nil {
		return Entry{}, err
	}
	value, err := message.DecodeData(bv.Value)
	if err != nil {
		return Entry{}, err
	}
	e := Entry{Value: value}
	if bv.Expiry != 0 {
		t := time.Unix(0, bv.Expiry)
		e.Expiry = &t
	}
	return e, nil
}

// Get implements the Backend interface.
func (b *BadgerBackend) Get(key message.Data) (Entry, error) {
	k, err := message.EncodeData(key)
	if err != nil {
		return Entry{}, err
	}
	var entry Entry
	err = b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			return err
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		entry, err = decodeBadgerValue(data)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return Entry{}, common.NewWeftErr("store", common.KeyNotFound, key.String())
	}
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Put implements the Backend interface.
func (b *BadgerBackend) Put(key message.Data, e Entry) error {
	k, err := message.EncodeData(key)
	if err != nil {
		return err
	}
	v, err := encodeBadgerValue(e)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, v)
	})
}

// Erase implements the Backend interface.
func (b *BadgerBackend) Erase(key message.Data) (bool, error) {
	k, err := message.EncodeData(key)
	if err != nil {
		return false, err
	}
	existed := false
	err = b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(k); err == badger.ErrKeyNotFound {
			return nil
		} else if err != nil {
			return err
		}
		existed = true
		return txn.Delete(k)
	})
	return existed, err
}

// Clear implements the Backend interface.
func (b *BadgerBackend) Clear() error {
	return b.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Keys implements the Backend interface.
func (b *BadgerBackend) Keys() ([]message.Data, error) {
	var out []message.Data
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key, err := message.DecodeData(it.Item().KeyCopy(nil))
			if err != nil {
				return err
			}
			out = append(out, key)
		}
		return nil
	})
	return out, err
}

// Snapshot implements the Backend interface.
func (b *BadgerBackend) Snapshot() ([]StoredEntry, error) {
	var out []StoredEntry
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key, err := message.DecodeData(item.KeyCopy(nil))
			if err != nil {
				return err
			}
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			entry, err := decodeBadgerValue(data)
			if err != nil {
				return err
			}
			out = append(out, StoredEntry{Key: key, Value: entry.Value, Expiry: entry.Expiry})
		}
		return nil
	})
	return out, err
}

// Expire implements the Backend interface.
func (b *BadgerBackend) Expire(now time.Time) ([]message.Data, error) {
	var out []message.Data
	err := b.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		var expired [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			entry, err := decodeBadgerValue(data)
			if err != nil {
				return err
			}
			if entry.Expiry != nil && !entry.Expiry.After(now) {
				expired = append(expired, item.KeyCopy(nil))
			}
		}
		for _, k := range expired {
			key, err := message.DecodeData(k)
			if err != nil {
				return err
			}
			if err := txn.Delete(k); err != nil {
				return err
			}
			out = append(out, key)
		}
		return nil
	})
	return out, err
}

// Close implements the Backend interface.
func (b *BadgerBackend) Close() error {
	return b.db.Close()
}
