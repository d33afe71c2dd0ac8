package store

import (
	"testing"
	"time"

	"github.com/weftlabs/weft/src/common"
	"github.com/weftlabs/weft/src/message"
)

func testBackend(t *testing.T, b Backend) {
	t.Helper()
	key := message.StringData("answer")

	if _, err := b.Get(key); !common.Is(err, common.KeyNotFound) {
		t.Fatalf("expected key not found, got %v", err)
	}

	if err := b.Put(key, Entry{Value: message.IntegerData(42)}); err != nil {
		t.Fatal(err)
	}
	e, err := b.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if !e.Value.Equal(message.IntegerData(42)) {
		t.Fatalf("got %s, want 42", e.Value)
	}

	deadline := time.Now().Add(time.Hour).Truncate(0)
	other := message.ListData(message.IntegerData(1), message.StringData("x"))
	if err := b.Put(other, Entry{Value: message.BooleanData(true), Expiry: &deadline}); err != nil {
		t.Fatal(err)
	}
	e, err = b.Get(other)
	if err != nil {
		t.Fatal(err)
	}
	if e.Expiry == nil || !e.Expiry.Equal(deadline) {
		t.Fatalf("expiry not preserved: %v", e.Expiry)
	}

	keys, err := b.Keys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}

	snapshot, err := b.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 snapshot entries, got %d", len(snapshot))
	}

	expired, err := b.Expire(time.Now().Add(2 * time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 1 || !expired[0].Equal(other) {
		t.Fatalf("unexpected expiry sweep result: %v", expired)
	}
	if _, err := b.Get(other); !common.Is(err, common.KeyNotFound) {
		t.Fatalf("expired key still present: %v", err)
	}

	existed, err := b.Erase(key)
	if err != nil {
		t.Fatal(err)
	}
	if !existed {
		t.Fatal("erase reported missing key")
	}
	existed, err = b.Erase(key)
	if err != nil {
		t.Fatal(err)
	}
	if existed {
		t.Fatal("double erase reported existing key")
	}

	if err := b.Put(key, Entry{Value: message.StringData("v")}); err != nil {
		t.Fatal(err)
	}
	if err := b.Clear(); err != nil {
		t.Fatal(err)
	}
	keys, err = b.Keys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Fatalf("clear left %d keys", len(keys))
	}
}

func TestInmemBackend(t *testing.T) {
	b := NewInmemBackend()
	defer b.Close()
	testBackend(t, b)
}

func TestBadgerBackend(t *testing.T) {
	b, err := NewBadgerBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	testBackend(t, b)
}

func TestBadgerBackendPersistence(t *testing.T) {
	dir := t.TempDir()
	key := message.StringData("durable")

	b, err := NewBadgerBackend(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Put(key, Entry{Value: message.IntegerData(7)}); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	b, err = NewBadgerBackend(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	e, err := b.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if !e.Value.Equal(message.IntegerData(7)) {
		t.Fatalf("got %s after reopen, want 7", e.Value)
	}
}
