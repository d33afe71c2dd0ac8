package message

import (
	"bytes"
	"testing"
	"time"
)

func TestDataConstruction(t *testing.T) {
	set := SetData(IntegerData(2), IntegerData(1), IntegerData(2))
	items, _ := set.AsItems()
	if len(items) != 2 {
		t.Fatalf("set should elide duplicates, got %v", set)
	}
	if !set.SetContains(IntegerData(1)) || set.SetContains(IntegerData(3)) {
		t.Fatalf("unexpected set membership: %v", set)
	}

	tab := TableData(
		TableEntry{Key: StringData("a"), Value: IntegerData(1)},
		TableEntry{Key: StringData("a"), Value: IntegerData(2)},
	)
	entries, _ := tab.AsTable()
	if len(entries) != 1 {
		t.Fatalf("later table entry should replace earlier, got %v", tab)
	}
	if v, _ := entries[0].Value.AsInteger(); v != 2 {
		t.Fatalf("unexpected table value: %v", tab)
	}

	if ListData(IntegerData(1)).Equal(RecordData(IntegerData(1))) {
		t.Fatal("list and record of same items must not compare equal")
	}
}

func TestNodeMessageWireRoundTrip(t *testing.T) {
	sender := EntityID{Endpoint: 7, Object: 3}

	value := TableData(
		TableEntry{Key: StringData("pi"), Value: RealData(3.14)},
		TableEntry{Key: StringData("xs"), Value: ListData(IntegerData(1), BooleanData(true))},
	)
	dm := NewDataNodeMessage(20, sender, "a/b", value)

	wire, err := EncodeNodeMessage(dm)
	if err != nil {
		t.Fatal(err)
	}

	got, err := DecodeNodeMessage(wire)
	if err != nil {
		t.Fatal(err)
	}
	if got.TTL != 20 || got.Sender != sender || !got.IsData() {
		t.Fatalf("unexpected header: %+v", got)
	}
	if got.Data.Topic != "a/b" || !got.Data.Value.Equal(value) {
		t.Fatalf("unexpected payload: %+v", got.Data)
	}
}

func TestCommandWireRoundTrip(t *testing.T) {
	sender := EntityID{Endpoint: 1, Object: 2}
	expiry := 5 * time.Second
	cmd := PutCommand(StringData("k"), IntegerData(42), &expiry, sender)
	cm := NewCommandNodeMessage(20, sender, "s/master", cmd)

	wire, err := EncodeNodeMessage(cm)
	if err != nil {
		t.Fatal(err)
	}

	got, err := DecodeNodeMessage(wire)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsData() || got.Topic() != "s/master" {
		t.Fatalf("unexpected message: %+v", got)
	}

	dc := got.Command.Cmd
	if dc.Tag != PutTag || !dc.Key.Equal(cmd.Key) || !dc.Value.Equal(cmd.Value) {
		t.Fatalf("unexpected command: %+v", dc)
	}
	if dc.Expiry == nil || *dc.Expiry != expiry {
		t.Fatalf("expiry not preserved: %+v", dc)
	}
	if dc.Publisher != sender {
		t.Fatalf("publisher not preserved: %+v", dc)
	}
}

func TestSnapshotWireRoundTrip(t *testing.T) {
	sender := EntityID{Endpoint: 1, Object: 0}
	expiry := time.Minute
	cmd := SnapshotCommand(9, []SnapshotEntry{
		{Key: StringData("a"), Value: IntegerData(1)},
		{Key: StringData("b"), Value: IntegerData(2), Expiry: &expiry},
	}, sender)

	wire, err := EncodeNodeMessage(NewCommandNodeMessage(1, sender, "s/clone", cmd))
	if err != nil {
		t.Fatal(err)
	}

	got, err := DecodeNodeMessage(wire)
	if err != nil {
		t.Fatal(err)
	}

	dc := got.Command.Cmd
	if dc.Seq != 9 || len(dc.Entries) != 2 {
		t.Fatalf("unexpected snapshot: %+v", dc)
	}
	if dc.Entries[1].Expiry == nil || *dc.Entries[1].Expiry != expiry {
		t.Fatalf("entry expiry not preserved: %+v", dc.Entries[1])
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := DecodeNodeMessage([]byte{0, 1, 2}); err == nil {
		t.Fatal("truncated header should fail")
	}

	if _, err := EncodeNodeMessage(NodeMessage{TTL: 1}); err == nil {
		t.Fatal("empty node message should fail to encode")
	}
}

func TestRecorder(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(&buf, 2)
	sender := EntityID{Endpoint: 3, Object: 0}

	for i := int64(0); i < 3; i++ {
		m := NewDataNodeMessage(20, sender, "a", IntegerData(i))
		if err := rec.Record(m); err != nil {
			t.Fatal(err)
		}
	}

	if rec.Active() {
		t.Fatal("recorder should be inactive after hitting its cap")
	}

	got, err := ReplayRecording(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 recorded messages, got %d", len(got))
	}
	if v, _ := got[1].Data.Value.AsInteger(); v != 1 {
		t.Fatalf("unexpected replayed value: %v", got[1].Data.Value)
	}
}
