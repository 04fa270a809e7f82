package invert

import (
	"encoding/json"
	"testing"

	"cdcbridge/pkg/cdc"
)

func TestMessageInvertsCreate(t *testing.T) {
	after := json.RawMessage(`{"field1":"value1","field2":42}`)
	msg := cdc.Message{
		Header: cdc.Header{Source: "test", BlockHeight: 123, BlockHash: "0xaa"},
		Payload: cdc.Payload{
			Operation: cdc.OpCreate,
			Table:     "test_table",
			Key:       "test_key",
			After:     after,
		},
	}

	inv := Message(msg, 122, "0xbb")
	if inv.Payload.Operation != cdc.OpDelete {
		t.Fatalf("operation = %v, want delete", inv.Payload.Operation)
	}
	if inv.Payload.Table != "test_table" || inv.Payload.Key != "test_key" {
		t.Fatalf("table/key not preserved: %+v", inv.Payload)
	}
	if string(inv.Payload.Before) != string(after) {
		t.Fatalf("before = %s, want %s", inv.Payload.Before, after)
	}
	if inv.Payload.After != nil {
		t.Fatalf("after = %s, want nil", inv.Payload.After)
	}
	if inv.Header.BlockHeight != 122 || inv.Header.BlockHash != "0xbb" {
		t.Fatalf("header not retargeted: %+v", inv.Header)
	}
	if inv.Header.TransactionID != nil {
		t.Fatal("inverse must not carry a transaction id")
	}
}

func TestMessageInvertsDelete(t *testing.T) {
	before := json.RawMessage(`{"x":1}`)
	msg := cdc.Message{Payload: cdc.Payload{Operation: cdc.OpDelete, Before: before}}
	inv := Message(msg, 5, "0xcc")
	if inv.Payload.Operation != cdc.OpCreate {
		t.Fatalf("operation = %v, want create", inv.Payload.Operation)
	}
	if string(inv.Payload.After) != string(before) {
		t.Fatalf("after = %s, want %s", inv.Payload.After, before)
	}
	if inv.Payload.Before != nil {
		t.Fatalf("before = %s, want nil", inv.Payload.Before)
	}
}

func TestMessageInvertsUpdate(t *testing.T) {
	before := json.RawMessage(`{"v":1}`)
	after := json.RawMessage(`{"v":2}`)
	msg := cdc.Message{Payload: cdc.Payload{Operation: cdc.OpUpdate, Before: before, After: after}}
	inv := Message(msg, 5, "0xcc")
	if inv.Payload.Operation != cdc.OpUpdate {
		t.Fatalf("operation = %v, want update", inv.Payload.Operation)
	}
	if string(inv.Payload.Before) != string(after) || string(inv.Payload.After) != string(before) {
		t.Fatalf("swap failed: before=%s after=%s", inv.Payload.Before, inv.Payload.After)
	}
}

func TestBatchReversesOrder(t *testing.T) {
	batch := cdc.Batch{
		{Payload: cdc.Payload{Operation: cdc.OpCreate, Key: "1", After: json.RawMessage(`1`)}},
		{Payload: cdc.Payload{Operation: cdc.OpCreate, Key: "2", After: json.RawMessage(`2`)}},
		{Payload: cdc.Payload{Operation: cdc.OpCreate, Key: "3", After: json.RawMessage(`3`)}},
	}
	inv := Batch(batch, 0, "0x00")
	if len(inv) != 3 {
		t.Fatalf("len = %d, want 3", len(inv))
	}
	wantKeys := []string{"3", "2", "1"}
	for i, want := range wantKeys {
		if inv[i].Payload.Key != want {
			t.Fatalf("inv[%d].Key = %s, want %s", i, inv[i].Payload.Key, want)
		}
		if inv[i].Payload.Operation != cdc.OpDelete {
			t.Fatalf("inv[%d].Operation = %v, want delete", i, inv[i].Payload.Operation)
		}
	}
}

func TestInvertOfInvertYieldsOriginalModuloTimestamp(t *testing.T) {
	original := cdc.Message{
		Header:  cdc.Header{Source: "t", BlockHeight: 10, BlockHash: "0xaa"},
		Payload: cdc.Payload{Operation: cdc.OpUpdate, Table: "tbl", Key: "k", Before: json.RawMessage(`1`), After: json.RawMessage(`2`)},
	}
	once := Message(original, 9, "0xbb")
	twice := Message(once, 10, "0xaa")

	if twice.Payload.Operation != original.Payload.Operation {
		t.Fatalf("operation = %v, want %v", twice.Payload.Operation, original.Payload.Operation)
	}
	if string(twice.Payload.Before) != string(original.Payload.Before) || string(twice.Payload.After) != string(original.Payload.After) {
		t.Fatalf("double inversion mismatch: %+v vs %+v", twice.Payload, original.Payload)
	}
}
