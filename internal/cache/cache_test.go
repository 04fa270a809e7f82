package cache

import (
	"errors"
	"testing"

	"cdcbridge/pkg/cdc"
)

func entryAt(height uint32, hash string) Entry {
	return Entry{
		Metadata:      cdc.BlockMetadata{Height: height, Hash: hash},
		StateSnapshot: cdc.NewTransformState(),
	}
}

func TestCacheAppendContiguity(t *testing.T) {
	c := New(3)
	if err := c.Append(entryAt(0, "0x00")); err != nil {
		t.Fatalf("Append(0): %v", err)
	}
	if err := c.Append(entryAt(1, "0x01")); err != nil {
		t.Fatalf("Append(1): %v", err)
	}
	if err := c.Append(entryAt(3, "0x03")); !errors.Is(err, ErrContiguityViolation) {
		t.Fatalf("Append(3) after tip 1 = %v, want ErrContiguityViolation", err)
	}
}

func TestCacheEvictsBeyondWindow(t *testing.T) {
	c := New(2)
	for h := uint32(0); h <= 4; h++ {
		if err := c.Append(entryAt(h, "hash")); err != nil {
			t.Fatalf("Append(%d): %v", h, err)
		}
	}
	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
	floor, ok := c.Floor()
	if !ok || floor != 3 {
		t.Fatalf("Floor() = %d, %v, want 3, true", floor, ok)
	}
	tip, ok := c.Tip()
	if !ok || tip != 4 {
		t.Fatalf("Tip() = %d, %v, want 4, true", tip, ok)
	}
	if _, ok := c.Get(2); ok {
		t.Fatal("height 2 should have been evicted")
	}
}

func TestCacheFindCommonAncestor(t *testing.T) {
	c := New(10)
	for h := uint32(0); h <= 3; h++ {
		if err := c.Append(entryAt(h, hashFor(h))); err != nil {
			t.Fatalf("Append(%d): %v", h, err)
		}
	}

	candidates := []HashAtHeight{
		{Height: 0, Hash: hashFor(0)},
		{Height: 1, Hash: hashFor(1)},
		{Height: 2, Hash: "0xdeadbeef"},
		{Height: 3, Hash: "0xdeadbeef"},
	}
	ancestor, ok := c.FindCommonAncestor(candidates)
	if !ok || ancestor != 1 {
		t.Fatalf("FindCommonAncestor = %d, %v, want 1, true", ancestor, ok)
	}
}

func TestCacheFindCommonAncestorNoOverlap(t *testing.T) {
	c := New(10)
	_ = c.Append(entryAt(0, hashFor(0)))
	_, ok := c.FindCommonAncestor([]HashAtHeight{{Height: 0, Hash: "0xnotmatching"}})
	if ok {
		t.Fatal("expected no common ancestor")
	}
}

func TestCacheRollback(t *testing.T) {
	c := New(10)
	for h := uint32(0); h <= 5; h++ {
		_ = c.Append(entryAt(h, hashFor(h)))
	}
	if err := c.Rollback(2); err != nil {
		t.Fatalf("Rollback(2): %v", err)
	}
	tip, ok := c.Tip()
	if !ok || tip != 2 {
		t.Fatalf("Tip() after rollback = %d, %v, want 2, true", tip, ok)
	}
	if _, ok := c.Get(3); ok {
		t.Fatal("height 3 should be gone after rollback to 2")
	}
	snap, ok := c.StateSnapshot(2)
	if !ok || snap == nil {
		t.Fatal("expected a state snapshot at height 2")
	}
}

func TestCacheRollbackOutsideWindow(t *testing.T) {
	c := New(2)
	for h := uint32(0); h <= 4; h++ {
		_ = c.Append(entryAt(h, hashFor(h)))
	}
	if err := c.Rollback(0); !errors.Is(err, ErrContiguityViolation) {
		t.Fatalf("Rollback(0) outside window = %v, want ErrContiguityViolation", err)
	}
}

func hashFor(h uint32) string {
	return "0x" + string(rune('a'+int(h)))
}
