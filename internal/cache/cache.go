// Package cache implements the rollback-window cache: a bounded,
// height-contiguous ring of recently processed blocks together with the
// CDC batch each one emitted and a snapshot of the transform's state at
// that point.
package cache

import (
	"errors"
	"fmt"
	"sync"

	"cdcbridge/pkg/cdc"
)

// ErrContiguityViolation guards the height-contiguity invariant. A
// legitimate driver never triggers it: the synchroniser always appends
// the height directly above the current tip.
var ErrContiguityViolation = errors.New("cache: contiguity violation")

// Entry is one cached block: its metadata, the CDC batch its processing
// emitted, and the transform state snapshot taken immediately after.
type Entry struct {
	Metadata      cdc.BlockMetadata
	Batch         cdc.Batch
	StateSnapshot *cdc.TransformState
}

// HashAtHeight is one candidate (height, hash) pair used by
// FindCommonAncestor, typically gathered by re-fetching hashes from the
// upstream client during reorg probing.
type HashAtHeight struct {
	Height uint32
	Hash   string
}

// Cache is a bounded FIFO of Entry ordered by strictly increasing height.
// It is safe for concurrent use, though only the driver ever touches it.
type Cache struct {
	mu      sync.Mutex
	window  uint32
	entries []Entry
}

// New returns an empty cache retaining at most window entries.
func New(window uint32) *Cache {
	if window == 0 {
		window = 1
	}
	return &Cache{window: window}
}

// Window reports the configured rollback window W.
func (c *Cache) Window() uint32 {
	return c.window
}

// Append adds entry, which must be the first entry or have height exactly
// one greater than the current tip. After appending, entries older than
// tip-W+1 are evicted.
func (c *Cache) Append(entry Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) > 0 {
		last := c.entries[len(c.entries)-1].Metadata.Height
		if entry.Metadata.Height != last+1 {
			return fmt.Errorf("%w: append height %d after tip %d", ErrContiguityViolation, entry.Metadata.Height, last)
		}
	}
	c.entries = append(c.entries, entry)

	if uint32(len(c.entries)) > c.window {
		c.entries = c.entries[uint32(len(c.entries))-c.window:]
	}
	return nil
}

// Tip returns the highest cached height and whether the cache is non-empty.
func (c *Cache) Tip() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 {
		return 0, false
	}
	return c.entries[len(c.entries)-1].Metadata.Height, true
}

// Floor returns the lowest cached height and whether the cache is
// non-empty. A reorg whose common ancestor would fall below Floor exceeds
// the window.
func (c *Cache) Floor() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 {
		return 0, false
	}
	return c.entries[0].Metadata.Height, true
}

// Get returns the cached entry at height, if it is within the window.
func (c *Cache) Get(height uint32) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.indexOfLocked(height)
	if !ok {
		return Entry{}, false
	}
	return c.entries[idx], true
}

// indexOfLocked maps height to its slice index, relying on strict
// contiguity. Callers must hold c.mu.
func (c *Cache) indexOfLocked(height uint32) (int, bool) {
	if len(c.entries) == 0 {
		return 0, false
	}
	floor := c.entries[0].Metadata.Height
	if height < floor {
		return 0, false
	}
	idx := int(height - floor)
	if idx >= len(c.entries) {
		return 0, false
	}
	if c.entries[idx].Metadata.Height != height {
		panic(fmt.Sprintf("cache: %v: index %d holds height %d, want %d", ErrContiguityViolation, idx, c.entries[idx].Metadata.Height, height))
	}
	return idx, true
}

// FindCommonAncestor returns the highest height present in both the cache
// and candidates whose hash matches. candidates need not be contiguous or
// ordered.
func (c *Cache) FindCommonAncestor(candidates []HashAtHeight) (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	byHeight := make(map[uint32]string, len(candidates))
	for _, cand := range candidates {
		byHeight[cand.Height] = cand.Hash
	}

	for i := len(c.entries) - 1; i >= 0; i-- {
		entry := c.entries[i]
		if hash, ok := byHeight[entry.Metadata.Height]; ok && hash == entry.Metadata.Hash {
			return entry.Metadata.Height, true
		}
	}
	return 0, false
}

// StateSnapshot returns the transform state snapshot stored at height.
func (c *Cache) StateSnapshot(height uint32) (*cdc.TransformState, bool) {
	entry, ok := c.Get(height)
	if !ok {
		return nil, false
	}
	return entry.StateSnapshot, true
}

// Rollback drops every entry with height strictly greater than
// targetHeight. targetHeight must be within the current window; callers
// determine this via FindCommonAncestor before calling Rollback.
func (c *Cache) Rollback(targetHeight uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, ok := c.indexOfLocked(targetHeight)
	if !ok {
		if len(c.entries) == 0 {
			return nil
		}
		return fmt.Errorf("%w: rollback target %d not in window", ErrContiguityViolation, targetHeight)
	}
	c.entries = c.entries[:idx+1]
	return nil
}

// Clear drops every entry, returning the cache to its initial empty state.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
}

// Len reports the number of entries currently held.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
