package upstream

import (
	"context"
	"fmt"
	"sync"
)

// viewKey identifies a pinned or latest view-function call for the
// simulator's result table, keyed by (name, params, height).
type viewKey struct {
	name   string
	params string
	height int64 // -1 means "latest"
}

// MemoryClient is a deterministic in-memory stand-in for an upstream
// indexer, used by engine tests and by transform developers who want to
// drive process_block/rollback without a live upstream. It supports
// AdvanceBlock and SimulateReorg for scripting chain histories.
type MemoryClient struct {
	mu         sync.Mutex
	identifier string
	height     uint32
	hasBlocks  bool
	hashes     map[uint32][]byte
	views      map[viewKey][]byte
	healthy    bool
}

// NewMemoryClient returns an empty simulator with no blocks.
func NewMemoryClient(identifier string) *MemoryClient {
	if identifier == "" {
		identifier = "memory-simulator"
	}
	return &MemoryClient{
		identifier: identifier,
		hashes:     make(map[uint32][]byte),
		views:      make(map[viewKey][]byte),
		healthy:    true,
	}
}

// SetHealthy overrides the health probe's answer, for testing upstream
// failure handling.
func (m *MemoryClient) SetHealthy(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = v
}

// SetBlockHash installs the hash for height directly, without advancing the
// simulator's tip past it.
func (m *MemoryClient) SetBlockHash(height uint32, hash []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setBlockHashLocked(height, hash)
}

func (m *MemoryClient) setBlockHashLocked(height uint32, hash []byte) {
	cp := make([]byte, len(hash))
	copy(cp, hash)
	m.hashes[height] = cp
	if !m.hasBlocks || height > m.height {
		m.height = height
		m.hasBlocks = true
	}
}

// AdvanceBlock appends a new block at the current tip+1 with the given hash
// and returns the new height.
func (m *MemoryClient) AdvanceBlock(hash []byte) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := uint32(0)
	if m.hasBlocks {
		next = m.height + 1
	}
	m.setBlockHashLocked(next, hash)
	return next
}

// SimulateReorg replaces every block from forkHeight onward with newHashes
// (newHashes[0] becomes the hash at forkHeight, newHashes[1] at
// forkHeight+1, and so on), returning the new tip height.
func (m *MemoryClient) SimulateReorg(forkHeight uint32, newHashes [][]byte) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	for h := range m.hashes {
		if h >= forkHeight {
			delete(m.hashes, h)
		}
	}
	m.hasBlocks = forkHeight > 0
	m.height = 0
	if forkHeight > 0 {
		m.height = forkHeight - 1
	}
	for i, hash := range newHashes {
		m.setBlockHashLocked(forkHeight+uint32(i), hash)
	}
	return m.height
}

// SetViewResult installs the bytes CallView should return for the given
// (name, params, height) triple. height == nil matches "latest" calls.
func (m *MemoryClient) SetViewResult(name string, params []byte, height *uint32, result []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.views[keyFor(name, params, height)] = append([]byte(nil), result...)
}

func keyFor(name string, params []byte, height *uint32) viewKey {
	h := int64(-1)
	if height != nil {
		h = int64(*height)
	}
	return viewKey{name: name, params: string(params), height: h}
}

func (m *MemoryClient) TipHeight(ctx context.Context) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.height, nil
}

func (m *MemoryClient) ActualBlockCount(ctx context.Context) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasBlocks {
		return 0, nil
	}
	return m.height + 1, nil
}

func (m *MemoryClient) BlockHash(ctx context.Context, height uint32) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hash, ok := m.hashes[height]
	if !ok {
		return nil, fmt.Errorf("memory client: %w", &NotFoundError{Height: height})
	}
	out := make([]byte, len(hash))
	copy(out, hash)
	return out, nil
}

func (m *MemoryClient) CallView(ctx context.Context, name string, params []byte, atHeight *uint32) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if result, ok := m.views[keyFor(name, params, atHeight)]; ok {
		return append([]byte(nil), result...), nil
	}
	return nil, fmt.Errorf("memory client: %w: no result registered for view %q", ErrProtocol, name)
}

func (m *MemoryClient) Identifier() string { return m.identifier }

func (m *MemoryClient) Healthy(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}
