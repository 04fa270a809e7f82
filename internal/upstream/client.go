// Package upstream defines the abstract upstream indexer client the
// synchroniser and transform host depend on, plus the reference
// implementations shipped in this repo: an in-memory simulator for tests and
// transform development, and a JSON-RPC network client.
package upstream

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel error kinds. Implementations should wrap one of these with
// fmt.Errorf("...: %w", ErrX) so callers can use errors.Is.
var (
	// ErrUnavailable means the transport to the upstream failed (timeout,
	// connection refused, ...). Callers should backoff-retry.
	ErrUnavailable = errors.New("upstream: unavailable")
	// ErrProtocol means the upstream responded but the response was
	// malformed or semantically invalid.
	ErrProtocol = errors.New("upstream: protocol error")
	// ErrNotFound means the requested height has no corresponding block yet.
	// This is not a failure: the synchroniser treats it as tip-not-ready.
	ErrNotFound = errors.New("upstream: block not found")
)

// Client is the abstract provider of upstream chain state the engine
// depends on. Implementations must be deterministic with respect to
// (atHeight, name, params) for CallView, and concurrency-safe: the
// synchroniser may call Client methods from multiple goroutines while
// polling, even though its own processing section is single-threaded.
type Client interface {
	// TipHeight returns the current canonical tip height known upstream.
	TipHeight(ctx context.Context) (uint32, error)

	// ActualBlockCount returns the number of blocks the upstream physically
	// holds, which may lag TipHeight. The synchroniser bounds its
	// processing target by min(TipHeight, ActualBlockCount).
	ActualBlockCount(ctx context.Context) (uint32, error)

	// BlockHash returns the raw hash bytes at height. It returns an error
	// wrapping ErrNotFound if height has no block yet.
	BlockHash(ctx context.Context, height uint32) ([]byte, error)

	// CallView invokes a named upstream view function, optionally pinned at
	// a historical height. atHeight == nil means "latest".
	CallView(ctx context.Context, name string, params []byte, atHeight *uint32) ([]byte, error)

	// Identifier returns a human-readable identifier for logging (a URL,
	// "memory-simulator", ...).
	Identifier() string

	// Healthy reports whether the client believes itself operational. The
	// default expectation (mirrored by MemoryClient) is true.
	Healthy(ctx context.Context) bool
}

// NotFoundError wraps ErrNotFound with the height that was missing.
type NotFoundError struct {
	Height uint32
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("upstream: block not found at height %d", e.Height)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }
