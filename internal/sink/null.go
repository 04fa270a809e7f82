package sink

import (
	"context"
	"fmt"
	"sync"

	"cdcbridge/pkg/cdc"
)

// NullSink discards every batch. It is useful for load testing the
// synchroniser and transform host without downstream side effects.
type NullSink struct {
	mu     sync.Mutex
	closed bool
	sent   int
}

func NewNullSink() *NullSink { return &NullSink{} }

func (n *NullSink) Send(ctx context.Context, batch cdc.Batch) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return fmt.Errorf("null sink: %w", ErrFatal)
	}
	n.sent += len(batch)
	return nil
}

func (n *NullSink) Flush(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return fmt.Errorf("null sink: %w", ErrFatal)
	}
	return nil
}

func (n *NullSink) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	return nil
}

// Sent returns the total number of messages accepted so far, for tests.
func (n *NullSink) Sent() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent
}
