package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"cdcbridge/pkg/cdc"
)

// ConsoleSink writes each message to an io.Writer (stdout by default) as
// one JSON line, or pretty-printed when pretty is set.
type ConsoleSink struct {
	mu     sync.Mutex
	out    io.Writer
	pretty bool
	closed bool
}

// NewConsoleSink returns a sink writing to os.Stdout.
func NewConsoleSink(pretty bool) *ConsoleSink {
	return &ConsoleSink{out: os.Stdout, pretty: pretty}
}

// NewConsoleSinkTo returns a sink writing to an arbitrary writer, for tests.
func NewConsoleSinkTo(w io.Writer, pretty bool) *ConsoleSink {
	return &ConsoleSink{out: w, pretty: pretty}
}

func (c *ConsoleSink) Send(ctx context.Context, batch cdc.Batch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("console sink: %w", ErrFatal)
	}
	for _, msg := range batch {
		var line []byte
		var err error
		if c.pretty {
			line, err = json.MarshalIndent(msg, "", "  ")
		} else {
			line, err = json.Marshal(msg)
		}
		if err != nil {
			return fmt.Errorf("console sink: %w: encode message: %v", ErrTransient, err)
		}
		if _, err := fmt.Fprintln(c.out, string(line)); err != nil {
			return fmt.Errorf("console sink: %w: write: %v", ErrTransient, err)
		}
	}
	return nil
}

func (c *ConsoleSink) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("console sink: %w", ErrFatal)
	}
	if f, ok := c.out.(interface{ Sync() error }); ok {
		_ = f.Sync()
	}
	return nil
}

func (c *ConsoleSink) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
