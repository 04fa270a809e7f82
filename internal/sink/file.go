package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"cdcbridge/pkg/cdc"
)

// FileSink appends each message to a file as one JSON line, or as indented
// multi-line JSON when pretty is set, flushing the underlying buffer every
// flushEvery messages.
type FileSink struct {
	mu         sync.Mutex
	file       *os.File
	writer     *bufio.Writer
	pretty     bool
	flushEvery int
	sinceFlush int
	closed     bool
}

// NewFileSink opens path for appending (creating it if needed) and returns
// a sink that flushes its buffer to disk every flushEvery messages.
func NewFileSink(path string, pretty bool, flushEvery int) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("file sink: open %s: %w", path, err)
	}
	if flushEvery <= 0 {
		flushEvery = 1
	}
	return &FileSink{
		file:       f,
		writer:     bufio.NewWriter(f),
		pretty:     pretty,
		flushEvery: flushEvery,
	}, nil
}

func (f *FileSink) Send(ctx context.Context, batch cdc.Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("file sink: %w", ErrFatal)
	}
	for _, msg := range batch {
		var line []byte
		var err error
		if f.pretty {
			line, err = json.MarshalIndent(msg, "", "  ")
		} else {
			line, err = json.Marshal(msg)
		}
		if err != nil {
			return fmt.Errorf("file sink: %w: encode message: %v", ErrTransient, err)
		}
		if _, err := f.writer.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("file sink: %w: write: %v", ErrTransient, err)
		}
		f.sinceFlush++
		if f.sinceFlush >= f.flushEvery {
			if err := f.flushLocked(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *FileSink) flushLocked() error {
	if err := f.writer.Flush(); err != nil {
		return fmt.Errorf("file sink: %w: flush: %v", ErrTransient, err)
	}
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("file sink: %w: sync: %v", ErrTransient, err)
	}
	f.sinceFlush = 0
	return nil
}

func (f *FileSink) Flush(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("file sink: %w", ErrFatal)
	}
	return f.flushLocked()
}

func (f *FileSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	err := f.flushLocked()
	f.closed = true
	if cerr := f.file.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("file sink: close: %w", cerr)
	}
	return err
}
