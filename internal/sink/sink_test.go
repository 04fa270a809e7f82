package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cdcbridge/pkg/cdc"
)

func sampleBatch() cdc.Batch {
	return cdc.Batch{
		{
			Header:  cdc.Header{Source: "test", BlockHeight: 1, BlockHash: "0xaa"},
			Payload: cdc.Payload{Operation: cdc.OpCreate, Table: "blocks", Key: "1", After: json.RawMessage(`{"height":1}`)},
		},
	}
}

func TestConsoleSinkSend(t *testing.T) {
	var buf bytes.Buffer
	s := NewConsoleSinkTo(&buf, false)
	if err := s.Send(context.Background(), sampleBatch()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.Contains(buf.String(), `"block_height":1`) {
		t.Fatalf("output missing block_height: %s", buf.String())
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Send(context.Background(), sampleBatch()); !errors.Is(err, ErrFatal) {
		t.Fatalf("Send after close = %v, want ErrFatal", err)
	}
}

func TestFileSinkSendAndFlush(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.jsonl")
	s, err := NewFileSink(path, false, 2)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	if err := s.Send(context.Background(), sampleBatch()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), `"table":"blocks"`) {
		t.Fatalf("file missing expected content: %s", data)
	}
}

func TestNullSinkCountsMessages(t *testing.T) {
	s := NewNullSink()
	batch := append(sampleBatch(), sampleBatch()...)
	if err := s.Send(context.Background(), batch); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if s.Sent() != 2 {
		t.Fatalf("Sent() = %d, want 2", s.Sent())
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Flush(context.Background()); !errors.Is(err, ErrFatal) {
		t.Fatalf("Flush after close = %v, want ErrFatal", err)
	}
}
