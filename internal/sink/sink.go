// Package sink defines the abstract ordered downstream consumer of CDC
// batches and ships three reference implementations: console, file, and
// null.
package sink

import (
	"context"
	"errors"

	"cdcbridge/pkg/cdc"
)

// Sentinel error kinds distinguishing retryable rejections from terminal
// failure.
var (
	// ErrTransient means the sink rejected a batch but may accept it on
	// retry; the driver retries the same batch without advancing.
	ErrTransient = errors.New("sink: transient rejection")
	// ErrFatal means the sink has declared itself unusable; the driver
	// flushes, closes, and aborts.
	ErrFatal = errors.New("sink: fatal")
)

// Sink is the abstract ordered consumer of CDC batches. Send preserves
// input order: a successful Send means the batch is durably queued in that
// position. Flush blocks until every prior Send is durable. Implementations
// must be internally safe for the driver's single invoking goroutine; the
// engine never calls Send concurrently with itself, but Close may race a
// concurrent shutdown signal.
type Sink interface {
	// Send delivers one ordered batch. Order across calls is part of the
	// contract: batch N must be visible to downstream consumers before
	// batch N+1.
	Send(ctx context.Context, batch cdc.Batch) error

	// Flush blocks until every Send that returned before this call is
	// durable.
	Flush(ctx context.Context) error

	// Close releases any resources. After Close, Send and Flush must
	// return errors wrapping ErrFatal.
	Close() error
}
